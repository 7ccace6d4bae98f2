package model

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

type WorksheetSummary struct {
	ID        int64     `json:"id"`
	Prompt    string    `json:"prompt"`
	Privacy   Privacy   `json:"privacy"`
	Parent    *int64    `json:"parent,omitempty"`
	HasSchema bool      `json:"has_schema"`
	CreatedAt time.Time `json:"created_at"`
}

type WorksheetListResponse struct {
	Worksheets []WorksheetSummary `json:"worksheets"`
}

func Summarize(v *SchemaVersion) WorksheetSummary {
	return WorksheetSummary{
		ID:        v.ID,
		Prompt:    v.Prompt,
		Privacy:   v.Privacy,
		Parent:    v.Parent,
		HasSchema: v.HasSchema(),
		CreatedAt: v.CreatedAt,
	}
}
