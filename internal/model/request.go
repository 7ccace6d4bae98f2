package model

// GenerateRequest is the body of the generation endpoint. VersionID continues
// an existing thread; the new version's parent is that id.
type GenerateRequest struct {
	Prompt    string  `json:"prompt"`
	Privacy   Privacy `json:"privacy"`
	VersionID *int64  `json:"version_id,omitempty"`
}
