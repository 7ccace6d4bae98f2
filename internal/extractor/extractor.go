// Package extractor recovers a JSON value embedded in free-form model output.
package extractor

import (
	"encoding/json"
	"strings"

	"oa-worksheets/internal/model"
	"oa-worksheets/pkg/logger"
)

const (
	fenceOpen  = "```json"
	fenceClose = "```"
)

// Result is a JSON value found in a text together with the exact span of
// the text that produced it.
type Result struct {
	Value    any
	Consumed string
}

// Extract looks for JSON in text, first inside a ```json fenced block and
// then between the first opening brace or bracket and its last matching
// closer. A top-level "schema" key is unwrapped. It returns nil when nothing
// parses; failures are logged, never returned.
func Extract(text string) *Result {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if res, err := fenced(text); res != nil {
		return res
	} else if err != nil {
		logger.Debugf("fenced json block did not parse: %v", err)
	}

	res, err := bare(text)
	if res != nil {
		return res
	}
	if err != nil {
		logger.Warnf("no parsable json in text (%d bytes): %v", len(text), err)
	} else {
		logger.Debugf("no json delimiters in text (%d bytes)", len(text))
	}
	return nil
}

func fenced(text string) (*Result, error) {
	start := strings.Index(text, fenceOpen)
	if start < 0 {
		return nil, nil
	}
	bodyStart := start + len(fenceOpen)
	end := strings.Index(text[bodyStart:], fenceClose)
	if end < 0 {
		return nil, nil
	}

	inner := text[bodyStart : bodyStart+end]
	v, err := parse(inner)
	if err != nil {
		return nil, err
	}
	return &Result{
		Value:    v,
		Consumed: text[start : bodyStart+end+len(fenceClose)],
	}, nil
}

func bare(text string) (*Result, error) {
	open := strings.IndexAny(text, "{[")
	if open < 0 {
		return nil, nil
	}
	closer := "}"
	if text[open] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < open {
		return nil, nil
	}

	span := text[open : end+1]
	v, err := parse(span)
	if err != nil {
		return nil, err
	}
	return &Result{Value: v, Consumed: span}, nil
}

func parse(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
		return nil, err
	}
	// Some responses nest the document one level down under "schema".
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["schema"]; ok {
			return inner, nil
		}
	}
	return v, nil
}

// Strip removes the consumed span from text and trims the remainder.
func (r *Result) Strip(text string) string {
	if r == nil || r.Consumed == "" {
		return text
	}
	return strings.TrimSpace(strings.Replace(text, r.Consumed, "", 1))
}

// ExtractSchema runs Extract and decodes the value as a SchemaDocument.
// A value that is not a document counts as not found.
func ExtractSchema(text string) (*model.SchemaDocument, *Result) {
	res := Extract(text)
	if res == nil {
		return nil, nil
	}
	doc, err := model.DecodeSchemaDocument(res.Value)
	if err != nil {
		logger.Warnf("extracted json is not a schema document: %v", err)
		return nil, nil
	}
	return doc, res
}
