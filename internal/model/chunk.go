package model

import (
	"encoding/json"
	"fmt"
)

// DefaultFrameDelimiter separates JSON frames in a generation stream. It is
// framing only and must never occur inside a frame.
const DefaultFrameDelimiter = "||JSON_END||"

// ChunkType is the open-ended discriminant of a StreamChunk. Servers may add
// new types at any time; unknown values are carried through untouched.
type ChunkType string

const (
	ChunkMessage         ChunkType = "message"
	ChunkToolResult      ChunkType = "tool_result"
	ChunkCorrectedSchema ChunkType = "corrected_schema"
	ChunkDone            ChunkType = "done"
	ChunkReasoning       ChunkType = "reasoning"
	ChunkKeepAlive       ChunkType = "keep_alive"
	ChunkError           ChunkType = "error"
)

// Known reports whether t is one of the chunk types this client understands.
func (t ChunkType) Known() bool {
	switch t {
	case ChunkMessage, ChunkToolResult, ChunkCorrectedSchema, ChunkDone,
		ChunkReasoning, ChunkKeepAlive, ChunkError:
		return true
	}
	return false
}

// StreamChunk is one decoded frame of a generation stream. Schema and
// VersionID may ride along on any type.
type StreamChunk struct {
	Type      ChunkType       `json:"type"`
	Content   *string         `json:"content,omitempty"`
	Schema    *SchemaDocument `json:"schema,omitempty"`
	VersionID *int64          `json:"version_id,omitempty"`
	Error     *string         `json:"error,omitempty"`

	schemaErr error
}

// UnmarshalJSON decodes the schema in a second pass so that an unreadable
// schema leaves Schema nil while type, content and version_id survive.
func (c *StreamChunk) UnmarshalJSON(data []byte) error {
	type plain StreamChunk
	var aux struct {
		plain
		Schema json.RawMessage `json:"schema,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*c = StreamChunk(aux.plain)
	c.Schema = nil
	c.schemaErr = nil
	if isNull(aux.Schema) {
		return nil
	}
	var doc SchemaDocument
	if err := json.Unmarshal(aux.Schema, &doc); err != nil {
		c.schemaErr = fmt.Errorf("unreadable schema: %w", err)
		return nil
	}
	c.Schema = &doc
	return nil
}

// SchemaError reports why a schema present in the frame was ignored.
func (c StreamChunk) SchemaError() error {
	return c.schemaErr
}

// HasContent reports whether the chunk carries a content payload, including
// an explicitly empty one.
func (c StreamChunk) HasContent() bool {
	return c.Content != nil
}

func (c StreamChunk) ContentText() string {
	if c.Content == nil {
		return ""
	}
	return *c.Content
}

func (c StreamChunk) ErrorText() string {
	if c.Error == nil {
		return ""
	}
	return *c.Error
}

// Chunk constructors used by the producing side and by tests.

func MessageChunk(content string) StreamChunk {
	return StreamChunk{Type: ChunkMessage, Content: &content}
}

func ReasoningChunk(content string) StreamChunk {
	return StreamChunk{Type: ChunkReasoning, Content: &content}
}

func ToolResultChunk(content string) StreamChunk {
	return StreamChunk{Type: ChunkToolResult, Content: &content}
}

func KeepAliveChunk() StreamChunk {
	return StreamChunk{Type: ChunkKeepAlive}
}

func DoneChunk() StreamChunk {
	return StreamChunk{Type: ChunkDone}
}

func ErrorChunk(message string) StreamChunk {
	return StreamChunk{Type: ChunkError, Error: &message}
}

func CorrectedSchemaChunk(doc *SchemaDocument) StreamChunk {
	return StreamChunk{Type: ChunkCorrectedSchema, Schema: doc}
}

// WithVersion returns a copy of c carrying id.
func (c StreamChunk) WithVersion(id int64) StreamChunk {
	c.VersionID = &id
	return c
}
