// Package dispatch folds decoded stream chunks into the working state of one
// generation session.
package dispatch

import (
	"oa-worksheets/internal/model"
)

// ChunkError is an error reported by the server inside the stream.
type ChunkError struct {
	Message string
}

func (e *ChunkError) Error() string {
	if e.Message == "" {
		return "generation stream reported an error"
	}
	return "generation stream reported an error: " + e.Message
}

// Snapshot is the working state right after a chunk was applied.
type Snapshot struct {
	Chunk     model.StreamChunk
	Reasoning string
	Schema    *model.SchemaDocument
	VersionID *int64
}

// Hooks receive the effects of Apply. Nil hooks are skipped.
type Hooks struct {
	OnMessage   func(Snapshot)
	OnKeepAlive func()
	OnError     func(error)
}

// Accumulator is the working state of a single session. It has one writer
// and is not safe for concurrent use.
type Accumulator struct {
	Reasoning string
	Schema    *model.SchemaDocument
	VersionID *int64
	Done      bool
}

// Apply updates the accumulator with c and fires the matching hooks.
//
// An error (the error field, or an error-typed chunk) is reported and the
// rest of the chunk is ignored. Otherwise reasoning chunks replace the
// reasoning buffer and message chunks append to it, and any schema or
// version id on the chunk overwrites the working value whatever the type.
func (a *Accumulator) Apply(c model.StreamChunk, h Hooks) {
	if c.Error != nil {
		h.fail(&ChunkError{Message: c.ErrorText()})
		return
	}
	if c.Type == model.ChunkError {
		h.fail(&ChunkError{Message: c.ContentText()})
		return
	}

	changed := false
	switch c.Type {
	case model.ChunkKeepAlive:
		if h.OnKeepAlive != nil {
			h.OnKeepAlive()
		}
	case model.ChunkReasoning:
		if c.HasContent() {
			a.Reasoning = c.ContentText()
			changed = true
		}
	case model.ChunkMessage:
		if c.HasContent() {
			a.Reasoning += c.ContentText()
			changed = true
		}
	case model.ChunkDone:
		a.Done = true
		changed = true
	case model.ChunkToolResult, model.ChunkCorrectedSchema:
		changed = true
	}

	if c.Schema != nil {
		a.Schema = c.Schema
		changed = true
	}
	if c.VersionID != nil {
		id := *c.VersionID
		a.VersionID = &id
		changed = true
	}

	if changed && h.OnMessage != nil {
		h.OnMessage(a.Snapshot(c))
	}
}

// Snapshot copies the current state, tagging it with the chunk that led to it.
func (a *Accumulator) Snapshot(c model.StreamChunk) Snapshot {
	s := Snapshot{Chunk: c, Reasoning: a.Reasoning, Schema: a.Schema}
	if a.VersionID != nil {
		id := *a.VersionID
		s.VersionID = &id
	}
	return s
}

// Reset discards everything accumulated so far.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

func (h Hooks) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}
