package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"oa-worksheets/internal/model"
)

var ErrDelimiterInPayload = errors.New("frame payload contains the frame delimiter")

// FrameWriter writes StreamChunks as JSON frames separated by a delimiter,
// flushing after every frame. It is safe for concurrent use.
type FrameWriter struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	delimiter []byte
}

func NewFrameWriter(w http.ResponseWriter, delimiter string) *FrameWriter {
	if delimiter == "" {
		delimiter = model.DefaultFrameDelimiter
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &FrameWriter{w: w, delimiter: []byte(delimiter)}
}

func (f *FrameWriter) Write(chunk model.StreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if bytes.Contains(data, f.delimiter) {
		return ErrDelimiterInPayload
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.w.Write(data); err != nil {
		return err
	}
	if _, err := f.w.Write(f.delimiter); err != nil {
		return err
	}
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return nil
}
