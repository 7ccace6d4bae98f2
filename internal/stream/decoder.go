// Package stream decodes the delimiter-framed JSON body of a generation
// response into StreamChunks.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"oa-worksheets/internal/model"
	"oa-worksheets/pkg/logger"
)

// DefaultTimeout is the wall-clock ceiling for a whole stream.
const DefaultTimeout = 5 * time.Minute

const defaultReadSize = 4096

var (
	ErrStreamTimeout  = errors.New("stream timed out")
	ErrStreamCanceled = errors.New("stream canceled")
)

type Decoder struct {
	delimiter string
	timeout   time.Duration
	readSize  int
}

// NewDecoder returns a decoder splitting on delimiter (the default frame
// delimiter when empty). A timeout <= 0 disables the wall-clock ceiling.
func NewDecoder(delimiter string, timeout time.Duration) *Decoder {
	if delimiter == "" {
		delimiter = model.DefaultFrameDelimiter
	}
	return &Decoder{
		delimiter: delimiter,
		timeout:   timeout,
		readSize:  defaultReadSize,
	}
}

// WithReadSize sets the size of each read from the body.
func (d *Decoder) WithReadSize(n int) *Decoder {
	if n > 0 {
		d.readSize = n
	}
	return d
}

// Decode reads body until it ends, calling handle once per decoded chunk in
// stream order. Malformed frames are logged and skipped. It returns nil on a
// clean end of stream, ErrStreamTimeout when the ceiling expires, an error
// wrapping ErrStreamCanceled when ctx is canceled, or the read error. body
// is closed on every path.
func (d *Decoder) Decode(ctx context.Context, body io.ReadCloser, handle func(model.StreamChunk)) error {
	defer body.Close()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d.timeout, ErrStreamTimeout)
		defer cancel()
	}
	// Closing the body unblocks a read that is waiting on the network.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	frames := NewFrameBuffer(d.delimiter)
	buf := make([]byte, d.readSize)
	for {
		if ctx.Err() != nil {
			return canceled(ctx)
		}

		n, err := body.Read(buf)
		if n > 0 {
			for _, frame := range frames.Write(buf[:n]) {
				if ctx.Err() != nil {
					return canceled(ctx)
				}
				d.dispatch(frame, handle)
			}
		}

		if errors.Is(err, io.EOF) {
			if rest := frames.Flush(); rest != nil {
				logger.Debugf("decoding trailing partial frame (%d bytes)", len(rest))
				d.dispatch(rest, handle)
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return canceled(ctx)
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

func (d *Decoder) dispatch(frame []byte, handle func(model.StreamChunk)) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return
	}
	var chunk model.StreamChunk
	if err := json.Unmarshal(frame, &chunk); err != nil {
		logger.Warnf("dropping malformed frame %q: %v", preview(frame), err)
		return
	}
	if err := chunk.SchemaError(); err != nil {
		logger.Warnf("ignoring schema of %s frame: %v", chunk.Type, err)
	}
	handle(chunk)
}

func canceled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrStreamTimeout) {
		return ErrStreamTimeout
	}
	return fmt.Errorf("%w: %w", ErrStreamCanceled, cause)
}

func preview(frame []byte) string {
	const limit = 120
	if len(frame) <= limit {
		return string(frame)
	}
	return string(frame[:limit]) + "..."
}
