package stream

import "bytes"

// FrameBuffer collects raw bytes from successive reads and cuts them into
// frames on a delimiter. Bytes after the last delimiter stay buffered, so a
// frame, a delimiter or a multi-byte character may straddle reads.
type FrameBuffer struct {
	delim []byte
	buf   bytes.Buffer
}

func NewFrameBuffer(delimiter string) *FrameBuffer {
	return &FrameBuffer{delim: []byte(delimiter)}
}

// Write appends p and returns every frame completed by it, in order.
func (b *FrameBuffer) Write(p []byte) [][]byte {
	b.buf.Write(p)

	var frames [][]byte
	for {
		data := b.buf.Bytes()
		idx := bytes.Index(data, b.delim)
		if idx < 0 {
			return frames
		}
		frame := make([]byte, idx)
		copy(frame, data[:idx])
		frames = append(frames, frame)
		b.buf.Next(idx + len(b.delim))
	}
}

// Flush returns whatever is left in the buffer and empties it. It returns nil
// when nothing but whitespace remains.
func (b *FrameBuffer) Flush() []byte {
	rest := bytes.TrimSpace(b.buf.Bytes())
	b.buf.Reset()
	if len(rest) == 0 {
		return nil
	}
	out := make([]byte, len(rest))
	copy(out, rest)
	return out
}

// Len reports the number of buffered bytes not yet returned as a frame.
func (b *FrameBuffer) Len() int {
	return b.buf.Len()
}
