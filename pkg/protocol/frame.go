package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ContentTypeFrames marks a streamed synthesis body: a sequence of
// big-endian uint32 lengths each followed by that many bytes of WAV.
const ContentTypeFrames = "application/x-murmur-frames"

// MaxFrameSize bounds a single streamed chunk.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// FrameReader reads length-prefixed frames incrementally from a stream.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next returns the next frame. It returns io.EOF when the stream ends cleanly
// on a frame boundary and io.ErrUnexpectedEOF when it ends mid-frame.
func (f *FrameReader) Next() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(f.r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}
