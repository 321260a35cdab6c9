package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	data := EncodeWAV(samples, 16000, 1)

	require.Len(t, data, 44+len(samples)*2)
	assert.Equal(t, "RIFF", string(data[0:4]))

	pcm, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, samples, pcm.Samples)
	assert.Equal(t, 16000, pcm.SampleRate)
	assert.Equal(t, 1, pcm.Channels)
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	base := EncodeWAV([]int16{7, 8}, 24000, 2)

	// Insert a LIST chunk with odd size between fmt and data.
	var buf bytes.Buffer
	buf.Write(base[:36])
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{1, 2, 3, 0})
	buf.Write(base[36:])

	pcm, err := DecodeWAV(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []int16{7, 8}, pcm.Samples)
	assert.Equal(t, 2, pcm.Channels)
}

func TestDecodeWAVRejects(t *testing.T) {
	tests := map[string][]byte{
		"empty":    nil,
		"not riff": []byte("RIFX0000WAVEfmt "),
		"no data":  EncodeWAV(nil, 16000, 1)[:36],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeWAV(data)
			assert.True(t, errors.Is(err, ErrInvalidWAV), "got %v", err)
		})
	}

	eight := EncodeWAV([]int16{1}, 8000, 1)
	binary.LittleEndian.PutUint16(eight[34:36], 8)
	_, err := DecodeWAV(eight)
	assert.ErrorIs(t, err, ErrInvalidWAV)
}

func TestPCMDuration(t *testing.T) {
	pcm := &PCM{Samples: make([]int16, 32000), SampleRate: 16000, Channels: 2}
	assert.Equal(t, time.Second, pcm.Duration())
	assert.Zero(t, (&PCM{}).Duration())
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("one")))
	require.NoError(t, WriteFrame(&buf, []byte{}))
	require.NoError(t, WriteFrame(&buf, []byte("three")))

	r := NewFrameReader(&buf)
	for _, want := range []string{"one", "", "three"} {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abcdef")))
	truncated := buf.Bytes()[:6]

	_, err := NewFrameReader(bytes.NewReader(truncated)).Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameTooLarge(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
	_, err := NewFrameReader(bytes.NewReader(prefix[:])).Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
