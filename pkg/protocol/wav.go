package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ContentTypeWAV marks a single-blob synthesis response.
const ContentTypeWAV = "audio/wav"

const wavHeaderSize = 44

// ErrInvalidWAV is returned for data that is not a 16-bit PCM RIFF/WAVE file.
var ErrInvalidWAV = errors.New("protocol: invalid wav data")

// PCM is decoded 16-bit linear audio.
type PCM struct {
	Samples    []int16 // interleaved when Channels > 1
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the audio.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// EncodeWAV wraps 16-bit samples in a canonical 44-byte RIFF header so the
// receiver can decode it without any side channel.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	dataLen := len(samples) * 2
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, wavHeaderSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	out := buf[wavHeaderSize:]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return buf
}

// DecodeWAV parses a RIFF/WAVE file holding 16-bit PCM. Unknown chunks
// (LIST, fact...) are skipped.
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrInvalidWAV
	}

	var (
		pcm       PCM
		haveFmt   bool
		bits      int
		offset    = 12
		audioData []byte
	)

	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) {
			// Streamed WAVs often carry a placeholder data size.
			if id == "data" {
				end = len(data)
			} else {
				return nil, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 && format != 0xFFFE {
				return nil, fmt.Errorf("%w: unsupported format %d", ErrInvalidWAV, format)
			}
			pcm.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			pcm.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			audioData = data[body:end]
		}

		offset = end
		if size%2 == 1 {
			offset++ // chunks are word aligned
		}
	}

	if !haveFmt || audioData == nil {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrInvalidWAV)
	}
	if bits != 16 {
		return nil, fmt.Errorf("%w: %d-bit samples not supported", ErrInvalidWAV, bits)
	}
	if pcm.Channels <= 0 || pcm.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: bad channel count or sample rate", ErrInvalidWAV)
	}

	n := len(audioData) / 2
	pcm.Samples = make([]int16, n)
	for i := 0; i < n; i++ {
		pcm.Samples[i] = int16(binary.LittleEndian.Uint16(audioData[i*2:]))
	}
	return &pcm, nil
}
