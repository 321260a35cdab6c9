package audioio

import (
	"math"
	"time"
)

// Resample converts audio from one sample rate to another using linear interpolation.
// This is a simple resampler suitable for speech audio.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			s1 := float64(samples[srcIdx])
			s2 := float64(samples[srcIdx+1])
			result[i] = int16(s1 + frac*(s2-s1))
		}
	}
	return result
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// StereoToMono averages interleaved stereo samples to mono.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		left := int32(samples[i*2])
		right := int32(samples[i*2+1])
		mono[i] = int16((left + right) / 2)
	}
	return mono
}

// Convert returns chunk in the given rate and channel count.
// Only stereo to mono downmixing and mono to stereo duplication are supported.
func Convert(chunk AudioChunk, sampleRate, channels int) AudioChunk {
	samples := chunk.Samples
	switch {
	case chunk.Channels == 2 && channels == 1:
		samples = StereoToMono(samples)
	case chunk.Channels == 1 && channels == 2:
		stereo := make([]int16, len(samples)*2)
		for i, s := range samples {
			stereo[i*2] = s
			stereo[i*2+1] = s
		}
		samples = stereo
	}
	if channels == 1 {
		samples = Resample(samples, chunk.SampleRate, sampleRate)
	} else if chunk.SampleRate != sampleRate {
		left, right := deinterleave(samples)
		left = Resample(left, chunk.SampleRate, sampleRate)
		right = Resample(right, chunk.SampleRate, sampleRate)
		samples = interleave(left, right)
	}
	return AudioChunk{Samples: samples, SampleRate: sampleRate, Channels: channels}
}

func deinterleave(samples []int16) ([]int16, []int16) {
	left := make([]int16, len(samples)/2)
	right := make([]int16, len(samples)/2)
	for i := range left {
		left[i] = samples[i*2]
		right[i] = samples[i*2+1]
	}
	return left, right
}

func interleave(left, right []int16) []int16 {
	n := min(len(left), len(right))
	out := make([]int16, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = left[i]
		out[i*2+1] = right[i]
	}
	return out
}

// CalculateRMS returns the root mean square of samples normalized to 0.0-1.0.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32767
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Tone generates a sine tone at freq Hz. amplitude is 0.0-1.0.
// The first and last 5ms are faded to avoid clicks.
func Tone(freq float64, d time.Duration, sampleRate int, amplitude float64) []int16 {
	n := int(d.Seconds() * float64(sampleRate))
	fade := sampleRate / 200
	out := make([]int16, n)
	for i := range out {
		gain := amplitude
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if n-i < fade {
			gain *= float64(n-i) / float64(fade)
		}
		out[i] = int16(gain * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}
