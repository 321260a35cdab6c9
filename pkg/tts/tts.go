// Package tts turns reply text into speech for the murmur client.
//
// Providers (OpenAI speech, ElevenLabs) return raw PCM16. A Synthesizer splits
// text into sentence groups, synthesizes each one through a Provider (usually a
// Chain with fallbacks) and packages the audio either as a single WAV blob or
// as a sequence of length-prefixed WAV frames for streamed playback.
//
// Example usage:
//
//	openai, _ := tts.NewOpenAI(tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	synth := tts.NewSynthesizer(openai, logger)
//	wav, _ := synth.Blob(ctx, "Hello world.")
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to PCM16 audio.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains little-endian PCM16 samples.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int64
}

// Duration returns the playback duration of the audio.
func (r *AudioResult) Duration() time.Duration {
	bytesPerSecond := r.Format.SampleRate * r.Format.Channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(r.Audio)) * time.Second / time.Duration(bytesPerSecond)
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding represents PCM output formats. The values match ElevenLabs
// output_format names.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000" // 16kHz mono PCM16
	EncodingPCM22 Encoding = "pcm_22050" // 22.05kHz mono PCM16
	EncodingPCM24 Encoding = "pcm_24000" // 24kHz mono PCM16, OpenAI speech native rate
	EncodingPCM44 Encoding = "pcm_44100" // 44.1kHz mono PCM16
)

// PCMFormat returns the mono 16-bit format for enc.
func PCMFormat(enc Encoding) AudioFormat {
	return AudioFormat{
		Encoding:   enc,
		SampleRate: SampleRateFromEncoding(enc),
		Channels:   1,
		BitDepth:   16,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM44:
		return 44100
	default:
		return 24000
	}
}

// VoiceSettings controls voice characteristics for ElevenLabs.
type VoiceSettings struct {
	Stability       float64 // 0.0-1.0, higher is more consistent
	SimilarityBoost float64 // 0.0-1.0, higher is closer to the source voice
	Style           float64
	SpeakerBoost    bool
}

// DefaultVoiceSettings returns sensible defaults for voice synthesis.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
}
