package audioio

import (
	"math"
	"testing"
	"time"
)

func TestResample_SameRate(t *testing.T) {
	samples := []int16{100, 200, 300}
	result := Resample(samples, 16000, 16000)
	if len(result) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(result))
	}
}

func TestResample_Downsample(t *testing.T) {
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i)
	}
	if got := Resample(samples, 48000, 24000); len(got) != 480 {
		t.Errorf("Expected 480 samples, got %d", len(got))
	}
}

func TestResample_Upsample(t *testing.T) {
	samples := make([]int16, 480)
	if got := Resample(samples, 16000, 24000); len(got) != 720 {
		t.Errorf("Expected 720 samples, got %d", len(got))
	}
}

func TestBytesSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	out := BytesToSamples(SamplesToBytes(in))
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("Sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
	// Trailing odd byte is ignored
	if got := BytesToSamples([]byte{1, 0, 7}); len(got) != 1 {
		t.Errorf("Expected 1 sample, got %d", len(got))
	}
}

func TestStereoToMono(t *testing.T) {
	mono := StereoToMono([]int16{100, 200, -100, -300})
	if len(mono) != 2 || mono[0] != 150 || mono[1] != -200 {
		t.Errorf("Unexpected mono samples: %v", mono)
	}
}

func TestConvert(t *testing.T) {
	stereo := AudioChunk{Samples: []int16{10, 30, 10, 30}, SampleRate: 16000, Channels: 2}
	got := Convert(stereo, 16000, 1)
	if got.Channels != 1 || len(got.Samples) != 2 || got.Samples[0] != 20 {
		t.Errorf("Stereo to mono failed: %+v", got)
	}

	mono := AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
	got = Convert(mono, 16000, 2)
	if got.Channels != 2 || got.SampleRate != 16000 || len(got.Samples) != 640 {
		t.Errorf("Mono 24k to stereo 16k failed: rate=%d channels=%d len=%d",
			got.SampleRate, got.Channels, len(got.Samples))
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS([]int16{0, 0, 0}); rms != 0 {
		t.Errorf("Expected RMS 0 for silence, got %f", rms)
	}
	if rms := CalculateRMS([]int16{32767, -32767, 32767}); rms < 0.99 || rms > 1.01 {
		t.Errorf("Expected RMS ~1.0 for full scale, got %f", rms)
	}
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected RMS 0 for empty, got %f", rms)
	}
}

func TestTone(t *testing.T) {
	samples := Tone(440, 100*time.Millisecond, 16000, 0.1)
	if len(samples) != 1600 {
		t.Fatalf("Expected 1600 samples, got %d", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("Tone should fade in from zero, got %d", samples[0])
	}
	if rms := CalculateRMS(samples); rms < 0.05 || rms > 0.08 {
		t.Errorf("Unexpected tone RMS %f", rms)
	}
}

func BenchmarkResample_2x(b *testing.B) {
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Resample(samples, 48000, 24000)
	}
}
