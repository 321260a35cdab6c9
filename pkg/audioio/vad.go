package audioio

import "time"

// VADEventType distinguishes voice activity events.
type VADEventType int

const (
	// SpeechStarted fires once per segment when voice onset is confirmed.
	SpeechStarted VADEventType = iota + 1

	// SegmentCaptured fires when the speaker pauses for the hangover period.
	SegmentCaptured
)

func (t VADEventType) String() string {
	switch t {
	case SpeechStarted:
		return "speech_started"
	case SegmentCaptured:
		return "segment_captured"
	default:
		return "unknown"
	}
}

// VADEvent is emitted by the detector. Segment is set for SegmentCaptured.
type VADEvent struct {
	Type    VADEventType
	Segment AudioChunk
}

// VADConfig tunes the energy detector.
type VADConfig struct {
	// Threshold is the normalized RMS above which a chunk counts as voiced.
	Threshold float64

	// Hangover is how long energy must stay below Threshold to end a segment.
	Hangover time.Duration

	// MinSpeech is the voiced time required before SpeechStarted fires.
	MinSpeech time.Duration

	// PreRoll is how much audio before the onset is kept in the segment.
	PreRoll time.Duration
}

// DefaultVADConfig returns settings that work for a close-talk microphone.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold: 0.02,
		Hangover:  600 * time.Millisecond,
		MinSpeech: 60 * time.Millisecond,
		PreRoll:   200 * time.Millisecond,
	}
}

// VAD is an energy-based voice activity detector. It is not safe for
// concurrent use; feed it from the goroutine that reads the source.
type VAD struct {
	cfg VADConfig

	speaking bool
	voiced   time.Duration
	silence  time.Duration
	pre      []AudioChunk
	preDur   time.Duration
	segment  []AudioChunk
}

// NewVAD creates a detector.
func NewVAD(cfg VADConfig) *VAD {
	return &VAD{cfg: cfg}
}

// Process consumes one chunk and returns the events it triggered.
func (v *VAD) Process(chunk AudioChunk) []VADEvent {
	samples := chunk.Samples
	if chunk.Channels == 2 {
		samples = StereoToMono(samples)
	}
	loud := CalculateRMS(samples) >= v.cfg.Threshold
	d := chunk.Duration()

	if !v.speaking {
		v.pushPreRoll(chunk)
		if !loud {
			v.voiced = 0
			return nil
		}
		v.voiced += d
		if v.voiced < v.cfg.MinSpeech {
			return nil
		}
		v.speaking = true
		v.silence = 0
		v.segment = append(v.segment[:0], v.pre...)
		v.pre, v.preDur = nil, 0
		return []VADEvent{{Type: SpeechStarted}}
	}

	v.segment = append(v.segment, chunk)
	if loud {
		v.silence = 0
		return nil
	}
	v.silence += d
	if v.silence < v.cfg.Hangover {
		return nil
	}
	seg := Concat(v.segment)
	v.Reset()
	return []VADEvent{{Type: SegmentCaptured, Segment: seg}}
}

func (v *VAD) pushPreRoll(chunk AudioChunk) {
	v.pre = append(v.pre, chunk)
	v.preDur += chunk.Duration()
	for len(v.pre) > 1 && v.preDur-v.pre[0].Duration() >= v.cfg.PreRoll {
		v.preDur -= v.pre[0].Duration()
		v.pre = v.pre[1:]
	}
}

// Speaking reports whether a segment is in progress.
func (v *VAD) Speaking() bool { return v.speaking }

// Reset drops any in-progress segment.
func (v *VAD) Reset() {
	v.speaking = false
	v.voiced = 0
	v.silence = 0
	v.pre, v.preDur = nil, 0
	v.segment = nil
}
