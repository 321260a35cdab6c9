package tts_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-murmur/pkg/protocol"
	"github.com/teslashibe/go-murmur/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	result, err := mock.Synthesize(ctx, "Hello world")
	require.NoError(t, err)
	assert.Equal(t, 11, result.CharCount)
	assert.Equal(t, 24000, result.Format.SampleRate)
	assert.Equal(t, 110*time.Millisecond, result.Duration())

	_, err = mock.Synthesize(ctx, "")
	assert.ErrorIs(t, err, tts.ErrEmptyText)

	assert.NoError(t, mock.Health(ctx))
	assert.Equal(t, 2, mock.CallCount("Synthesize"))
	assert.Len(t, mock.Calls(), 3)
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "   ", nil},
		{"single", "Hello there", []string{"Hello there"}},
		{
			"short first merges",
			"Sure. I can refactor the parser for you today.",
			[]string{"Sure. I can refactor the parser for you today."},
		},
		{
			"long sentences stay apart",
			"The build finished without errors. All forty tests passed as well!",
			[]string{"The build finished without errors.", "All forty tests passed as well!"},
		},
		{
			"short tail stays",
			"The deployment to staging is complete. Done.",
			[]string{"The deployment to staging is complete.", "Done."},
		},
		{"no space after period", "Version 1.2 is out", []string{"Version 1.2 is out"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tts.SplitSentences(tt.in))
		})
	}
}

func TestChainFallback(t *testing.T) {
	primary := tts.WithError(&tts.APIError{StatusCode: 500, Message: "down", Provider: "primary"})
	primary.ProviderName = "primary"
	backup := tts.NewMock()
	backup.ProviderName = "backup"

	chain, err := tts.NewChain(nil, primary, nil, backup)
	require.NoError(t, err)
	assert.Equal(t, "primary>backup", chain.Name())

	res, err := chain.Synthesize(context.Background(), "fallback works")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Audio)
	assert.Equal(t, 1, backup.CallCount("Synthesize"))
}

func TestChainAllFail(t *testing.T) {
	unauthorized := &tts.APIError{StatusCode: 401, Message: "bad key", Provider: "a"}
	chain, err := tts.NewChain(nil, tts.WithError(unauthorized), tts.WithError(errors.New("boom")))
	require.NoError(t, err)

	_, err = chain.Synthesize(context.Background(), "hi")
	var chainErr *tts.ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Len(t, chainErr.Errors, 2)

	var apiErr *tts.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsUnauthorized())
	assert.False(t, apiErr.IsRetryable())

	_, err = tts.NewChain(nil)
	assert.ErrorIs(t, err, tts.ErrProviderUnavailable)
}

func TestSynthesizerBlob(t *testing.T) {
	mock := tts.NewMock()
	synth := tts.NewSynthesizer(mock, nil, nil)

	text := "The build finished without errors. All forty tests passed as well!"
	wav, err := synth.Blob(context.Background(), text)
	require.NoError(t, err)

	pcm, err := protocol.DecodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, 24000, pcm.SampleRate)
	assert.Equal(t, 1, pcm.Channels)
	// 10ms per character, spaces between groups excluded
	assert.Equal(t, (len(text)-1)*240, len(pcm.Samples))
	assert.Equal(t, 2, mock.CallCount("Synthesize"))

	_, err = synth.Blob(context.Background(), " ")
	assert.ErrorIs(t, err, tts.ErrEmptyText)
}

func TestSynthesizerStream(t *testing.T) {
	var observed []string
	mock := tts.NewMock()
	synth := tts.NewSynthesizer(mock, nil, func(provider string, _ time.Duration, err error) {
		observed = append(observed, provider)
	})

	fs, err := synth.Stream(context.Background(), "The build finished without errors. All forty tests passed as well!")
	require.NoError(t, err)
	assert.Equal(t, 2, fs.Groups())

	var buf bytes.Buffer
	n, err := fs.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	fr := protocol.NewFrameReader(&buf)
	for i := 0; i < 2; i++ {
		frame, err := fr.Next()
		require.NoError(t, err)
		_, err = protocol.DecodeWAV(frame)
		require.NoError(t, err)
	}
	_, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"mock", "mock"}, observed)
}

func TestSynthesizerStreamFirstGroupFails(t *testing.T) {
	synth := tts.NewSynthesizer(tts.WithError(errors.New("offline")), nil, nil)
	_, err := synth.Stream(context.Background(), "Hello there, how are you doing today?")
	assert.EqualError(t, err, "offline")
}

func TestElevenLabsSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		assert.Equal(t, "/text-to-speech/21m00Tcm4TlvDq8ikWAM", r.URL.Path)
		assert.Equal(t, "pcm_24000", r.URL.Query().Get("output_format"))
		_, _ = w.Write(make([]byte, 480))
	}))
	defer srv.Close()

	p, err := tts.NewElevenLabs(tts.WithAPIKey("key"), tts.WithVoice("rachel"), tts.WithBaseURL(srv.URL))
	require.NoError(t, err)

	res, err := p.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, res.Audio, 480)
	assert.Equal(t, 10*time.Millisecond, res.Duration())
}

func TestElevenLabsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":{"message":"busy","status":"overloaded"}}`))
			return
		}
		_, _ = w.Write(make([]byte, 4))
	}))
	defer srv.Close()

	p, err := tts.NewElevenLabs(
		tts.WithAPIKey("key"),
		tts.WithBaseURL(srv.URL),
		tts.WithRetry(2, time.Millisecond),
	)
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestElevenLabsErrorParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"message":"invalid api key","status":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	p, err := tts.NewElevenLabs(tts.WithAPIKey("key"), tts.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "hello")
	var apiErr *tts.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid api key", apiErr.Message)
	assert.Equal(t, "invalid_api_key", apiErr.Code)
}

func TestOpenAISynthesizeRequestsPCM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/audio/speech"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"response_format":"pcm"`)
		assert.Contains(t, string(body), `"voice":"nova"`)
		_, _ = w.Write(make([]byte, 960))
	}))
	defer srv.Close()

	p, err := tts.NewOpenAI(tts.WithAPIKey("sk-test"), tts.WithBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)

	res, err := p.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, res.Audio, 960)
	assert.Equal(t, 24000, res.Format.SampleRate)
}

func TestConfigValidation(t *testing.T) {
	_, err := tts.NewOpenAI()
	assert.ErrorIs(t, err, tts.ErrNoAPIKey)

	_, err = tts.NewElevenLabs(tts.WithAPIKey("k"), tts.WithVoice(""))
	assert.ErrorIs(t, err, tts.ErrNoVoiceID)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", tts.Preview("a\n  b", 10))
	assert.Equal(t, "abc...", tts.Preview("abcdef", 3))
}
