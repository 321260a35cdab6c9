package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/teslashibe/go-murmur/internal/httpc"
)

// Fetcher retrieves synthesized speech.
type Fetcher interface {
	// Blob returns one WAV file for text.
	Blob(ctx context.Context, text string) ([]byte, error)

	// Stream returns a body of length-prefixed WAV frames. The caller closes it.
	Stream(ctx context.Context, text string) (io.ReadCloser, error)
}

type synthesizeRequest struct {
	Text   string `json:"text"`
	Stream bool   `json:"stream"`
}

// HTTPFetcher calls the server's /api/synthesize endpoint.
type HTTPFetcher struct {
	url string
}

// NewHTTPFetcher derives the synthesis endpoint from the websocket URL
// (ws://host:port/ws becomes http://host:port/api/synthesize).
func NewHTTPFetcher(serverURL string) (*HTTPFetcher, error) {
	u, err := SynthesizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &HTTPFetcher{url: u}, nil
}

// SynthesizeURL maps a websocket server URL to the synthesis endpoint.
func SynthesizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = "/api/synthesize"
	u.RawQuery = ""
	return u.String(), nil
}

// Blob implements Fetcher.
func (f *HTTPFetcher) Blob(ctx context.Context, text string) ([]byte, error) {
	resp, err := f.post(ctx, httpc.Client, text, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Stream implements Fetcher.
func (f *HTTPFetcher) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	resp, err := f.post(ctx, httpc.Streaming, text, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (f *HTTPFetcher) post(ctx context.Context, c *http.Client, text string, stream bool) (*http.Response, error) {
	req, err := httpc.NewJSONRequest(ctx, http.MethodPost, f.url, synthesizeRequest{Text: text, Stream: stream})
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if err := httpc.CheckStatus(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	return resp, nil
}
