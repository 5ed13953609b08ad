package intercept

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/tobyv/tokentrail/internal/trace"
)

// Transport is an http.RoundTripper that taps LLM provider traffic
// flowing through it. When interception is active and the response is
// recognized as an OpenAI, Anthropic or Google completion, a usage
// event is recorded against the request context's attribution. The
// original response always passes through untouched; extraction
// problems are swallowed and simply record nothing.
type Transport struct {
	// Base performs the actual request. nil means
	// http.DefaultTransport.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	// A cancelled or timed-out call never produces an event.
	if req.Context().Err() != nil {
		return resp, nil
	}
	if !trace.IsActive() || resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	_, extract := extractorFor(req.URL.Host)
	if extract == nil {
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		return resp, nil
	}

	if u, ok := extract(body, req.URL.Path); ok {
		u.Duration = time.Since(start)
		Observe(req.Context(), u)
	}
	return resp, nil
}

// clientHook swaps a client's transport for a tapping Transport while
// interception is active, restoring the original on removal. This is
// the install/remove pair the activation reference count drives.
type clientHook struct {
	client   *http.Client
	original http.RoundTripper
}

func (h *clientHook) Install() {
	h.original = h.client.Transport
	h.client.Transport = &Transport{Base: h.original}
}

func (h *clientHook) Remove() {
	h.client.Transport = h.original
	h.original = nil
}

// Instrument registers client for interception. Its transport is
// wrapped whenever any profiled scope or session is active and
// restored once none remains.
func Instrument(client *http.Client) {
	trace.RegisterHook(&clientHook{client: client})
}
