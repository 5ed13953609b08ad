package intercept

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobyv/tokentrail/internal/ledger"
	"github.com/tobyv/tokentrail/internal/trace"
)

func TestObserveRecordsAttributedEvent(t *testing.T) {
	l := ledger.New()
	ctx := trace.WithLedger(context.Background(), l)
	ctx = trace.WithScope(ctx, "summarize")

	Observe(ctx, Usage{
		Provider:     "openai",
		Model:        "gpt-4o",
		InputTokens:  2000,
		OutputTokens: 500,
		Duration:     1200 * time.Millisecond,
	})

	records := l.Records()
	require.Len(t, records, 1)
	e := records[0]
	assert.Equal(t, "summarize", e.FunctionName)
	assert.Equal(t, []string{"summarize"}, e.CallStack)
	assert.Equal(t, "gpt-4o", e.Model)
	assert.Equal(t, int64(2000), e.InputTokens)
	assert.Equal(t, int64(500), e.OutputTokens)
	assert.Greater(t, e.CostUSD, 0.0)
	assert.InDelta(t, 1200.0, e.DurationMS, 1e-6)
}

func TestObserveUnknownModelCostsZero(t *testing.T) {
	l := ledger.New()
	ctx := trace.WithLedger(context.Background(), l)

	Observe(ctx, Usage{Provider: "openai", Model: "future-model-x", InputTokens: 100, OutputTokens: 10})

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 0.0, records[0].CostUSD)
	assert.Equal(t, trace.Unknown, records[0].FunctionName)
}

func TestExtractOpenAI(t *testing.T) {
	body := []byte(`{"id":"chatcmpl-1","model":"gpt-4o-2024-11-20",
		"choices":[{"message":{"role":"assistant","content":"hi"}}],
		"usage":{"prompt_tokens":1000,"completion_tokens":200,"total_tokens":1200}}`)

	u, ok := extractOpenAI(body, "/v1/chat/completions")
	require.True(t, ok)
	assert.Equal(t, "openai", u.Provider)
	assert.Equal(t, "gpt-4o-2024-11-20", u.Model)
	assert.Equal(t, int64(1000), u.InputTokens)
	assert.Equal(t, int64(200), u.OutputTokens)
}

func TestExtractAnthropic(t *testing.T) {
	body := []byte(`{"id":"msg_1","model":"claude-haiku-4-5","role":"assistant",
		"content":[{"type":"text","text":"hi"}],
		"usage":{"input_tokens":500,"output_tokens":100}}`)

	u, ok := extractAnthropic(body, "/v1/messages")
	require.True(t, ok)
	assert.Equal(t, "anthropic", u.Provider)
	assert.Equal(t, "claude-haiku-4-5", u.Model)
	assert.Equal(t, int64(500), u.InputTokens)
	assert.Equal(t, int64(100), u.OutputTokens)
}

func TestExtractGoogle(t *testing.T) {
	t.Run("model from body", func(t *testing.T) {
		body := []byte(`{"candidates":[],"modelVersion":"gemini-1.5-pro",
			"usageMetadata":{"promptTokenCount":300,"candidatesTokenCount":80}}`)

		u, ok := extractGoogle(body, "/v1beta/models/gemini-1.5-pro:generateContent")
		require.True(t, ok)
		assert.Equal(t, "google", u.Provider)
		assert.Equal(t, "gemini-1.5-pro", u.Model)
		assert.Equal(t, int64(300), u.InputTokens)
		assert.Equal(t, int64(80), u.OutputTokens)
	})

	t.Run("model from path", func(t *testing.T) {
		body := []byte(`{"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5}}`)

		u, ok := extractGoogle(body, "/v1beta/models/gemini-2.0-flash:generateContent")
		require.True(t, ok)
		assert.Equal(t, "gemini-2.0-flash", u.Model)
	})
}

func TestExtractMissingUsage(t *testing.T) {
	_, ok := extractOpenAI([]byte(`{"model":"gpt-4o"}`), "")
	assert.False(t, ok)

	_, ok = extractAnthropic([]byte(`not json at all`), "")
	assert.False(t, ok)

	_, ok = extractGoogle([]byte(`{"candidates":[]}`), "")
	assert.False(t, ok)
}

// openAIStub serves a canned chat completions response.
func openAIStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"gpt-4o","choices":[{"message":{"content":"ok"}}],
			"usage":{"prompt_tokens":1000,"completion_tokens":200}}`)
	}))
}

// hostRewriter routes every request to the stub server while keeping
// the original host visible to the Transport's provider detection.
type hostRewriter struct {
	target string
}

func (h hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = h.target
	return http.DefaultTransport.RoundTrip(clone)
}

func TestTransportRecordsAndPreservesResponse(t *testing.T) {
	stub := openAIStub(t)
	defer stub.Close()

	l := ledger.New()
	ctx := trace.WithLedger(context.Background(), l)

	err := trace.Scope(ctx, "my_agent", func(scoped context.Context) error {
		client := &http.Client{
			Transport: &Transport{Base: hostRewriter{target: stub.Listener.Addr().String()}},
		}
		req, err := http.NewRequestWithContext(scoped, http.MethodPost,
			"https://api.openai.com/v1/chat/completions", strings.NewReader(`{}`))
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		// The caller still reads the full original body.
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"prompt_tokens":1000`)
		return nil
	})
	require.NoError(t, err)

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "my_agent", records[0].FunctionName)
	assert.Equal(t, "openai", records[0].Provider)
	assert.Equal(t, int64(1000), records[0].InputTokens)
}

func TestTransportIgnoresWhenInactive(t *testing.T) {
	stub := openAIStub(t)
	defer stub.Close()

	l := ledger.New()
	ctx := trace.WithLedger(context.Background(), l)

	client := &http.Client{
		Transport: &Transport{Base: hostRewriter{target: stub.Listener.Addr().String()}},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/chat/completions", strings.NewReader(`{}`))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, l.Records())
}

func TestTransportIgnoresUnknownHosts(t *testing.T) {
	stub := openAIStub(t)
	defer stub.Close()

	l := ledger.New()
	ctx := trace.WithLedger(context.Background(), l)

	err := trace.Scope(ctx, "fn", func(scoped context.Context) error {
		client := &http.Client{
			Transport: &Transport{Base: hostRewriter{target: stub.Listener.Addr().String()}},
		}
		req, err := http.NewRequestWithContext(scoped, http.MethodGet,
			"https://example.com/healthz", nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return nil
	})
	require.NoError(t, err)

	assert.Empty(t, l.Records())
}

func TestTransportMalformedBodyStillReturned(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `this is not json`)
	}))
	defer stub.Close()

	l := ledger.New()
	ctx := trace.WithLedger(context.Background(), l)

	err := trace.Scope(ctx, "fn", func(scoped context.Context) error {
		client := &http.Client{
			Transport: &Transport{Base: hostRewriter{target: stub.Listener.Addr().String()}},
		}
		req, err := http.NewRequestWithContext(scoped, http.MethodPost,
			"https://api.anthropic.com/v1/messages", strings.NewReader(`{}`))
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "this is not json", string(body))
		return nil
	})
	require.NoError(t, err)

	assert.Empty(t, l.Records())
}

func TestInstrumentWrapsWhileActive(t *testing.T) {
	base := hostRewriter{target: "ignored"}
	client := &http.Client{Transport: base}
	Instrument(client)

	trace.Activate()
	_, wrapped := client.Transport.(*Transport)
	assert.True(t, wrapped, "transport should be wrapped while active")

	trace.Deactivate()
	_, wrapped = client.Transport.(*Transport)
	assert.False(t, wrapped, "transport should be restored when no scope remains")
}
