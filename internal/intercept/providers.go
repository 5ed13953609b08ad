package intercept

import (
	"encoding/json"
	"strings"
)

// extractor parses one provider's response body into a Usage payload.
// ok is false when the body carries no usable token counts.
type extractor func(body []byte, reqPath string) (Usage, bool)

// extractorFor picks a provider extractor by request host.
func extractorFor(host string) (string, extractor) {
	switch {
	case strings.Contains(host, "openai"):
		return "openai", extractOpenAI
	case strings.Contains(host, "anthropic"):
		return "anthropic", extractAnthropic
	case strings.Contains(host, "googleapis"):
		return "google", extractGoogle
	default:
		return "", nil
	}
}

// extractOpenAI reads a chat completions response:
// {"model": "...", "usage": {"prompt_tokens": N, "completion_tokens": N}}
func extractOpenAI(body []byte, _ string) (Usage, bool) {
	var resp struct {
		Model string `json:"model"`
		Usage *struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return Usage{}, false
	}
	return Usage{
		Provider:     "openai",
		Model:        orUnknown(resp.Model),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, true
}

// extractAnthropic reads a messages response:
// {"model": "...", "usage": {"input_tokens": N, "output_tokens": N}}
func extractAnthropic(body []byte, _ string) (Usage, bool) {
	var resp struct {
		Model string `json:"model"`
		Usage *struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return Usage{}, false
	}
	return Usage{
		Provider:     "anthropic",
		Model:        orUnknown(resp.Model),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, true
}

// extractGoogle reads a generateContent response. The model name comes
// from modelVersion when present, otherwise from the request path
// (".../models/gemini-1.5-pro:generateContent").
func extractGoogle(body []byte, reqPath string) (Usage, bool) {
	var resp struct {
		ModelVersion  string `json:"modelVersion"`
		UsageMetadata *struct {
			PromptTokenCount     int64 `json:"promptTokenCount"`
			CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.UsageMetadata == nil {
		return Usage{}, false
	}

	name := resp.ModelVersion
	if name == "" {
		name = modelFromPath(reqPath)
	}
	return Usage{
		Provider:     "google",
		Model:        orUnknown(name),
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, true
}

// modelFromPath pulls the model segment out of a Gemini request path.
func modelFromPath(path string) string {
	idx := strings.Index(path, "/models/")
	if idx < 0 {
		return ""
	}
	name := path[idx+len("/models/"):]
	if colon := strings.IndexByte(name, ':'); colon >= 0 {
		name = name[:colon]
	}
	if slash := strings.IndexByte(name, '/'); slash >= 0 {
		name = name[:slash]
	}
	return name
}

func orUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}
