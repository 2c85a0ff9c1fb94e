package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseAnthropicRateLimitHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	headers.Set("anthropic-ratelimit-requests-remaining", "95")
	headers.Set("anthropic-ratelimit-input-tokens-remaining", "10000")
	headers.Set("anthropic-ratelimit-output-tokens-remaining", "5000")
	headers.Set("anthropic-ratelimit-requests-reset", "2025-01-01T00:00:30Z")

	info := ParseAnthropicRateLimitHeaders(headers)

	if info.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", info.RetryAfter)
	}
	if info.RequestsRemaining != 95 {
		t.Errorf("RequestsRemaining = %d, want 95", info.RequestsRemaining)
	}
	if info.InputTokensRemaining != 10000 {
		t.Errorf("InputTokensRemaining = %d, want 10000", info.InputTokensRemaining)
	}
	if info.OutputTokensRemaining != 5000 {
		t.Errorf("OutputTokensRemaining = %d, want 5000", info.OutputTokensRemaining)
	}
	if info.ResetTime == 0 {
		t.Error("ResetTime not parsed from RFC3339 header")
	}
}

func TestParseOpenAIRateLimitHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "12")
	headers.Set("x-ratelimit-remaining-requests", "58")
	headers.Set("x-ratelimit-remaining-tokens", "149000")
	headers.Set("x-ratelimit-reset-tokens", "1735689600")

	info := ParseOpenAIRateLimitHeaders(headers)

	if info.RetryAfter != 12*time.Second {
		t.Errorf("RetryAfter = %v, want 12s", info.RetryAfter)
	}
	if info.RequestsRemaining != 58 {
		t.Errorf("RequestsRemaining = %d, want 58", info.RequestsRemaining)
	}
	if info.TokensRemaining != 149000 {
		t.Errorf("TokensRemaining = %d, want 149000", info.TokensRemaining)
	}
	if info.ResetTime != 1735689600 {
		t.Errorf("ResetTime = %d, want 1735689600", info.ResetTime)
	}
}

func TestParseRateLimitHeaders_Empty(t *testing.T) {
	empty := http.Header{}

	for name, parser := range map[string]RateLimitHeaderParser{
		"anthropic": ParseAnthropicRateLimitHeaders,
		"openai":    ParseOpenAIRateLimitHeaders,
	} {
		info := parser(empty)
		if info.RetryAfter != 0 || info.ResetTime != 0 {
			t.Errorf("%s parser on empty headers = %+v, want zero value", name, info)
		}
	}
}

func TestParseRateLimitHeaders_MalformedValues(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "soon")
	headers.Set("x-ratelimit-remaining-requests", "lots")
	headers.Set("anthropic-ratelimit-requests-reset", "tomorrow")

	if info := ParseAnthropicRateLimitHeaders(headers); info != (RateLimitInfo{}) {
		t.Errorf("anthropic parser on malformed headers = %+v, want zero value", info)
	}
	if info := ParseOpenAIRateLimitHeaders(headers); info != (RateLimitInfo{}) {
		t.Errorf("openai parser on malformed headers = %+v, want zero value", info)
	}
}
