// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

func headerInt(headers http.Header, key string) int {
	v := headers.Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func headerRetryAfter(headers http.Header) time.Duration {
	if seconds := headerInt(headers, "Retry-After"); seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// ParseAnthropicRateLimitHeaders reads Anthropic's rate-limit headers.
// Reset timestamps arrive in RFC3339; the first one present wins.
func ParseAnthropicRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter:            headerRetryAfter(headers),
		RequestsRemaining:     headerInt(headers, "anthropic-ratelimit-requests-remaining"),
		InputTokensRemaining:  headerInt(headers, "anthropic-ratelimit-input-tokens-remaining"),
		OutputTokensRemaining: headerInt(headers, "anthropic-ratelimit-output-tokens-remaining"),
	}

	for _, key := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		if raw := headers.Get(key); raw != "" {
			if reset, err := time.Parse(time.RFC3339, raw); err == nil {
				info.ResetTime = reset.Unix()
				break
			}
		}
	}

	return info
}

// ParseOpenAIRateLimitHeaders reads OpenAI's rate-limit headers. Reset
// values are already unix timestamps.
func ParseOpenAIRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter:        headerRetryAfter(headers),
		RequestsRemaining: headerInt(headers, "x-ratelimit-remaining-requests"),
		TokensRemaining:   headerInt(headers, "x-ratelimit-remaining-tokens"),
	}

	for _, key := range []string{"x-ratelimit-reset-tokens", "x-ratelimit-reset-requests"} {
		if raw := headers.Get(key); raw != "" {
			if reset, err := strconv.ParseInt(raw, 10, 64); err == nil {
				info.ResetTime = reset
				break
			}
		}
	}

	return info
}
