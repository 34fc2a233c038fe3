package providers

import (
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/hermesllm/internal/canonical"
)

// usageContainers are the locations usage objects are found at, after any
// dialect-specific ones. message.usage is the messages stream start frame.
var usageContainers = []string{"usage", "usageMetadata", "message.usage"}

// extractUsage finds token counters in any recognized shape. It returns nil
// when none are present; a null usage object counts as absent.
func extractUsage(d *dialect, body []byte) *canonical.Usage {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}

	root := gjson.ParseBytes(body)

	for _, path := range d.usagePaths {
		if u := usageFrom(root.Get(path)); u != nil {
			return u
		}
	}

	for _, path := range usageContainers {
		if u := usageFrom(root.Get(path)); u != nil {
			return u
		}
	}

	return nil
}

func usageFrom(v gjson.Result) *canonical.Usage {
	if !v.IsObject() {
		return nil
	}

	var u canonical.Usage

	switch {
	case v.Get("prompt_tokens").Exists() || v.Get("completion_tokens").Exists():
		u = canonical.NewUsage(
			tokenCount(v.Get("prompt_tokens")),
			tokenCount(v.Get("completion_tokens")),
			optionalInt(v.Get("total_tokens")),
		)

		cached := v.Get("prompt_tokens_details.cached_tokens")
		if !cached.Exists() {
			cached = v.Get("prompt_cache_hit_tokens")
		}

		u.CachedTokens = tokenCount(cached)
	case v.Get("input_tokens").Exists() || v.Get("output_tokens").Exists():
		read := tokenCount(v.Get("cache_read_input_tokens"))
		prompt := tokenCount(v.Get("input_tokens")) + read + tokenCount(v.Get("cache_creation_input_tokens"))
		u = canonical.NewUsage(prompt, tokenCount(v.Get("output_tokens")), nil)
		u.CachedTokens = read
	case v.Get("promptTokenCount").Exists() || v.Get("candidatesTokenCount").Exists():
		completion := tokenCount(v.Get("candidatesTokenCount")) + tokenCount(v.Get("thoughtsTokenCount"))
		u = canonical.NewUsage(
			tokenCount(v.Get("promptTokenCount")),
			completion,
			optionalInt(v.Get("totalTokenCount")),
		)
		u.CachedTokens = tokenCount(v.Get("cachedContentTokenCount"))
	default:
		return nil
	}

	return &u
}

// tokenCount reads a token counter. Negative values are treated as zero.
func tokenCount(v gjson.Result) int {
	return max(int(v.Int()), 0)
}

// optionalInt reads a reported total. A missing, null or negative total is
// absent, so the caller derives it.
func optionalInt(v gjson.Result) *int {
	if !v.Exists() || v.Type == gjson.Null || v.Int() < 0 {
		return nil
	}

	n := int(v.Int())

	return &n
}
