package canonical

// Usage holds token counters. CachedTokens is the subset of PromptTokens
// served from a provider-side prompt cache, when reported.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CachedTokens     int `json:"cached_tokens,omitempty"`
}

// NewUsage builds a Usage. total is the provider-reported total, or nil
// when the provider does not report one, in which case it is derived.
// Counters are never negative.
func NewUsage(prompt, completion int, total *int) Usage {
	prompt, completion = max(prompt, 0), max(completion, 0)

	u := Usage{PromptTokens: prompt, CompletionTokens: completion}
	if total != nil && *total >= 0 {
		u.TotalTokens = *total
	} else {
		u.TotalTokens = prompt + completion
	}

	return u
}

// ExtractUsage returns the response's token counts. The boolean is false
// when the provider did not report usage; absent usage is never zero usage.
func ExtractUsage(resp *Response) (Usage, bool) {
	if resp == nil || resp.Usage == nil {
		return Usage{}, false
	}

	return *resp.Usage, true
}
