package eval

// TokenUsage holds token counts extracted from a vendor response.
// Nil on the result when the vendor reported nothing.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Result is the uniform outcome of one evaluation call.
//
// Invariant: exactly one of Output or Error is set. A successful call
// carries Output (possibly with usage, cost and metadata); a failed call
// carries a typed Error and an empty Output.
type Result struct {
	Output     string      `json:"output,omitempty"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`

	// CostUSD is nil when pricing for the model is unknown. Never zero-filled:
	// a nil cost means "unknown", not "free".
	CostUSD *float64 `json:"cost_usd,omitempty"`

	Cached bool   `json:"cached"`
	Error  *Error `json:"error,omitempty"`

	// Metadata carries vendor-specific extras (citations, tool calls,
	// reasoning traces, raw payloads on format errors). Absent optional
	// fields are omitted, never set to null placeholders.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Success builds a result for a normalized vendor response.
func Success(output string, usage *TokenUsage) *Result {
	return &Result{Output: output, TokenUsage: usage}
}

// Failure builds a result carrying a typed error and no output.
func Failure(err *Error) *Result {
	return &Result{Error: err}
}

// Ok reports whether the call produced output.
func (r *Result) Ok() bool {
	return r.Error == nil
}

// SetMeta stores a metadata value, allocating the map on first use.
func (r *Result) SetMeta(key string, value any) {
	if value == nil {
		return
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Clone returns a deep-enough copy for cache reads: callers may mutate the
// returned result (e.g. flip Cached) without touching the stored entry.
func (r *Result) Clone() *Result {
	out := *r
	if r.TokenUsage != nil {
		u := *r.TokenUsage
		out.TokenUsage = &u
	}
	if r.CostUSD != nil {
		c := *r.CostUSD
		out.CostUSD = &c
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
