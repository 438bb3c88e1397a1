package providers

import (
	"context"
	"fmt"

	"eval_harness/internal/config"
	"eval_harness/internal/eval"
	"eval_harness/internal/session"
)

// Request is the normalized request handed to an adapter after parsing,
// resolution and variable expansion.
type Request struct {
	Spec     Spec
	Prompt   string
	Messages []eval.Message

	// Config is the resolved effective configuration for this call.
	Config *config.Effective

	// Session is the conversation handle for stateful calls, nil otherwise.
	Session *session.Handle
}

// Response is the normalized vendor response before cost computation.
type Response struct {
	Text  string
	Usage *eval.TokenUsage

	// Raw is the decoded vendor payload, preserved for debugging. On a
	// ResponseFormatError the adapter returns a Response carrying Raw
	// alongside the error so the pipeline can surface the payload.
	Raw any

	// Metadata holds vendor-specific extras (citations, tool calls,
	// reasoning traces). Absent fields are simply not set.
	Metadata map[string]any
}

// Adapter is implemented by each concrete vendor integration. Adapters
// translate normalized requests into vendor calls and normalize the raw
// response back; retrying, caching and pricing belong to the pipeline.
type Adapter interface {
	// Vendor returns the vendor token this adapter serves.
	Vendor() string

	// Modes returns the capabilities this adapter supports.
	Modes() []Mode

	// Invoke performs one vendor call.
	Invoke(ctx context.Context, req *Request) (*Response, error)

	// Close releases adapter resources.
	Close() error
}

// SessionOpener is implemented by adapters whose vendors hold multi-turn
// state. The pipeline calls OpenSession when a request needs a handle the
// pool does not have yet.
type SessionOpener interface {
	OpenSession(ctx context.Context, req *Request) (*session.Handle, error)
}

// TransportError is a non-2xx vendor response or connection-level failure
// surfaced by an adapter. The pipeline classifies it as retryable or fatal.
type TransportError struct {
	StatusCode int
	Body       []byte
}

func (e *TransportError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("vendor returned status %d: %s", e.StatusCode, truncate(e.Body, 200))
	}
	return fmt.Sprintf("vendor returned status %d", e.StatusCode)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
