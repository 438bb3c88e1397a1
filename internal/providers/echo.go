package providers

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"eval_harness/internal/config"
	"eval_harness/internal/eval"
	"eval_harness/internal/session"
)

// EchoAdapter replies with the rendered prompt. It needs no credentials
// and no network, which makes it the development and test vendor.
type EchoAdapter struct{}

// NewEchoAdapter creates the echo adapter. The configuration is unused.
func NewEchoAdapter(_ *config.Effective) (Adapter, error) {
	return &EchoAdapter{}, nil
}

func (a *EchoAdapter) Vendor() string { return "echo" }

func (a *EchoAdapter) Modes() []Mode { return []Mode{ModeChat, ModeCompletion} }

func (a *EchoAdapter) Invoke(_ context.Context, req *Request) (*Response, error) {
	text := req.Prompt
	if len(req.Messages) > 0 {
		text = req.Messages[len(req.Messages)-1].Content
	}
	words := len(strings.Fields(text))
	return &Response{
		Text:  text,
		Usage: &eval.TokenUsage{Prompt: words, Completion: words, Total: 2 * words},
	}, nil
}

// OpenSession gives echo a local conversation handle so session semantics
// are exercisable without a real vendor.
func (a *EchoAdapter) OpenSession(_ context.Context, _ *Request) (*session.Handle, error) {
	return session.NewHandle("echo", uuid.New().String()), nil
}

func (a *EchoAdapter) Close() error { return nil }
