package eval

import (
	"fmt"
	"strings"
)

// Message is one turn of a chat-style prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one normalized unit of work sent through the pipeline.
// Either Prompt or Messages is set, never both.
type Request struct {
	Prompt   string            `json:"prompt,omitempty"`
	Messages []Message         `json:"messages,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`

	// Overrides are test-level configuration fields. They win over the
	// provider config block and the environment during resolution.
	Overrides map[string]any `json:"overrides,omitempty"`

	// SessionKey groups multi-turn requests onto one conversation handle.
	// Empty for stateless calls.
	SessionKey string `json:"session_key,omitempty"`
}

// Validate checks the prompt shape.
func (r *Request) Validate() error {
	if r.Prompt != "" && len(r.Messages) > 0 {
		return fmt.Errorf("request has both prompt and messages")
	}
	if r.Prompt == "" && len(r.Messages) == 0 {
		return fmt.Errorf("request has neither prompt nor messages")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return fmt.Errorf("message %d has empty role", i)
		}
	}
	return nil
}

// Rendered returns a copy of the request with {{var}} placeholders expanded
// in the prompt and in every message body. Unknown placeholders are left
// untouched so assertion failures stay diagnosable.
func (r *Request) Rendered() *Request {
	out := &Request{
		Prompt:     expandVars(r.Prompt, r.Vars),
		Vars:       r.Vars,
		Overrides:  r.Overrides,
		SessionKey: r.SessionKey,
	}
	if len(r.Messages) > 0 {
		out.Messages = make([]Message, len(r.Messages))
		for i, m := range r.Messages {
			out.Messages[i] = Message{Role: m.Role, Content: expandVars(m.Content, r.Vars)}
		}
	}
	return out
}

func expandVars(s string, vars map[string]string) string {
	if s == "" || len(vars) == 0 {
		return s
	}
	for name, value := range vars {
		s = strings.ReplaceAll(s, "{{"+name+"}}", value)
	}
	return s
}
