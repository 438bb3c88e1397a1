package eval

import "testing"

func TestRequestValidate(t *testing.T) {
	valid := []Request{
		{Prompt: "hello"},
		{Messages: []Message{{Role: "user", Content: "hi"}}},
	}
	for i, req := range valid {
		if err := req.Validate(); err != nil {
			t.Errorf("request %d should be valid: %v", i, err)
		}
	}

	invalid := []Request{
		{},
		{Prompt: "hello", Messages: []Message{{Role: "user", Content: "hi"}}},
		{Messages: []Message{{Content: "no role"}}},
	}
	for i, req := range invalid {
		if err := req.Validate(); err == nil {
			t.Errorf("request %d should be invalid", i)
		}
	}
}

func TestRequestRendered(t *testing.T) {
	req := &Request{
		Prompt: "Summarize {{topic}} for {{audience}}. Keep {{unknown}}.",
		Vars:   map[string]string{"topic": "rivers", "audience": "kids"},
	}
	out := req.Rendered()
	want := "Summarize rivers for kids. Keep {{unknown}}."
	if out.Prompt != want {
		t.Errorf("Rendered prompt = %q, want %q", out.Prompt, want)
	}
	// The original request is untouched.
	if req.Prompt == out.Prompt {
		t.Error("Rendered mutated the original request")
	}
}

func TestRequestRenderedMessages(t *testing.T) {
	req := &Request{
		Messages: []Message{
			{Role: "system", Content: "You answer about {{topic}}."},
			{Role: "user", Content: "Tell me about {{topic}}."},
		},
		Vars: map[string]string{"topic": "tides"},
	}
	out := req.Rendered()
	if out.Messages[0].Content != "You answer about tides." {
		t.Errorf("unexpected system message: %q", out.Messages[0].Content)
	}
	if out.Messages[1].Content != "Tell me about tides." {
		t.Errorf("unexpected user message: %q", out.Messages[1].Content)
	}
	if req.Messages[0].Content != "You answer about {{topic}}." {
		t.Error("Rendered mutated the original messages")
	}
}

func TestResultClone(t *testing.T) {
	cost := 0.25
	usage := &TokenUsage{Prompt: 1, Completion: 2, Total: 3}
	result := &Result{Output: "hi", TokenUsage: usage, CostUSD: &cost}
	result.SetMeta("citation", "doc-1")

	clone := result.Clone()
	clone.Cached = true
	clone.TokenUsage.Prompt = 99
	clone.Metadata["citation"] = "doc-2"

	if result.Cached {
		t.Error("mutating the clone flipped Cached on the original")
	}
	if result.TokenUsage.Prompt != 1 {
		t.Error("mutating the clone changed the original usage")
	}
	if result.Metadata["citation"] != "doc-1" {
		t.Error("mutating the clone changed the original metadata")
	}
}
