package cache

import (
	"testing"
	"time"

	"eval_harness/internal/config"
	"eval_harness/internal/eval"
)

func TestKeyDeterministic(t *testing.T) {
	temp := 0.5
	req := &eval.Request{Prompt: "hello", Vars: map[string]string{"a": "1", "b": "2"}}
	cfg := &config.Effective{Temperature: &temp, BaseURL: "https://x"}

	first := Key("openai:chat:gpt-4o", req, cfg)
	second := Key("openai:chat:gpt-4o", req, cfg)
	if first != second {
		t.Errorf("same inputs produced different keys: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("key is not a sha256 hex digest: %q", first)
	}
}

func TestKeyIgnoresOperationalKnobs(t *testing.T) {
	req := &eval.Request{Prompt: "hello"}
	slow := &config.Effective{Timeout: time.Minute, MaxRetries: 5, BackoffBase: time.Second}
	fast := &config.Effective{Timeout: time.Second, MaxRetries: 0, Delay: time.Second}

	if Key("p", req, slow) != Key("p", req, fast) {
		t.Error("timeout and retry settings must not perturb the cache key")
	}
}

func TestKeyVariesWithOutputAffectingFields(t *testing.T) {
	base := &eval.Request{Prompt: "hello"}
	baseKey := Key("p", base, &config.Effective{})

	lowTemp, highTemp := 0.0, 1.0
	variants := []struct {
		name string
		key  string
	}{
		{"provider", Key("other", base, &config.Effective{})},
		{"prompt", Key("p", &eval.Request{Prompt: "goodbye"}, &config.Effective{})},
		{"vars", Key("p", &eval.Request{Prompt: "hello", Vars: map[string]string{"x": "1"}}, &config.Effective{})},
		{"temperature", Key("p", base, &config.Effective{Temperature: &highTemp})},
		{"base_url", Key("p", base, &config.Effective{BaseURL: "https://x"})},
	}
	for _, v := range variants {
		if v.key == baseKey {
			t.Errorf("changing %s did not change the key", v.name)
		}
	}

	// Zero and unset temperature are distinct inputs.
	if Key("p", base, &config.Effective{Temperature: &lowTemp}) == baseKey {
		t.Error("temperature 0 and unset temperature must not collide")
	}
}
