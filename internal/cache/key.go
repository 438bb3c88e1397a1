package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"eval_harness/internal/config"
	"eval_harness/internal/eval"
)

// keyPayload is the canonical input to the cache key. Only fields that can
// change the vendor output belong here; operational knobs (timeouts, retry
// budgets) must not perturb the key.
type keyPayload struct {
	Provider    string            `json:"provider"`
	Prompt      string            `json:"prompt,omitempty"`
	Messages    []eval.Message    `json:"messages,omitempty"`
	Vars        map[string]string `json:"vars,omitempty"`
	BaseURL     string            `json:"base_url,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	TopP        *float64          `json:"top_p,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Seed        *int              `json:"seed,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
}

// Key derives the deterministic cache key for one call. It is a pure
// function of the provider identity, the rendered request and the
// output-affecting configuration fields: same inputs, same key, always.
//
// encoding/json sorts map keys, so the serialized payload is canonical
// without extra bookkeeping.
func Key(providerID string, req *eval.Request, cfg *config.Effective) string {
	payload := keyPayload{
		Provider: providerID,
		Prompt:   req.Prompt,
		Messages: req.Messages,
		Vars:     req.Vars,
	}
	if cfg != nil {
		payload.BaseURL = cfg.BaseURL
		payload.Temperature = cfg.Temperature
		payload.TopP = cfg.TopP
		payload.MaxTokens = cfg.MaxTokens
		payload.Seed = cfg.Seed
		if len(cfg.Extra) > 0 {
			payload.Extra = cfg.Extra
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Only unmarshalable Extra values can land here; fall back to the
		// provider id so the call still works, just without dedup.
		data = []byte(providerID)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
