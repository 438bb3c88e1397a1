package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"eval_harness/internal/eval"

	"eval_harness/internal/config"
)

// HTTPJSONAdapter is a generic REST adapter for vendors without a
// dedicated integration: it POSTs a JSON body and pulls the output text
// out of the response via a configurable path expression.
//
// Recognized Extra fields:
//
//	response_path  path to the output text (default: "output", then the
//	               usual choices[0] shapes)
//	body           map merged verbatim into the request body
type HTTPJSONAdapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPJSONAdapter creates a generic REST adapter. base_url is required.
func NewHTTPJSONAdapter(cfg *config.Effective) (Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, eval.NewConfigError("base_url", "httpjson vendor needs a base_url")
	}
	return &HTTPJSONAdapter{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}, nil
}

func (a *HTTPJSONAdapter) Vendor() string { return "httpjson" }

func (a *HTTPJSONAdapter) Modes() []Mode { return []Mode{ModeChat, ModeCompletion} }

func (a *HTTPJSONAdapter) Invoke(ctx context.Context, req *Request) (*Response, error) {
	body := a.buildBody(req)
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: respBody}
	}

	var doc any
	if err := json.Unmarshal(respBody, &doc); err != nil {
		return &Response{Raw: string(respBody)},
			eval.NewResponseFormatError(err, "vendor response is not valid JSON")
	}

	text, err := a.extractText(doc, req)
	if err != nil {
		return &Response{Raw: doc},
			eval.NewResponseFormatError(err, "no output text in vendor response")
	}

	return &Response{
		Text:  text,
		Usage: extractUsage(doc),
		Raw:   doc,
	}, nil
}

func (a *HTTPJSONAdapter) buildBody(req *Request) map[string]any {
	body := map[string]any{"model": req.Spec.Model}
	if len(req.Messages) > 0 {
		msgs := make([]map[string]string, len(req.Messages))
		for i, m := range req.Messages {
			msgs[i] = map[string]string{"role": m.Role, "content": m.Content}
		}
		body["messages"] = msgs
	} else {
		body["prompt"] = req.Prompt
	}

	cfg := req.Config
	if cfg.Temperature != nil {
		body["temperature"] = *cfg.Temperature
	}
	if cfg.TopP != nil {
		body["top_p"] = *cfg.TopP
	}
	if cfg.MaxTokens != nil {
		body["max_tokens"] = *cfg.MaxTokens
	}
	if cfg.Seed != nil {
		body["seed"] = *cfg.Seed
	}
	if req.Session != nil && req.Session.ExternalID != "" {
		body["conversation_id"] = req.Session.ExternalID
	}
	if extraBody, ok := cfg.Extra["body"].(map[string]any); ok {
		for k, v := range extraBody {
			body[k] = v
		}
	}
	return body
}

func (a *HTTPJSONAdapter) extractText(doc any, req *Request) (string, error) {
	if path, ok := req.Config.Extra["response_path"].(string); ok && path != "" {
		return ExtractText(doc, path)
	}
	// No configured path: try the common shapes in order.
	var lastErr error
	for _, path := range []string{"output", "choices[0].message.content", "choices[0].text"} {
		text, err := ExtractText(doc, path)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// extractUsage pulls token counts out of whatever field names the vendor
// uses. Missing usage is fine; the result just carries no counts.
func extractUsage(doc any) *eval.TokenUsage {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	usage, ok := obj["usage"].(map[string]any)
	if !ok {
		return nil
	}
	num := func(keys ...string) int {
		for _, key := range keys {
			if f, ok := usage[key].(float64); ok {
				return int(f)
			}
		}
		return 0
	}
	out := &eval.TokenUsage{
		Prompt:     num("prompt_tokens", "input_tokens"),
		Completion: num("completion_tokens", "output_tokens"),
		Total:      num("total_tokens"),
	}
	if out.Total == 0 {
		out.Total = out.Prompt + out.Completion
	}
	if out.Prompt == 0 && out.Completion == 0 && out.Total == 0 {
		return nil
	}
	return out
}

func (a *HTTPJSONAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
