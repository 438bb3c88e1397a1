package providers

import (
	"context"
	"encoding/json"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"eval_harness/internal/config"
	"eval_harness/internal/eval"
)

// OpenAIAdapter serves the "openai" vendor type and every
// OpenAI-compatible endpoint registered as an alias of it (Groq, Mistral,
// local inference servers with a compatible surface).
type OpenAIAdapter struct {
	client *openai.Client
}

// NewOpenAIAdapter creates an adapter over the configured endpoint.
func NewOpenAIAdapter(cfg *config.Effective) (Adapter, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		clientCfg.OrgID = cfg.Organization
	}
	return &OpenAIAdapter{client: openai.NewClientWithConfig(clientCfg)}, nil
}

func (a *OpenAIAdapter) Vendor() string { return "openai" }

func (a *OpenAIAdapter) Modes() []Mode {
	return []Mode{ModeChat, ModeCompletion, ModeEmbedding}
}

func (a *OpenAIAdapter) Invoke(ctx context.Context, req *Request) (*Response, error) {
	switch req.Spec.Mode {
	case ModeChat:
		return a.chat(ctx, req)
	case ModeCompletion:
		return a.completion(ctx, req)
	case ModeEmbedding:
		return a.embedding(ctx, req)
	default:
		return nil, eval.NewCapabilityError(req.Spec.Vendor, string(req.Spec.Mode))
	}
}

func (a *OpenAIAdapter) chat(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Spec.Model,
		Messages: messages,
	}
	if cfg.Temperature != nil {
		chatReq.Temperature = float32(*cfg.Temperature)
	}
	if cfg.TopP != nil {
		chatReq.TopP = float32(*cfg.TopP)
	}
	if cfg.MaxTokens != nil {
		chatReq.MaxTokens = *cfg.MaxTokens
	}
	if cfg.Seed != nil {
		chatReq.Seed = cfg.Seed
	}

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return &Response{Raw: resp},
			eval.NewResponseFormatError(nil, "chat completion returned no choices")
	}

	out := &Response{
		Text:  resp.Choices[0].Message.Content,
		Usage: usageFromOpenAI(resp.Usage),
		Raw:   resp,
	}
	if calls := resp.Choices[0].Message.ToolCalls; len(calls) > 0 {
		out.Metadata = map[string]any{"tool_calls": calls}
	}
	return out, nil
}

func (a *OpenAIAdapter) completion(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config

	complReq := openai.CompletionRequest{
		Model:  req.Spec.Model,
		Prompt: req.Prompt,
	}
	if cfg.Temperature != nil {
		complReq.Temperature = float32(*cfg.Temperature)
	}
	if cfg.TopP != nil {
		complReq.TopP = float32(*cfg.TopP)
	}
	if cfg.MaxTokens != nil {
		complReq.MaxTokens = *cfg.MaxTokens
	}

	resp, err := a.client.CreateCompletion(ctx, complReq)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return &Response{Raw: resp},
			eval.NewResponseFormatError(nil, "completion returned no choices")
	}
	return &Response{
		Text:  resp.Choices[0].Text,
		Usage: usageFromOpenAI(resp.Usage),
		Raw:   resp,
	}, nil
}

func (a *OpenAIAdapter) embedding(ctx context.Context, req *Request) (*Response, error) {
	input := req.Prompt
	if input == "" && len(req.Messages) > 0 {
		input = req.Messages[len(req.Messages)-1].Content
	}

	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Model: openai.EmbeddingModel(req.Spec.Model),
		Input: []string{input},
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return &Response{Raw: resp},
			eval.NewResponseFormatError(nil, "embedding response has no data")
	}

	vector := resp.Data[0].Embedding
	encoded, err := json.Marshal(vector)
	if err != nil {
		return nil, err
	}
	return &Response{
		Text: string(encoded),
		Usage: &eval.TokenUsage{
			Prompt: resp.Usage.PromptTokens,
			Total:  resp.Usage.TotalTokens,
		},
		Raw:      resp,
		Metadata: map[string]any{"embedding_dimensions": len(vector)},
	}, nil
}

func (a *OpenAIAdapter) Close() error { return nil }

func usageFromOpenAI(u openai.Usage) *eval.TokenUsage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	return &eval.TokenUsage{
		Prompt:     u.PromptTokens,
		Completion: u.CompletionTokens,
		Total:      u.TotalTokens,
	}
}

// wrapOpenAIError converts SDK errors into TransportErrors so the
// pipeline classifies them the same way as raw HTTP failures.
func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{StatusCode: apiErr.HTTPStatusCode, Body: []byte(apiErr.Message)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &TransportError{StatusCode: reqErr.HTTPStatusCode, Body: []byte(reqErr.Error())}
	}
	return err
}
