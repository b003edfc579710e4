package provider

import (
	"context"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hrygo/relaywatch/internal/apperr"
)

// ProviderProfile parameterizes the shared OpenAI-compatible client by
// vendor, grounded on the teacher's ai/core/llm/service.go switch over
// providers that all resolve to the same *openai.Client with a swapped
// BaseURL — generalized here into one type instead of one copy-pasted
// client per vendor (§4.5).
type ProviderProfile struct {
	Key            string
	BaseURL        string // empty means the OpenAI default
	FallbackModels []Model
}

// openaiProvider implements Provider for both the native OpenAI backend
// and any OpenAI-compatible endpoint (Groq, NVIDIA, ...) selected by
// ProviderProfile.BaseURL.
type openaiProvider struct {
	profile ProviderProfile
	apiKey  string
	client  *openai.Client
}

// NewOpenAI constructs the native OpenAI-backed variant.
func NewOpenAI(apiKey string) Provider {
	return newOpenAICompatible(ProviderProfile{Key: "openai"}, apiKey)
}

// NewCompatible constructs an OpenAI-compatible variant (Groq, NVIDIA,
// or any future BaseURL-only backend) sharing the same go-openai client.
func NewCompatible(profile ProviderProfile, apiKey string) Provider {
	return newOpenAICompatible(profile, apiKey)
}

func newOpenAICompatible(profile ProviderProfile, apiKey string) *openaiProvider {
	cfg := openai.DefaultConfig(apiKey)
	if profile.BaseURL != "" {
		cfg.BaseURL = profile.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	return &openaiProvider{
		profile: profile,
		apiKey:  apiKey,
		client:  openai.NewClientWithConfig(cfg),
	}
}

func (p *openaiProvider) Key() string        { return p.profile.Key }
func (p *openaiProvider) IsConfigured() bool { return p.apiKey != "" }

func (p *openaiProvider) FetchModels(ctx context.Context) ([]Model, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	resp, err := p.client.ListModels(ctx)
	if err != nil {
		if len(p.profile.FallbackModels) > 0 {
			return p.profile.FallbackModels, nil
		}
		return nil, apperr.NewProviderError(p.profile.Key, 0, err.Error())
	}
	models := make([]Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, Model{ID: m.ID, Name: m.ID})
	}
	if len(models) == 0 && len(p.profile.FallbackModels) > 0 {
		return p.profile.FallbackModels, nil
	}
	return models, nil
}

func (p *openaiProvider) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.ModelID,
		Messages: toOpenAIMessages(req),
	})
	if err != nil {
		return nil, classifyOpenAIErr(p.profile.Key, ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.NewProviderError(p.profile.Key, 0, "empty response")
	}

	result := &CallResult{Content: resp.Choices[0].Message.Content}
	result.Usage = Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if resp.Usage.PromptTokensDetails != nil {
		result.Usage.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}
	return result, nil
}

func (p *openaiProvider) Stream(ctx context.Context, req CallRequest) (<-chan StreamEvent, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)

	stream, err := p.client.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
		Model:    req.ModelID,
		Messages: toOpenAIMessages(req),
	})
	if err != nil {
		cancel()
		return nil, classifyOpenAIErr(p.profile.Key, streamCtx, err)
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer cancel()
		defer close(events)
		defer stream.Close()

		var content string
		for {
			chunk, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					events <- StreamEvent{Done: true, Content: content}
					return
				}
				events <- StreamEvent{Err: classifyOpenAIErr(p.profile.Key, streamCtx, err)}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			content += delta
			select {
			case events <- StreamEvent{Token: delta}:
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return events, nil
}

func toOpenAIMessages(req CallRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.ContextPrefix != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.ContextPrefix})
	}
	for _, m := range req.History {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt})
	return msgs
}

func classifyOpenAIErr(providerKey string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperr.ErrTimeout
	}
	var apiErr *openai.APIError
	if ok := asOpenAIAPIError(err, &apiErr); ok {
		return apperr.NewProviderError(providerKey, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return apperr.NewProviderError(providerKey, 0, err.Error())
}

func asOpenAIAPIError(err error, target **openai.APIError) bool {
	apiErr, ok := err.(*openai.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
