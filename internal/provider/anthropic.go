package provider

import (
	"context"
	"io"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hrygo/relaywatch/internal/apperr"
)

// anthropicProvider implements Provider over the Claude Messages API,
// grounded on the Anthropic client adapter in the example pack:
// sdk.NewClient + MessageNewParams, with ThinkingConfigParamOfEnabled
// wired so thinking blocks populate CallResult.Thinking (§4.5).
type anthropicProvider struct {
	apiKey         string
	thinkingBudget int64
	client         *sdk.Client
}

// NewAnthropic constructs the Anthropic variant. thinkingBudget enables
// extended thinking when it is at least 1024 tokens (the SDK's own
// minimum); any smaller value, including zero, disables it.
func NewAnthropic(apiKey string, thinkingBudget int64) Provider {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &anthropicProvider{apiKey: apiKey, thinkingBudget: thinkingBudget, client: &client}
}

func (p *anthropicProvider) Key() string        { return "anthropic" }
func (p *anthropicProvider) IsConfigured() bool { return p.apiKey != "" }

// anthropicFallbackModels backs FetchModels since the SDK does not
// expose a models.list the same way the chat completions backends do.
var anthropicFallbackModels = []Model{
	{ID: "claude-opus-4-1-20250805", Name: "Claude Opus 4.1"},
	{ID: "claude-sonnet-4-5-20250929", Name: "Claude Sonnet 4.5"},
	{ID: "claude-haiku-4-5-20251001", Name: "Claude Haiku 4.5"},
}

func (p *anthropicProvider) FetchModels(ctx context.Context) ([]Model, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	return anthropicFallbackModels, nil
}

func (p *anthropicProvider) buildParams(req CallRequest) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.ModelID),
		MaxTokens: 4096,
		Messages:  toAnthropicMessages(req),
	}
	if req.ContextPrefix != "" {
		params.System = []sdk.TextBlockParam{{Text: req.ContextPrefix}}
	}
	if p.thinkingBudget >= 1024 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(p.thinkingBudget)
	}
	return params
}

func (p *anthropicProvider) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, classifyAnthropicErr(ctx, err)
	}

	result := &CallResult{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "thinking":
			result.Thinking += block.Thinking
		}
	}
	result.Usage = Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
		CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
	}
	return result, nil
}

func (p *anthropicProvider) Stream(ctx context.Context, req CallRequest) (<-chan StreamEvent, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	stream := p.client.Messages.NewStreaming(streamCtx, p.buildParams(req))
	if err := stream.Err(); err != nil {
		cancel()
		return nil, classifyAnthropicErr(streamCtx, err)
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer cancel()
		defer close(events)
		defer stream.Close()

		var content string
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			textDelta, ok := delta.Delta.AsAny().(sdk.TextDelta)
			if !ok || textDelta.Text == "" {
				continue
			}
			content += textDelta.Text
			select {
			case events <- StreamEvent{Token: textDelta.Text}:
			case <-streamCtx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && err != io.EOF {
			events <- StreamEvent{Err: classifyAnthropicErr(streamCtx, err)}
			return
		}
		events <- StreamEvent{Done: true, Content: content}
	}()
	return events, nil
}

func toAnthropicMessages(req CallRequest) []sdk.MessageParam {
	msgs := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		default:
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}
	msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(req.UserPrompt)))
	return msgs
}

func classifyAnthropicErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperr.ErrTimeout
	}
	var apiErr *sdk.Error
	if ok := asAnthropicAPIError(err, &apiErr); ok {
		return apperr.NewProviderError("anthropic", apiErr.StatusCode, apiErr.Error())
	}
	return apperr.NewProviderError("anthropic", 0, err.Error())
}

func asAnthropicAPIError(err error, target **sdk.Error) bool {
	apiErr, ok := err.(*sdk.Error)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
