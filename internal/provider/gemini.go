package provider

import (
	"context"

	"google.golang.org/genai"

	"github.com/hrygo/relaywatch/internal/apperr"
)

// geminiProvider implements Provider over the Gemini API, grounded on
// the genai.NewClient(ctx, &genai.ClientConfig{APIKey, Backend}) pattern
// in the example pack's agent service (§4.5).
type geminiProvider struct {
	apiKey string
}

// NewGemini constructs the Gemini variant. The genai client is built
// per-call rather than cached at construction time because genai.NewClient
// takes a context and this provider is built once at process start,
// before any request context exists.
func NewGemini(apiKey string) Provider {
	return &geminiProvider{apiKey: apiKey}
}

func (p *geminiProvider) Key() string        { return "gemini" }
func (p *geminiProvider) IsConfigured() bool { return p.apiKey != "" }

// geminiFallbackModels backs FetchModels: Gemini's public model-list
// endpoint is not part of the stable public surface (§4.5), so the
// registry falls back to a curated list instead of calling it.
var geminiFallbackModels = []Model{
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro"},
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash"},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
}

func (p *geminiProvider) FetchModels(ctx context.Context) ([]Model, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	return geminiFallbackModels, nil
}

func (p *geminiProvider) client(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperr.NewProviderError("gemini", 0, err.Error())
	}
	return client, nil
}

func (p *geminiProvider) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	contents := toGeminiContents(req)
	var cfg *genai.GenerateContentConfig
	if req.ContextPrefix != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.ContextPrefix, genai.RoleUser),
		}
	}

	resp, err := client.Models.GenerateContent(ctx, req.ModelID, contents, cfg)
	if err != nil {
		return nil, classifyGeminiErr(ctx, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, apperr.NewProviderError("gemini", 0, "empty response")
	}

	result := &CallResult{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			CacheReadTokens:  int(resp.UsageMetadata.CachedContentTokenCount),
		}
	}
	return result, nil
}

func (p *geminiProvider) Stream(ctx context.Context, req CallRequest) (<-chan StreamEvent, error) {
	if !p.IsConfigured() {
		return nil, apperr.ErrConfig
	}
	streamCtx, cancel := context.WithCancel(ctx)

	client, err := p.client(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	contents := toGeminiContents(req)
	var cfg *genai.GenerateContentConfig
	if req.ContextPrefix != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.ContextPrefix, genai.RoleUser),
		}
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer cancel()
		defer close(events)

		var content string
		for resp, err := range client.Models.GenerateContentStream(streamCtx, req.ModelID, contents, cfg) {
			if err != nil {
				events <- StreamEvent{Err: classifyGeminiErr(streamCtx, err)}
				return
			}
			token := resp.Text()
			if token == "" {
				continue
			}
			content += token
			select {
			case events <- StreamEvent{Token: token}:
			case <-streamCtx.Done():
				return
			}
		}
		events <- StreamEvent{Done: true, Content: content}
	}()
	return events, nil
}

func toGeminiContents(req CallRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.UserPrompt, genai.RoleUser))
	return contents
}

func classifyGeminiErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperr.ErrTimeout
	}
	return apperr.NewProviderError("gemini", 0, err.Error())
}
