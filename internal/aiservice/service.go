// Package aiservice implements the AI Service (§4.8): chat-thread
// memory over the Provider Registry and Prompt Catalog, summarization
// refresh, job execution, and markdown export. Grounded on the
// teacher's ai/llm.go orchestration shape (compose a call, dispatch to
// a backend, handle the response) generalized here to the Provider
// Registry's uniform Call/Stream contract.
package aiservice

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/metrics"
	"github.com/hrygo/relaywatch/internal/prompt"
	"github.com/hrygo/relaywatch/internal/provider"
	"github.com/hrygo/relaywatch/internal/store"
)

// historyDepth is the number of recent messages threaded into a chat
// call as context (§4.8).
const historyDepth = 4

// summaryRefreshEvery triggers an asynchronous summary refresh every
// Nth total message in a chat (§4.8).
const summaryRefreshEvery = 6

// summaryWindow is how many recent messages feed the summary job (§4.8).
const summaryWindow = 20

// titleMaxChars bounds the auto-assigned chat title (§4.8, §8 scenario 6).
const titleMaxChars = 40

// exportNotesChars bounds how much raw export content feeds chat_notes (§4.8).
const exportNotesChars = 15000

// allMessagesLimit stands in for "no limit" when exportChat needs the
// full transcript rather than a rolling window (ListMessages always
// takes a concrete LIMIT).
const allMessagesLimit = 1 << 20

// defaultModelByProvider is the model used for a provider when the user
// has never picked one via PUT /api/ai/settings (§4.8).
var defaultModelByProvider = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-20241022",
	"gemini":    "gemini-1.5-flash",
	"groq":      "llama-3.1-8b-instant",
	"nvidia":    "meta/llama-3.1-8b-instruct",
}

// ChatResult is the response shape for a synchronous chat call (§6).
type ChatResult struct {
	Content  string `json:"content"`
	Thinking string `json:"thinking"`
	ChatID   int64  `json:"chatId"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// RunJobOptions lets a caller override the provider/model/retry policy
// a catalog job would otherwise use (§4.8).
type RunJobOptions struct {
	Provider string
	Model    string
	Retries  int
}

// ExportResult is exportChat's output (§4.8): the raw transcript and
// notes documents, in both markdown source and goldmark-rendered HTML,
// plus push URLs if the GitHub collaborator is configured.
type ExportResult struct {
	RawMarkdown   string
	RawHTML       string
	NotesMarkdown string
	NotesHTML     string
	RawURL        string
	NotesURL      string
}

// GitHubExporter is the capability contract to the excluded GitHub
// export collaborator (§6): out of scope for this implementation, so
// the only concrete variant is the no-op stub in github_stub.go.
type GitHubExporter interface {
	IsReady() bool
	SaveNote(ctx context.Context, path, content, commitMessage string) (string, error)
}

// Service orchestrates the Provider Registry against the Prompt
// Catalog and chat-thread memory in the Store.
type Service struct {
	registry *provider.Registry
	store    *store.Store
	github   GitHubExporter
	log      *logging.Logger
	metrics  *metrics.Exporter

	summaryGroup singleflight.Group
}

// New constructs the AI Service. github may be nil, in which case
// exportChat returns only the rendered markdown.
func New(registry *provider.Registry, st *store.Store, github GitHubExporter, log *logging.Logger) *Service {
	if github == nil {
		github = NoopGitHubExporter{}
	}
	return &Service{registry: registry, store: st, github: github, log: log}
}

// SetMetrics attaches the process-wide metrics exporter (§9's
// "metrics as a first-class collaborator"); left unset, calls simply
// aren't recorded, matching §4.1's MetricsEnabled=false degradation.
func (s *Service) SetMetrics(e *metrics.Exporter) {
	s.metrics = e
}

func (s *Service) recordCall(providerKey, job string, started time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordProviderCall(providerKey, job, time.Since(started).Seconds(), err == nil)
}

// Chat implements §4.8's chat(user, message): acquire the active chat,
// append the user message, auto-title on the first message, build a
// short rolling history, call the provider with one retry, append the
// assistant reply, and asynchronously refresh the chat summary every
// summaryRefreshEvery messages.
func (s *Service) Chat(ctx context.Context, userID, message string) (*ChatResult, error) {
	chat, err := s.store.GetOrCreateActiveChat(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "aiservice: loading active chat")
	}

	if _, err := s.store.SaveMessage(ctx, chat.ID, store.RoleUser, message); err != nil {
		return nil, errors.Wrap(err, "aiservice: saving user message")
	}

	if count, err := s.store.CountMessages(ctx, chat.ID); err == nil && count == 1 && chat.Title == store.PlaceholderChatTitle {
		if titleErr := s.store.UpdateChatTitle(ctx, chat.ID, autoTitle(message)); titleErr != nil {
			s.log.Warn("aiservice: failed to auto-title chat", "chat_id", chat.ID, "error", titleErr.Error())
		}
	}

	settings, err := s.settingsOrDefault(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "aiservice: loading ai settings")
	}
	backend, callReq, err := s.buildCallRequest(ctx, chat, settings, message)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := s.callWithRetry(ctx, backend, callReq, 1)
	s.recordCall(backend.Key(), "chat", started, err)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.SaveMessage(ctx, chat.ID, store.RoleAssistant, result.Content); err != nil {
		s.log.Warn("aiservice: failed to save assistant message", "chat_id", chat.ID, "error", err.Error())
	}

	if total, err := s.store.CountMessages(ctx, chat.ID); err == nil && total%summaryRefreshEvery == 0 {
		go s.refreshSummary(context.Background(), userID, chat.ID)
	}

	return &ChatResult{
		Content:  result.Content,
		Thinking: result.Thinking,
		ChatID:   chat.ID,
		Provider: backend.Key(),
		Model:    callReq.ModelID,
	}, nil
}

// ChatStream is the streaming counterpart for POST /api/ai/chat/stream
// (§4.8's domain-stack expansion): same request construction as Chat,
// but dispatched through the provider's native streaming call and with
// persistence of the assembled reply deferred until the stream
// completes.
func (s *Service) ChatStream(ctx context.Context, userID, message string) (<-chan provider.StreamEvent, error) {
	chat, err := s.store.GetOrCreateActiveChat(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "aiservice: loading active chat")
	}
	if _, err := s.store.SaveMessage(ctx, chat.ID, store.RoleUser, message); err != nil {
		return nil, errors.Wrap(err, "aiservice: saving user message")
	}

	settings, err := s.settingsOrDefault(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "aiservice: loading ai settings")
	}
	backend, callReq, err := s.buildCallRequest(ctx, chat, settings, message)
	if err != nil {
		return nil, err
	}

	upstream, err := backend.Stream(ctx, callReq)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.StreamEvent, 16)
	go func() {
		defer close(out)
		var assembled string
		for ev := range upstream {
			if ev.Done {
				assembled = ev.Content
			}
			out <- ev
		}
		if assembled != "" {
			if _, err := s.store.SaveMessage(context.Background(), chat.ID, store.RoleAssistant, assembled); err != nil {
				s.log.Warn("aiservice: failed to save streamed reply", "chat_id", chat.ID, "error", err.Error())
			}
		}
	}()
	return out, nil
}

// settingsOrDefault returns the user's saved AI settings, or a synthetic
// default (first configured provider in key order, its default model) if the user
// has never saved any (§4.8: "an unconfigured user falls back to the
// first available provider").
func (s *Service) settingsOrDefault(ctx context.Context, userID string) (*store.AISettings, error) {
	settings, err := s.store.GetAISettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		return settings, nil
	}
	configured := s.registry.ListConfigured()
	if len(configured) == 0 {
		return nil, errors.Wrap(apperr.ErrConfig, "aiservice: no provider configured")
	}
	providerKey := configured[0]
	return &store.AISettings{
		UserID:      userID,
		ProviderKey: providerKey,
		ModelID:     defaultModelByProvider[providerKey],
	}, nil
}

func (s *Service) buildCallRequest(ctx context.Context, chat *store.AIChat, settings *store.AISettings, message string) (provider.Provider, provider.CallRequest, error) {
	backend, ok := s.registry.Get(settings.ProviderKey)
	if !ok || !backend.IsConfigured() {
		return nil, provider.CallRequest{}, errors.Wrap(apperr.ErrConfig, "aiservice: no configured provider for user")
	}

	recent, err := s.store.ListMessages(ctx, chat.ID, historyDepth)
	if err != nil {
		return nil, provider.CallRequest{}, errors.Wrap(err, "aiservice: loading chat history")
	}
	history := make([]provider.Message, 0, len(recent))
	for _, m := range recent {
		role := provider.RoleUser
		if m.Role == store.RoleAssistant {
			role = provider.RoleAssistant
		}
		history = append(history, provider.Message{Role: role, Content: m.Content})
	}

	contextPrefix := ""
	if chat.Summary != "" {
		contextPrefix = "[Previous conversation summary: " + chat.Summary + "]\n\n"
	}

	return backend, provider.CallRequest{
		ModelID:       settings.ModelID,
		History:       history,
		UserPrompt:    message,
		ContextPrefix: contextPrefix,
	}, nil
}

// RunJob satisfies internal/monitor's Enricher capability interface
// with the default provider/model; RunJobWithOptions is the full §4.8
// entry point that lets a caller override them.
func (s *Service) RunJob(ctx context.Context, jobID prompt.JobID, payload map[string]any) (string, error) {
	return s.RunJobWithOptions(ctx, jobID, payload, RunJobOptions{})
}

// RunJobWithOptions implements §4.8's runJob(jobId, payload, options):
// compose via the Prompt Catalog, then invoke the selected (or first
// configured) provider, retrying once on a retryable failure.
func (s *Service) RunJobWithOptions(ctx context.Context, jobID prompt.JobID, payload map[string]any, opts RunJobOptions) (string, error) {
	job, err := prompt.Get(jobID)
	if err != nil {
		return "", err
	}
	userPrompt, err := job.BuildPrompt(payload)
	if err != nil {
		return "", err
	}

	backend, modelID, err := s.resolveBackend(opts)
	if err != nil {
		return "", err
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = 1
	}
	started := time.Now()
	result, err := s.callWithRetry(ctx, backend, provider.CallRequest{
		ModelID:       modelID,
		UserPrompt:    userPrompt,
		ContextPrefix: job.System,
	}, retries)
	s.recordCall(backend.Key(), string(jobID), started, err)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (s *Service) resolveBackend(opts RunJobOptions) (provider.Provider, string, error) {
	providerKey := opts.Provider
	if providerKey == "" {
		configured := s.registry.ListConfigured()
		if len(configured) == 0 {
			return nil, "", errors.Wrap(apperr.ErrConfig, "aiservice: no provider configured")
		}
		providerKey = configured[0]
	}
	backend, ok := s.registry.Get(providerKey)
	if !ok || !backend.IsConfigured() {
		return nil, "", errors.Wrapf(apperr.ErrConfig, "aiservice: provider %q not configured", providerKey)
	}
	modelID := opts.Model
	if modelID == "" {
		modelID = defaultModelByProvider[providerKey]
	}
	return backend, modelID, nil
}

// callWithRetry implements §4.8/§7's retry policy: at most one retry,
// 1s backoff, only for retryable (timeout) failures — an HTTP 4xx
// surfaces immediately.
func (s *Service) callWithRetry(ctx context.Context, backend provider.Provider, req provider.CallRequest, maxRetries int) (*provider.CallResult, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := backend.Call(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, apperr.ErrTimeout) || attempt == maxRetries {
			return nil, err
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// refreshSummary collapses concurrent refresh requests for the same
// user into one upstream call (§4.8's singleflight de-dup).
func (s *Service) refreshSummary(ctx context.Context, userID string, chatID int64) {
	_, err, _ := s.summaryGroup.Do(userID, func() (any, error) {
		recent, err := s.store.ListMessages(ctx, chatID, summaryWindow)
		if err != nil {
			return nil, err
		}
		var transcript strings.Builder
		for _, m := range recent {
			transcript.WriteString(string(m.Role))
			transcript.WriteString(": ")
			transcript.WriteString(m.Content)
			transcript.WriteString("\n")
		}
		summary, err := s.RunJob(ctx, prompt.JobChatSummary, map[string]any{"messages": transcript.String()})
		if err != nil {
			return nil, err
		}
		return summary, s.store.UpdateChatSummary(ctx, chatID, summary)
	})
	if err != nil {
		s.log.Warn("aiservice: summary refresh failed", "user_id", userID, "chat_id", chatID, "error", err.Error())
	}
}

func autoTitle(message string) string {
	r := []rune(strings.TrimSpace(message))
	if len(r) <= titleMaxChars {
		return string(r)
	}
	return string(r[:titleMaxChars]) + "..."
}
