package aiservice

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/prompt"
	"github.com/hrygo/relaywatch/internal/provider"
	"github.com/hrygo/relaywatch/internal/store"
)

// fakeDriver is an in-memory store.Driver covering only what the AI
// Service exercises; every other method panics if called so a test
// relying on unsupported behavior fails loudly instead of silently.
type fakeDriver struct {
	mu       sync.Mutex
	chats    map[int64]*store.AIChat
	messages map[int64][]*store.AIMessage
	settings map[string]*store.AISettings
	nextChat int64
	nextMsg  int64
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		chats:    make(map[int64]*store.AIChat),
		messages: make(map[int64][]*store.AIMessage),
		settings: make(map[string]*store.AISettings),
	}
}

func (d *fakeDriver) GetOrCreateActiveChat(ctx context.Context, userID string) (*store.AIChat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.chats {
		if c.UserID == userID && c.IsActive {
			return c, nil
		}
	}
	d.nextChat++
	c := &store.AIChat{ID: d.nextChat, UserID: userID, Title: store.PlaceholderChatTitle, IsActive: true}
	d.chats[c.ID] = c
	return c, nil
}

func (d *fakeDriver) CreateChat(ctx context.Context, userID, title string) (*store.AIChat, error) {
	panic("unused")
}
func (d *fakeDriver) SetActiveChat(ctx context.Context, userID string, chatID int64) error {
	panic("unused")
}
func (d *fakeDriver) ListChats(ctx context.Context, userID string) ([]*store.AIChat, error) {
	panic("unused")
}

func (d *fakeDriver) GetChat(ctx context.Context, chatID int64) (*store.AIChat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chats[chatID], nil
}

func (d *fakeDriver) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[chatID].Title = title
	return nil
}

func (d *fakeDriver) UpdateChatSummary(ctx context.Context, chatID int64, summary string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[chatID].Summary = summary
	return nil
}

func (d *fakeDriver) ClearMessages(ctx context.Context, chatID int64) error { panic("unused") }
func (d *fakeDriver) DeleteChat(ctx context.Context, chatID int64) error   { panic("unused") }

func (d *fakeDriver) SaveMessage(ctx context.Context, chatID int64, role store.AIMessageRole, content string) (*store.AIMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextMsg++
	m := &store.AIMessage{ID: d.nextMsg, ChatID: chatID, Role: role, Content: content}
	d.messages[chatID] = append(d.messages[chatID], m)
	return m, nil
}

func (d *fakeDriver) ListMessages(ctx context.Context, chatID int64, limit int) ([]*store.AIMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := d.messages[chatID]
	if len(all) <= limit {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

func (d *fakeDriver) CountMessages(ctx context.Context, chatID int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages[chatID]), nil
}

func (d *fakeDriver) GetAISettings(ctx context.Context, userID string) (*store.AISettings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings[userID], nil
}

func (d *fakeDriver) UpsertAISettings(ctx context.Context, userID, providerKey, modelID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings[userID] = &store.AISettings{UserID: userID, ProviderKey: providerKey, ModelID: modelID}
	return nil
}

func (d *fakeDriver) CreateSource(ctx context.Context, externalRef, title string) (*store.Source, error) {
	panic("unused")
}
func (d *fakeDriver) ListSources(ctx context.Context) ([]*store.Source, error)  { panic("unused") }
func (d *fakeDriver) GetSource(ctx context.Context, id int64) (*store.Source, error) {
	panic("unused")
}
func (d *fakeDriver) DeleteSource(ctx context.Context, id int64) error            { panic("unused") }
func (d *fakeDriver) IncrementSourceErrorCount(ctx context.Context, id int64) error { panic("unused") }
func (d *fakeDriver) ResetSourceErrorCount(ctx context.Context, id int64) error     { panic("unused") }
func (d *fakeDriver) AddSubscription(ctx context.Context, userID string, sourceID int64) (bool, error) {
	panic("unused")
}
func (d *fakeDriver) RemoveSubscription(ctx context.Context, userID string, sourceID int64) error {
	panic("unused")
}
func (d *fakeDriver) ListSubscriptions(ctx context.Context, userID string) ([]*store.Subscription, error) {
	panic("unused")
}
func (d *fakeDriver) ContentExists(ctx context.Context, hashID string) (bool, error) {
	panic("unused")
}
func (d *fakeDriver) AddContent(ctx context.Context, content *store.SeenContent) (bool, error) {
	panic("unused")
}
func (d *fakeDriver) GetMonitorFilter(ctx context.Context, userID string) (*store.MonitorFilter, error) {
	panic("unused")
}
func (d *fakeDriver) UpsertMonitorFilter(ctx context.Context, userID string, filter store.MonitorFilter) error {
	panic("unused")
}
func (d *fakeDriver) AppendMonitorHistory(ctx context.Context, row *store.MonitorHistory) error {
	panic("unused")
}
func (d *fakeDriver) ListMonitorHistory(ctx context.Context, userID string, limit int) ([]*store.MonitorHistory, error) {
	panic("unused")
}
func (d *fakeDriver) EnsureMonitorTables(ctx context.Context) error { return nil }
func (d *fakeDriver) Close() error                                 { return nil }

// fakeProvider is a scripted provider.Provider: Call/Stream return
// canned responses, optionally failing the first N calls with a
// retryable timeout to exercise callWithRetry.
type fakeProvider struct {
	key          string
	configured   bool
	failTimeouts int
	failHard     error
	calls        int
	reply        string
}

func (p *fakeProvider) Key() string        { return p.key }
func (p *fakeProvider) IsConfigured() bool { return p.configured }
func (p *fakeProvider) FetchModels(ctx context.Context) ([]provider.Model, error) {
	return nil, nil
}

func (p *fakeProvider) Call(ctx context.Context, req provider.CallRequest) (*provider.CallResult, error) {
	p.calls++
	if p.failHard != nil {
		return nil, p.failHard
	}
	if p.calls <= p.failTimeouts {
		return nil, apperr.ErrTimeout
	}
	return &provider.CallResult{Content: p.reply}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req provider.CallRequest) (<-chan provider.StreamEvent, error) {
	ch := make(chan provider.StreamEvent, 2)
	ch <- provider.StreamEvent{Token: p.reply}
	ch <- provider.StreamEvent{Done: true, Content: p.reply}
	close(ch)
	return ch, nil
}

func newTestService(t *testing.T, p *fakeProvider) (*Service, *fakeDriver) {
	t.Helper()
	driver := newFakeDriver()
	st := store.New(driver, logging.Default())
	registry := provider.NewRegistryFrom(p)
	return New(registry, st, nil, logging.Default()), driver
}

func TestChatSavesBothTurnsAndAutoTitles(t *testing.T) {
	p := &fakeProvider{key: "openai", configured: true, reply: "hello there"}
	svc, driver := newTestService(t, p)

	result, err := svc.Chat(context.Background(), "u1", "what is the weather like today")
	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Content)
	assert.Equal(t, "openai", result.Provider)

	msgs, _ := driver.ListMessages(context.Background(), result.ChatID, allMessagesLimit)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)

	chat, _ := driver.GetChat(context.Background(), result.ChatID)
	assert.Equal(t, "what is the weather like today", chat.Title)
}

func TestChatRetriesOnceOnTimeout(t *testing.T) {
	p := &fakeProvider{key: "openai", configured: true, failTimeouts: 1, reply: "ok"}
	svc, _ := newTestService(t, p)

	result, err := svc.Chat(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, 2, p.calls)
}

func TestChatDoesNotRetryNonTimeoutError(t *testing.T) {
	p := &fakeProvider{key: "openai", configured: true, failHard: apperr.ErrInvalidArgument, reply: "ok"}
	svc, _ := newTestService(t, p)

	_, err := svc.Chat(context.Background(), "u1", "hi")
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestRunJobUsesFirstConfiguredProviderByDefault(t *testing.T) {
	p := &fakeProvider{key: "anthropic", configured: true, reply: "job done"}
	svc, _ := newTestService(t, p)

	out, err := svc.RunJob(context.Background(), prompt.JobSummarize, map[string]any{"text": "some long text"})
	require.NoError(t, err)
	assert.Equal(t, "job done", out)
}

func TestRunJobWithOptionsRejectsUnconfiguredProvider(t *testing.T) {
	p := &fakeProvider{key: "openai", configured: true, reply: "x"}
	svc, _ := newTestService(t, p)

	_, err := svc.RunJobWithOptions(context.Background(), prompt.JobSummarize, map[string]any{"text": "t"}, RunJobOptions{Provider: "gemini"})
	require.Error(t, err)
}

func TestExportChatRendersRoleLabeledTranscript(t *testing.T) {
	p := &fakeProvider{key: "openai", configured: true, reply: "notes body"}
	svc, driver := newTestService(t, p)

	chat, err := driver.GetOrCreateActiveChat(context.Background(), "u1")
	require.NoError(t, err)
	_, _ = driver.SaveMessage(context.Background(), chat.ID, store.RoleUser, "question one")
	_, _ = driver.SaveMessage(context.Background(), chat.ID, store.RoleAssistant, "answer one")

	result, err := svc.ExportChat(context.Background(), "u1", chat.ID)
	require.NoError(t, err)
	assert.Contains(t, result.RawMarkdown, "question one")
	assert.Contains(t, result.RawMarkdown, "---")
	assert.Equal(t, "notes body", result.NotesMarkdown)
	assert.Empty(t, result.RawURL)
}

func TestExportChatRejectsOtherUsersChat(t *testing.T) {
	p := &fakeProvider{key: "openai", configured: true, reply: "notes"}
	svc, driver := newTestService(t, p)
	chat, _ := driver.GetOrCreateActiveChat(context.Background(), "owner")

	_, err := svc.ExportChat(context.Background(), "intruder", chat.ID)
	require.Error(t, err)
}
