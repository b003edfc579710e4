package botfacade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/relaywatch/internal/aiservice"
	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/monitor"
	"github.com/hrygo/relaywatch/internal/mtproto"
	"github.com/hrygo/relaywatch/internal/provider"
	"github.com/hrygo/relaywatch/internal/store"
)

type stubDriver struct {
	settings map[string]*store.AISettings
	filters  map[string]*store.MonitorFilter
}

func newStubDriver() *stubDriver {
	return &stubDriver{settings: map[string]*store.AISettings{}, filters: map[string]*store.MonitorFilter{}}
}

func (d *stubDriver) CreateSource(ctx context.Context, externalRef, title string) (*store.Source, error) {
	return nil, nil
}
func (d *stubDriver) ListSources(ctx context.Context) ([]*store.Source, error) { return nil, nil }
func (d *stubDriver) GetSource(ctx context.Context, id int64) (*store.Source, error) {
	return nil, nil
}
func (d *stubDriver) DeleteSource(ctx context.Context, id int64) error             { return nil }
func (d *stubDriver) IncrementSourceErrorCount(ctx context.Context, id int64) error { return nil }
func (d *stubDriver) ResetSourceErrorCount(ctx context.Context, id int64) error     { return nil }
func (d *stubDriver) AddSubscription(ctx context.Context, userID string, sourceID int64) (bool, error) {
	return false, nil
}
func (d *stubDriver) RemoveSubscription(ctx context.Context, userID string, sourceID int64) error {
	return nil
}
func (d *stubDriver) ListSubscriptions(ctx context.Context, userID string) ([]*store.Subscription, error) {
	return nil, nil
}
func (d *stubDriver) ContentExists(ctx context.Context, hashID string) (bool, error) {
	return false, nil
}
func (d *stubDriver) AddContent(ctx context.Context, content *store.SeenContent) (bool, error) {
	return true, nil
}
func (d *stubDriver) GetOrCreateActiveChat(ctx context.Context, userID string) (*store.AIChat, error) {
	return &store.AIChat{ID: 1, UserID: userID, Title: store.PlaceholderChatTitle}, nil
}
func (d *stubDriver) CreateChat(ctx context.Context, userID, title string) (*store.AIChat, error) {
	return &store.AIChat{ID: 2, UserID: userID, Title: title}, nil
}
func (d *stubDriver) SetActiveChat(ctx context.Context, userID string, chatID int64) error {
	return nil
}
func (d *stubDriver) ListChats(ctx context.Context, userID string) ([]*store.AIChat, error) {
	return []*store.AIChat{{ID: 1, UserID: userID}}, nil
}
func (d *stubDriver) GetChat(ctx context.Context, chatID int64) (*store.AIChat, error) {
	return nil, nil
}
func (d *stubDriver) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	return nil
}
func (d *stubDriver) UpdateChatSummary(ctx context.Context, chatID int64, summary string) error {
	return nil
}
func (d *stubDriver) ClearMessages(ctx context.Context, chatID int64) error { return nil }
func (d *stubDriver) DeleteChat(ctx context.Context, chatID int64) error   { return nil }
func (d *stubDriver) SaveMessage(ctx context.Context, chatID int64, role store.AIMessageRole, content string) (*store.AIMessage, error) {
	return nil, nil
}
func (d *stubDriver) ListMessages(ctx context.Context, chatID int64, limit int) ([]*store.AIMessage, error) {
	return nil, nil
}
func (d *stubDriver) CountMessages(ctx context.Context, chatID int64) (int, error) { return 0, nil }
func (d *stubDriver) GetAISettings(ctx context.Context, userID string) (*store.AISettings, error) {
	return d.settings[userID], nil
}
func (d *stubDriver) UpsertAISettings(ctx context.Context, userID, providerKey, modelID string) error {
	d.settings[userID] = &store.AISettings{UserID: userID, ProviderKey: providerKey, ModelID: modelID}
	return nil
}
func (d *stubDriver) GetMonitorFilter(ctx context.Context, userID string) (*store.MonitorFilter, error) {
	return d.filters[userID], nil
}
func (d *stubDriver) UpsertMonitorFilter(ctx context.Context, userID string, filter store.MonitorFilter) error {
	d.filters[userID] = &filter
	return nil
}
func (d *stubDriver) AppendMonitorHistory(ctx context.Context, row *store.MonitorHistory) error {
	return nil
}
func (d *stubDriver) ListMonitorHistory(ctx context.Context, userID string, limit int) ([]*store.MonitorHistory, error) {
	return nil, nil
}
func (d *stubDriver) EnsureMonitorTables(ctx context.Context) error { return nil }
func (d *stubDriver) Close() error                                 { return nil }

type stubGateway struct{}

func (stubGateway) ResolveEntity(ctx context.Context, ref string) (*mtproto.Entity, error) {
	return &mtproto.Entity{Ref: ref}, nil
}
func (stubGateway) AddMessageHandler(h mtproto.Handler) int { return 0 }
func (stubGateway) RemoveMessageHandler(token int)          {}
func (stubGateway) SendMessage(ctx context.Context, peerRef, message string) error { return nil }

type stubProvider struct{}

func (stubProvider) Key() string        { return "openai" }
func (stubProvider) IsConfigured() bool { return true }
func (stubProvider) FetchModels(ctx context.Context) ([]provider.Model, error) {
	return []provider.Model{{ID: "gpt-4o-mini"}}, nil
}
func (stubProvider) Call(ctx context.Context, req provider.CallRequest) (*provider.CallResult, error) {
	return &provider.CallResult{Content: "hi there"}, nil
}
func (stubProvider) Stream(ctx context.Context, req provider.CallRequest) (<-chan provider.StreamEvent, error) {
	ch := make(chan provider.StreamEvent)
	close(ch)
	return ch, nil
}

func TestMonitorFacadeDelegatesToService(t *testing.T) {
	log := logging.Default()
	driver := newStubDriver()
	st := store.New(driver, log)
	svc := monitor.New(stubGateway{}, st, monitor.Config{}, nil, log)
	f := NewMonitorFacade(svc, st)

	status := f.GetStatus()
	assert.False(t, status.Running)

	f.SetForwarding(true)
	assert.True(t, f.GetStatus().ForwardingEnabled)

	f.SetTargetChannel("@out")
	assert.Equal(t, "@out", f.GetStatus().TargetChannel)

	_, err := f.GetFilters(context.Background(), "u1")
	require.NoError(t, err)
}

func TestAIFacadeDelegatesToService(t *testing.T) {
	log := logging.Default()
	driver := newStubDriver()
	st := store.New(driver, log)
	registry := provider.NewRegistryFrom(stubProvider{})
	svc := aiservice.New(registry, st, nil, log)
	f := NewAIFacade(svc, st, registry)

	assert.Equal(t, []string{"openai"}, f.ListProviders())

	require.NoError(t, f.UpdateSettings(context.Background(), "u1", "openai", "gpt-4o-mini"))
	settings, err := f.GetSettings(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "openai", settings.ProviderKey)

	result, err := f.Chat(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Content)
}
