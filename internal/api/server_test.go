package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/relaywatch/internal/aiservice"
	"github.com/hrygo/relaywatch/internal/config"
	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/monitor"
	"github.com/hrygo/relaywatch/internal/mtproto"
	"github.com/hrygo/relaywatch/internal/provider"
	"github.com/hrygo/relaywatch/internal/rss"
	"github.com/hrygo/relaywatch/internal/store"
)

// fakeDriver is a minimal in-memory store.Driver; every method the
// tests below don't exercise panics so a silently-unsupported call
// fails loudly rather than returning a misleading zero value.
type fakeDriver struct {
	mu       sync.Mutex
	filters  map[string]*store.MonitorFilter
	history  map[string][]*store.MonitorHistory
	settings map[string]*store.AISettings
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		filters:  make(map[string]*store.MonitorFilter),
		history:  make(map[string][]*store.MonitorHistory),
		settings: make(map[string]*store.AISettings),
	}
}

func (d *fakeDriver) GetMonitorFilter(ctx context.Context, userID string) (*store.MonitorFilter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filters[userID], nil
}
func (d *fakeDriver) UpsertMonitorFilter(ctx context.Context, userID string, filter store.MonitorFilter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filters[userID] = &filter
	return nil
}
func (d *fakeDriver) AppendMonitorHistory(ctx context.Context, row *store.MonitorHistory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history[row.UserID] = append(d.history[row.UserID], row)
	return nil
}
func (d *fakeDriver) ListMonitorHistory(ctx context.Context, userID string, limit int) ([]*store.MonitorHistory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history[userID], nil
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
func (d *fakeDriver) ListSources(ctx context.Context) ([]*store.Source, error) { return nil, nil }
func (d *fakeDriver) GetSource(ctx context.Context, id int64) (*store.Source, error) {
	panic("unused")
}
func (d *fakeDriver) DeleteSource(ctx context.Context, id int64) error             { panic("unused") }
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
func (d *fakeDriver) GetOrCreateActiveChat(ctx context.Context, userID string) (*store.AIChat, error) {
	panic("unused")
}
func (d *fakeDriver) CreateChat(ctx context.Context, userID, title string) (*store.AIChat, error) {
	panic("unused")
}
func (d *fakeDriver) SetActiveChat(ctx context.Context, userID string, chatID int64) error {
	panic("unused")
}
func (d *fakeDriver) ListChats(ctx context.Context, userID string) ([]*store.AIChat, error) {
	return nil, nil
}
func (d *fakeDriver) GetChat(ctx context.Context, chatID int64) (*store.AIChat, error) {
	return nil, nil
}
func (d *fakeDriver) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	panic("unused")
}
func (d *fakeDriver) UpdateChatSummary(ctx context.Context, chatID int64, summary string) error {
	panic("unused")
}
func (d *fakeDriver) ClearMessages(ctx context.Context, chatID int64) error { panic("unused") }
func (d *fakeDriver) DeleteChat(ctx context.Context, chatID int64) error   { panic("unused") }
func (d *fakeDriver) SaveMessage(ctx context.Context, chatID int64, role store.AIMessageRole, content string) (*store.AIMessage, error) {
	panic("unused")
}
func (d *fakeDriver) ListMessages(ctx context.Context, chatID int64, limit int) ([]*store.AIMessage, error) {
	return nil, nil
}
func (d *fakeDriver) CountMessages(ctx context.Context, chatID int64) (int, error) { return 0, nil }
func (d *fakeDriver) EnsureMonitorTables(ctx context.Context) error                { return nil }
func (d *fakeDriver) Close() error                                                { return nil }

// fakeGateway is a no-op monitor.Gateway used only to satisfy
// construction; the tests here never Start the Monitor Service.
type fakeGateway struct{}

func (fakeGateway) ResolveEntity(ctx context.Context, ref string) (*mtproto.Entity, error) {
	return &mtproto.Entity{Ref: ref}, nil
}
func (fakeGateway) AddMessageHandler(h mtproto.Handler) int { return 0 }
func (fakeGateway) RemoveMessageHandler(token int)          {}
func (fakeGateway) SendMessage(ctx context.Context, peerRef, message string) error { return nil }

type fakeProvider struct{ key string }

func (p fakeProvider) Key() string        { return p.key }
func (p fakeProvider) IsConfigured() bool { return true }
func (p fakeProvider) FetchModels(ctx context.Context) ([]provider.Model, error) {
	return []provider.Model{{ID: "m1"}}, nil
}
func (p fakeProvider) Call(ctx context.Context, req provider.CallRequest) (*provider.CallResult, error) {
	return &provider.CallResult{Content: "ok"}, nil
}
func (p fakeProvider) Stream(ctx context.Context, req provider.CallRequest) (<-chan provider.StreamEvent, error) {
	ch := make(chan provider.StreamEvent)
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	log := logging.Default()
	driver := newFakeDriver()
	st := store.New(driver, log)
	registry := provider.NewRegistryFrom(fakeProvider{key: "openai"})
	monitorSvc := monitor.New(fakeGateway{}, st, monitor.Config{}, nil, log)
	aiSvc := aiservice.New(registry, st, nil, log)

	cfg := &config.Config{
		Port:    8080,
		APIKeys: []config.APIKeyBinding{{Key: "secret-key", UserID: "u1"}},
	}

	return New(cfg, log, monitorSvc, aiSvc, rss.Stub{}, st, registry, nil), cfg
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestProtectedRouteRejectsMissingAuth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRouteAcceptsValidBearerToken(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u1", body["userId"])
}

func TestRSSRoutesReportUnconfigured(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/rss/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["configured"])
}

func TestCatalogRoutesCoverAllFourteenJobs(t *testing.T) {
	assert.Len(t, catalogRoutes, 14)
}

func TestParseChatIDRejectsNonNumeric(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ai/chats/not-a-number", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
