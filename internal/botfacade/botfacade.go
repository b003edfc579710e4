// Package botfacade implements the thin command adapters named in §6's
// "Capability contracts to excluded collaborators": a chat-bot
// front-end (Telegram, Discord, …) is out of scope for this repository,
// but it would drive the Monitor Service and AI Service through exactly
// the method sets listed there. MonitorFacade and AIFacade expose those
// method sets and nothing else, the way the teacher's
// plugin/chat_apps/channels packages narrow a bot integration down to
// the handful of calls a channel actually needs rather than passing the
// whole service around.
package botfacade

import (
	"context"

	"github.com/hrygo/relaywatch/internal/aiservice"
	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/monitor"
	"github.com/hrygo/relaywatch/internal/prompt"
	"github.com/hrygo/relaywatch/internal/provider"
	"github.com/hrygo/relaywatch/internal/store"
)

// MonitorFacade narrows *monitor.Service (plus the filter/history store
// methods the distilled MonitorService interface bundles alongside it)
// to the operations a bot command set would invoke.
type MonitorFacade struct {
	svc   *monitor.Service
	store *store.Store
}

func NewMonitorFacade(svc *monitor.Service, st *store.Store) *MonitorFacade {
	return &MonitorFacade{svc: svc, store: st}
}

func (f *MonitorFacade) GetStatus() monitor.Status {
	return f.svc.GetStatus()
}

func (f *MonitorFacade) GetSources() []string {
	return f.svc.Sources()
}

func (f *MonitorFacade) AddSource(ctx context.Context, ref string) (bool, error) {
	return f.svc.AddSource(ctx, ref)
}

func (f *MonitorFacade) DeleteSource(ref string) error {
	return f.svc.DeleteSource(ref)
}

func (f *MonitorFacade) EnableSource(ref string) {
	f.svc.EnableSource(ref)
}

func (f *MonitorFacade) DisableSource(ref string) {
	f.svc.DisableSource(ref)
}

func (f *MonitorFacade) SetTargetChannel(ref string) {
	f.svc.SetTargetChannel(ref)
}

func (f *MonitorFacade) ResetTargetChannel() {
	f.svc.ResetTargetChannel()
}

func (f *MonitorFacade) SetForwarding(enabled bool) {
	f.svc.SetForwarding(enabled)
}

func (f *MonitorFacade) GetFilters(ctx context.Context, userID string) (*store.MonitorFilter, error) {
	return f.store.GetMonitorFilter(ctx, userID)
}

func (f *MonitorFacade) GetHistory(ctx context.Context, userID string, limit int) ([]*store.MonitorHistory, error) {
	return f.store.ListMonitorHistory(ctx, userID, limit)
}

func (f *MonitorFacade) Start(ctx context.Context) error {
	return f.svc.Start(ctx)
}

func (f *MonitorFacade) Stop() error {
	return f.svc.Stop()
}

// AIFacade narrows *aiservice.Service (plus the settings/provider/chat
// store and registry access the distilled AIService interface bundles
// alongside it — see internal/api/ai_routes.go, which resolves the same
// pieces directly for the REST surface) to the operations a bot command
// set would invoke.
type AIFacade struct {
	svc      *aiservice.Service
	store    *store.Store
	registry *provider.Registry
}

func NewAIFacade(svc *aiservice.Service, st *store.Store, registry *provider.Registry) *AIFacade {
	return &AIFacade{svc: svc, store: st, registry: registry}
}

func (f *AIFacade) Chat(ctx context.Context, userID, message string) (*aiservice.ChatResult, error) {
	return f.svc.Chat(ctx, userID, message)
}

func (f *AIFacade) GetSettings(ctx context.Context, userID string) (*store.AISettings, error) {
	return f.store.GetAISettings(ctx, userID)
}

func (f *AIFacade) UpdateSettings(ctx context.Context, userID, providerKey, modelID string) error {
	if _, ok := f.registry.Get(providerKey); !ok {
		return apperr.ErrInvalidArgument
	}
	return f.store.UpsertAISettings(ctx, userID, providerKey, modelID)
}

func (f *AIFacade) ListProviders() []string {
	return f.registry.ListConfigured()
}

func (f *AIFacade) GetModels(ctx context.Context, providerKey string) ([]provider.Model, error) {
	return f.registry.FetchModels(ctx, providerKey)
}

func (f *AIFacade) RunJob(ctx context.Context, jobID prompt.JobID, payload map[string]any) (string, error) {
	return f.svc.RunJob(ctx, jobID, payload)
}

func (f *AIFacade) ExportChat(ctx context.Context, userID string, chatID int64) (*aiservice.ExportResult, error) {
	return f.svc.ExportChat(ctx, userID, chatID)
}

func (f *AIFacade) GetChats(ctx context.Context, userID string) ([]*store.AIChat, error) {
	return f.store.ListChats(ctx, userID)
}

func (f *AIFacade) CreateChat(ctx context.Context, userID, title string) (*store.AIChat, error) {
	if title == "" {
		title = store.PlaceholderChatTitle
	}
	return f.store.CreateChat(ctx, userID, title)
}

func (f *AIFacade) SwitchChat(ctx context.Context, userID string, chatID int64) error {
	return f.store.SetActiveChat(ctx, userID, chatID)
}

func (f *AIFacade) ClearChat(ctx context.Context, chatID int64) error {
	return f.store.ClearMessages(ctx, chatID)
}
