// Package monitor implements the Monitor Service (§4.7): the channel
// ingestion state machine, the per-event filter/forward/persist/emit
// pipeline, and the per-user filter predicate shared by history writes
// and live stream broadcast. Grounded on the teacher's own monitor
// package for the state-machine/lifecycle shape, generalized to the
// normalized three-identifier source matching and per-user fan-out this
// spec requires.
package monitor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/metrics"
	"github.com/hrygo/relaywatch/internal/mtproto"
	"github.com/hrygo/relaywatch/internal/prompt"
	"github.com/hrygo/relaywatch/internal/store"
)

// EventRecord is the normalized shape of one ingested message, built at
// pipeline step 5 and handed to both persistence and live emission.
type EventRecord struct {
	ID        string
	Text      string
	Source    string
	SourceID  string
	Timestamp time.Time
}

// Status is the read model returned by GetStatus (§6's GET /api/monitor/status).
type Status struct {
	Running               bool
	Sources               []string
	DisabledSources        []string
	ForwardingEnabled     bool
	TargetChannel         string
	TargetChannelOverride bool
	SubscriberCount       int
}

// Enricher is the narrow capability the AI enrichment hook needs (§4.7's
// resolved open question); satisfied by the AI Service's RunJob. Kept
// minimal here so this package never imports internal/aiservice.
type Enricher interface {
	RunJob(ctx context.Context, jobID prompt.JobID, payload map[string]any) (string, error)
}

// Gateway is the subset of *mtproto.Gateway the Monitor Service needs,
// narrowed to a capability interface per §9's "provider polymorphism"
// design note so this package is testable against a fake.
type Gateway interface {
	ResolveEntity(ctx context.Context, ref string) (*mtproto.Entity, error)
	AddMessageHandler(h mtproto.Handler) int
	RemoveMessageHandler(token int)
	SendMessage(ctx context.Context, peerRef, message string) error
}

// enrichmentTimeout bounds the AI-enrichment hook independently of (and
// shorter than) a provider's normal call timeout, so a slow provider
// degrades annotation richness rather than ingestion latency (§4.7).
const enrichmentTimeout = 5 * time.Second

// Service is one Monitor Service instance: exactly one MTProto listener
// at a time, serialized start/stop, and mutable runtime toggles guarded
// by their own lock so the hot per-event path never contends with the
// lifecycle lock (§5).
type Service struct {
	gateway Gateway
	store   *store.Store
	hub     *Hub
	enricher Enricher
	log     *logging.Logger
	metrics *metrics.Exporter

	defaultTarget string
	fromUsers     []string
	keywords      []string
	allowedUsers  []string

	lifecycleMu sync.Mutex
	running     bool
	handlerTok  int

	runtimeMu        sync.RWMutex
	sources          []string
	disabledSources  map[string]struct{}
	forwarding       bool
	targetOverride   string
}

// Config is the subset of config.Config the Monitor Service reads at
// construction time; kept narrow so this package does not import
// internal/config directly.
type Config struct {
	SourceChannels []string
	TargetChannel  string
	Keywords       []string
	FromUsers      []string
	AllowedUsers   []string
	// APIKeyUserIDs is every user id bound to an API key (including the
	// index+1 fallback ids, §4.9), resolved by the caller via
	// config.Config.APIKeyUserIDs(). The persistence fan-out (§4.7 step
	// 7) unions this with AllowedUsers.
	APIKeyUserIDs []string
}

// New constructs a stopped Service. AddSource/Start resolve entities
// lazily; enricher may be nil (AI enrichment is optional, §4.7).
func New(gateway Gateway, st *store.Store, cfg Config, enricher Enricher, log *logging.Logger) *Service {
	disabled := make(map[string]struct{})
	return &Service{
		gateway:       gateway,
		store:         st,
		hub:           NewHub(),
		enricher:      enricher,
		log:           log,
		defaultTarget: cfg.TargetChannel,
		fromUsers:     cfg.FromUsers,
		keywords:      cfg.Keywords,
		allowedUsers:  append(append([]string{}, cfg.AllowedUsers...), cfg.APIKeyUserIDs...),
		sources:       append([]string{}, cfg.SourceChannels...),
		disabledSources: disabled,
		forwarding:    true,
	}
}

// Hub exposes the subscriber broadcaster so the API Gateway can
// Subscribe/Unsubscribe live WS connections.
func (s *Service) Hub() *Hub { return s.hub }

// SetMetrics attaches the process-wide metrics exporter (§9); left
// unset, ingestion/forwarding simply aren't recorded.
func (s *Service) SetMetrics(e *metrics.Exporter) {
	s.metrics = e
}

// Start resolves every configured source, registers the receive-all
// handler, and transitions to running. Fails fatally if zero sources
// resolve (§4.7).
func (s *Service) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.running {
		return nil
	}

	resolved := s.resolveSources(ctx, s.Sources())
	if resolved == 0 {
		return errors.Wrap(apperr.ErrUnavailable, "monitor: no configured sources resolved")
	}

	s.handlerTok = s.gateway.AddMessageHandler(s.handleMessage)
	s.running = true
	return nil
}

// Stop unregisters the handler and transitions to stopped.
func (s *Service) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return nil
	}
	s.gateway.RemoveMessageHandler(s.handlerTok)
	s.running = false
	return nil
}

func (s *Service) IsRunning() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.running
}

// resolveSources best-effort resolves every ref and returns how many
// succeeded; unresolved refs are not removed (the caller stores them
// regardless, per §7's "warn, don't fail" rule for addSource).
func (s *Service) resolveSources(ctx context.Context, refs []string) int {
	resolved := 0
	for _, ref := range refs {
		entity, err := s.gateway.ResolveEntity(ctx, ref)
		if err != nil {
			s.log.Warn("monitor: failed to resolve source", "ref", ref, "error", err.Error())
			continue
		}
		if entity != nil {
			resolved++
		}
	}
	return resolved
}

// Sources returns a snapshot of the configured source refs.
func (s *Service) Sources() []string {
	s.runtimeMu.RLock()
	defer s.runtimeMu.RUnlock()
	out := make([]string, len(s.sources))
	copy(out, s.sources)
	return out
}

// AddSource appends ref to the configured list (deduplicated),
// best-effort resolves it, and refreshes the handler registration. An
// unresolved ref is still stored, per §4.7.
func (s *Service) AddSource(ctx context.Context, ref string) (resolved bool, err error) {
	s.runtimeMu.Lock()
	for _, existing := range s.sources {
		if existing == ref {
			s.runtimeMu.Unlock()
			return true, nil
		}
	}
	s.sources = append(s.sources, ref)
	s.runtimeMu.Unlock()

	entity, resolveErr := s.gateway.ResolveEntity(ctx, ref)
	if resolveErr != nil {
		s.log.Warn("monitor: addSource could not resolve ref", "ref", ref, "error", resolveErr.Error())
	}
	s.refreshHandler()
	return entity != nil, nil
}

// DeleteSource removes ref from the configured list and refreshes the
// handler. If the list becomes empty, the service stops.
func (s *Service) DeleteSource(ref string) error {
	s.runtimeMu.Lock()
	kept := s.sources[:0]
	for _, existing := range s.sources {
		if existing != ref {
			kept = append(kept, existing)
		}
	}
	s.sources = kept
	empty := len(s.sources) == 0
	s.runtimeMu.Unlock()

	s.refreshHandler()
	if empty {
		return s.Stop()
	}
	return nil
}

// refreshHandler re-registers the receive-all handler so newly added
// sources are covered immediately. The gateway already runs in
// receive-all mode (§4.4), so this is a no-op while stopped and a
// cheap unregister/re-register while running.
func (s *Service) refreshHandler() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return
	}
	s.gateway.RemoveMessageHandler(s.handlerTok)
	s.handlerTok = s.gateway.AddMessageHandler(s.handleMessage)
}

// EnableSource / DisableSource mute or unmute a source from forwarding
// only; the source keeps being persisted and emitted (§4.7).
func (s *Service) EnableSource(ref string) {
	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()
	delete(s.disabledSources, ref)
}

func (s *Service) DisableSource(ref string) {
	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()
	s.disabledSources[ref] = struct{}{}
}

// SetForwarding toggles forwardingEnabled without stopping ingestion.
func (s *Service) SetForwarding(enabled bool) {
	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()
	s.forwarding = enabled
}

// SetTargetChannel sets a runtime override for the forward destination.
func (s *Service) SetTargetChannel(ref string) {
	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()
	s.targetOverride = ref
}

// ResetTargetChannel clears the runtime override, reverting to the
// config default.
func (s *Service) ResetTargetChannel() {
	s.runtimeMu.Lock()
	defer s.runtimeMu.Unlock()
	s.targetOverride = ""
}

func (s *Service) targetChannel() string {
	s.runtimeMu.RLock()
	defer s.runtimeMu.RUnlock()
	if s.targetOverride != "" {
		return s.targetOverride
	}
	return s.defaultTarget
}

// GetStatus returns the current operational snapshot (§6).
func (s *Service) GetStatus() Status {
	s.runtimeMu.RLock()
	disabled := make([]string, 0, len(s.disabledSources))
	for ref := range s.disabledSources {
		disabled = append(disabled, ref)
	}
	sources := make([]string, len(s.sources))
	copy(sources, s.sources)
	st := Status{
		Sources:               sources,
		DisabledSources:       disabled,
		ForwardingEnabled:     s.forwarding,
		TargetChannel:         s.targetChannelLocked(),
		TargetChannelOverride: s.targetOverride != "",
	}
	s.runtimeMu.RUnlock()
	st.Running = s.IsRunning()
	st.SubscriberCount = s.hub.Count()
	return st
}

// handleMessage is the per-event pipeline (§4.7). It is invoked
// directly on the gotd dispatch goroutine, so every step here must stay
// fast: outgoing sends and store writes are detached into their own
// goroutines, with only the (bounded, short-timeout) AI-enrichment call
// allowed to block this goroutine — per the resolved open question.
func (s *Service) handleMessage(ctx context.Context, msg mtproto.Message) error {
	if !s.IsRunning() {
		return nil
	}
	text := collapseWhitespace(strings.TrimSpace(msg.Text))
	if text == "" {
		return nil
	}

	matchedRef, ok := s.matchSource(msg.ChatRef, msg.ChatID)
	if !ok {
		if s.metrics != nil {
			s.metrics.RecordIngestedEvent(false)
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordIngestedEvent(true)
	}

	if len(s.fromUsers) > 0 && !userAllowed(msg, s.fromUsers) {
		return nil
	}
	if !isKeywordSentinel(s.keywords) && len(s.keywords) > 0 && !containsKeyword(text, s.keywords) {
		return nil
	}

	event := EventRecord{
		ID:        uuid.NewString(),
		Text:      text,
		Source:    sourceNameFor(msg),
		SourceID:  strconv.FormatInt(msg.ChatID, 10),
		Timestamp: time.Now().UTC(),
	}

	forward := s.forwardDecision(matchedRef)
	if forward {
		go s.forwardEvent(event)
	}

	s.hub.Broadcast(event)

	annotation := ""
	if forward && s.enricher != nil {
		annotation = s.runEnrichment(ctx, event)
	}

	go s.persistForUsers(context.Background(), event, annotation)

	return nil
}

// matchSource resolves the event's chat to three candidate identifiers
// and checks them against every configured source ref after the same
// normalization (§4.7 step 2, §8's normalization invariant).
func (s *Service) matchSource(chatRef string, chatID int64) (string, bool) {
	candidates := []string{
		normalizeSourceRef(chatRef),
		normalizeSourceRef(strconv.FormatInt(chatID, 10)),
		normalizeSourceRef("-100" + strconv.FormatInt(chatID, 10)),
	}
	for _, ref := range s.Sources() {
		normalizedRef := normalizeSourceRef(ref)
		for _, candidate := range candidates {
			if candidate != "" && candidate == normalizedRef {
				return ref, true
			}
		}
	}
	return "", false
}

// sourceNameFor derives the human-facing source name from the event
// itself, never from the configured ref that matched it (the
// configured ref may still carry a "-100"/"@" prefix normalized away
// for matching purposes only). It prefers the chat's username when the
// gateway resolved one into ChatRef; otherwise it falls back to the raw
// chat id — the same value as EventRecord.SourceID (§4.7 step 5, §8
// scenario 1).
func sourceNameFor(msg mtproto.Message) string {
	if msg.ChatRef != "" {
		if _, err := strconv.ParseInt(msg.ChatRef, 10, 64); err != nil {
			return strings.TrimPrefix(msg.ChatRef, "@")
		}
	}
	return strconv.FormatInt(msg.ChatID, 10)
}

func normalizeSourceRef(ref string) string {
	ref = strings.TrimPrefix(ref, "@")
	ref = strings.TrimPrefix(ref, "-100")
	return strings.ToLower(ref)
}

func userAllowed(msg mtproto.Message, allow []string) bool {
	candidates := []string{msg.SenderRef, strconv.FormatInt(msg.SenderID, 10)}
	for _, allowed := range allow {
		allowed = strings.TrimPrefix(allowed, "@")
		for _, candidate := range candidates {
			if strings.EqualFold(candidate, allowed) {
				return true
			}
		}
	}
	return false
}

func isKeywordSentinel(keywords []string) bool {
	return len(keywords) == 1 && keywords[0] == "none"
}

func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// forwardDecision implements §4.7 step 6's gate; the formatting and
// send happen in forwardEvent.
func (s *Service) forwardDecision(matchedRef string) bool {
	s.runtimeMu.RLock()
	defer s.runtimeMu.RUnlock()
	if !s.forwarding {
		return false
	}
	if _, disabled := s.disabledSources[matchedRef]; disabled {
		return false
	}
	return s.targetChannelLocked() != ""
}

// targetChannelLocked assumes runtimeMu is already held.
func (s *Service) targetChannelLocked() string {
	if s.targetOverride != "" {
		return s.targetOverride
	}
	return s.defaultTarget
}

func (s *Service) forwardEvent(event EventRecord) {
	formatted := "🔔【New Alert】\n\n" + event.Text + "\n\n— Source: " + event.Source
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.gateway.SendMessage(ctx, s.targetChannel(), formatted); err != nil {
		s.log.Warn("monitor: forward send failed", "source", event.Source, "error", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.RecordForwardedEvent()
	}
}

// runEnrichment runs the AI annotation hook synchronously, bounded by
// enrichmentTimeout, so a slow provider degrades annotation richness
// rather than ingestion latency (§4.7's resolved open question).
func (s *Service) runEnrichment(ctx context.Context, event EventRecord) string {
	ctx, cancel := context.WithTimeout(ctx, enrichmentTimeout)
	defer cancel()

	result, err := s.enricher.RunJob(ctx, prompt.JobSmartFilterMatch, map[string]any{
		"text":     event.Text,
		"interest": event.Source,
	})
	if err != nil {
		s.log.Warn("monitor: ai enrichment failed", "error", err.Error())
		return ""
	}
	return result
}

// persistForUsers implements §4.7 step 7: for every user bound to an
// API key plus every id in ALLOWED_USERS, load their filter, run the
// shared predicate, and append one history row per accepting user.
func (s *Service) persistForUsers(ctx context.Context, event EventRecord, annotation string) {
	for _, userID := range s.eligibleUsers() {
		filter, err := s.store.GetMonitorFilter(ctx, userID)
		if err != nil {
			s.log.Warn("monitor: failed to load filter", "user_id", userID, "error", err.Error())
			continue
		}
		if !MatchesFilter(event, *filter) {
			continue
		}
		row := &store.MonitorHistory{
			UserID:       userID,
			Source:       event.Source,
			SourceID:     event.SourceID,
			Message:      event.Text,
			AIAnnotation: annotation,
		}
		if err := s.store.AppendMonitorHistory(ctx, row); err != nil {
			s.log.Warn("monitor: failed to append history", "user_id", userID, "error", err.Error())
		}
	}
}

func (s *Service) eligibleUsers() []string {
	seen := make(map[string]struct{}, len(s.allowedUsers))
	out := make([]string, 0, len(s.allowedUsers))
	for _, id := range s.allowedUsers {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// MatchesFilter is the single predicate shared by history persistence
// and live stream broadcast (§4.7, §8's "same function" invariant).
func MatchesFilter(event EventRecord, f store.MonitorFilter) bool {
	if !f.Enabled {
		return false
	}
	if len(f.Channels) > 0 {
		matched := false
		for _, ch := range f.Channels {
			if ch == event.Source || ch == event.SourceID || ch == "@"+event.Source {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.Keywords) > 0 && !containsKeyword(event.Text, f.Keywords) {
		return false
	}
	return true
}
