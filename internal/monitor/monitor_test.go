package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/mtproto"
	"github.com/hrygo/relaywatch/internal/store"
)

func testLogger() *logging.Logger { return logging.Default() }

type fakeGateway struct {
	resolved  map[string]*mtproto.Entity
	sent      []string
	handlers  map[int]mtproto.Handler
	nextToken int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{resolved: map[string]*mtproto.Entity{}, handlers: map[int]mtproto.Handler{}}
}

func (g *fakeGateway) ResolveEntity(ctx context.Context, ref string) (*mtproto.Entity, error) {
	return g.resolved[ref], nil
}

func (g *fakeGateway) AddMessageHandler(h mtproto.Handler) int {
	g.nextToken++
	g.handlers[g.nextToken] = h
	return g.nextToken
}

func (g *fakeGateway) RemoveMessageHandler(token int) {
	delete(g.handlers, token)
}

func (g *fakeGateway) SendMessage(ctx context.Context, peerRef, message string) error {
	g.sent = append(g.sent, message)
	return nil
}

func TestMatchesFilter(t *testing.T) {
	event := EventRecord{Source: "news", SourceID: "1234567890", Text: "Bitcoin at ATH"}

	cases := []struct {
		name   string
		filter store.MonitorFilter
		want   bool
	}{
		{"disabled drops everything", store.MonitorFilter{Enabled: false}, false},
		{"no constraints passes", store.MonitorFilter{Enabled: true}, true},
		{"channel match by name", store.MonitorFilter{Enabled: true, Channels: []string{"news"}}, true},
		{"channel match by id", store.MonitorFilter{Enabled: true, Channels: []string{"1234567890"}}, true},
		{"channel match by @name", store.MonitorFilter{Enabled: true, Channels: []string{"@news"}}, true},
		{"channel mismatch drops", store.MonitorFilter{Enabled: true, Channels: []string{"other"}}, false},
		{"keyword match passes", store.MonitorFilter{Enabled: true, Keywords: []string{"bitcoin"}}, true},
		{"keyword mismatch drops", store.MonitorFilter{Enabled: true, Keywords: []string{"ethereum"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchesFilter(event, tc.filter))
		})
	}
}

func TestMatchSourceNormalization(t *testing.T) {
	svc := &Service{sources: []string{"-1001234567890", "@news"}}

	ref, ok := svc.matchSource("", 1234567890)
	require.True(t, ok)
	assert.Equal(t, "-1001234567890", ref)

	ref, ok = svc.matchSource("news", 0)
	require.True(t, ok)
	assert.Equal(t, "@news", ref)

	_, ok = svc.matchSource("unrelated", 999)
	assert.False(t, ok)
}

func TestKeywordSentinelDisablesFiltering(t *testing.T) {
	assert.True(t, isKeywordSentinel([]string{"none"}))
	assert.False(t, isKeywordSentinel([]string{"none", "other"}))
	assert.False(t, isKeywordSentinel(nil))
}

func TestUserAllowed(t *testing.T) {
	msg := mtproto.Message{SenderID: 42, SenderRef: "alice"}
	assert.True(t, userAllowed(msg, []string{"@alice"}))
	assert.True(t, userAllowed(msg, []string{"42"}))
	assert.False(t, userAllowed(msg, []string{"bob"}))
}

func TestStartFailsWithNoResolvedSources(t *testing.T) {
	gw := newFakeGateway()
	svc := New(gw, nil, Config{SourceChannels: []string{"@missing"}}, nil, testLogger())

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.False(t, svc.IsRunning())
}

func TestStartStopLifecycle(t *testing.T) {
	gw := newFakeGateway()
	gw.resolved["@news"] = &mtproto.Entity{ID: 1}
	svc := New(gw, nil, Config{SourceChannels: []string{"@news"}}, nil, testLogger())

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.IsRunning())
	assert.Len(t, gw.handlers, 1)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.Len(t, gw.handlers, 0)
}

func TestDeleteLastSourceStops(t *testing.T) {
	gw := newFakeGateway()
	gw.resolved["@news"] = &mtproto.Entity{ID: 1}
	svc := New(gw, nil, Config{SourceChannels: []string{"@news"}}, nil, testLogger())
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.DeleteSource("@news"))
	assert.False(t, svc.IsRunning())
}

func TestSourceNameForPrefersEventOverConfiguredRef(t *testing.T) {
	// §8 scenario 1: SOURCE_CHANNELS=["-1001234567890"], event chat id
	// 1234567890, no username. The source name must be the event's own
	// identifier, the same value as SourceID, never the configured ref
	// that still carries the "-100" prefix.
	name := sourceNameFor(mtproto.Message{ChatID: 1234567890})
	assert.Equal(t, "1234567890", name)

	name = sourceNameFor(mtproto.Message{ChatRef: "news", ChatID: 999})
	assert.Equal(t, "news", name)

	name = sourceNameFor(mtproto.Message{ChatRef: "@news", ChatID: 999})
	assert.Equal(t, "news", name)

	name = sourceNameFor(mtproto.Message{ChatRef: "1234567890", ChatID: 1234567890})
	assert.Equal(t, "1234567890", name)
}

func TestEligibleUsersUnionsAllowedAndAPIKeyUsers(t *testing.T) {
	svc := New(newFakeGateway(), nil, Config{
		AllowedUsers:  []string{"u1", "u2"},
		APIKeyUserIDs: []string{"u2", "u3"},
	}, nil, testLogger())

	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, svc.eligibleUsers())
}

func TestForwardingToggleAndDisabledSources(t *testing.T) {
	svc := &Service{
		sources:         []string{"@news"},
		disabledSources: map[string]struct{}{},
		forwarding:      true,
		defaultTarget:   "@target",
	}
	assert.True(t, svc.forwardDecision("@news"))

	svc.SetForwarding(false)
	assert.False(t, svc.forwardDecision("@news"))

	svc.SetForwarding(true)
	svc.DisableSource("@news")
	assert.False(t, svc.forwardDecision("@news"))

	svc.EnableSource("@news")
	assert.True(t, svc.forwardDecision("@news"))
}
