// Package mtproto backs the MTProto Gateway capability (§4.4) with a
// real gotd/td client instead of leaving it abstract, grounded on the
// userbot reference app's client bootstrap (session storage, update
// dispatcher, OnNewChannelMessage/OnNewMessage routing) in the example
// pack.
package mtproto

import (
	"context"
	"crypto/rand"
	"strconv"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/apperr"
	"github.com/hrygo/relaywatch/internal/logging"
	"github.com/hrygo/relaywatch/internal/ratelimiter"
)

// Entity is a resolved peer: a stable numeric id plus the raw reference
// it was resolved from, so the filter chain in the Monitor Service (§4.7)
// always has a stable id even for channels the account has not posted in.
type Entity struct {
	Ref        string
	ID         int64
	AccessHash int64
	Username   string
	IsChannel  bool
}

// Message is the provider-agnostic shape of one incoming MTProto event,
// handed to the handler registered via AddMessageHandler.
type Message struct {
	ChatRef   string // chat's username when known from the peer cache, else the numeric chat id as a string; matched against configured sources after normalization
	ChatID    int64
	SenderID  int64
	SenderRef string // sender's @username when known from the peer cache, else the numeric id as a string
	Text      string
}

// Handler processes one incoming message. A non-nil error is logged and
// swallowed by the gateway's dispatch loop (§4.7's "errors are logged
// and swallowed" rule) — it never unwinds gotd's update loop.
type Handler func(ctx context.Context, msg Message) error

// Gateway wraps *telegram.Client with the capability set §4.4 specifies:
// connect, resolveEntity, add/removeMessageHandler, sendMessage. Sends
// are the only path that touches the RateLimiter.
type Gateway struct {
	client     *telegram.Client
	dispatcher tg.UpdateDispatcher
	peers      *peerCache
	limiter    *ratelimiter.Limiter
	log        *logging.Logger

	handlers *handlerSet
}

// Config is the gotd/td-specific subset of config.Config this package
// needs; kept separate so mtproto never imports the top-level config
// package (avoiding an import cycle with cmd/relaywatch's wiring).
type Config struct {
	APIID      int
	APIHash    string
	SessionDir string
}

// New constructs a Gateway. The client is not connected until Connect
// is called; the update dispatcher is wired eagerly so AddMessageHandler
// can be called before Connect.
func New(cfg Config, limiter *ratelimiter.Limiter, log *logging.Logger) (*Gateway, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, errors.Wrap(apperr.ErrConfig, "mtproto: TELEGRAM_API_ID/TELEGRAM_API_HASH are required")
	}

	dispatcher := tg.NewUpdateDispatcher()
	g := &Gateway{
		dispatcher: dispatcher,
		peers:      newPeerCache(),
		handlers:   newHandlerSet(),
		limiter:    limiter,
		log:        log,
	}

	g.client = telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionDir + "/session.json"},
		UpdateHandler:  dispatcher,
	})

	dispatcher.OnNewChannelMessage(g.onNewChannelMessage)
	dispatcher.OnNewMessage(g.onNewMessage)

	return g, nil
}

// Connect runs client.Run, blocking until ctx is canceled or the
// connection dies unrecoverably. The interactive login flow is out of
// scope (§4.4's Non-goal): the session file at cfg.SessionDir is
// operator-provisioned ahead of time. Connect also forces a dialogs
// sync before returning so passive channels are known to the library
// (§4.4's "without this, events for passive channels may not arrive").
func (g *Gateway) Connect(ctx context.Context) error {
	return g.client.Run(ctx, func(ctx context.Context) error {
		if _, err := g.client.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      100,
		}); err != nil {
			return errors.Wrap(err, "mtproto: syncing dialogs")
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

// ResolveEntity preloads the peer cache for ref. A bare @username is
// resolved via contacts.resolveUsername; a raw numeric id is looked up
// in the cache populated by observed updates (§4.4's Entities-derived
// cache, see peercache.go) since Telegram does not let a client resolve
// an arbitrary channel id without a prior access hash. Returns nil, nil
// if the peer is unknown rather than erroring, per §4.4's "may return
// null" contract.
func (g *Gateway) ResolveEntity(ctx context.Context, ref string) (*Entity, error) {
	normalized := normalizeRef(ref)

	if entity, ok := g.peers.get(normalized); ok {
		entity.Ref = ref
		return &entity, nil
	}

	if strings.HasPrefix(ref, "@") || !isNumeric(normalized) {
		username := strings.TrimPrefix(ref, "@")
		if entity, ok := g.peers.getByUsername(username); ok {
			entity.Ref = ref
			return &entity, nil
		}
		resolved, err := g.client.API().ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
		if err != nil {
			return nil, errors.Wrapf(err, "mtproto: resolving username %q", username)
		}
		g.peers.ingest(resolved.Chats, resolved.Users)
		if entity, ok := g.peers.getByUsername(username); ok {
			entity.Ref = ref
			return &entity, nil
		}
		return nil, nil
	}

	return nil, nil
}

// AddMessageHandler registers h and returns a token for RemoveMessageHandler.
// Per §4.4, the gateway always runs in receive-all mode: chat-scoped
// filtering on the underlying library is known-unreliable for passive
// channels, so every handler sees every event and filters itself.
func (g *Gateway) AddMessageHandler(h Handler) int {
	return g.handlers.add(h)
}

// RemoveMessageHandler deregisters the handler registered under token.
func (g *Gateway) RemoveMessageHandler(token int) {
	g.handlers.remove(token)
}

// SendMessage enqueues a send through the RateLimiter; it is the only
// path in the gateway that touches the raw client send RPC (§4.4, §5).
func (g *Gateway) SendMessage(ctx context.Context, peerRef string, message string) error {
	return g.limiter.Enqueue(ctx, func(ctx context.Context) error {
		entity, err := g.ResolveEntity(ctx, peerRef)
		if err != nil {
			return err
		}
		if entity == nil {
			return errors.Wrapf(apperr.ErrNotFound, "mtproto: cannot resolve send target %q", peerRef)
		}
		var inputPeer tg.InputPeerClass
		if entity.IsChannel {
			inputPeer = &tg.InputPeerChannel{ChannelID: entity.ID, AccessHash: entity.AccessHash}
		} else {
			inputPeer = &tg.InputPeerUser{UserID: entity.ID, AccessHash: entity.AccessHash}
		}
		_, err = g.client.API().MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     inputPeer,
			Message:  message,
			RandomID: randomID(),
		})
		return err
	})
}

func (g *Gateway) onNewChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	g.peers.ingestEntities(e)
	if msg := g.buildMessage(u.Message); msg.Text != "" {
		g.handlers.dispatch(ctx, msg, g.log)
	}
	return nil
}

func (g *Gateway) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	g.peers.ingestEntities(e)
	if msg := g.buildMessage(u.Message); msg.Text != "" {
		g.handlers.dispatch(ctx, msg, g.log)
	}
	return nil
}

// buildMessage adapts a raw tg.MessageClass into the gateway's
// provider-agnostic Message, resolving the chat's and the sender's
// usernames from the peer cache when they are already known.
func (g *Gateway) buildMessage(raw tg.MessageClass) Message {
	msg, ok := raw.(*tg.Message)
	if !ok || msg.Message == "" {
		return Message{}
	}
	chatID, chatRef := peerIdentity(msg.PeerID)
	if entity, ok := g.peers.get(chatRef); ok && entity.Username != "" {
		chatRef = entity.Username
	}

	var senderID int64
	senderRef := ""
	if msg.FromID != nil {
		senderID, _ = peerIdentity(msg.FromID)
		if senderID != 0 {
			senderRef = strconv.FormatInt(senderID, 10)
			if entity, ok := g.peers.get(senderRef); ok && entity.Username != "" {
				senderRef = entity.Username
			}
		}
	}

	return Message{
		ChatRef:   chatRef,
		ChatID:    chatID,
		SenderID:  senderID,
		SenderRef: senderRef,
		Text:      msg.Message,
	}
}

func peerIdentity(peer tg.PeerClass) (int64, string) {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		return p.ChannelID, strconv.FormatInt(p.ChannelID, 10)
	case *tg.PeerUser:
		return p.UserID, strconv.FormatInt(p.UserID, 10)
	case *tg.PeerChat:
		return p.ChatID, strconv.FormatInt(p.ChatID, 10)
	default:
		return 0, ""
	}
}

// normalizeRef strips the "-100" channel-id prefix and "@" sigil so a
// ref can be compared or looked up consistently (§4.7's three
// candidate-identifier normalization rule, shared with the Monitor
// Service's source matching).
func normalizeRef(ref string) string {
	ref = strings.TrimPrefix(ref, "@")
	ref = strings.TrimPrefix(ref, "-100")
	return ref
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func randomID() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	if v < 0 {
		v = -v
	}
	return v
}
