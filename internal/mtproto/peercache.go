package mtproto

import (
	"context"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"

	"github.com/hrygo/relaywatch/internal/logging"
)

// peerCache is an in-memory store of every channel/user/chat the client
// has observed an access hash for, keyed by both numeric id and
// username. gotd/td cannot resolve an arbitrary numeric peer id without
// a previously-seen access hash, so this cache — populated from the
// tg.Entities attached to every dispatched update — is what makes
// SendMessage to a passively-observed channel possible without a
// redundant contacts.resolveUsername round trip on every send.
type peerCache struct {
	mu     sync.RWMutex
	byID   map[string]Entity
	byUser map[string]Entity
}

func newPeerCache() *peerCache {
	return &peerCache{
		byID:   make(map[string]Entity),
		byUser: make(map[string]Entity),
	}
}

func (c *peerCache) get(idKey string) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[idKey]
	return e, ok
}

func (c *peerCache) getByUsername(username string) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byUser[username]
	return e, ok
}

func (c *peerCache) put(e Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[strconv.FormatInt(e.ID, 10)] = e
	if e.Username != "" {
		c.byUser[e.Username] = e
	}
}

// ingestEntities pulls every channel/user/chat out of the Entities map
// gotd/td attaches to each dispatched update. It is the primary way the
// cache stays warm without any extra RPCs.
func (c *peerCache) ingestEntities(e tg.Entities) {
	for _, ch := range e.Channels {
		c.put(Entity{ID: ch.ID, AccessHash: ch.AccessHash, Username: ch.Username, IsChannel: true})
	}
	for _, u := range e.Users {
		c.put(Entity{ID: u.ID, AccessHash: u.AccessHash, Username: u.Username})
	}
}

// ingest handles the tg.ChatClass/tg.UserClass slices returned directly
// by contacts.resolveUsername, which do not come wrapped in tg.Entities.
func (c *peerCache) ingest(chats []tg.ChatClass, users []tg.UserClass) {
	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok {
			c.put(Entity{ID: ch.ID, AccessHash: ch.AccessHash, Username: ch.Username, IsChannel: true})
		}
	}
	for _, user := range users {
		if u, ok := user.(*tg.User); ok {
			c.put(Entity{ID: u.ID, AccessHash: u.AccessHash, Username: u.Username})
		}
	}
}

// handlerSet is the gateway's registry of live message handlers,
// dispatched to sequentially per event; a panicking or erroring handler
// is logged and never takes down the update loop (§4.4, §4.7's "errors
// are logged and swallowed" rule).
type handlerSet struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[int]Handler)}
}

func (s *handlerSet) add(h Handler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.handlers[id] = h
	return id
}

func (s *handlerSet) remove(token int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, token)
}

func (s *handlerSet) dispatch(ctx context.Context, msg Message, log *logging.Logger) {
	s.mu.RLock()
	snapshot := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		snapshot = append(snapshot, h)
	}
	s.mu.RUnlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("mtproto: message handler panicked", "panic", r)
				}
			}()
			if err := h(ctx, msg); err != nil {
				log.Error("mtproto: message handler returned error", "error", err)
			}
		}()
	}
}
