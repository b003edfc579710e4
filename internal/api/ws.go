package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/hrygo/relaywatch/internal/monitor"
	"github.com/hrygo/relaywatch/internal/store"
)

// wsHub tracks every live /ws/monitor connection so Shutdown can close
// them with a clean code ahead of stopping the Monitor Service,
// matching §5's gateway-before-service shutdown ordering. Grounded on
// EternisAI-enchanted-proxy's ChatStreamHub: one buffered send channel
// and send loop per connection, heartbeats, non-blocking broadcast.
type wsHub struct {
	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	conn    *websocket.Conn
	closed  chan struct{}
	writeMu sync.Mutex
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[string]*wsConn)}
}

func (h *wsHub) add(id string, c *wsConn) {
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
}

func (h *wsHub) remove(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

func (h *wsHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (s *Server) reportWSSubscribers() {
	if s.metrics != nil {
		s.metrics.SetWSSubscribers(s.hub.count())
	}
}

// closeAll sends close code 1001 (going away) to every connection, used
// during graceful shutdown before the Monitor Service is stopped.
func (h *wsHub) closeAll() {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		close(c.closed)
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is the envelope for every inbound and outbound /ws/monitor
// message, per §4.9/§6's {type, ...} frame contract.
type wsFrame struct {
	Type    string              `json:"type"`
	UserID  string              `json:"userId,omitempty"`
	Filters *store.MonitorFilter `json:"filters,omitempty"`
	Data    *wsEventData        `json:"data,omitempty"`
	Message string              `json:"message,omitempty"`
}

type wsEventData struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	SourceID  string    `json:"sourceId"`
	Timestamp time.Time `json:"timestamp"`
}

// handleWSMonitor upgrades to a WebSocket, authenticates via the
// "token" query parameter (browsers cannot set Authorization headers on
// the WS handshake, §6), subscribes to the Monitor Service's live feed
// filtered by the caller's stored monitor filter, and relays events
// until the client disconnects or the server shuts down.
//
// Close codes per §6: 4001 missing token, 4003 invalid token, 4000
// internal error establishing the filter.
func (s *Server) handleWSMonitor(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return rejectUpgrade(c, 4001, "missing token")
	}
	userID, ok := s.cfg.ResolveUserID(token)
	if !ok {
		return rejectUpgrade(c, 4003, "invalid token")
	}

	filter, err := s.store.GetMonitorFilter(c.Request().Context(), userID)
	if err != nil {
		return rejectUpgrade(c, 4000, "failed to load filter")
	}

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	id := userID + "-" + time.Now().UTC().Format("150405.000000000")
	wc := &wsConn{conn: conn, closed: make(chan struct{})}
	s.hub.add(id, wc)
	s.reportWSSubscribers()

	sub := s.monitorSvc.Hub().Subscribe(id, userID, *filter)

	_ = writeFrame(wc, wsFrame{Type: "connected", UserID: userID, Filters: filter})

	go s.wsReadLoop(id, wc, sub)
	s.wsWriteLoop(wc, sub)
	return nil
}

func rejectUpgrade(c echo.Context, code int, reason string) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}

// writeFrame serializes writers: wsReadLoop (replies to control frames)
// and wsWriteLoop (event/ping fan-out) both write to the same
// connection, and gorilla/websocket permits only one writer at a time.
func writeFrame(wc *wsConn, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	_ = wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wc.conn.WriteMessage(websocket.TextMessage, data)
}

// wsReadLoop drains client control frames (update_filters, ping) until
// the connection errors out, then unsubscribes.
func (s *Server) wsReadLoop(id string, wc *wsConn, sub *monitor.Subscriber) {
	defer func() {
		s.monitorSvc.Hub().Unsubscribe(id)
		s.hub.remove(id)
		s.reportWSSubscribers()
		_ = wc.conn.Close()
	}()
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsFrame
		if json.Unmarshal(data, &frame) != nil {
			_ = writeFrame(wc, wsFrame{Type: "error", Message: "malformed frame"})
			continue
		}
		switch frame.Type {
		case "update_filters":
			if frame.Filters == nil {
				_ = writeFrame(wc, wsFrame{Type: "error", Message: "missing filters"})
				continue
			}
			if err := s.store.UpsertMonitorFilter(context.Background(), sub.UserID, *frame.Filters); err != nil {
				_ = writeFrame(wc, wsFrame{Type: "error", Message: "failed to persist filters"})
				continue
			}
			sub.UpdateFilter(*frame.Filters)
			_ = writeFrame(wc, wsFrame{Type: "filters_updated", Filters: frame.Filters})
		case "ping":
			_ = writeFrame(wc, wsFrame{Type: "pong"})
		default:
			_ = writeFrame(wc, wsFrame{Type: "error", Message: "unknown frame type"})
		}
	}
}

const wsHeartbeatInterval = 30 * time.Second

// wsWriteLoop forwards the subscriber's event channel to the socket as
// {type:"message", data:event} frames and sends periodic pings; returns
// when the connection is closed from either side.
func (s *Server) wsWriteLoop(wc *wsConn, sub *monitor.Subscriber) {
	heartbeat := time.NewTicker(wsHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-sub.Ch:
			if !ok {
				return
			}
			frame := wsFrame{Type: "message", Data: &wsEventData{
				ID: event.ID, Text: event.Text, Source: event.Source,
				SourceID: event.SourceID, Timestamp: event.Timestamp,
			}}
			if err := writeFrame(wc, frame); err != nil {
				return
			}
		case <-heartbeat.C:
			wc.writeMu.Lock()
			_ = wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := wc.conn.WriteMessage(websocket.PingMessage, nil)
			wc.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-wc.closed:
			return
		}
	}
}
