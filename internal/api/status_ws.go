package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/echoglove/voice-bridge/internal/delivery"
	"github.com/echoglove/voice-bridge/internal/observability"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	// The service is meant for a trusted LAN; any page may watch status
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// StatusEvent is what /ws/status clients receive
type StatusEvent struct {
	Type       string         `json:"type"` // "snapshot" or "transition"
	State      delivery.State `json:"state"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	Device     string         `json:"device,omitempty"`
	Bucket     string         `json:"bucket,omitempty"`
	Message    string         `json:"message,omitempty"`
	At         time.Time      `json:"at"`
}

// statusClient is one websocket watcher. gorilla connections allow one
// concurrent writer.
type statusClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *statusClient) send(ev StatusEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

// StatusHub fans delivery transitions out to websocket clients
type StatusHub struct {
	session     *delivery.Session
	transitions <-chan delivery.Transition
	unsubscribe func()
	logger      zerolog.Logger

	mu      sync.Mutex
	clients map[*statusClient]struct{}
	closed  bool
}

// NewStatusHub subscribes to session. Run must be started to forward
// transitions.
func NewStatusHub(session *delivery.Session) *StatusHub {
	transitions, unsubscribe := session.Subscribe()
	return &StatusHub{
		session:     session,
		transitions: transitions,
		unsubscribe: unsubscribe,
		logger:      observability.GetLogger().With().Str("component", "status_ws").Logger(),
		clients:     make(map[*statusClient]struct{}),
	}
}

// Run forwards session transitions to every client until ctx is done
func (h *StatusHub) Run(ctx context.Context) {
	defer h.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-h.transitions:
			if !ok {
				return
			}
			h.broadcast(StatusEvent{
				Type:       "transition",
				State:      t.State,
				DeliveryID: t.DeliveryID,
				Device:     t.Device,
				Bucket:     t.Bucket,
				Message:    t.Message,
				At:         t.At,
			})
		}
	}
}

// broadcast writes ev to all clients in parallel and drops the ones that fail
func (h *StatusHub) broadcast(ev StatusEvent) {
	h.mu.Lock()
	clients := make([]*statusClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if len(clients) == 0 {
		return
	}

	var g errgroup.Group
	for _, c := range clients {
		c := c
		g.Go(func() error {
			if err := c.send(ev); err != nil {
				h.remove(c)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Debug().Err(err).Msg("Dropped status client")
	}
}

// ServeWS upgrades the request and streams status events until the client
// goes away. The current status is sent first.
func (h *StatusHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	c := &statusClient{conn: conn}
	if !h.add(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer h.remove(c)

	st := h.session.Current()
	if err := c.send(StatusEvent{
		Type:       "snapshot",
		State:      st.State,
		DeliveryID: st.DeliveryID,
		Device:     st.Device,
		Bucket:     st.Bucket,
		Message:    st.Message,
		At:         st.Since,
	}); err != nil {
		return
	}

	// Clients only listen; reading handles pings and notices disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Status websocket read error")
			}
			return
		}
	}
}

// Close disconnects every client and refuses new ones
func (h *StatusHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*statusClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.conn.Close()
	}
}

// Clients returns the number of connected clients
func (h *StatusHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *StatusHub) add(c *statusClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *StatusHub) remove(c *statusClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.conn.Close()
	}
}
