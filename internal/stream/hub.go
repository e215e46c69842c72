// Package stream publishes reconciled-view updates to subscribers, both
// in-process (channels) and over WebSocket.
package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
)

// Subscriber receives view updates for one agreement reference. The channel
// is buffered; a slow subscriber drops updates rather than blocking the
// reconciliation loop.
type Subscriber struct {
	ID        string
	Reference string
	Updates   chan agreement.ReconciledView
}

// Hub routes view updates to subscribers by reference.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[string]*Subscriber
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs: make(map[string]map[string]*Subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Subscribe registers a subscriber for a reference.
func (h *Hub) Subscribe(ref string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		Reference: ref,
		Updates:   make(chan agreement.ReconciledView, 8),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[ref] == nil {
		h.subs[ref] = make(map[string]*Subscriber)
	}
	h.subs[ref][sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	refSubs, ok := h.subs[sub.Reference]
	if !ok {
		return
	}
	if _, ok := refSubs[sub.ID]; !ok {
		return
	}
	delete(refSubs, sub.ID)
	if len(refSubs) == 0 {
		delete(h.subs, sub.Reference)
	}
	close(sub.Updates)
}

// Publish fans a view out to every subscriber of its reference without
// blocking: full subscriber buffers lose the update.
func (h *Hub) Publish(ref string, view agreement.ReconciledView) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[ref] {
		select {
		case sub.Updates <- view:
		default:
			h.logger.Debug("dropping view update for slow subscriber",
				zap.String("reference", ref),
				zap.String("subscriber", sub.ID))
		}
	}
}

// SubscriberCount reports active subscribers for a reference.
func (h *Hub) SubscriberCount(ref string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ref])
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ServeWS upgrades the request and streams view updates for the reference
// until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, ref string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sub := h.Subscribe(ref)
	defer h.Unsubscribe(sub)
	defer conn.Close()

	// Reader goroutine: drains client frames and signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case view, ok := <-sub.Updates:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(view); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-done:
			return nil
		}
	}
}
