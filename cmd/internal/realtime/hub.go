package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"lockgate/cmd/internal/devicelock"
	"lockgate/cmd/internal/gate"
	v1 "lockgate/contracts/lockgate/v1"
)

// Gauge receives the number of connected UI regions. prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

// Hub is the membership + broadcast fanout for connected UI regions.
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks: a region whose
// queue is full misses the envelope and re-syncs on its next screen message.
type Hub struct {
	log       *slog.Logger
	connected Gauge

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs a Hub. connected may be nil.
func NewHub(log *slog.Logger, connected Gauge) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:       log,
		connected: connected,
		clients:   make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (h *Hub) Join(client *Client) {
	if client == nil || client.ID == "" {
		return
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	n := len(h.clients)
	h.mu.Unlock()

	h.report(n)
	h.log.Info("region.join", "client_id", client.ID)
}

// Leave removes a client from membership and signals shutdown for that client.
func (h *Hub) Leave(clientID string) {
	if clientID == "" {
		return
	}

	h.mu.Lock()
	cl := h.clients[clientID]
	delete(h.clients, clientID)
	n := len(h.clients)
	h.mu.Unlock()

	// Removed from membership first so no broadcaster still holds it while it shuts down.
	if cl != nil {
		cl.Close()
	}

	h.report(n)
	h.log.Info("region.leave", "client_id", clientID)
}

// Len returns the number of connected regions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast fans an envelope out to all regions.
func (h *Hub) Broadcast(env v1.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
		default:
			h.log.Debug("region.send.drop", "client_id", c.ID, "type", env.Type)
		}
	}
}

// Follow broadcasts gate screen changes and lock events to every region until the
// returned func is called.
func (h *Hub) Follow(g *gate.Gate) (unfollow func()) {
	unScreen := g.OnScreen(func(s gate.Screen) {
		p, _ := json.Marshal(v1.ScreenPayload{Screen: s.String()})
		h.Broadcast(newEnvelope(v1.TypeScreen, p, time.Now().UTC()))
	})
	unLock := g.Locker().Events().Subscribe(func(ev devicelock.Event) {
		typ := v1.TypeUnlocked
		if ev == devicelock.EventLocked {
			typ = v1.TypeLocked
		}
		h.Broadcast(newEnvelope(typ, json.RawMessage(`{}`), time.Now().UTC()))
	})
	return func() {
		unScreen()
		unLock()
	}
}

func (h *Hub) report(n int) {
	if h.connected != nil {
		h.connected.Set(float64(n))
	}
}
