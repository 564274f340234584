// Package ws pushes task events to WebSocket clients. A client only ever
// receives events of the organization it authenticated as.
package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/task"
)

// Hub channel buffer sizes.
const (
	broadcastBuffer = 256
	registerBuffer  = 64
)

// Connection limits.
const (
	maxClients       = 1000
	maxClientsPerOrg = 50
)

var _ task.Broadcaster = (*Hub)(nil)

type orgBroadcast struct {
	organizationID string
	msg            []byte
}

// Hub manages active WebSocket clients and broadcasts messages.
// All client map mutations happen exclusively in the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	orgCount   map[string]int
	register   chan *Client
	unregister chan *Client
	broadcast  chan orgBroadcast
	shutdown   chan struct{} // signals Run to begin graceful drain
	done       chan struct{} // closed when Run has finished draining
	count      atomic.Int64
	log        *logrus.Logger
	replay     *replayLog
}

// NewHub creates a new Hub instance.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		orgCount:   make(map[string]int),
		register:   make(chan *Client, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		broadcast:  make(chan orgBroadcast, broadcastBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
		replay:     newReplayLog(replayMaxEvents, replayMaxAge),
	}
}

// drainTimeout is how long the hub waits for clients to flush after shutdown.
const drainTimeout = 3 * time.Second

// Run starts the hub event loop. It exits when Shutdown is called or the
// context is cancelled.
func (h *Hub) Run(ctx context.Context) { //nolint:gocognit,gocyclo,cyclop // connection-limit checks add necessary branching.
	defer close(h.done)

	evictTicker := time.NewTicker(replayEvictTick)
	defer evictTicker.Stop()

	for {
		select {
		case now := <-evictTicker.C:
			h.replay.evict(now)

		case <-ctx.Done():
			h.drainClients()

			return
		case <-h.shutdown:
			h.drainClients()

			return

		case client := <-h.register:
			if len(h.clients) >= maxClients {
				h.log.Warn("global connection limit reached, dropping client")
				client.closeSend()
				continue
			}
			if h.orgCount[client.OrganizationID] >= maxClientsPerOrg {
				h.log.WithField("organization_id", client.OrganizationID).Warn("per-organization connection limit reached, dropping client")
				client.closeSend()
				continue
			}
			h.clients[client] = true
			h.orgCount[client.OrganizationID]++
			h.updateCount()
			h.log.WithField("total", len(h.clients)).Info("client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
			}
			h.updateCount()
			h.log.WithField("total", len(h.clients)).Info("client unregistered")

		case b := <-h.broadcast:
			for client := range h.clients {
				if client.OrganizationID != b.organizationID {
					continue
				}
				select {
				case client.send <- b.msg:
				default:
					// Slow consumer.
					h.remove(client)
				}
			}
			h.updateCount()
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	client.closeSend()
	h.orgCount[client.OrganizationID]--
	if h.orgCount[client.OrganizationID] <= 0 {
		delete(h.orgCount, client.OrganizationID)
	}
}

func (h *Hub) updateCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.WSConnections.Set(float64(len(h.clients)))
}

// maxBroadcastPayload is the maximum allowed event payload size (4 KB).
const maxBroadcastPayload = 4096

// BroadcastToOrganization queues msg for the clients of one organization.
// Oversized payloads are dropped.
func (h *Hub) BroadcastToOrganization(organizationID string, msg []byte) {
	if len(msg) > maxBroadcastPayload {
		h.log.WithFields(logrus.Fields{
			"organization_id": organizationID,
			"payload_size":    len(msg),
			"max_size":        maxBroadcastPayload,
		}).Warn("dropping oversized broadcast payload")
		return
	}
	select {
	case h.broadcast <- orgBroadcast{organizationID: organizationID, msg: msg}:
	default:
		h.log.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	default:
		h.log.Warn("register channel full, dropping client")
		c.closeSend()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
		// Run loop already exited; client cleanup happened in Run shutdown.
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// BroadcastEvent sequences, buffers and sends a typed event to the clients
// of organizationID. Events without an organization go nowhere.
func (h *Hub) BroadcastEvent(eventType, organizationID string, data json.RawMessage) {
	if organizationID == "" {
		return
	}

	evt := h.replay.record(organizationID, eventType, data, time.Now())

	msg, err := json.Marshal(evt)
	if err != nil {
		h.log.WithError(err).WithField("event", eventType).Error("marshaling event")
		return
	}

	h.BroadcastToOrganization(organizationID, msg)
}

// Shutdown sends a shutdown frame to every client, waits for their write
// pumps to flush and closes all connections. It blocks until the drain is
// complete or times out.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	<-h.done
}

func (h *Hub) drainClients() {
	if len(h.clients) == 0 {
		return
	}

	h.log.WithField("clients", len(h.clients)).Info("draining WebSocket clients")

	for client := range h.clients {
		select {
		case client.send <- shutdownFrame:
		default:
		}
	}

	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond) //nolint:mnd // poll interval
	defer ticker.Stop()

	for !h.drained() {
		select {
		case <-deadline:
			h.log.Warn("WebSocket drain timeout, closing remaining clients")
			h.closeAll()

			return
		case <-ticker.C:
		}
	}

	h.closeAll()
}

func (h *Hub) drained() bool {
	for client := range h.clients {
		if len(client.send) > 0 {
			return false
		}
	}

	return true
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}

	h.orgCount = make(map[string]int)
	h.updateCount()
}

// ReplayEvents queues the events of the client's organization newer than
// lastEventID. It returns false when some of them are no longer retained.
// Replay stops early if the client's send queue fills.
func (h *Hub) ReplayEvents(client *Client, lastEventID uint64) bool {
	events, ok := h.replay.since(client.OrganizationID, lastEventID)
	if !ok {
		return false
	}

	for _, evt := range events {
		msg, err := json.Marshal(evt)
		if err != nil {
			continue
		}

		select {
		case client.send <- msg:
		default:
			return true
		}
	}

	return true
}
