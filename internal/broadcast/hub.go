// Package broadcast fans change feed events out to connected websocket
// clients. Clients subscribe to a single zone or to the global stream;
// every event carries the full post-mutation records, so a client can apply
// it idempotently whatever order it arrives in.
package broadcast

import (
	"context"
	"encoding/json"
	"log"

	"github.com/campuspark/coordinator/internal/feed"
	"github.com/campuspark/coordinator/internal/model"
)

// globalRoom receives every event regardless of zone.
const globalRoom = "*"

// Client is one connected viewer. Send is drained by the connection's
// write pump; a client that stops draining is dropped.
type Client struct {
	Send chan []byte
	Zone string // "" subscribes to the global stream
}

func (c *Client) room() string {
	if c.Zone == "" {
		return globalRoom
	}
	return c.Zone
}

type outbound struct {
	zone string
	data []byte
}

// Hub routes events to zone rooms plus the global room. One hub runs per
// process and holds the process's single feed subscription.
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan outbound
	done       chan struct{}
}

// NewHub returns a Hub ready to Run.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan outbound),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and event fan-out until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			room := c.room()
			if h.rooms[room] == nil {
				h.rooms[room] = make(map[*Client]bool)
			}
			h.rooms[room][c] = true

		case c := <-h.unregister:
			if clients := h.rooms[c.room()]; clients != nil {
				if clients[c] {
					delete(clients, c)
					close(c.Send)
				}
			}

		case m := <-h.events:
			h.deliver(globalRoom, m.data)
			if m.zone != "" {
				h.deliver(m.zone, m.data)
			}

		case <-h.done:
			for _, clients := range h.rooms {
				for c := range clients {
					close(c.Send)
				}
			}
			return
		}
	}
}

// Stop shuts the hub down and closes every client channel.
func (h *Hub) Stop() {
	close(h.done)
}

// deliver pushes data to every client in a room, dropping clients whose
// buffers are full.
func (h *Hub) deliver(room string, data []byte) {
	for c := range h.rooms[room] {
		select {
		case c.Send <- data:
		default:
			close(c.Send)
			delete(h.rooms[room], c)
		}
	}
}

// Register adds a client to its room. A no-op once the hub is stopped.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a client and closes its send channel. A no-op once
// the hub is stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues one change event for fan-out. Events arriving after
// Stop are discarded.
func (h *Hub) Broadcast(ev model.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("broadcast: marshal event %s: %v", ev.ID, err)
		return
	}
	select {
	case h.events <- outbound{zone: ev.ZoneID, data: data}:
	case <-h.done:
	}
}

// Consume holds the process's single change feed subscription and relays
// every event into the hub. It blocks until ctx is cancelled or the feed
// closes.
func (h *Hub) Consume(ctx context.Context, fd feed.Feed) {
	events, cancel := fd.Subscribe(ctx)
	defer cancel()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		case <-ctx.Done():
			return
		}
	}
}
