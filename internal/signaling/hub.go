// Package signaling is a WebRTC signaling relay for the pair's calls.
// There is one permanent room; connecting joins it, no identities, no
// auth. The server forwards session descriptions and ICE candidates
// between peers and otherwise stays out of the way.
package signaling

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Hub owns the permanent room. A single Run goroutine manages all state,
// so members and relays never race.
type Hub struct {
	room    string
	members map[*Peer]bool

	register   chan *Peer
	unregister chan *Peer
	relay      chan *Message
	done       chan struct{}

	peerCount atomic.Int64

	logger *slog.Logger
}

// NewHub creates the relay hub for the given room name
func NewHub(room string, logger *slog.Logger) *Hub {
	return &Hub{
		room:       room,
		members:    make(map[*Peer]bool),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		relay:      make(chan *Message),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Room returns the permanent room name
func (h *Hub) Room() string {
	return h.room
}

// PeerCount returns the number of connected peers
func (h *Hub) PeerCount() int {
	return int(h.peerCount.Load())
}

// Register adds a peer to the room. A no-op once the hub has shut down;
// pumps unwinding after shutdown must not block here.
func (h *Hub) Register(p *Peer) {
	select {
	case h.register <- p:
	case <-h.done:
	}
}

// Unregister removes a peer from the room. Safe to call after shutdown.
func (h *Hub) Unregister(p *Peer) {
	select {
	case h.unregister <- p:
	case <-h.done:
	}
}

// Run is the hub's main processing loop. All room state is touched only
// from this goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for p := range h.members {
				close(p.Send)
			}
			close(h.done)
			return

		case peer := <-h.register:
			h.handleRegister(peer)

		case peer := <-h.unregister:
			h.handleUnregister(peer)

		case msg := <-h.relay:
			h.handleRelay(msg)
		}
	}
}

func (h *Hub) handleRegister(peer *Peer) {
	now := time.Now().UnixMilli()

	// Everyone already here learns about the newcomer...
	for member := range h.members {
		member.trySend(&Message{
			Type:      TypePartnerOnline,
			PeerID:    peer.ID,
			Timestamp: now,
		})
	}

	// ...and the newcomer learns who is already here.
	for member := range h.members {
		peer.trySend(&Message{
			Type:      TypePartnerOnline,
			PeerID:    member.ID,
			Timestamp: now,
		})
	}

	h.members[peer] = true
	h.peerCount.Store(int64(len(h.members)))

	h.logger.Info("peer joined", "room", h.room, "peer_id", peer.ID, "peers", len(h.members))
}

func (h *Hub) handleUnregister(peer *Peer) {
	if _, ok := h.members[peer]; !ok {
		return
	}
	delete(h.members, peer)
	h.peerCount.Store(int64(len(h.members)))
	close(peer.Send)

	now := time.Now().UnixMilli()
	for member := range h.members {
		member.trySend(&Message{
			Type:      TypePartnerOffline,
			PeerID:    peer.ID,
			Timestamp: now,
		})
	}

	h.logger.Info("peer left", "room", h.room, "peer_id", peer.ID, "peers", len(h.members))
}

func (h *Hub) handleRelay(msg *Message) {
	switch msg.Type {
	case TypePing:
		// Heartbeat goes back to the sender only
		msg.peer.trySend(&Message{
			Type:      TypePong,
			Timestamp: time.Now().UnixMilli(),
		})

	case TypeOffer, TypeAnswer, TypeICECandidate:
		// Forward verbatim to every other member, stamped with the sender
		out := &Message{
			Type:    msg.Type,
			From:    msg.peer.ID,
			Payload: msg.Payload,
		}
		for member := range h.members {
			if member != msg.peer {
				member.trySend(out)
			}
		}

	default:
		h.logger.Warn("unknown signal type", "type", msg.Type, "peer_id", msg.peer.ID)
		msg.peer.trySend(&Message{
			Type:    TypeError,
			Payload: []byte(`{"error":"unknown signal type"}`),
		})
	}
}
