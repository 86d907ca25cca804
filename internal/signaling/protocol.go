package signaling

import "encoding/json"

// Signal types relayed between peers. Payloads are opaque to the server;
// whatever the browser's RTCPeerConnection produces goes through untouched.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypePing         = "ping"
)

// Server -> client types
const (
	TypePong           = "pong"
	TypePartnerOnline  = "partner.online"
	TypePartnerOffline = "partner.offline"
	TypeError          = "error"
)

// Message is the signaling envelope. From is stamped by the server on
// relayed signals so the receiver knows which peer is talking. PeerID and
// Timestamp are set on partner presence notifications.
type Message struct {
	Type      string          `json:"type"`
	From      string          `json:"from,omitempty"`
	PeerID    string          `json:"peer_id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// peer is the connection this message arrived on, set by the read pump
	peer *Peer
}
