// Package protocol defines the wire messages exchanged between overlay
// nodes and their JSON encode/decode rules. The wire format is a fixed
// external contract, not something this package is free to redesign.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// Message type constants.
const (
	HELLO        = "HELLO"
	PEER_LIST    = "PEER_LIST"
	PING         = "PING"
	PONG         = "PONG"
	VIEW_EVENT   = "VIEW_EVENT"
	AUDIT_RESULT = "AUDIT_RESULT"
	CHOKE        = "CHOKE"
	UNCHOKE      = "UNCHOKE"
)

// PeerRef is the shape peers are described with inside a PEER_LIST.
type PeerRef struct {
	NodeID   string `json:"node_id"`
	Endpoint string `json:"endpoint"`
}

// Message is the envelope for every P2P wire message. Fields that don't
// apply to a given Type are left at their zero value and omitted, except
// voters, which is always serialized (null outside AUDIT_RESULT).
type Message struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	MsgID     string `json:"msg_id"`

	Endpoint string    `json:"endpoint,omitempty"`
	Peers    []PeerRef `json:"peers,omitempty"`

	Seq int `json:"seq,omitempty"`

	EventID   string `json:"event_id,omitempty"`
	ContentID string `json:"content_id,omitempty"`
	Count     int    `json:"count,omitempty"`
	AdID      string `json:"ad_id,omitempty"`

	AgreedCount int      `json:"agreed_count,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	Voters      []string `json:"voters"`

	// Receipt is an opaque transport-assigned handle, never serialized
	// over the wire itself; it rides alongside a received Message.
	Receipt string `json:"-"`
}

func newBase(msgType, sender string) Message {
	return Message{
		Type:      msgType,
		Sender:    sender,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		MsgID:     newMsgID(),
	}
}

// newMsgID mints an 8-character unique message id, mirroring the
// original lab's str(uuid.uuid4())[:8].
func newMsgID() string {
	return uuid.New().String()[:8]
}

// NewEventID mints a sortable, unique event id for a VIEW_EVENT.
func NewEventID() string {
	return xid.New().String()
}

// Hello builds a HELLO handshake message.
func Hello(sender, endpoint string) Message {
	m := newBase(HELLO, sender)
	m.Endpoint = endpoint
	return m
}

// PeerListMsg builds a gossip PEER_LIST message.
func PeerListMsg(sender string, peers []PeerRef) Message {
	m := newBase(PEER_LIST, sender)
	m.Peers = peers
	return m
}

// Ping builds a heartbeat PING probe.
func Ping(sender string, seq int) Message {
	m := newBase(PING, sender)
	m.Seq = seq
	return m
}

// Pong builds a heartbeat PONG reply.
func Pong(sender string, seq int) Message {
	m := newBase(PONG, sender)
	m.Seq = seq
	return m
}

// ViewEvent builds a content view report.
func ViewEvent(sender, eventID, contentID string, count int, adID string) Message {
	m := newBase(VIEW_EVENT, sender)
	m.EventID = eventID
	m.ContentID = contentID
	m.Count = count
	m.AdID = adID
	return m
}

// AuditResult builds an audit conclusion broadcast.
func AuditResult(sender, contentID string, agreedCount int, confidence float64, voters []string) Message {
	m := newBase(AUDIT_RESULT, sender)
	m.ContentID = contentID
	m.AgreedCount = agreedCount
	m.Confidence = round4(confidence)
	if voters == nil {
		voters = []string{}
	}
	m.Voters = voters
	return m
}

// Choke builds a CHOKE notification.
func Choke(sender string) Message {
	return newBase(CHOKE, sender)
}

// Unchoke builds an UNCHOKE notification.
func Unchoke(sender string) Message {
	return newBase(UNCHOKE, sender)
}

func round4(v float64) float64 {
	const scale = 10000.0
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}

// Encode serializes a Message to its JSON wire form.
func Encode(msg Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a JSON wire body back into a Message.
func Decode(body string) (Message, error) {
	var msg Message
	err := json.Unmarshal([]byte(body), &msg)
	return msg, err
}
