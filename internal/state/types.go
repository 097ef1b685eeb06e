package state

import (
	"hash/fnv"
	"strings"
)

// MessageStatus is the delivery status of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Message is a single chat message. LocalID is assigned by the sending
// client at creation time and never changes; ServerID is attached once the
// server acknowledges the send. Timestamp is client-assigned at creation and
// overwritten with the server's canonical value on acknowledgment.
type Message struct {
	LocalID   string
	ServerID  string
	From      string
	To        string
	Body      string
	Timestamp int64 // unix milliseconds
	Status    MessageStatus
}

// Conversation returns the canonical conversation key for this message.
func (m Message) Conversation() string {
	return ConversationKey(m.From, m.To)
}

// Peer returns the other participant relative to self.
func (m Message) Peer(self string) string {
	if m.From == self {
		return m.To
	}
	return m.From
}

// WireID returns the identifier used on the wire for receipts: the server
// id when the send has been acknowledged, otherwise the local id.
func (m Message) WireID() string {
	if m.ServerID != "" {
		return m.ServerID
	}
	return m.LocalID
}

// ConversationKey builds a deterministic key from two participant
// identities. Both participants compute the same key regardless of
// argument order.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// PeerOf extracts the non-self participant from a conversation key.
func PeerOf(key, self string) string {
	a, b, ok := strings.Cut(key, "|")
	if !ok {
		return ""
	}
	if a == self {
		return b
	}
	return a
}

// Contact is a known peer.
type Contact struct {
	Username    string
	Nickname    string
	AvatarColor string
	AddedAt     int64 // unix milliseconds
}

var avatarPalette = []string{
	"#e06c75", "#61afef", "#98c379", "#c678dd",
	"#d19a66", "#56b6c2", "#be5046", "#e5c07b",
}

// AvatarColor derives a stable display color from a username.
func AvatarColor(username string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	return avatarPalette[h.Sum32()%uint32(len(avatarPalette))]
}
