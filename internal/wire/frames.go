// Package wire translates typed client intents to outbound frames and
// inbound frames to reducer events. It is purely structural and holds no
// state.
package wire

// Frame type names, one per message unit on the socket.
const (
	// outbound intents
	TypeSendMessage = "send_message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
	TypeMarkRead    = "mark_read"
	TypeAckPending  = "ack_pending"
	TypePing        = "ping"

	// inbound frames
	TypeMessageSent     = "message_sent"
	TypeNewMessage      = "new_message"
	TypePendingMessages = "pending_messages"
	TypeHistory         = "history"
	TypeUserStatus      = "user_status_change"
	TypeMessagesRead    = "messages_read"
	TypePong            = "pong"
	TypeError           = "error"
)

// Outbound is the single frame shape for every client intent. Unused
// fields are omitted on the wire.
type Outbound struct {
	Type       string   `json:"type"`
	To         string   `json:"to,omitempty"`
	Content    string   `json:"content,omitempty"`
	LocalID    string   `json:"localId,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
	IDs        []string `json:"ids,omitempty"`
}

// SendMessage builds an optimistic send frame.
func SendMessage(to, content, localID string) Outbound {
	return Outbound{Type: TypeSendMessage, To: to, Content: content, LocalID: localID}
}

// TypingStart signals the peer that we began typing.
func TypingStart(to string) Outbound {
	return Outbound{Type: TypeTypingStart, To: to}
}

// TypingStop signals the peer that we stopped typing.
func TypingStop(to string) Outbound {
	return Outbound{Type: TypeTypingStop, To: to}
}

// MarkRead carries a read receipt for the given resolved identifiers.
func MarkRead(to string, messageIDs []string) Outbound {
	return Outbound{Type: TypeMarkRead, To: to, MessageIDs: messageIDs}
}

// AckPending acknowledges a backlog flush so the server can drop its queue.
func AckPending(ids []string) Outbound {
	return Outbound{Type: TypeAckPending, IDs: ids}
}

// Ping is the periodic heartbeat. The peer ignores it silently.
func Ping() Outbound {
	return Outbound{Type: TypePing}
}
