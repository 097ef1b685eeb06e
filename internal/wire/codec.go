package wire

import (
	"encoding/json"
	"fmt"

	"github.com/andrefarinha/courier/internal/state"
)

// wireMessage is the message object embedded in inbound frames.
type wireMessage struct {
	ID        string `json:"id,omitempty"` // server-assigned
	LocalID   string `json:"localId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func (w wireMessage) toMessage() state.Message {
	return state.Message{
		LocalID:   w.LocalID,
		ServerID:  w.ID,
		From:      w.From,
		To:        w.To,
		Body:      w.Content,
		Timestamp: w.Timestamp,
	}
}

// envelope covers every inbound frame shape. The "message" key is an
// object for message frames but a plain string for error frames, so it is
// deferred to a raw value and decoded per type.
type envelope struct {
	Type       string          `json:"type"`
	From       string          `json:"from,omitempty"`
	User       string          `json:"user,omitempty"`
	Status     string          `json:"status,omitempty"`
	LocalID    string          `json:"localId,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Messages   []wireMessage   `json:"messages,omitempty"`
	MessageIDs []string        `json:"messageIds,omitempty"`
	Code       int             `json:"code,omitempty"`
}

// Decode parses one inbound frame into a reducer event. A non-nil error
// means the frame is malformed; callers log and discard it.
func Decode(data []byte) (state.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case TypeMessageSent:
		var wm wireMessage
		if len(env.Message) > 0 {
			if err := json.Unmarshal(env.Message, &wm); err != nil {
				return nil, fmt.Errorf("decode %s message: %w", env.Type, err)
			}
		}
		if env.LocalID == "" {
			return nil, fmt.Errorf("%s frame missing localId", env.Type)
		}
		return state.SendAcked{LocalID: env.LocalID, ServerID: wm.ID, Timestamp: wm.Timestamp}, nil

	case TypeNewMessage:
		var wm wireMessage
		if err := json.Unmarshal(env.Message, &wm); err != nil {
			return nil, fmt.Errorf("decode %s message: %w", env.Type, err)
		}
		if wm.LocalID == "" || wm.From == "" {
			return nil, fmt.Errorf("%s frame missing localId or sender", env.Type)
		}
		return state.InboundMessage{Msg: wm.toMessage()}, nil

	case TypePendingMessages:
		return state.BacklogFlush{Msgs: toMessages(env.Messages)}, nil

	case TypeHistory:
		return state.HistoryBatch{Msgs: toMessages(env.Messages)}, nil

	case TypeTypingStart:
		if env.From == "" {
			return nil, fmt.Errorf("%s frame missing sender", env.Type)
		}
		return state.TypingSet{Peer: env.From, Active: true}, nil

	case TypeTypingStop:
		if env.From == "" {
			return nil, fmt.Errorf("%s frame missing sender", env.Type)
		}
		return state.TypingSet{Peer: env.From, Active: false}, nil

	case TypeUserStatus:
		if env.User == "" {
			return nil, fmt.Errorf("%s frame missing user", env.Type)
		}
		return state.PresenceSet{Peer: env.User, Status: env.Status}, nil

	case TypeMessagesRead:
		return state.RemoteRead{IDs: env.MessageIDs}, nil

	case TypePong:
		return state.Pong{}, nil

	case TypeError:
		var msg string
		if len(env.Message) > 0 {
			_ = json.Unmarshal(env.Message, &msg)
		}
		return state.ProtocolError{Code: env.Code, Message: msg}, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}

func toMessages(wms []wireMessage) []state.Message {
	msgs := make([]state.Message, 0, len(wms))
	for _, wm := range wms {
		if wm.LocalID == "" {
			continue
		}
		msgs = append(msgs, wm.toMessage())
	}
	return msgs
}
