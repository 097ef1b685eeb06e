package state

import "github.com/andrefarinha/courier/internal/session"

// Event is a discrete input to the reducer. Every inbound frame, local
// intent, timer expiry, and lifecycle change is exactly one event.
type Event interface{ event() }

// SendIntent is a local optimistic send: the message enters its
// conversation with status sending before the server has seen it.
type SendIntent struct{ Msg Message }

// SendAcked is the server acknowledging a sent message (message_sent).
type SendAcked struct {
	LocalID   string
	ServerID  string
	Timestamp int64
}

// SendFailed marks a still-sending message as failed (transport rejected
// the outbound frame).
type SendFailed struct{ LocalID string }

// InboundMessage is a live message from a peer (new_message).
type InboundMessage struct{ Msg Message }

// BacklogFlush is the server delivering messages queued while the client
// was offline (pending_messages). The batch must be acknowledged back.
type BacklogFlush struct{ Msgs []Message }

// HistoryBatch is a historical window replay for one conversation (history).
type HistoryBatch struct{ Msgs []Message }

// LocalRead is the user opening a conversation, marking the peer's
// messages read and emitting a read receipt.
type LocalRead struct{ Peer string }

// RemoteRead is the peer confirming it has read our messages
// (messages_read). IDs are matched against ServerID first, LocalID second.
type RemoteRead struct{ IDs []string }

// TypingSet sets or clears a peer's typing flag (typing_start/typing_stop).
type TypingSet struct {
	Peer   string
	Active bool
}

// TypingExpired is the local 3s expiry timer firing for a peer whose
// typing_stop never arrived.
type TypingExpired struct{ Peer string }

// PresenceSet is a last-write-wins presence update (user_status_change).
type PresenceSet struct {
	Peer   string
	Status string
}

// ClearConversation drops a conversation bucket from memory; durable rows
// are deleted as a coordinator side effect.
type ClearConversation struct{ Peer string }

// StatusChanged mirrors a connection session transition into the snapshot.
// Err, when non-empty, becomes the snapshot's LastError.
type StatusChanged struct {
	Status session.State
	Err    string
}

// ProtocolError is an explicit error frame from the server. The connection
// stays open; only LastError changes.
type ProtocolError struct {
	Code    int
	Message string
}

// Pong is the server answering a heartbeat ping. A no-op transition.
type Pong struct{}

// HydrationMerge merges durable messages loaded at startup. Messages whose
// LocalID is already in memory are skipped, never overwritten.
type HydrationMerge struct{ Msgs []Message }

// HydrationDone marks cold-start hydration complete.
type HydrationDone struct{}

func (SendIntent) event()        {}
func (SendAcked) event()         {}
func (SendFailed) event()        {}
func (InboundMessage) event()    {}
func (BacklogFlush) event()      {}
func (HistoryBatch) event()      {}
func (LocalRead) event()         {}
func (RemoteRead) event()        {}
func (TypingSet) event()         {}
func (TypingExpired) event()     {}
func (PresenceSet) event()       {}
func (ClearConversation) event() {}
func (StatusChanged) event()     {}
func (ProtocolError) event()     {}
func (Pong) event()              {}
func (HydrationMerge) event()    {}
func (HydrationDone) event()     {}

// ReadReceipt describes an outbound mark_read frame the coordinator should
// send on behalf of a LocalRead transition.
type ReadReceipt struct {
	Peer string
	IDs  []string
}

// Effects lists the follow-up work a transition requires. The reducer only
// describes the work; the coordinator performs it.
type Effects struct {
	Persist            []Message
	PersistContacts    []Contact
	MarkReadDurable    *ReadReceipt // mirror a local read into the ledger
	SendReadReceipt    *ReadReceipt
	AckBacklog         []string
	DeleteConversation string // conversation key, "" when unused
	ArmTyping          string // peer whose expiry timer to (re)arm
	DisarmTyping       string // peer whose expiry timer to cancel
}

// Empty reports whether the transition produced no follow-up work.
func (e Effects) Empty() bool {
	return len(e.Persist) == 0 && len(e.PersistContacts) == 0 &&
		e.MarkReadDurable == nil && e.SendReadReceipt == nil &&
		len(e.AckBacklog) == 0 && e.DeleteConversation == "" &&
		e.ArmTyping == "" && e.DisarmTyping == ""
}
