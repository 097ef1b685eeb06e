package state

import (
	"fmt"
	"sort"
)

// Apply is the single authority for state transitions: it maps one event to
// one new snapshot plus the follow-up effects the coordinator must perform.
// It never mutates s and never performs I/O.
func Apply(s Snapshot, ev Event) (Snapshot, Effects) {
	switch e := ev.(type) {
	case SendIntent:
		return applySendIntent(s, e)
	case SendAcked:
		return applySendAcked(s, e)
	case SendFailed:
		return applySendFailed(s, e)
	case InboundMessage:
		return applyInbound(s, e)
	case BacklogFlush:
		return applyBacklog(s, e)
	case HistoryBatch:
		return applyHistory(s, e)
	case LocalRead:
		return applyLocalRead(s, e)
	case RemoteRead:
		return applyRemoteRead(s, e)
	case TypingSet:
		if e.Active {
			return s.withTyping(e.Peer, true), Effects{ArmTyping: e.Peer}
		}
		return s.withTyping(e.Peer, false), Effects{DisarmTyping: e.Peer}
	case TypingExpired:
		return s.withTyping(e.Peer, false), Effects{}
	case PresenceSet:
		return s.withPresence(e.Peer, e.Status), Effects{}
	case ClearConversation:
		key := ConversationKey(s.Self, e.Peer)
		if _, ok := s.Conversations[key]; !ok {
			return s, Effects{}
		}
		return s.withBucket(key, nil), Effects{DeleteConversation: key}
	case StatusChanged:
		s.Status = e.Status
		if e.Err != "" {
			s.LastError = e.Err
		}
		return s, Effects{}
	case ProtocolError:
		s.LastError = fmt.Sprintf("server error %d: %s", e.Code, e.Message)
		return s, Effects{}
	case Pong:
		return s, Effects{}
	case HydrationMerge:
		return applyHydration(s, e)
	case HydrationDone:
		s.Hydrated = true
		return s, Effects{}
	default:
		return s, Effects{}
	}
}

// applySendIntent appends an optimistic message. Replayed intents with a
// known LocalID are no-ops.
func applySendIntent(s Snapshot, e SendIntent) (Snapshot, Effects) {
	msg := e.Msg
	msg.Status = StatusSending
	key := msg.Conversation()
	bucket := s.Conversations[key]
	if indexOfLocal(bucket, msg.LocalID) >= 0 {
		return s, Effects{}
	}
	next := append(append([]Message(nil), bucket...), msg)
	out := s.withBucket(key, next)
	eff := Effects{Persist: []Message{msg}}
	if msg.To != s.Self {
		if c, ok := contactFor(s, msg.To, msg.Timestamp); ok {
			out = out.withContact(c)
			eff.PersistContacts = []Contact{c}
		}
	}
	return out, eff
}

// applySendAcked attaches the server identity to an optimistic send. The
// frame does not name a conversation, so the message is located by LocalID
// across buckets; a miss means it was cleared locally and the ack is
// dropped.
func applySendAcked(s Snapshot, e SendAcked) (Snapshot, Effects) {
	for key, bucket := range s.Conversations {
		i := indexOfLocal(bucket, e.LocalID)
		if i < 0 {
			continue
		}
		msg := bucket[i]
		msg.ServerID = e.ServerID
		if e.Timestamp > 0 {
			msg.Timestamp = e.Timestamp
		}
		// A late ack must not regress a status that already moved past
		// sending (e.g. read via a receipt matched on LocalID).
		if msg.Status == StatusSending {
			msg.Status = StatusSent
		}
		next := append([]Message(nil), bucket...)
		next[i] = msg
		return s.withBucket(key, next), Effects{Persist: []Message{msg}}
	}
	return s, Effects{}
}

func applySendFailed(s Snapshot, e SendFailed) (Snapshot, Effects) {
	for key, bucket := range s.Conversations {
		i := indexOfLocal(bucket, e.LocalID)
		if i < 0 {
			continue
		}
		msg := bucket[i]
		// failed is only reachable from sending.
		if msg.Status != StatusSending {
			return s, Effects{}
		}
		msg.Status = StatusFailed
		next := append([]Message(nil), bucket...)
		next[i] = msg
		return s.withBucket(key, next), Effects{Persist: []Message{msg}}
	}
	return s, Effects{}
}

// applyInbound appends a live peer message at delivered, deduplicated by
// LocalID, and implicitly upserts the sender as a contact.
func applyInbound(s Snapshot, e InboundMessage) (Snapshot, Effects) {
	msg := e.Msg
	msg.Status = StatusDelivered
	key := msg.Conversation()
	bucket := s.Conversations[key]
	if indexOfLocal(bucket, msg.LocalID) >= 0 {
		return s, Effects{}
	}
	next := append(append([]Message(nil), bucket...), msg)
	out := s.withBucket(key, next)
	eff := Effects{Persist: []Message{msg}}
	if c, ok := contactFor(s, msg.From, msg.Timestamp); ok {
		out = out.withContact(c)
		eff.PersistContacts = []Contact{c}
	}
	return out, eff
}

// applyBacklog bulk-appends server-queued offline messages at delivered and
// acknowledges the batch so the server can drop its queue.
func applyBacklog(s Snapshot, e BacklogFlush) (Snapshot, Effects) {
	out, eff := mergeBulk(s, e.Msgs, func(Message) MessageStatus { return StatusDelivered })
	for _, m := range e.Msgs {
		eff.AckBacklog = append(eff.AckBacklog, m.WireID())
	}
	return out, eff
}

// applyHistory bulk-appends a historical window: self-authored messages
// enter at sent, peer messages at delivered.
func applyHistory(s Snapshot, e HistoryBatch) (Snapshot, Effects) {
	self := s.Self
	return mergeBulk(s, e.Msgs, func(m Message) MessageStatus {
		if m.From == self {
			return StatusSent
		}
		return StatusDelivered
	})
}

// mergeBulk merges messages into their buckets by LocalID (idempotent under
// re-delivery) and re-sorts every touched bucket by timestamp ascending.
func mergeBulk(s Snapshot, msgs []Message, statusFor func(Message) MessageStatus) (Snapshot, Effects) {
	out := s
	eff := Effects{}
	touched := map[string][]Message{}
	for _, msg := range msgs {
		msg.Status = statusFor(msg)
		key := msg.Conversation()
		bucket, ok := touched[key]
		if !ok {
			bucket = append([]Message(nil), out.Conversations[key]...)
		}
		if indexOfLocal(bucket, msg.LocalID) >= 0 {
			touched[key] = bucket
			continue
		}
		touched[key] = append(bucket, msg)
		eff.Persist = append(eff.Persist, msg)
		if msg.From != s.Self {
			if c, ok := contactFor(out, msg.From, msg.Timestamp); ok {
				out = out.withContact(c)
				eff.PersistContacts = append(eff.PersistContacts, c)
			}
		}
	}
	for key, bucket := range touched {
		sortBucket(bucket)
		out = out.withBucket(key, bucket)
	}
	return out, eff
}

// applyLocalRead flips every peer-authored, not-yet-read message in the
// conversation to read and requests a single read-receipt frame carrying
// the resolved identifiers. No qualifying messages means no effects at all.
func applyLocalRead(s Snapshot, e LocalRead) (Snapshot, Effects) {
	key := ConversationKey(s.Self, e.Peer)
	bucket := s.Conversations[key]

	var ids []string
	var changed []Message
	next := append([]Message(nil), bucket...)
	for i, m := range next {
		if m.From != e.Peer || m.Status == StatusRead {
			continue
		}
		m.Status = StatusRead
		next[i] = m
		ids = append(ids, m.WireID())
		changed = append(changed, m)
	}
	if len(ids) == 0 {
		return s, Effects{}
	}
	receipt := &ReadReceipt{Peer: e.Peer, IDs: ids}
	return s.withBucket(key, next), Effects{
		Persist:         changed,
		MarkReadDurable: &ReadReceipt{Peer: e.Peer},
		SendReadReceipt: receipt,
	}
}

// applyRemoteRead upgrades every matched message to read regardless of its
// current status. Identifiers match ServerID first, LocalID as fallback.
// This is the only transition allowed to jump a non-terminal status
// straight to read.
func applyRemoteRead(s Snapshot, e RemoteRead) (Snapshot, Effects) {
	wanted := make(map[string]bool, len(e.IDs))
	for _, id := range e.IDs {
		wanted[id] = true
	}

	out := s
	eff := Effects{}
	for key, bucket := range s.Conversations {
		var next []Message
		for i, m := range bucket {
			match := (m.ServerID != "" && wanted[m.ServerID]) || wanted[m.LocalID]
			if !match || m.Status == StatusRead {
				continue
			}
			if next == nil {
				next = append([]Message(nil), bucket...)
			}
			m.Status = StatusRead
			next[i] = m
			eff.Persist = append(eff.Persist, m)
		}
		if next != nil {
			out = out.withBucket(key, next)
		}
	}
	return out, eff
}

// applyHydration merges durable rows loaded at cold start. In-memory copies
// win: a LocalID already present is skipped. No persist effects — the rows
// came from the ledger.
func applyHydration(s Snapshot, e HydrationMerge) (Snapshot, Effects) {
	out := s
	touched := map[string][]Message{}
	for _, msg := range e.Msgs {
		key := msg.Conversation()
		bucket, ok := touched[key]
		if !ok {
			bucket = append([]Message(nil), out.Conversations[key]...)
		}
		if indexOfLocal(bucket, msg.LocalID) >= 0 {
			touched[key] = bucket
			continue
		}
		touched[key] = append(bucket, msg)
		if msg.From != s.Self {
			if c, ok := contactFor(out, msg.From, msg.Timestamp); ok {
				out = out.withContact(c)
			}
		}
	}
	for key, bucket := range touched {
		sortBucket(bucket)
		out = out.withBucket(key, bucket)
	}
	return out, Effects{}
}

func indexOfLocal(bucket []Message, localID string) int {
	for i, m := range bucket {
		if m.LocalID == localID {
			return i
		}
	}
	return -1
}

func sortBucket(bucket []Message) {
	sort.SliceStable(bucket, func(i, j int) bool {
		if bucket[i].Timestamp != bucket[j].Timestamp {
			return bucket[i].Timestamp < bucket[j].Timestamp
		}
		return bucket[i].LocalID < bucket[j].LocalID
	})
}

// contactFor returns a new contact record for peer unless one is already
// known. The display name defaults to the identity until nickname data
// arrives.
func contactFor(s Snapshot, peer string, ts int64) (Contact, bool) {
	if peer == "" || peer == s.Self {
		return Contact{}, false
	}
	if _, ok := s.Contacts[peer]; ok {
		return Contact{}, false
	}
	return Contact{
		Username:    peer,
		Nickname:    peer,
		AvatarColor: AvatarColor(peer),
		AddedAt:     ts,
	}, true
}
