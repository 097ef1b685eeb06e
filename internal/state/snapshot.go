package state

import (
	"sort"

	"github.com/andrefarinha/courier/internal/session"
)

// Snapshot is the immutable in-memory view of all conversation state.
// Transitions return a new Snapshot sharing unchanged substructures; a
// Snapshot handed out to readers is never mutated afterwards.
type Snapshot struct {
	Self          string
	Status        session.State
	Conversations map[string][]Message // conversation key -> messages
	Typing        map[string]bool      // peer -> typing flag
	Presence      map[string]string    // peer -> online/offline/away
	Contacts      map[string]Contact   // peer -> contact
	Hydrated      bool
	LastError     string
}

// NewSnapshot returns an empty snapshot for the given self identity.
func NewSnapshot(self string) Snapshot {
	return Snapshot{
		Self:          self,
		Status:        session.Idle,
		Conversations: map[string][]Message{},
		Typing:        map[string]bool{},
		Presence:      map[string]string{},
		Contacts:      map[string]Contact{},
	}
}

// UnreadCount recomputes the unread count for a conversation from scratch:
// messages not authored by self whose status is not read. It is never
// stored independently.
func (s Snapshot) UnreadCount(key string) int {
	n := 0
	for _, m := range s.Conversations[key] {
		if m.From != s.Self && m.Status != StatusRead {
			n++
		}
	}
	return n
}

// ConversationView is a derived per-conversation summary for list rendering.
type ConversationView struct {
	Key         string
	Peer        string
	DisplayName string
	LastMessage *Message
	Unread      int
	Presence    string
	Typing      bool
}

// ConversationList derives summaries for every conversation, most recent
// activity first.
func (s Snapshot) ConversationList() []ConversationView {
	views := make([]ConversationView, 0, len(s.Conversations))
	for key, msgs := range s.Conversations {
		peer := PeerOf(key, s.Self)
		v := ConversationView{
			Key:         key,
			Peer:        peer,
			DisplayName: peer,
			Unread:      s.UnreadCount(key),
			Presence:    s.Presence[peer],
			Typing:      s.Typing[peer],
		}
		if c, ok := s.Contacts[peer]; ok && c.Nickname != "" {
			v.DisplayName = c.Nickname
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			v.LastMessage = &last
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		ti, tj := int64(0), int64(0)
		if views[i].LastMessage != nil {
			ti = views[i].LastMessage.Timestamp
		}
		if views[j].LastMessage != nil {
			tj = views[j].LastMessage.Timestamp
		}
		if ti != tj {
			return ti > tj
		}
		return views[i].Key < views[j].Key
	})
	return views
}

// copy-on-write helpers: each returns a Snapshot with exactly one
// substructure replaced.

func (s Snapshot) withBucket(key string, msgs []Message) Snapshot {
	conv := make(map[string][]Message, len(s.Conversations)+1)
	for k, v := range s.Conversations {
		conv[k] = v
	}
	if msgs == nil {
		delete(conv, key)
	} else {
		conv[key] = msgs
	}
	s.Conversations = conv
	return s
}

func (s Snapshot) withTyping(peer string, active bool) Snapshot {
	typ := make(map[string]bool, len(s.Typing)+1)
	for k, v := range s.Typing {
		typ[k] = v
	}
	if active {
		typ[peer] = true
	} else {
		delete(typ, peer)
	}
	s.Typing = typ
	return s
}

func (s Snapshot) withPresence(peer, status string) Snapshot {
	pres := make(map[string]string, len(s.Presence)+1)
	for k, v := range s.Presence {
		pres[k] = v
	}
	pres[peer] = status
	s.Presence = pres
	return s
}

func (s Snapshot) withContact(c Contact) Snapshot {
	contacts := make(map[string]Contact, len(s.Contacts)+1)
	for k, v := range s.Contacts {
		contacts[k] = v
	}
	contacts[c.Username] = c
	s.Contacts = contacts
	return s
}
