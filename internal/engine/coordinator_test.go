package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/andrefarinha/courier/internal/bus"
	"github.com/andrefarinha/courier/internal/state"
	"github.com/andrefarinha/courier/internal/wire"
)

type fakeLedger struct {
	mu       sync.Mutex
	upserts  []state.Message
	contacts []state.Contact
	reads    [][2]string
	deletes  []string
	recent   []state.Message
	fail     bool
}

var errLedger = errors.New("ledger down")

func (f *fakeLedger) UpsertMessage(m state.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errLedger
	}
	f.upserts = append(f.upserts, m)
	return nil
}

func (f *fakeLedger) BulkUpsert(msgs []state.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errLedger
	}
	f.upserts = append(f.upserts, msgs...)
	return nil
}

func (f *fakeLedger) GetRecent(int) ([]state.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errLedger
	}
	return f.recent, nil
}

func (f *fakeLedger) MarkRead(key, reader string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, [2]string{key, reader})
	return nil
}

func (f *fakeLedger) DeleteByConversation(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	return nil
}

func (f *fakeLedger) UpsertContact(c state.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	frames []wire.Outbound
	open   bool
}

func (f *fakeSender) Send(out wire.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errors.New("not open")
	}
	f.frames = append(f.frames, out)
	return nil
}

func (f *fakeSender) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSender) sent() []wire.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Outbound(nil), f.frames...)
}

func newTestCoordinator(t *testing.T, ledger *fakeLedger, sender *fakeSender) *Coordinator {
	t.Helper()
	c := New("alice", ledger, sender, bus.New(), zap.NewNop())
	c.Start(testContext(t))
	t.Cleanup(c.Stop)
	return c
}

// waitUntil polls a condition until it holds or the deadline passes.
func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", desc)
}

func TestInboundUpdatesSnapshotThenPersists(t *testing.T) {
	ledger := &fakeLedger{}
	c := newTestCoordinator(t, ledger, &fakeSender{open: true})

	c.Dispatch(state.InboundMessage{Msg: state.Message{
		LocalID: "b1", From: "bob", To: "alice", Body: "hi", Timestamp: 100,
	}})

	key := state.ConversationKey("alice", "bob")
	waitUntil(t, "snapshot update", func() bool {
		return len(c.Snapshot().Conversations[key]) == 1
	})
	waitUntil(t, "durable upsert", func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return len(ledger.upserts) == 1 && len(ledger.contacts) == 1
	})
}

func TestUpdateNotificationPublished(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("sync.", 16)
	defer sub.Cancel()

	c := New("alice", &fakeLedger{}, &fakeSender{open: true}, b, zap.NewNop())
	c.Start(testContext(t))
	t.Cleanup(c.Stop)

	c.Dispatch(state.PresenceSet{Peer: "bob", Status: "online"})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-sub.C:
			if evt.Kind == bus.KindUpdated {
				return
			}
		case <-deadline:
			t.Fatal("no sync.updated notification")
		}
	}
}

func TestHydrationMergesAndCompletes(t *testing.T) {
	ledger := &fakeLedger{recent: []state.Message{
		{LocalID: "old1", From: "bob", To: "alice", Body: "cold", Timestamp: 50, Status: state.StatusRead},
	}}
	c := newTestCoordinator(t, ledger, &fakeSender{open: true})

	waitUntil(t, "hydration", func() bool { return c.Snapshot().Hydrated })

	key := state.ConversationKey("alice", "bob")
	snap := c.Snapshot()
	if len(snap.Conversations[key]) != 1 {
		t.Fatalf("hydrated bucket = %d messages, want 1", len(snap.Conversations[key]))
	}
	if snap.Conversations[key][0].Status != state.StatusRead {
		t.Errorf("hydrated status = %s, want read", snap.Conversations[key][0].Status)
	}
	// Hydrated rows are not re-persisted.
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.upserts) != 0 {
		t.Errorf("hydration wrote %d rows back", len(ledger.upserts))
	}
}

func TestHydrationFailureStillCompletes(t *testing.T) {
	ledger := &fakeLedger{fail: true}
	c := newTestCoordinator(t, ledger, &fakeSender{open: true})

	// A dead ledger degrades cold-start fidelity, never liveness.
	waitUntil(t, "hydration done despite failure", func() bool { return c.Snapshot().Hydrated })
}

func TestLocalReadSendsReceipt(t *testing.T) {
	ledger := &fakeLedger{}
	sender := &fakeSender{open: true}
	c := newTestCoordinator(t, ledger, sender)

	c.Dispatch(state.InboundMessage{Msg: state.Message{
		LocalID: "b1", ServerID: "s1", From: "bob", To: "alice", Timestamp: 100,
	}})

	key := state.ConversationKey("alice", "bob")
	waitUntil(t, "inbound applied", func() bool {
		return len(c.Snapshot().Conversations[key]) == 1
	})

	c.Dispatch(state.LocalRead{Peer: "bob"})
	waitUntil(t, "read receipt frame", func() bool {
		for _, f := range sender.sent() {
			if f.Type == wire.TypeMarkRead && f.To == "bob" && len(f.MessageIDs) == 1 && f.MessageIDs[0] == "s1" {
				return true
			}
		}
		return false
	})
	waitUntil(t, "durable mark-read", func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return len(ledger.reads) == 1 && ledger.reads[0] == [2]string{key, "alice"}
	})
}

func TestReadReceiptDroppedWhenClosed(t *testing.T) {
	sender := &fakeSender{open: false}
	c := newTestCoordinator(t, &fakeLedger{}, sender)

	c.Dispatch(state.InboundMessage{Msg: state.Message{
		LocalID: "b1", From: "bob", To: "alice", Timestamp: 100,
	}})
	c.Dispatch(state.LocalRead{Peer: "bob"})

	key := state.ConversationKey("alice", "bob")
	waitUntil(t, "local read applied", func() bool {
		msgs := c.Snapshot().Conversations[key]
		return len(msgs) == 1 && msgs[0].Status == state.StatusRead
	})
	// The receipt was dropped, not queued: no frame ever goes out.
	if frames := sender.sent(); len(frames) != 0 {
		t.Errorf("frames sent while closed: %v", frames)
	}
}

func TestBacklogFlushAcked(t *testing.T) {
	sender := &fakeSender{open: true}
	c := newTestCoordinator(t, &fakeLedger{}, sender)

	c.Dispatch(state.BacklogFlush{Msgs: []state.Message{
		{LocalID: "p1", ServerID: "s1", From: "bob", To: "alice", Timestamp: 100},
		{LocalID: "p2", From: "bob", To: "alice", Timestamp: 200},
	}})

	waitUntil(t, "ack frame", func() bool {
		for _, f := range sender.sent() {
			if f.Type == wire.TypeAckPending && len(f.IDs) == 2 {
				return true
			}
		}
		return false
	})
}

func TestClearConversationDeletesRows(t *testing.T) {
	ledger := &fakeLedger{}
	c := newTestCoordinator(t, ledger, &fakeSender{open: true})

	c.Dispatch(state.InboundMessage{Msg: state.Message{
		LocalID: "b1", From: "bob", To: "alice", Timestamp: 100,
	}})
	key := state.ConversationKey("alice", "bob")
	waitUntil(t, "inbound applied", func() bool {
		return len(c.Snapshot().Conversations[key]) == 1
	})

	c.Dispatch(state.ClearConversation{Peer: "bob"})
	waitUntil(t, "bucket removed", func() bool {
		_, ok := c.Snapshot().Conversations[key]
		return !ok
	})
	waitUntil(t, "durable delete", func() bool {
		ledger.mu.Lock()
		defer ledger.mu.Unlock()
		return len(ledger.deletes) == 1 && ledger.deletes[0] == key
	})
}

func TestTypingExpires(t *testing.T) {
	c := newTestCoordinator(t, &fakeLedger{}, &fakeSender{open: true})
	c.typingTTL = 30 * time.Millisecond

	c.Dispatch(state.TypingSet{Peer: "bob", Active: true})
	waitUntil(t, "typing set", func() bool { return c.Snapshot().Typing["bob"] })
	waitUntil(t, "typing expired", func() bool { return !c.Snapshot().Typing["bob"] })
}

func TestTypingStopDisarmsTimer(t *testing.T) {
	c := newTestCoordinator(t, &fakeLedger{}, &fakeSender{open: true})
	c.typingTTL = time.Hour // expiry must come from the stop signal, not the timer

	c.Dispatch(state.TypingSet{Peer: "bob", Active: true})
	waitUntil(t, "typing set", func() bool { return c.Snapshot().Typing["bob"] })

	c.Dispatch(state.TypingSet{Peer: "bob", Active: false})
	waitUntil(t, "typing cleared", func() bool { return !c.Snapshot().Typing["bob"] })

	c.typing.mu.Lock()
	pending := len(c.typing.timers)
	c.typing.mu.Unlock()
	if pending != 0 {
		t.Errorf("%d typing timers left armed", pending)
	}
}

func TestPersistFailureDoesNotBlockView(t *testing.T) {
	ledger := &fakeLedger{fail: true}
	c := newTestCoordinator(t, ledger, &fakeSender{open: true})

	c.Dispatch(state.InboundMessage{Msg: state.Message{
		LocalID: "b1", From: "bob", To: "alice", Timestamp: 100,
	}})

	// The in-memory view is the source of truth for the live session.
	key := state.ConversationKey("alice", "bob")
	waitUntil(t, "snapshot update despite ledger failure", func() bool {
		return len(c.Snapshot().Conversations[key]) == 1
	})
}

// testContext substitutes for testing.T.Context (go1.24+) on older toolchains.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
