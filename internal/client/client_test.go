package client

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/andrefarinha/courier/internal/state"
	"github.com/andrefarinha/courier/internal/wire"
)

type fakeTransport struct {
	frames    []wire.Outbound
	sendErr   error
	reconnect int
}

func (f *fakeTransport) Connect(context.Context) error { return nil }
func (f *fakeTransport) Reconnect() error              { f.reconnect++; return nil }
func (f *fakeTransport) Open() bool                    { return f.sendErr == nil }
func (f *fakeTransport) Close()                        {}

func (f *fakeTransport) Send(out wire.Outbound) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, out)
	return nil
}

type fakeDispatcher struct {
	events []state.Event
	snap   state.Snapshot
}

func (f *fakeDispatcher) Dispatch(ev state.Event)  { f.events = append(f.events, ev) }
func (f *fakeDispatcher) Snapshot() state.Snapshot { return f.snap }

func newTestClient(tr *fakeTransport, d *fakeDispatcher) *Client {
	return New("alice", tr, d, zap.NewNop())
}

func TestSendMessageOptimistic(t *testing.T) {
	tr := &fakeTransport{}
	d := &fakeDispatcher{}
	c := newTestClient(tr, d)

	localID, err := c.SendMessage("bob", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if localID == "" {
		t.Fatal("empty local id")
	}

	if len(d.events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(d.events))
	}
	intent, ok := d.events[0].(state.SendIntent)
	if !ok {
		t.Fatalf("event type = %T, want SendIntent", d.events[0])
	}
	if intent.Msg.LocalID != localID || intent.Msg.From != "alice" || intent.Msg.Status != state.StatusSending {
		t.Errorf("intent = %+v", intent.Msg)
	}

	if len(tr.frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(tr.frames))
	}
	f := tr.frames[0]
	if f.Type != wire.TypeSendMessage || f.To != "bob" || f.Content != "hi" || f.LocalID != localID {
		t.Errorf("frame = %+v", f)
	}
}

func TestSendMessageTransportFailureMarksFailed(t *testing.T) {
	tr := &fakeTransport{sendErr: errors.New("socket closed")}
	d := &fakeDispatcher{}
	c := newTestClient(tr, d)

	localID, err := c.SendMessage("bob", "hi")
	if err != nil {
		t.Fatalf("transport failure must not surface as a call error, got %v", err)
	}

	// Optimistic intent first, failure mark second.
	if len(d.events) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(d.events))
	}
	failed, ok := d.events[1].(state.SendFailed)
	if !ok {
		t.Fatalf("second event type = %T, want SendFailed", d.events[1])
	}
	if failed.LocalID != localID {
		t.Errorf("failed id = %q, want %q", failed.LocalID, localID)
	}
}

func TestSendMessageValidation(t *testing.T) {
	c := newTestClient(&fakeTransport{}, &fakeDispatcher{})
	if _, err := c.SendMessage("", "hi"); err != ErrEmptyMessage {
		t.Errorf("empty recipient: err = %v, want ErrEmptyMessage", err)
	}
	if _, err := c.SendMessage("bob", "   "); err != ErrEmptyMessage {
		t.Errorf("blank body: err = %v, want ErrEmptyMessage", err)
	}
}

func TestLocalIDsAreUnique(t *testing.T) {
	c := newTestClient(&fakeTransport{}, &fakeDispatcher{})
	a, _ := c.SendMessage("bob", "one")
	b, _ := c.SendMessage("bob", "two")
	if a == b {
		t.Errorf("two sends produced the same local id %q", a)
	}
}

func TestTypingSignals(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(tr, &fakeDispatcher{})

	c.StartTyping("bob")
	c.StopTyping("bob")

	if len(tr.frames) != 2 {
		t.Fatalf("sent %d frames, want 2", len(tr.frames))
	}
	if tr.frames[0].Type != wire.TypeTypingStart || tr.frames[1].Type != wire.TypeTypingStop {
		t.Errorf("frames = %+v", tr.frames)
	}
}

func TestMarkReadAndClearDispatch(t *testing.T) {
	d := &fakeDispatcher{}
	c := newTestClient(&fakeTransport{}, d)

	c.MarkRead("bob")
	c.ClearConversation("bob")

	if len(d.events) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(d.events))
	}
	if lr, ok := d.events[0].(state.LocalRead); !ok || lr.Peer != "bob" {
		t.Errorf("first event = %+v", d.events[0])
	}
	if cc, ok := d.events[1].(state.ClearConversation); !ok || cc.Peer != "bob" {
		t.Errorf("second event = %+v", d.events[1])
	}
}

func TestForceReconnect(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(tr, &fakeDispatcher{})
	if err := c.ForceReconnect(); err != nil {
		t.Fatal(err)
	}
	if tr.reconnect != 1 {
		t.Errorf("reconnect calls = %d, want 1", tr.reconnect)
	}
}
