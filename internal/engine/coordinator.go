// Package engine sequences reducer transitions with durable ledger writes
// and outbound frames. The in-memory view always updates first; persistence
// follows asynchronously and is logged, never retried, on failure.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrefarinha/courier/internal/bus"
	"github.com/andrefarinha/courier/internal/state"
	"github.com/andrefarinha/courier/internal/wire"
)

const (
	defaultHydrateLimit = 1000
	typingExpiry        = 3 * time.Second
	eventBuffer         = 256
)

// Ledger is the durable-store contract the coordinator consumes. All
// operations may fail; failures degrade cold-start fidelity only.
type Ledger interface {
	UpsertMessage(m state.Message) error
	BulkUpsert(msgs []state.Message) error
	GetRecent(limit int) ([]state.Message, error)
	MarkRead(conversation, reader string) error
	DeleteByConversation(key string) error
	UpsertContact(c state.Contact) error
}

// FrameSender writes outbound frames on the live transport.
type FrameSender interface {
	Send(out wire.Outbound) error
	Open() bool
}

// Coordinator is the single consumer of the event pipeline: exactly one
// event is reduced at a time, so the snapshot needs no locking beyond the
// pointer swap.
type Coordinator struct {
	ledger Ledger
	sender FrameSender
	bus    *bus.Bus
	logger *zap.Logger

	hydrateLimit int
	typingTTL    time.Duration
	typing       *typingTracker

	events  chan state.Event
	persist chan func() error

	mu   sync.RWMutex
	snap state.Snapshot

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New creates a coordinator for the given self identity.
func New(self string, ledger Ledger, sender FrameSender, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		ledger:       ledger,
		sender:       sender,
		bus:          b,
		logger:       logger,
		hydrateLimit: defaultHydrateLimit,
		typingTTL:    typingExpiry,
		typing:       newTypingTracker(),
		events:       make(chan state.Event, eventBuffer),
		persist:      make(chan func() error, eventBuffer),
		snap:         state.NewSnapshot(self),
	}
}

// Start launches the reduce loop, the persistence writer, and cold-start
// hydration. Presentation code should wait for the Hydrated flag before
// rendering.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.done.Add(2)
	go c.reduceLoop(ctx)
	go c.persistLoop(ctx)

	go c.hydrate()
}

// Stop drains nothing: it cancels the loops and clears all typing timers.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.typing.DisarmAll()
	c.done.Wait()
}

// Dispatch posts one event into the single-consumer pipeline.
func (c *Coordinator) Dispatch(ev state.Event) {
	select {
	case c.events <- ev:
	default:
		// Pipeline saturated; drop rather than block a transport or timer
		// callback. The ledger re-converges on the next cold start.
		c.logger.Warn("event pipeline full, event dropped")
	}
}

// Snapshot returns the current immutable snapshot.
func (c *Coordinator) Snapshot() state.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Coordinator) reduceLoop(ctx context.Context) {
	defer c.done.Done()
	for {
		select {
		case ev := <-c.events:
			c.apply(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) apply(ev state.Event) {
	c.mu.Lock()
	next, eff := state.Apply(c.snap, ev)
	c.snap = next
	c.mu.Unlock()

	c.runEffects(next.Self, eff)
	c.bus.Publish(bus.Event{Kind: bus.KindUpdated, Timestamp: time.Now()})
}

// runEffects performs the follow-up work a transition produced. Durable
// writes go through the persist channel so reducer throughput never waits
// on storage latency.
func (c *Coordinator) runEffects(self string, eff state.Effects) {
	if len(eff.Persist) > 0 {
		msgs := eff.Persist
		if len(msgs) == 1 {
			m := msgs[0]
			c.enqueuePersist(func() error { return c.ledger.UpsertMessage(m) })
		} else {
			c.enqueuePersist(func() error { return c.ledger.BulkUpsert(msgs) })
		}
	}
	for _, contact := range eff.PersistContacts {
		contact := contact
		c.enqueuePersist(func() error { return c.ledger.UpsertContact(contact) })
	}
	if eff.MarkReadDurable != nil {
		key := state.ConversationKey(self, eff.MarkReadDurable.Peer)
		c.enqueuePersist(func() error { return c.ledger.MarkRead(key, self) })
	}
	if eff.DeleteConversation != "" {
		key := eff.DeleteConversation
		c.enqueuePersist(func() error { return c.ledger.DeleteByConversation(key) })
	}

	if eff.SendReadReceipt != nil {
		r := eff.SendReadReceipt
		if c.sender.Open() {
			if err := c.sender.Send(wire.MarkRead(r.Peer, r.IDs)); err != nil {
				c.logger.Warn("read receipt dropped", zap.String("peer", r.Peer), zap.Error(err))
			}
		} else {
			// Receipts are dropped, not queued, while disconnected.
			c.logger.Debug("read receipt dropped, transport closed", zap.String("peer", r.Peer))
		}
	}
	if len(eff.AckBacklog) > 0 {
		if err := c.sender.Send(wire.AckPending(eff.AckBacklog)); err != nil {
			c.logger.Warn("backlog ack failed", zap.Int("ids", len(eff.AckBacklog)), zap.Error(err))
		}
	}

	if eff.ArmTyping != "" {
		peer := eff.ArmTyping
		c.typing.Arm(peer, c.typingTTL, func() {
			c.Dispatch(state.TypingExpired{Peer: peer})
		})
	}
	if eff.DisarmTyping != "" {
		c.typing.Disarm(eff.DisarmTyping)
	}
}

func (c *Coordinator) enqueuePersist(op func() error) {
	select {
	case c.persist <- op:
	default:
		c.logger.Warn("persist queue full, durable write dropped")
	}
}

func (c *Coordinator) persistLoop(ctx context.Context) {
	defer c.done.Done()
	for {
		select {
		case op := <-c.persist:
			if err := op(); err != nil {
				c.logger.Error("durable write failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// hydrate loads the most recent durable messages and merges them into the
// snapshot, in-memory copies winning. Runs exactly once, at startup.
func (c *Coordinator) hydrate() {
	msgs, err := c.ledger.GetRecent(c.hydrateLimit)
	if err != nil {
		c.logger.Error("hydration load failed", zap.Error(err))
	} else if len(msgs) > 0 {
		c.Dispatch(state.HydrationMerge{Msgs: msgs})
	}
	c.Dispatch(state.HydrationDone{})
	c.bus.Publish(bus.Event{Kind: bus.KindHydrated, Timestamp: time.Now()})
	c.logger.Info("hydration complete", zap.Int("messages", len(msgs)))
}
