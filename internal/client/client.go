// Package client is the surface presentation code talks to: a read-only
// snapshot plus imperative actions. It owns no state of its own.
package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrefarinha/courier/internal/state"
	"github.com/andrefarinha/courier/internal/wire"
)

// ErrEmptyMessage is returned for sends with no recipient or no body.
var ErrEmptyMessage = errors.New("empty recipient or body")

// Transport is the connection manager as seen by the facade.
type Transport interface {
	Connect(ctx context.Context) error
	Reconnect() error
	Send(out wire.Outbound) error
	Open() bool
	Close()
}

// Dispatcher is the coordinator as seen by the facade.
type Dispatcher interface {
	Dispatch(ev state.Event)
	Snapshot() state.Snapshot
}

// Client exposes the sync core to presentation code.
type Client struct {
	self      string
	transport Transport
	coord     Dispatcher
	logger    *zap.Logger
}

// New creates a client facade for the given self identity.
func New(self string, transport Transport, coord Dispatcher, logger *zap.Logger) *Client {
	return &Client{self: self, transport: transport, coord: coord, logger: logger}
}

// Connect opens the transport session.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Close tears the transport down.
func (c *Client) Close() {
	c.transport.Close()
}

// Snapshot returns the current read-only view.
func (c *Client) Snapshot() state.Snapshot {
	return c.coord.Snapshot()
}

// SendMessage records an optimistic message and pushes it to the server.
// The returned local id identifies the message for its whole lifetime. A
// transport failure surfaces as a failed status on the message, not as an
// error here.
func (c *Client) SendMessage(to, body string) (string, error) {
	if to == "" || strings.TrimSpace(body) == "" {
		return "", ErrEmptyMessage
	}
	localID := uuid.NewString()
	msg := state.Message{
		LocalID:   localID,
		From:      c.self,
		To:        to,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
		Status:    state.StatusSending,
	}
	c.coord.Dispatch(state.SendIntent{Msg: msg})

	if err := c.transport.Send(wire.SendMessage(to, body, localID)); err != nil {
		c.logger.Warn("send failed", zap.String("local_id", localID), zap.Error(err))
		c.coord.Dispatch(state.SendFailed{LocalID: localID})
	}
	return localID, nil
}

// StartTyping signals the peer that we are composing. Best effort: a
// closed transport drops the signal.
func (c *Client) StartTyping(to string) {
	if err := c.transport.Send(wire.TypingStart(to)); err != nil {
		c.logger.Debug("typing signal dropped", zap.Error(err))
	}
}

// StopTyping signals the peer that we stopped composing.
func (c *Client) StopTyping(to string) {
	if err := c.transport.Send(wire.TypingStop(to)); err != nil {
		c.logger.Debug("typing signal dropped", zap.Error(err))
	}
}

// MarkRead flips the peer's messages to read and emits a read receipt.
func (c *Client) MarkRead(peer string) {
	c.coord.Dispatch(state.LocalRead{Peer: peer})
}

// ClearConversation removes a conversation from memory and the ledger.
func (c *Client) ClearConversation(peer string) {
	c.coord.Dispatch(state.ClearConversation{Peer: peer})
}

// ForceReconnect resets the retry budget and dials immediately.
func (c *Client) ForceReconnect() error {
	return c.transport.Reconnect()
}
