// Package testutil holds in-memory stand-ins for connections, stores and the
// speech collaborators, shared by package tests.
package testutil

import (
	"errors"
	"sync"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

var (
	ErrFakeClosed        = errors.New("fake connection closed")
	ErrFakeAssociated    = errors.New("fake connection already associated")
	ErrFakeStoreDisabled = errors.New("fake store failure")
)

// FakeConn records everything sent to it.
type FakeConn struct {
	id    string
	langs []string

	mu       sync.Mutex
	code     string
	role     types.Role
	messages []types.Outbound
	closed   bool
	sendErr  error
}

var _ interfaces.Connection = (*FakeConn)(nil)

// NewFakeConn creates a connection; langs defaults to Spanish.
func NewFakeConn(id string, langs ...string) *FakeConn {
	if len(langs) == 0 {
		langs = []string{"Spanish"}
	}
	return &FakeConn{id: id, langs: langs}
}

func (c *FakeConn) ID() string { return c.id }

func (c *FakeConn) Send(msg types.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return ErrFakeClosed
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *FakeConn) SendAndClose(msg types.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrFakeClosed
	}
	c.messages = append(c.messages, msg)
	c.closed = true
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *FakeConn) Association() (string, types.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.role
}

func (c *FakeConn) SetAssociation(code string, role types.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != types.RoleNone {
		return ErrFakeAssociated
	}
	c.code, c.role = code, role
	return nil
}

func (c *FakeConn) TargetLanguages() []string {
	return append([]string(nil), c.langs...)
}

// FailSends makes every later Send return err.
func (c *FakeConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Messages returns a copy of everything delivered so far.
func (c *FakeConn) Messages() []types.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Outbound(nil), c.messages...)
}

// OfType filters delivered messages by type tag.
func (c *FakeConn) OfType(messageType string) []types.Outbound {
	var out []types.Outbound
	for _, m := range c.Messages() {
		if m.MessageType() == messageType {
			out = append(out, m)
		}
	}
	return out
}

// Types lists the type tags of delivered messages in order.
func (c *FakeConn) Types() []string {
	msgs := c.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageType()
	}
	return out
}

// Reset drops recorded messages.
func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
