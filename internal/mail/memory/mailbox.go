// Package memory provides an in-process mailbox for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/erasure/internal/mail"
)

// Mailbox is a thread-safe mail.Service backed by slices. Delivered messages
// show up as unread; sent messages are recorded for inspection.
type Mailbox struct {
	mu       sync.Mutex
	messages []mail.Message
	unread   map[string]bool
	sent     []mail.Outgoing
	seq      int
	listErr  error
	sendErr  error
	lists    int
}

var _ mail.Service = (*Mailbox)(nil)

// New returns an empty mailbox.
func New() *Mailbox {
	return &Mailbox{unread: make(map[string]bool)}
}

// Deliver adds an unread message and returns its id. Empty ids are assigned.
func (m *Mailbox) Deliver(msg mail.Message) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", m.seq)
	}
	if msg.Received.IsZero() {
		msg.Received = time.Now()
	}
	m.messages = append(m.messages, msg)
	m.unread[msg.ID] = true
	return msg.ID
}

// FailList makes ListUnread return err until reset with nil.
func (m *Mailbox) FailList(err error) {
	m.mu.Lock()
	m.listErr = err
	m.mu.Unlock()
}

// FailSend makes Send return err until reset with nil.
func (m *Mailbox) FailSend(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// ListUnread returns unread messages newest first.
func (m *Mailbox) ListUnread(ctx context.Context, max int) ([]mail.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.listErr != nil {
		return nil, &mail.OperationError{Op: "list", Err: m.listErr}
	}
	var refs []mail.MessageRef
	for i := len(m.messages) - 1; i >= 0; i-- {
		if max > 0 && len(refs) >= max {
			break
		}
		id := m.messages[i].ID
		if m.unread[id] {
			refs = append(refs, mail.MessageRef{ID: id, ThreadID: id})
		}
	}
	return refs, nil
}

// GetMessage returns a delivered message by id.
func (m *Mailbox) GetMessage(ctx context.Context, id string) (mail.Message, error) {
	if err := ctx.Err(); err != nil {
		return mail.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return mail.Message{}, &mail.OperationError{Op: "get", Err: fmt.Errorf("message %q not found", id)}
}

// MarkRead clears the unread flag.
func (m *Mailbox) MarkRead(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.unread[id]; !ok {
		return &mail.OperationError{Op: "modify", Err: fmt.Errorf("message %q not found", id)}
	}
	m.unread[id] = false
	return nil
}

// Send validates and records msg.
func (m *Mailbox) Send(ctx context.Context, msg mail.Outgoing) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := msg.Validate(); err != nil {
		return "", &mail.OperationError{Op: "send", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", &mail.OperationError{Op: "send", Err: m.sendErr}
	}
	m.seq++
	msg.To = slices.Clone(msg.To)
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("sent-%d", m.seq), nil
}

// Sent returns a copy of everything sent so far.
func (m *Mailbox) Sent() []mail.Outgoing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// ListCalls reports how many times ListUnread was called.
func (m *Mailbox) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

// IsUnread reports whether id is still unread.
func (m *Mailbox) IsUnread(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[id]
}
