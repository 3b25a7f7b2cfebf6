// Package mail defines the mailbox capability used to send deletion requests
// and read replies, plus helpers for turning raw messages into clean text.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMailServiceInit is returned by every operation of a mailbox that could
// not be initialised (missing credentials, failed OAuth).
var ErrMailServiceInit = errors.New("mail service not initialised")

// OperationError wraps a provider failure with the operation name.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("mail %s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// MessageRef identifies a message in the mailbox.
type MessageRef struct {
	ID       string
	ThreadID string
}

// Part is one decoded MIME leaf.
type Part struct {
	MimeType string
	Body     []byte
}

// Message is a fetched message with lower-cased header names.
type Message struct {
	ID       string
	Headers  map[string]string
	Parts    []Part
	Snippet  string
	Received time.Time
}

// Header returns a header value, ignoring case.
func (m Message) Header(name string) string {
	return m.Headers[strings.ToLower(name)]
}

// From returns the From header.
func (m Message) From() string { return m.Header("From") }

// Subject returns the Subject header.
func (m Message) Subject() string { return m.Header("Subject") }

// Date returns the Date header.
func (m Message) Date() string { return m.Header("Date") }

// Outgoing is a message to send. HTML is optional.
type Outgoing struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Validate checks the minimum needed to send.
func (o Outgoing) Validate() error {
	if len(o.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, to := range o.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("invalid recipient %q", to)
		}
	}
	if strings.TrimSpace(o.Subject) == "" {
		return errors.New("subject is required")
	}
	if strings.TrimSpace(o.Text) == "" && strings.TrimSpace(o.HTML) == "" {
		return errors.New("body is required")
	}
	return nil
}

// Reader is the read side of a mailbox.
type Reader interface {
	// ListUnread returns up to max unread inbox messages, newest first.
	ListUnread(ctx context.Context, max int) ([]MessageRef, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	MarkRead(ctx context.Context, id string) error
}

// Sender sends mail and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Outgoing) (string, error)
}

// Service is a full mailbox.
type Service interface {
	Reader
	Sender
}

// Disabled is a Service whose every call fails with ErrMailServiceInit.
type Disabled struct {
	Reason error
}

var _ Service = Disabled{}

func (d Disabled) err(op string) error {
	if d.Reason == nil {
		return &OperationError{Op: op, Err: ErrMailServiceInit}
	}
	return &OperationError{Op: op, Err: fmt.Errorf("%w: %v", ErrMailServiceInit, d.Reason)}
}

// ListUnread fails with ErrMailServiceInit.
func (d Disabled) ListUnread(context.Context, int) ([]MessageRef, error) {
	return nil, d.err("list")
}

// GetMessage fails with ErrMailServiceInit.
func (d Disabled) GetMessage(context.Context, string) (Message, error) {
	return Message{}, d.err("get")
}

// MarkRead fails with ErrMailServiceInit.
func (d Disabled) MarkRead(context.Context, string) error {
	return d.err("modify")
}

// Send fails with ErrMailServiceInit.
func (d Disabled) Send(context.Context, Outgoing) (string, error) {
	return "", d.err("send")
}
