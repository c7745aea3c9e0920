package mail

import (
	"context"
	"errors"
	"sync"
)

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message represents an outbound plain-text email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MemoryMailer keeps sent messages in memory. Useful for tests and local runs.
type MemoryMailer struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// NewMemoryMailer returns an empty in-memory mailer.
func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

// FailWith makes subsequent Send calls return err. Pass nil to clear.
func (m *MemoryMailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Send records msg unless a failure has been configured or ctx is done.
func (m *MemoryMailer) Send(ctx context.Context, msg Message) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of every recorded message.
func (m *MemoryMailer) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Last returns the most recent message and whether one exists.
func (m *MemoryMailer) Last() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}
