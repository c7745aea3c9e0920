package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/pkg/mail"
)

const (
	defaultNotifyTimeout = 10 * time.Second
	loginEmailSubject    = "Sign-in confirmation required"
)

// LoginNotification carries what the account owner needs to decide on a sign-in.
type LoginNotification struct {
	User       *models.User
	Attempt    *models.LoginAttempt
	ApproveURL string
	DenyURL    string
	ExpiresIn  time.Duration
}

// LoginNotifier delivers approve/deny links out of band.
type LoginNotifier interface {
	NotifyLogin(ctx context.Context, n LoginNotification) error
}

// MailNotifierOption customises the mail-backed notifier.
type MailNotifierOption func(*mailLoginNotifier)

// WithNotifierFrom overrides the From address on outgoing messages.
func WithNotifierFrom(from string) MailNotifierOption {
	return func(n *mailLoginNotifier) {
		n.from = strings.TrimSpace(from)
	}
}

// WithNotifierTimeout bounds each delivery.
func WithNotifierTimeout(timeout time.Duration) MailNotifierOption {
	return func(n *mailLoginNotifier) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

type mailLoginNotifier struct {
	mailer  mail.Mailer
	from    string
	timeout time.Duration
}

// NewMailLoginNotifier sends plain-text verification emails through mailer.
func NewMailLoginNotifier(mailer mail.Mailer, opts ...MailNotifierOption) (LoginNotifier, error) {
	if mailer == nil {
		return nil, errors.New("login notifier: mailer is required")
	}
	n := &mailLoginNotifier{mailer: mailer, timeout: defaultNotifyTimeout}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *mailLoginNotifier) NotifyLogin(ctx context.Context, note LoginNotification) error {
	if note.User == nil || note.Attempt == nil {
		return errors.New("login notifier: user and attempt are required")
	}
	email := strings.TrimSpace(note.User.Email)
	if email == "" {
		return errors.New("login notifier: user has no email address")
	}

	ctx, cancel := context.WithTimeout(ensureContext(ctx), n.timeout)
	defer cancel()

	msg := mail.Message{
		From:    n.from,
		To:      []string{email},
		Subject: loginEmailSubject,
		Body:    loginEmailBody(note),
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("login notifier: send: %w", err)
	}
	return nil
}

func loginEmailBody(note LoginNotification) string {
	greeting := strings.TrimSpace(note.User.FirstName)
	if greeting == "" {
		greeting = note.User.Username
	}
	attempt := note.Attempt
	minutes := int(note.ExpiresIn.Round(time.Minute) / time.Minute)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", greeting)
	b.WriteString("A sign-in to your account was just attempted:\n\n")
	fmt.Fprintf(&b, "  Location: %s, %s\n", attempt.City, attempt.Country)
	fmt.Fprintf(&b, "  Browser:  %s\n", attempt.Browser)
	fmt.Fprintf(&b, "  System:   %s\n", attempt.OS)
	fmt.Fprintf(&b, "  IP:       %s\n", attempt.IPAddress)
	fmt.Fprintf(&b, "  Time:     %s\n\n", attempt.CreatedAt.UTC().Format("02/01/2006 15:04 MST"))
	b.WriteString("Was this you?\n\n")
	fmt.Fprintf(&b, "  Yes, approve: %s\n", note.ApproveURL)
	fmt.Fprintf(&b, "  No, deny:     %s\n\n", note.DenyURL)
	if minutes > 0 {
		fmt.Fprintf(&b, "These links expire in %d minutes.\n\n", minutes)
	}
	b.WriteString("If you did not try to sign in, deny the request and change your password.\n")
	return b.String()
}
