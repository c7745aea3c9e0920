package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

type fakeSMTPClient struct {
	from   string
	rcpts  []string
	body   bytes.Buffer
	quit   bool
	rcptFn func(string) error
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (f *fakeSMTPClient) Mail(from string) error { f.from = from; return nil }
func (f *fakeSMTPClient) Rcpt(to string) error {
	if f.rcptFn != nil {
		if err := f.rcptFn(to); err != nil {
			return err
		}
	}
	f.rcpts = append(f.rcpts, to)
	return nil
}
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) { return nopWriteCloser{&f.body}, nil }
func (f *fakeSMTPClient) Quit() error                   { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error                  { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error    { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error          { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string) {
	return false, ""
}

func newFakeMailer(t *testing.T, client *fakeSMTPClient) *smtpMailer {
	t.Helper()
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "no-reply@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error creating mailer: %v", err)
	}
	sm := mailer.(*smtpMailer)
	sm.dialFn = func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
		local, remote := net.Pipe()
		t.Cleanup(func() { _ = remote.Close() })
		return local, client, nil
	}
	sm.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return sm
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	if err == nil || !strings.Contains(err.Error(), "host is required") {
		t.Fatalf("expected host validation error, got %v", err)
	}

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	if err == nil || !strings.Contains(err.Error(), "port is required") {
		t.Fatalf("expected port validation error, got %v", err)
	}

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	if err != nil {
		t.Fatalf("expected disabled configuration to succeed: %v", err)
	}
	if mailer == nil {
		t.Fatal("expected mailer to be returned")
	}
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error creating mailer: %v", err)
	}

	err = mailer.Send(context.Background(), Message{
		To:      []string{"test@example.com"},
		Subject: "Test",
		Body:    "Hello",
	})
	if !errors.Is(err, ErrSMTPDisabled) {
		t.Fatalf("expected ErrSMTPDisabled, got %v", err)
	}
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    465,
		UseTLS:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error creating mailer: %v", err)
	}

	if got := mailer.(*smtpMailer).cfg.Timeout; got != defaultSMTPTimeout {
		t.Fatalf("expected timeout to be %v, got %v", defaultSMTPTimeout, got)
	}
}

func TestSMTPMailerSendDelivers(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newFakeMailer(t, client)

	err := mailer.Send(context.Background(), Message{
		To:      []string{"alice@example.com", " alice@example.com "},
		Subject: "Verify your login",
		Body:    "Approve: https://example.com",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if client.from != "no-reply@example.com" {
		t.Fatalf("expected configured sender, got %q", client.from)
	}
	if len(client.rcpts) != 1 || client.rcpts[0] != "alice@example.com" {
		t.Fatalf("unexpected recipients %v", client.rcpts)
	}
	if !client.quit {
		t.Fatal("expected QUIT to be sent")
	}
	body := client.body.String()
	if !strings.Contains(body, "Subject: Verify your login\r\n") {
		t.Fatalf("expected subject header, got %q", body)
	}
	if !strings.Contains(body, "Date: Sat, 01 Mar 2025 12:00:00 +0000") {
		t.Fatalf("expected date header, got %q", body)
	}
	if !strings.HasSuffix(body, "\r\n\r\nApprove: https://example.com") {
		t.Fatalf("expected blank line before body, got %q", body)
	}
}

func TestSMTPMailerSendPropagatesRcptError(t *testing.T) {
	client := &fakeSMTPClient{rcptFn: func(string) error { return errors.New("mailbox unavailable") }}
	mailer := newFakeMailer(t, client)

	err := mailer.Send(context.Background(), Message{To: []string{"alice@example.com"}})
	if err == nil || !strings.Contains(err.Error(), "rcpt to alice@example.com") {
		t.Fatalf("expected rcpt error, got %v", err)
	}
}

func TestSMTPMailerSendRequiresRecipients(t *testing.T) {
	mailer := newFakeMailer(t, &fakeSMTPClient{})

	err := mailer.Send(context.Background(), Message{To: []string{"   ", "\t"}})
	if err == nil || !strings.Contains(err.Error(), "at least one recipient") {
		t.Fatalf("expected missing recipient error, got %v", err)
	}
}

func TestSMTPMailerSendValidatesAddresses(t *testing.T) {
	mailer := newFakeMailer(t, &fakeSMTPClient{})

	err := mailer.Send(context.Background(), Message{From: "invalid-from", To: []string{"user@example.com"}})
	if err == nil || !strings.Contains(err.Error(), "invalid from address") {
		t.Fatalf("expected invalid from error, got %v", err)
	}

	err = mailer.Send(context.Background(), Message{To: []string{"user@example.com", "bad-address"}})
	if err == nil || !strings.Contains(err.Error(), "invalid recipient address") {
		t.Fatalf("expected invalid recipient error, got %v", err)
	}
}

func TestFormatMessageSanitisesSubject(t *testing.T) {
	content := formatMessage("from@example.com", []string{"to@example.com"}, "Subject\r\nBreak", "Body", time.Unix(0, 0))
	if !strings.Contains(content, "Subject: Subject  Break") {
		t.Fatalf("expected sanitised subject, got %q", content)
	}
}

func TestMemoryMailerRecordsAndFails(t *testing.T) {
	mailer := NewMemoryMailer()
	if _, ok := mailer.Last(); ok {
		t.Fatal("expected no messages")
	}

	if err := mailer.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "one"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	last, ok := mailer.Last()
	if !ok || last.Subject != "one" {
		t.Fatalf("unexpected last message %+v", last)
	}

	boom := errors.New("boom")
	mailer.FailWith(boom)
	if err := mailer.Send(context.Background(), Message{}); !errors.Is(err, boom) {
		t.Fatalf("expected configured failure, got %v", err)
	}
	if len(mailer.Messages()) != 1 {
		t.Fatal("expected failed send not to be recorded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mailer.FailWith(nil)
	if err := mailer.Send(ctx, Message{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
