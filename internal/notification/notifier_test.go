package notification

import (
	"Cerberus/internal/config"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func testConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Host: "mail.example.com",
		Port: 587,
		From: "cerberus@example.com",
		To:   "soc@example.com, oncall@example.com,",
	}
}

func TestEmailNotifierSend(t *testing.T) {
	n, err := NewEmailNotifier(testConfig())
	if err != nil {
		t.Fatalf("NewEmailNotifier: %v", err)
	}

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	if err := n.Send("Cerberus Alert Digest", "<p>hi</p>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "mail.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 2 || gotTo[1] != "oncall@example.com" {
		t.Errorf("recipients = %v", gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{"Subject: Cerberus Alert Digest\r\n", "Content-Type: text/html; charset=UTF-8\r\n", "\r\n\r\n<p>hi</p>"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestEmailNotifierWrapsError(t *testing.T) {
	n, _ := NewEmailNotifier(testConfig())
	sentinel := errors.New("connection refused")
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return sentinel }

	if err := n.Send("s", "b"); !errors.Is(err, sentinel) {
		t.Errorf("Send error = %v, want wrapped sentinel", err)
	}
}

func TestMessageHeaders(t *testing.T) {
	n, _ := NewEmailNotifier(testConfig())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := string(n.message("subj", "body", at))
	if !strings.HasPrefix(msg, "To: soc@example.com, oncall@example.com\r\n") {
		t.Errorf("unexpected To header:\n%s", msg)
	}
	if !strings.Contains(msg, "Date: Wed, 01 May 2024 12:00:00 +0000\r\n") {
		t.Errorf("unexpected Date header:\n%s", msg)
	}
}

func TestNewFallsBackToLog(t *testing.T) {
	if _, ok := New(config.SMTPConfig{}).(LogNotifier); !ok {
		t.Error("expected LogNotifier without SMTP host")
	}
	cfg := testConfig()
	cfg.To = " , "
	if _, ok := New(cfg).(LogNotifier); !ok {
		t.Error("expected LogNotifier without recipients")
	}
	if _, ok := New(testConfig()).(*EmailNotifier); !ok {
		t.Error("expected EmailNotifier")
	}
}
