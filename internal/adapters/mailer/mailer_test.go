package mailer

import (
	"context"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/taskmanager-api/config"
	"github.com/target/taskmanager-api/internal/domain/model"
)

type receivedMail struct {
	from string
	rcpt []string
	data string
}

// fakeSMTP accepts one session and reports what it received.
func fakeSMTP(t *testing.T, rejectRcpt bool) (string, <-chan receivedMail) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan receivedMail, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		var got receivedMail

		_ = tp.PrintfLine("220 fake ESMTP")
		for {
			line, readErr := tp.ReadLine()
			if readErr != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				_ = tp.PrintfLine("250 fake")
			case strings.HasPrefix(cmd, "MAIL FROM:"):
				got.from = strings.Trim(line[len("MAIL FROM:"):], "<> ")
				_ = tp.PrintfLine("250 ok")
			case strings.HasPrefix(cmd, "RCPT TO:"):
				if rejectRcpt {
					_ = tp.PrintfLine("550 no such user")
					continue
				}
				got.rcpt = append(got.rcpt, strings.Trim(line[len("RCPT TO:"):], "<> "))
				_ = tp.PrintfLine("250 ok")
			case cmd == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				body, dataErr := tp.ReadDotBytes()
				if dataErr != nil {
					return
				}
				got.data = string(body)
				_ = tp.PrintfLine("250 queued")
			case cmd == "QUIT":
				_ = tp.PrintfLine("221 bye")
				out <- got
				return
			default:
				_ = tp.PrintfLine("250 ok")
			}
		}
	}()
	return ln.Addr().String(), out
}

func smtpConfig(t *testing.T, addr string) config.MailConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return config.MailConfig{
		Transport:   config.MailTransportSMTP,
		From:        "Task Manager <noreply@example.com>",
		SMTPHost:    host,
		SMTPPort:    p,
		SMTPTimeout: 5 * time.Second,
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	addr, received := fakeSMTP(t, false)
	m, err := NewSMTPMailer(smtpConfig(t, addr), nil)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2024, 6, 24, 12, 0, 0, 0, time.UTC) }

	err = m.Send(context.Background(), model.Email{
		Subject:    "You've assigned a task.",
		HTMLBody:   "<p>Hello</p>\n<p>Bye</p>",
		Recipients: []string{" dev@example.com ", ""},
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "noreply@example.com", got.from)
		assert.Equal(t, []string{"dev@example.com"}, got.rcpt)
		assert.Contains(t, got.data, "Subject: You've assigned a task.")
		assert.Contains(t, got.data, "Date: Mon, 24 Jun 2024 12:00:00 +0000")
		assert.Contains(t, got.data, "Content-Type: text/html; charset=UTF-8")
		assert.Contains(t, got.data, "<p>Hello</p>")
		assert.Contains(t, got.data, "<p>Bye</p>")
	case <-time.After(5 * time.Second):
		t.Fatal("fake smtp server received nothing")
	}
}

func TestSMTPMailer_RecipientRejected(t *testing.T) {
	addr, _ := fakeSMTP(t, true)
	m, err := NewSMTPMailer(smtpConfig(t, addr), nil)
	require.NoError(t, err)

	err = m.Send(context.Background(), model.Email{
		Subject:    "s",
		HTMLBody:   "b",
		Recipients: []string{"nobody@example.com"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RCPT TO")
	assert.Contains(t, err.Error(), "nobody@example.com")
}

func TestSMTPMailer_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m, err := NewSMTPMailer(smtpConfig(t, addr), nil)
	require.NoError(t, err)
	err = m.Send(context.Background(), model.Email{Subject: "s", Recipients: []string{"a@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial failed")
}

func TestNewSMTPMailer_Validation(t *testing.T) {
	_, err := NewSMTPMailer(config.MailConfig{From: "a@example.com"}, nil)
	require.Error(t, err)

	_, err = NewSMTPMailer(config.MailConfig{SMTPHost: "localhost", From: "not an address"}, nil)
	require.Error(t, err)
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer(nil)

	err := m.Send(context.Background(), model.Email{Subject: "s", Recipients: []string{"  "}})
	require.ErrorIs(t, err, ErrNoRecipients)

	err = m.Send(context.Background(), model.Email{Subject: "s", Recipients: []string{"Dev <dev@example.com>"}})
	require.NoError(t, err)

	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"dev@example.com"}, sent[0].Recipients)
}

func TestNew(t *testing.T) {
	m, err := New(config.MailConfig{Transport: config.MailTransportLog}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogMailer{}, m)

	_, err = New(config.MailConfig{Transport: "pigeon"}, nil)
	require.Error(t, err)
}

func TestSMTPMailer_RejectsHeaderInjection(t *testing.T) {
	m, err := NewSMTPMailer(config.MailConfig{SMTPHost: "127.0.0.1", From: "a@example.com"}, nil)
	require.NoError(t, err)

	err = m.Send(context.Background(), model.Email{
		Subject:    "hi\r\nBcc: evil@example.com",
		Recipients: []string{"b@example.com"},
	})
	require.EqualError(t, err, "subject must be a single line")
}

func TestSMTPMailer_ClientOptions(t *testing.T) {
	m, err := NewSMTPMailer(config.MailConfig{SMTPHost: "mail.example.com", From: "a@example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 25, m.port)
	assert.Len(t, m.clientOptions(), 2)

	m, err = NewSMTPMailer(config.MailConfig{
		SMTPHost:     "mail.example.com",
		SMTPPort:     587,
		From:         "a@example.com",
		SMTPUsername: "svc",
		SMTPPassword: "secret",
		SMTPTimeout:  time.Second,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com:587", m.addr)
	assert.Len(t, m.clientOptions(), 6)
}
