// Package mailer delivers rendered email over SMTP or, in development, to the log.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	netmail "net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/target/taskmanager-api/config"
	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/domain/model"
)

// ErrNoRecipients is returned when a message has no usable recipient.
var ErrNoRecipients = errors.New("email has no recipients")

// SMTPMailer sends HTML email through an SMTP relay.
type SMTPMailer struct {
	addr     string
	host     string
	port     int
	from     string
	username string
	password string
	timeout  time.Duration
	logger   *slog.Logger

	now func() time.Time
}

var _ core.Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer builds a mailer from MAIL_/SMTP_ settings.
func NewSMTPMailer(cfg config.MailConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("smtp host is required")
	}
	if _, err := netmail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid MAIL_FROM %q: %w", cfg.From, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	port := cfg.SMTPPort
	if port <= 0 {
		port = mail.DefaultPort
	}
	return &SMTPMailer{
		addr:     net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(port)),
		host:     cfg.SMTPHost,
		port:     port,
		from:     cfg.From,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		timeout:  cfg.SMTPTimeout,
		logger:   logger.With("component", "smtp_mailer"),
		now:      time.Now,
	}, nil
}

// Send delivers msg to every recipient in one SMTP transaction.
// STARTTLS is used when the relay offers it.
func (m *SMTPMailer) Send(ctx context.Context, msg model.Email) error {
	recipients, err := normalizeRecipients(msg.Recipients)
	if err != nil {
		return err
	}
	message, err := m.newMessage(recipients, msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(m.host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("configure smtp client: %w", err)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	if err := client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("smtp %s: %w", m.addr, err)
	}

	m.logger.InfoContext(ctx, "email sent", "subject", msg.Subject, "recipients", len(recipients))
	return nil
}

func (m *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.timeout))
	}
	if m.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.username),
			mail.WithPassword(m.password),
		)
	}
	return opts
}

func (m *SMTPMailer) newMessage(recipients []string, msg model.Email) (*mail.Msg, error) {
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return nil, errors.New("subject must be a single line")
	}
	message := mail.NewMsg()
	if err := message.From(m.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := message.To(recipients...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	message.Subject(msg.Subject)
	message.SetDateWithValue(m.now())
	message.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	return message, nil
}

// LogMailer records messages and writes them to the log instead of sending.
type LogMailer struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []model.Email
}

var _ core.Mailer = (*LogMailer)(nil)

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger.With("component", "log_mailer")}
}

// Send logs msg. Invalid recipients fail exactly like the SMTP mailer.
func (m *LogMailer) Send(ctx context.Context, msg model.Email) error {
	recipients, err := normalizeRecipients(msg.Recipients)
	if err != nil {
		return err
	}
	msg.Recipients = recipients

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "email logged",
		"subject", msg.Subject,
		"recipients", recipients,
		"html_bytes", len(msg.HTMLBody),
	)
	return nil
}

// Sent returns a copy of every message passed to Send.
func (m *LogMailer) Sent() []model.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Email(nil), m.sent...)
}

// New selects the transport named by cfg.Transport.
//
//nolint:ireturn // transport is chosen at runtime.
func New(cfg config.MailConfig, logger *slog.Logger) (core.Mailer, error) {
	switch cfg.Transport {
	case config.MailTransportLog:
		return NewLogMailer(logger), nil
	case config.MailTransportSMTP, "":
		return NewSMTPMailer(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

func normalizeRecipients(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		addr, err := netmail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", r, err)
		}
		out = append(out, addr.Address)
	}
	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}
