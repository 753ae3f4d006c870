package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPConfig configures one transport endpoint. Zero values fall back to
// plain port 25 with the default timeout.
type SMTPConfig struct {
	Host          string
	Port          int
	LocalHostname string
	Timeout       time.Duration
	StartTLS      bool
	TLSConfig     *tls.Config
}

// SMTPTransport submits a message over one SMTP session per Submit call and
// reports per-recipient acceptance from the RCPT dialogue.
type SMTPTransport struct {
	cfg SMTPConfig
	now func() time.Time
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}

	return &SMTPTransport{cfg: cfg, now: time.Now}, nil
}

func (t *SMTPTransport) Submit(ctx context.Context, msg Message, recipients []string) ([]RecipientOutcome, error) {
	if t == nil {
		return nil, fmt.Errorf("transport is not initialized")
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("recipients are required")
	}
	if strings.TrimSpace(msg.Envelope.From) == "" {
		return nil, fmt.Errorf("sender address is required")
	}

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, sessionError("dial", !errors.Is(err, context.Canceled), err)
	}
	// One deadline covers the whole session; a stuck server cannot hold the
	// cycle past the configured timeout.
	_ = conn.SetDeadline(t.now().Add(t.cfg.Timeout))

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, sessionError("handshake", true, err)
	}
	defer client.Close()

	if hostname := strings.TrimSpace(t.cfg.LocalHostname); hostname != "" {
		if err := client.Hello(hostname); err != nil {
			return nil, sessionError("ehlo", isTransientSMTPError(err), err)
		}
	}

	if t.cfg.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return nil, sessionError("starttls", false, fmt.Errorf("server does not support STARTTLS"))
		}
		tlsCfg := t.cfg.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: t.cfg.Host}
		}
		if err := client.StartTLS(tlsCfg); err != nil {
			return nil, sessionError("starttls", isTransientSMTPError(err), err)
		}
	}

	if err := client.Mail(msg.Envelope.From); err != nil {
		return nil, sessionError("mail from", isTransientSMTPError(err), err)
	}

	outcomes := make([]RecipientOutcome, 0, len(recipients))
	accepted := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			code, reason := rejectionFromError(err)
			outcomes = append(outcomes, RecipientOutcome{
				Recipient: recipient,
				Code:      code,
				Reason:    reason,
			})
			continue
		}
		accepted = append(accepted, recipient)
	}

	if len(accepted) == 0 {
		_ = client.Quit()
		return outcomes, nil
	}

	writer, err := client.Data()
	if err != nil {
		return nil, sessionError("data", isTransientSMTPError(err), err)
	}
	if _, err := t.buildMIME(msg, accepted).WriteTo(writer); err != nil {
		_ = writer.Close()
		return nil, sessionError("write body", true, err)
	}
	if err := writer.Close(); err != nil {
		return nil, sessionError("close body", isTransientSMTPError(err), err)
	}
	_ = client.Quit()

	for _, recipient := range accepted {
		outcomes = append(outcomes, RecipientOutcome{Recipient: recipient, Accepted: true})
	}
	return outcomes, nil
}

func (t *SMTPTransport) buildMIME(msg Message, recipients []string) *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	m.SetHeader("From", msg.Envelope.From)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", msg.Envelope.Subject)
	m.SetDateHeader("Date", t.now())
	if msg.ID != "" {
		m.SetHeader("Message-ID", msg.ID)
	}
	if msg.Envelope.HTML {
		m.SetBody("text/html", msg.Envelope.Body)
	} else {
		m.SetBody("text/plain", msg.Envelope.Body)
	}
	return m
}

// rejectionFromError extracts the backend code and reason from a RCPT error.
func rejectionFromError(err error) (int, string) {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code, strings.TrimSpace(protoErr.Msg)
	}
	return 0, strings.TrimSpace(err.Error())
}

// isTransientSMTPError treats 4xx replies and network timeouts as transient
// and 5xx replies as permanent.
func isTransientSMTPError(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return true
}
