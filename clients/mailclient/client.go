// Package mailclient sends plain-text mail over SMTP. It implements
// logging.Mailer for alert mails and the final run report.
package mailclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/nomis52/gosync/config"
)

const (
	// DefaultPort is used when the configuration leaves the port empty.
	DefaultPort = 25
	// DefaultTimeout bounds one complete SMTP exchange.
	DefaultTimeout = 30 * time.Second
)

// ErrNoRecipients is returned when SendMail is called without recipients.
var ErrNoRecipients = errors.New("no recipients")

// Client sends mail through a single SMTP relay.
type Client struct {
	host     string
	addr     string
	from     string
	username string
	password string
	timeout  time.Duration
	dialer   *net.Dialer
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the time source for the Date header.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a client for the relay described by cfg. from is the
// envelope and header sender, usually the site's mail_from address.
func New(cfg config.MailConfig, from string, opts ...Option) *Client {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		host:     cfg.Host,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		from:     from,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		dialer:   &net.Dialer{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMail sends a plain-text message to every recipient. STARTTLS is used
// when the server offers it; credentials are only sent when configured.
func (c *Client) SendMail(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if c.username != "" {
		if err := client.Auth(smtp.PlainAuth("", c.username, c.password, c.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(c.from); err != nil {
		return fmt.Errorf("mail from %q: %w", c.from, err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %q: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(c.compose(to, subject, body)); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return client.Quit()
}

// compose renders the message headers and a quoted-printable UTF-8 body.
func (c *Client) compose(to []string, subject, body string) []byte {
	var buf bytes.Buffer
	header := func(name, value string) {
		buf.WriteString(name + ": " + value + "\r\n")
	}
	header("From", c.from)
	header("To", strings.Join(to, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", c.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n")))
	_ = qp.Close()
	return buf.Bytes()
}
