package mailclient

import (
	"context"
	"io"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosync/config"
)

// Test Helpers
// ---------------------------------------------------------------------

type receivedMail struct {
	from string
	to   []string
	data string
}

// smtpServer speaks just enough SMTP for net/smtp: no STARTTLS, no AUTH.
type smtpServer struct {
	ln     net.Listener
	reject string

	mu    sync.Mutex
	mails []receivedMail
}

func startSMTPServer(t *testing.T) *smtpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &smtpServer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *smtpServer) config() config.MailConfig {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return config.MailConfig{Host: host, Port: p, Timeout: 5 * time.Second}
}

func (s *smtpServer) received() []receivedMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]receivedMail(nil), s.mails...)
}

func (s *smtpServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpServer) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")

	var current receivedMail
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			_ = tp.PrintfLine("250-localhost")
			_ = tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(cmd, "HELO"):
			_ = tp.PrintfLine("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			current = receivedMail{from: angleAddr(line)}
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			addr := angleAddr(line)
			if addr == s.reject {
				_ = tp.PrintfLine("550 no such user")
				continue
			}
			current.to = append(current.to, addr)
			_ = tp.PrintfLine("250 OK")
		case cmd == "DATA":
			_ = tp.PrintfLine("354 end with .")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			current.data = string(data)
			s.mu.Lock()
			s.mails = append(s.mails, current)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case cmd == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 OK")
		}
	}
}

func angleAddr(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start < 0 || end < start {
		return ""
	}
	return line[start+1 : end]
}

// Tests
// ---------------------------------------------------------------------

// TestClient_SendMail tests a complete SMTP exchange and the message layout.
func TestClient_SendMail(t *testing.T) {
	server := startSMTPServer(t)
	date := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	client := New(server.config(), "sync@example.com", WithClock(func() time.Time { return date }))

	body := "[2024-03-01 02:00:00] INFO: sync started []\n[2024-03-01 02:00:01] INFO: Prüfung bestanden []\n"
	err := client.SendMail(context.Background(),
		[]string{"ops@example.com", "reports@example.com"},
		`shop, production: sync "import_prices" finished (completed)`,
		body,
	)
	require.NoError(t, err)

	mails := server.received()
	require.Len(t, mails, 1)
	assert.Equal(t, "sync@example.com", mails[0].from)
	assert.Equal(t, []string{"ops@example.com", "reports@example.com"}, mails[0].to)

	msg, err := mail.ReadMessage(strings.NewReader(mails[0].data))
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, `shop, production: sync "import_prices" finished (completed)`, subject)
	assert.Equal(t, "ops@example.com, reports@example.com", msg.Header.Get("To"))
	assert.Equal(t, "Fri, 01 Mar 2024 02:00:00 +0000", msg.Header.Get("Date"))
	assert.Equal(t, "quoted-printable", msg.Header.Get("Content-Transfer-Encoding"))

	decoded, err := io.ReadAll(quotedprintable.NewReader(msg.Body))
	require.NoError(t, err)
	assert.Equal(t, body, strings.ReplaceAll(string(decoded), "\r\n", "\n"))
}

func TestClient_SendMailErrors(t *testing.T) {
	t.Run("no recipients", func(t *testing.T) {
		client := New(config.MailConfig{Host: "127.0.0.1", Port: 1}, "sync@example.com")
		err := client.SendMail(context.Background(), nil, "subject", "body")
		assert.ErrorIs(t, err, ErrNoRecipients)
	})

	t.Run("rejected recipient", func(t *testing.T) {
		server := startSMTPServer(t)
		server.reject = "gone@example.com"
		client := New(server.config(), "sync@example.com")

		err := client.SendMail(context.Background(), []string{"ops@example.com", "gone@example.com"}, "subject", "body")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `rcpt to "gone@example.com"`)
		assert.Empty(t, server.received())
	})

	t.Run("connection refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().(*net.TCPAddr)
		ln.Close()

		client := New(config.MailConfig{Host: "127.0.0.1", Port: addr.Port}, "sync@example.com")
		err = client.SendMail(context.Background(), []string{"ops@example.com"}, "subject", "body")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect")
	})

	t.Run("cancelled context", func(t *testing.T) {
		server := startSMTPServer(t)
		client := New(server.config(), "sync@example.com")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := client.SendMail(ctx, []string{"ops@example.com"}, "subject", "body")
		assert.Error(t, err)
	})
}

func TestNew_Defaults(t *testing.T) {
	client := New(config.MailConfig{Host: "mail.example.com"}, "sync@example.com")
	assert.Equal(t, "mail.example.com:25", client.addr)
	assert.Equal(t, DefaultTimeout, client.timeout)
}
