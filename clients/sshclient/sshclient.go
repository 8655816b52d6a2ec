package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultTimeout bounds the TCP connect and SSH handshake.
const DefaultTimeout = 15 * time.Second

// Config describes one remote host.
type Config struct {
	// Host is "host:port"; the port defaults to 22.
	Host string
	User string
	// PrivateKeyPEM is the client key in PEM format.
	PrivateKeyPEM []byte
	// KnownHostsFile verifies the server key. Required unless
	// InsecureIgnoreHostKey is set.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
}

// SSHClient manages a persistent SSH connection for running multiple commands.
type SSHClient struct {
	client *ssh.Client
}

// LoadPrivateKey reads a PEM private key from path.
func LoadPrivateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return key, nil
}

// Dial connects and authenticates to cfg.Host.
func Dial(ctx context.Context, cfg Config) (*SSHClient, error) {
	signer, err := ssh.ParsePrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &SSHClient{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		return cb, nil
	}
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, errors.New("known hosts file required to verify the host key")
}

// Run executes a command on the remote host using a new session on the existing connection.
func (c *SSHClient) Run(ctx context.Context, command string) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	err := c.RunWithWriter(ctx, command, &stdoutBuf, &stderrBuf)
	return stdoutBuf.String(), stderrBuf.String(), err
}

// RunWithWriter executes a command on the remote host and streams stdout/stderr to the provided writers.
// If stdoutWriter or stderrWriter is nil, that stream will be discarded.
// Cancelling ctx closes the session.
func (c *SSHClient) RunWithWriter(ctx context.Context, command string, stdoutWriter, stderrWriter io.Writer) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	if stdoutWriter != nil {
		session.Stdout = stdoutWriter
	}
	if stderrWriter != nil {
		session.Stderr = stderrWriter
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGKILL)
			session.Close()
		case <-done:
		}
	}()

	if err := session.Run(command); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("command cancelled: %w", ctxErr)
		}
		return fmt.Errorf("failed to run command: %w", err)
	}

	return nil
}

// Close closes the underlying SSH connection.
func (c *SSHClient) Close() error {
	return c.client.Close()
}
