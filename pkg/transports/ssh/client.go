package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/pclforge/pkg/probe"
)

// Client is a connection to one remote build host. It runs shell commands
// in fresh sessions and transfers files over a shared SFTP session.
type Client struct {
	config *Config

	mu          sync.RWMutex
	client      *ssh.Client
	proxy       *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time
	stopKeep    chan struct{}
}

var _ probe.Shell = (*Client)(nil)

// NewClient creates a client for config; call Connect before use.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config {
	return c.config
}

// Connect establishes the SSH connection, through the jump host if one is
// configured.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	var conn net.Conn
	if c.config.ProxyHost != "" {
		proxyConfig := *clientConfig
		proxyConfig.User = c.config.ProxyUser

		log.Debug().Str("proxy", c.config.ProxyAddress()).Msg("connecting to proxy host")
		c.proxy, err = dial(ctx, c.config.ProxyAddress(), &proxyConfig)
		if err != nil {
			return &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
		}
		conn, err = c.proxy.DialContext(ctx, "tcp", c.config.Address())
		if err != nil {
			_ = c.proxy.Close()
			c.proxy = nil
			return &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true}
		}
		c.client, err = handshake(conn, c.config.Address(), clientConfig)
	} else {
		c.client, err = dial(ctx, c.config.Address(), clientConfig)
	}
	if err != nil {
		if c.proxy != nil {
			_ = c.proxy.Close()
			c.proxy = nil
		}
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	c.connectedAt = time.Now()
	if c.config.KeepAliveInterval > 0 {
		c.stopKeep = make(chan struct{})
		go c.keepAlive(c.client, c.stopKeep)
	}

	log.Debug().Str("address", c.config.Address()).Msg("SSH connection established")
	return nil
}

func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return handshake(conn, addr, cfg)
}

func handshake(conn net.Conn, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

// Close closes the SFTP session and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}

	err := c.client.Close()
	c.client = nil
	if c.proxy != nil {
		_ = c.proxy.Close()
		c.proxy = nil
	}
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// HealthCheck runs a no-op command on the host.
func (c *Client) HealthCheck(ctx context.Context) error {
	code, err := c.Exec(ctx, "true", io.Discard, io.Discard)
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	if code != 0 {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("true exited with %d", code)}
	}
	return nil
}

func (c *Client) sshClient() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, &TransportError{Op: "session", Err: errors.New("not connected")}
	}
	return c.client, nil
}

// Exec runs a shell command line and returns its exit status. A nonzero
// exit is not an error. Cancelling ctx signals the remote process and
// returns ctx.Err().
func (c *Client) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	client, err := c.sshClient()
	if err != nil {
		return -1, err
	}
	session, err := client.NewSession()
	if err != nil {
		return -1, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	log.Debug().Str("command", cmd).Msg("executing remote command")
	if err := session.Start(cmd); err != nil {
		return -1, &TransportError{Op: "exec", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-done
		return -1, ctx.Err()
	case err := <-done:
		var exitErr *ssh.ExitError
		switch {
		case err == nil:
			return 0, nil
		case errors.As(err, &exitErr):
			return exitErr.ExitStatus(), nil
		default:
			return -1, &TransportError{Op: "exec", Err: err, IsTemporary: true}
		}
	}
}

// Output implements probe.Shell: it runs command and returns its stdout.
func (c *Client) Output(ctx context.Context, command string) (string, int, error) {
	var stdout bytes.Buffer
	code, err := c.Exec(ctx, command, &stdout, io.Discard)
	return stdout.String(), code, err
}

// Info returns information about the current connection.
func (c *Client) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionInfo{
		Host:        c.config.Host,
		Port:        c.config.Port,
		User:        c.config.User,
		ConnectedAt: c.connectedAt,
		Proxied:     c.proxy != nil,
	}
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			failures++
			log.Warn().Err(err).Int("failures", failures).Msg("keep-alive failed")
			if failures >= 3 {
				return
			}
			continue
		}
		failures = 0
	}
}
