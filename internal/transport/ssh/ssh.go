// Package ssh opens pooled sessions to devices over SSH.
//
// One SSH client is kept per device, every command runs in its own SSH session on that client.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/jackadi-io/netbatch/internal/pool"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var ErrNoAuthMethod = errors.New("no SSH authentication method configured")

// Dialer implements pool.Dialer.
type Dialer struct {
	client *gossh.ClientConfig
	port   string
}

// NewDialer prepares the client configuration shared by every device.
func NewDialer(cfg config.SSHConfig) (*Dialer, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == "" {
		port = config.DefaultSSHPort
	}

	return &Dialer{
		client: &gossh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKey,
		},
		port: port,
	}, nil
}

func authMethods(cfg config.SSHConfig) ([]gossh.AuthMethod, error) {
	methods := []gossh.AuthMethod{}

	if cfg.PrivateKey != "" {
		pem, err := os.ReadFile(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("unable to read private key: %w", err)
		}
		signer, err := gossh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("invalid private key %s: %w", cfg.PrivateKey, err)
		}
		methods = append(methods, gossh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		methods = append(methods, gossh.Password(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, ErrNoAuthMethod
	}
	return methods, nil
}

func hostKeyCallback(cfg config.SSHConfig) (gossh.HostKeyCallback, error) {
	if cfg.InsecureHostKey {
		slog.Warn("SSH host keys are not verified")
		return gossh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly requested by the operator
	}
	if cfg.KnownHosts == "" {
		return nil, errors.New("ssh.known-hosts is required unless ssh.insecure-host-key is set")
	}
	cb, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("unable to load known hosts: %w", err)
	}
	return cb, nil
}

// address returns host:port, keeping a port already present in the device address.
func (d *Dialer) address(device inventory.Device) string {
	host := device.Address
	if host == "" {
		host = device.Name
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, d.port)
}

// Dial connects and authenticates, bounded by ctx.
func (d *Dialer) Dial(ctx context.Context, device inventory.Device) (pool.Session, error) {
	addr := d.address(device)

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// the handshake has no context support: bound it with the connection deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, d.client)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &session{device: device.Name, client: gossh.NewClient(c, chans, reqs)}, nil
}

type session struct {
	device string
	client *gossh.Client
}

type output struct {
	data []byte
	err  error
}

// Run executes command in a new SSH session. Closing the session aborts it when ctx is done.
func (s *session) Run(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("unable to open session: %w", err)
	}
	defer sess.Close()

	done := make(chan output, 1)
	go func() {
		data, err := sess.CombinedOutput(command)
		done <- output{data, err}
	}()

	select {
	case out := <-done:
		var exitErr *gossh.ExitError
		if errors.As(out.err, &exitErr) {
			return "", &pool.CommandError{Command: command, Output: string(out.data), ExitStatus: exitErr.ExitStatus()}
		}
		if out.err != nil {
			return "", out.err
		}
		return string(out.data), nil
	case <-ctx.Done():
		_ = sess.Signal(gossh.SIGKILL)
		return "", ctx.Err()
	}
}

func (s *session) Close() error {
	slog.Debug("closing SSH client", "device", s.device)
	return s.client.Close()
}
