package sshx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/mrlokans/crudkit/internal/logging"
)

var (
	ErrReadTimeout = errors.New("timed out waiting for command output")
	ErrShellClosed = errors.New("remote shell closed")
)

var escalationCommands = []string{"sudo", "enable"}

// Client is an SSH connection with a lazily opened interactive shell and
// SFTP session. It is not safe for concurrent use.
type Client struct {
	cfg  Config
	conn *ssh.Client

	shell *shell
	sftp  *sftp.Client
}

// RunOptions adjusts RunCommand.
type RunOptions struct {
	// NoRecv sends the command without waiting for its output.
	NoRecv bool
	// NoClean returns the raw output, echoed command and prompts included.
	NoClean bool
}

// Dial connects and authenticates with the password.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	addr := cfg.addr()

	dialer := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", addr, err)
	}

	if cfg.Timeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg.clientConfig())
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	logging.L().Debug("ssh connected", zap.String("addr", addr), zap.String("user", cfg.User))
	return &Client{cfg: cfg, conn: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// WithSession dials, calls fn and closes the client.
func WithSession(ctx context.Context, cfg Config, fn func(*Client) error) error {
	c, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// RunCommand writes command to the interactive shell and returns its
// output, read until a prompt suffix. When a sudo or enable command asks
// for a password and a secondary password is configured, the password is
// sent and the command repeated.
func (c *Client) RunCommand(command string, opts RunOptions) (string, error) {
	return c.runCommand(command, opts, true)
}

func (c *Client) runCommand(command string, opts RunOptions, escalate bool) (string, error) {
	sh, err := c.getShell()
	if err != nil {
		return "", err
	}

	command = strings.TrimSpace(command)
	if err := sh.send(command + "\n"); err != nil {
		return "", err
	}
	if opts.NoRecv {
		return "", nil
	}

	output, err := sh.readUntilPrompt(c.cfg.PromptSuffixes, c.cfg.readTimeout(), c.cfg.SettleDelay)
	if err != nil {
		return output, err
	}
	if !opts.NoClean {
		output = CleanOutput(output, command)
	}

	if escalate && c.cfg.SecondaryPassword != "" && isEscalation(command) && strings.Contains(output, "assword") {
		pwdOutput, err := c.runCommand(c.cfg.SecondaryPassword, RunOptions{}, false)
		if err != nil {
			return pwdOutput, err
		}
		if pwdOutput == output {
			return output, nil
		}
		return c.runCommand(command, opts, false)
	}
	return output, nil
}

func isEscalation(command string) bool {
	lower := strings.ToLower(command)
	for _, prefix := range escalationCommands {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// RunCommandList runs commands in order and returns their outputs. With
// lastOnly only the output of the last command is returned. It stops at
// the first error.
func (c *Client) RunCommandList(commands []string, lastOnly bool) ([]string, error) {
	outputs := make([]string, 0, len(commands))
	for _, command := range commands {
		out, err := c.RunCommand(command, RunOptions{})
		if err != nil {
			return outputs, fmt.Errorf("command %q: %w", command, err)
		}
		outputs = append(outputs, out)
	}
	if lastOnly && len(outputs) > 0 {
		return outputs[len(outputs)-1:], nil
	}
	return outputs, nil
}

func (c *Client) getShell() (*shell, error) {
	if c.shell != nil {
		return c.shell, nil
	}
	sh, err := openShell(c.conn)
	if err != nil {
		return nil, err
	}
	// login banner and first prompt
	banner, err := sh.readUntilPrompt(c.cfg.PromptSuffixes, c.cfg.readTimeout(), c.cfg.SettleDelay)
	if err != nil && !errors.Is(err, ErrReadTimeout) {
		sh.close()
		return nil, err
	}
	logging.L().Debug("ssh shell opened", zap.String("addr", c.cfg.addr()), zap.Int("banner_bytes", len(banner)))
	c.shell = sh
	return sh, nil
}

// Close ends the shell, the SFTP session and the connection.
func (c *Client) Close() error {
	var errs []error
	if c.shell != nil {
		if err := c.shell.close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
