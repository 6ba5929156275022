package sshx

import (
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	appconfig "github.com/mrlokans/crudkit/internal/config"
)

// DefaultPromptSuffixes end the output of a command on common shells and
// network devices.
var DefaultPromptSuffixes = []string{"# ", "$ ", ": ", "? "}

const (
	defaultPort        = 22
	defaultReadTimeout = 30 * time.Second
	defaultSettleDelay = 200 * time.Millisecond
)

// Config describes an SSH login.
type Config struct {
	Host     string
	Port     int // default 22
	User     string
	Password string

	// SecondaryPassword answers the password prompt of sudo and enable
	// commands. When empty the password has to be sent as a command.
	SecondaryPassword string

	// PromptSuffixes mark the end of a command's output.
	PromptSuffixes []string

	// Timeout bounds connecting and each wait for command output.
	Timeout time.Duration

	// SettleDelay is how long output must stay quiet after a prompt
	// suffix before the command counts as finished.
	SettleDelay time.Duration

	// HostKeyCallback verifies the server key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
}

// FromAppConfig fills the timeout from the application configuration.
func (c Config) FromAppConfig(cfg appconfig.SSH) Config {
	if c.Timeout == 0 {
		c.Timeout = cfg.Timeout
	}
	return c
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if len(c.PromptSuffixes) == 0 {
		c.PromptSuffixes = DefaultPromptSuffixes
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.HostKeyCallback == nil {
		c.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return c
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) readTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultReadTimeout
}

func (c Config) clientConfig() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: c.HostKeyCallback,
		Timeout:         c.Timeout,
	}
}
