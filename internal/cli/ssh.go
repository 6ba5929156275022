package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mrlokans/crudkit/internal/config"
	"github.com/mrlokans/crudkit/internal/sshx"
)

// sshFlags are the connection flags shared by the ssh commands.
type sshFlags struct {
	Host              string
	Port              int
	User              string
	Password          string
	SecondaryPassword string
	Timeout           time.Duration
	Key               string
}

func (f *sshFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Host, "host", "", "Remote host (required)")
	fs.IntVar(&f.Port, "port", 22, "Remote port")
	fs.StringVarP(&f.User, "user", "u", "", "Login user (required)")
	fs.StringVarP(&f.Password, "password", "p", "", `Login password, plain or "enc:" encrypted`)
	fs.StringVar(&f.SecondaryPassword, "secondary-password", "", "Password for sudo and enable prompts")
	fs.DurationVar(&f.Timeout, "timeout", 0, "Connect and read timeout (default $SSH_TIMEOUT)")
	fs.StringVar(&f.Key, "key", "", `Key for "enc:" passwords (default $SSH_SECRET_KEY)`)
}

func (f *sshFlags) config() (sshx.Config, error) {
	if f.Host == "" || f.User == "" {
		return sshx.Config{}, errors.New("--host and --user are required")
	}
	password, err := f.reveal(f.Password)
	if err != nil {
		return sshx.Config{}, fmt.Errorf("password: %w", err)
	}
	secondary, err := f.reveal(f.SecondaryPassword)
	if err != nil {
		return sshx.Config{}, fmt.Errorf("secondary password: %w", err)
	}
	cfg := sshx.Config{
		Host:              f.Host,
		Port:              f.Port,
		User:              f.User,
		Password:          password,
		SecondaryPassword: secondary,
		Timeout:           f.Timeout,
	}
	return cfg.FromAppConfig(config.NewConfig().SSH), nil
}

// reveal decrypts "enc:" values and returns others unchanged.
func (f *sshFlags) reveal(value string) (string, error) {
	sealed, ok := strings.CutPrefix(value, encryptedPrefix)
	if !ok {
		return value, nil
	}
	enc, err := newEncryptor(f.Key)
	if err != nil {
		return "", err
	}
	return enc.Decrypt(sealed)
}

type SSHRunCommand struct {
	sshFlags
	LastOnly bool
	NoClean  bool
}

func NewSSHRunCommand() *SSHRunCommand {
	return &SSHRunCommand{}
}

func (s *SSHRunCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssh-run <command>...",
		Short: "Run commands in an interactive shell on a remote host",
		Long: `Run commands one after another in a single interactive shell and print
their output. sudo and enable prompts are answered with --secondary-password.`,
		Example: `  crudkit ssh-run --host 10.0.0.5 -u admin -p secret "show version"
  crudkit ssh-run --host sw1 -u admin -p enc:... --secondary-password enc:... enable "show run" --last-only`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.Run(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
	s.register(cmd.Flags())
	cmd.Flags().BoolVar(&s.LastOnly, "last-only", false, "Print only the output of the last command")
	cmd.Flags().BoolVar(&s.NoClean, "raw", false, "Print output without removing echoed commands and prompts")
	return cmd
}

func (s *SSHRunCommand) Run(ctx context.Context, w io.Writer, commands []string) error {
	cfg, err := s.config()
	if err != nil {
		return err
	}
	return sshx.WithSession(ctx, cfg, func(c *sshx.Client) error {
		if s.NoClean {
			for _, command := range commands {
				out, err := c.RunCommand(command, sshx.RunOptions{NoClean: true})
				if err != nil {
					return err
				}
				fmt.Fprintln(w, out)
			}
			return nil
		}
		outputs, err := c.RunCommandList(commands, s.LastOnly)
		if err != nil {
			return err
		}
		for _, out := range outputs {
			fmt.Fprintln(w, out)
		}
		return nil
	})
}

type SSHListCommand struct {
	sshFlags
	Recursive bool
}

func NewSSHListCommand() *SSHListCommand {
	return &SSHListCommand{}
}

func (s *SSHListCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssh-ls <remote-dir>",
		Short: "List the files of a remote directory over SFTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.Run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
	s.register(cmd.Flags())
	cmd.Flags().BoolVarP(&s.Recursive, "recursive", "r", false, "Descend into subdirectories")
	return cmd
}

func (s *SSHListCommand) Run(ctx context.Context, w io.Writer, dir string) error {
	cfg, err := s.config()
	if err != nil {
		return err
	}
	return sshx.WithSession(ctx, cfg, func(c *sshx.Client) error {
		files, err := c.ListDir(dir, s.Recursive)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(w, f)
		}
		return nil
	})
}

type SSHGetCommand struct {
	sshFlags
}

func NewSSHGetCommand() *SSHGetCommand {
	return &SSHGetCommand{}
}

func (s *SSHGetCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssh-get <remote-dir> <local-dir>",
		Short: "Download a remote directory over SFTP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.Run(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
		},
	}
	s.register(cmd.Flags())
	return cmd
}

func (s *SSHGetCommand) Run(ctx context.Context, w io.Writer, remoteDir, localDir string) error {
	cfg, err := s.config()
	if err != nil {
		return err
	}
	return sshx.WithSession(ctx, cfg, func(c *sshx.Client) error {
		files, err := c.GetDir(remoteDir, localDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Downloaded %d files to %s\n", len(files), localDir)
		return nil
	})
}
