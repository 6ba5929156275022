package sshx

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	ptyRows     = 100000
	ptyCols     = 200
	readBufSize = 1024
)

// shell is an interactive session whose output is pumped into chunks
// until the remote side ends or the shell is closed.
type shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	chunks  chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

func newShell(session *ssh.Session, stdin io.WriteCloser) *shell {
	return &shell{
		session: session,
		stdin:   stdin,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func openShell(conn *ssh.Client) (*shell, error) {
	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("vt100", ptyRows, ptyCols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	sh := newShell(session, stdin)
	go sh.pump(stdout)
	return sh, nil
}

func (s *shell) pump(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- append([]byte(nil), buf[:n]...):
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
	}
}

// stop makes pump return without waiting for a reader.
func (s *shell) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *shell) send(text string) error {
	if _, err := io.WriteString(s.stdin, text); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// readUntilPrompt collects output until it ends with a prompt suffix and
// stays quiet for settle.
func (s *shell) readUntilPrompt(suffixes []string, timeout, settle time.Duration) (string, error) {
	return collectOutput(s.chunks, suffixes, timeout, settle)
}

func (s *shell) close() error {
	s.stop()
	_ = s.stdin.Close()
	return s.session.Close()
}

func collectOutput(chunks <-chan []byte, suffixes []string, timeout, settle time.Duration) (string, error) {
	var out strings.Builder
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var quiet <-chan time.Time
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if out.Len() > 0 {
					return out.String(), nil
				}
				return "", ErrShellClosed
			}
			out.WriteString(strings.ReplaceAll(string(chunk), " \r", ""))
			quiet = nil
			if hasAnySuffix(out.String(), suffixes) {
				quiet = time.After(settle)
			}
		case <-quiet:
			return out.String(), nil
		case <-deadline.C:
			return out.String(), ErrReadTimeout
		}
	}
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
