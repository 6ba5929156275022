package sshx

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "admin"
	testPassword = "secret"
	enablePass   = "enable-pw"
)

func startServer(t *testing.T) (string, int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, cfg)
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go fakeShell(ch)
		case "subsystem":
			if len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
				_ = req.Reply(true, nil)
				go func() {
					defer ch.Close()
					srv, err := sftp.NewServer(ch)
					if err != nil {
						return
					}
					_ = srv.Serve()
				}()
				continue
			}
			_ = req.Reply(false, nil)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

// fakeShell echoes each line and answers a handful of commands. sudo asks
// for the enable password once per session.
func fakeShell(ch ssh.Channel) {
	defer ch.Close()
	write := func(s string) { _, _ = io.WriteString(ch, s) }

	write("Welcome to the test host\r\nhost$ ")
	r := bufio.NewReader(ch)
	elevated, awaiting := false, false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if awaiting {
			awaiting = false
			if line == enablePass {
				elevated = true
				write("\r\nroot\r\nhost$ ")
			} else {
				write("\r\nSorry, try again.\r\nhost$ ")
			}
			continue
		}

		write(line + "\r\n")
		switch line {
		case "echo hello":
			write("hello\r\nhost$ ")
		case "hostname":
			write("test-host\r\nhost$ ")
		case "sudo whoami":
			if elevated {
				write("root\r\nhost$ ")
			} else {
				awaiting = true
				write("[sudo] password for " + testUser + ": ")
			}
		case "exit":
			return
		default:
			write(line + ": command not found\r\nhost$ ")
		}
	}
}

func testConfig(host string, port int) Config {
	return Config{
		Host:        host,
		Port:        port,
		User:        testUser,
		Password:    testPassword,
		Timeout:     5 * time.Second,
		SettleDelay: 30 * time.Millisecond,
	}
}

func TestClient_RunCommand(t *testing.T) {
	host, port := startServer(t)

	c, err := Dial(context.Background(), testConfig(host, port))
	require.NoError(t, err)
	defer c.Close()

	out, err := c.RunCommand("  echo hello ", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	raw, err := c.RunCommand("hostname", RunOptions{NoClean: true})
	require.NoError(t, err)
	assert.Equal(t, "hostname\r\ntest-host\r\nhost$ ", raw)

	out, err = c.RunCommand("uptime", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "uptime: command not found", out)
}

func TestClient_RunCommand_SecondaryPassword(t *testing.T) {
	host, port := startServer(t)

	cfg := testConfig(host, port)
	cfg.SecondaryPassword = enablePass

	err := WithSession(context.Background(), cfg, func(c *Client) error {
		out, err := c.RunCommand("sudo whoami", RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, "root", out)
		return nil
	})
	require.NoError(t, err)
}

func TestClient_RunCommand_NoSecondaryPassword(t *testing.T) {
	host, port := startServer(t)

	c, err := Dial(context.Background(), testConfig(host, port))
	require.NoError(t, err)
	defer c.Close()

	out, err := c.RunCommand("sudo whoami", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "[sudo] password for admin:", out)
}

func TestClient_RunCommandList(t *testing.T) {
	host, port := startServer(t)

	c, err := Dial(context.Background(), testConfig(host, port))
	require.NoError(t, err)
	defer c.Close()

	outs, err := c.RunCommandList([]string{"echo hello", "hostname"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "test-host"}, outs)

	outs, err = c.RunCommandList([]string{"echo hello", "hostname"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-host"}, outs)
}

func TestClient_NoRecv(t *testing.T) {
	host, port := startServer(t)

	c, err := Dial(context.Background(), testConfig(host, port))
	require.NoError(t, err)
	defer c.Close()

	out, err := c.RunCommand("echo hello", RunOptions{NoRecv: true})
	require.NoError(t, err)
	assert.Empty(t, out)

	// the pending output is picked up by the next read
	out, err = c.RunCommand("hostname", RunOptions{NoClean: true})
	require.NoError(t, err)
	assert.Contains(t, out, "test-host")
}

func TestDial_BadPassword(t *testing.T) {
	host, port := startServer(t)

	cfg := testConfig(host, port)
	cfg.Password = "wrong"
	_, err := Dial(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
}

func TestClient_SFTP(t *testing.T) {
	host, port := startServer(t)

	remote := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(remote, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(remote, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(remote, "sub", "b.txt"), []byte("beta"), 0o644))

	c, err := Dial(context.Background(), testConfig(host, port))
	require.NoError(t, err)
	defer c.Close()

	remoteSlash := filepath.ToSlash(remote)

	files, err := c.ListDir(remoteSlash+"/", false)
	require.NoError(t, err)
	assert.Equal(t, []string{remoteSlash + "/a.txt"}, files)

	files, err = c.ListDir(remoteSlash, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{remoteSlash + "/a.txt", remoteSlash + "/sub/b.txt"}, files)

	local := t.TempDir()
	got, err := c.GetDir(remoteSlash, local)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(local, "a.txt"),
		filepath.Join(local, "sub", "b.txt"),
	}, got)

	data, err := os.ReadFile(filepath.Join(local, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))

	_, err = c.GetDir(remoteSlash+"/missing", local)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		command string
		want    string
	}{
		{"echoed command", "ls\r\nfile1\r\nfile2\r\nhost$ ", "ls", "file1\r\nfile2"},
		{"prompt before echo", "Last login\r\nuser@host:~$ ls -l\r\ntotal 0\r\nuser@host:~$ ", "ls -l", "total 0"},
		{"root prompt", "router# show version\r\nv1.2\r\nrouter# ", "show version", "v1.2"},
		{"regexp chars in command", "host$ echo a+b\r\na+b\r\nhost$ ", "echo a+b", "a+b"},
		{"no command", "text only\r\n", "", "text only"},
		{"password prompt", "[sudo] password for admin: ", "sudo ls", "[sudo] password for admin:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanOutput(tt.text, tt.command))
		})
	}
}

func TestCollectOutput(t *testing.T) {
	t.Run("settles after prompt", func(t *testing.T) {
		chunks := make(chan []byte, 4)
		chunks <- []byte("line one\r\n")
		chunks <- []byte("host$ ")
		out, err := collectOutput(chunks, DefaultPromptSuffixes, time.Second, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "line one\r\nhost$ ", out)
	})

	t.Run("timeout keeps partial output", func(t *testing.T) {
		chunks := make(chan []byte, 1)
		chunks <- []byte("still running")
		out, err := collectOutput(chunks, DefaultPromptSuffixes, 30*time.Millisecond, 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrReadTimeout)
		assert.Equal(t, "still running", out)
	})

	t.Run("closed shell", func(t *testing.T) {
		chunks := make(chan []byte)
		close(chunks)
		_, err := collectOutput(chunks, DefaultPromptSuffixes, time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrShellClosed)
	})

	t.Run("strips space carriage returns", func(t *testing.T) {
		chunks := make(chan []byte, 1)
		chunks <- []byte("a \rb\r\n# ")
		out, err := collectOutput(chunks, DefaultPromptSuffixes, time.Second, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "ab\r\n# ", out)
	})
}

// endlessReader keeps producing output like a remote command that never stops.
type endlessReader struct{}

func (endlessReader) Read(p []byte) (int, error) {
	return copy(p, "line\r\n"), nil
}

func TestShellPump_StopsWithoutReader(t *testing.T) {
	sh := newShell(nil, nil)
	exited := make(chan struct{})
	go func() {
		sh.pump(endlessReader{})
		close(exited)
	}()

	// nobody drains chunks, so the buffer fills and the pump blocks on send
	require.Eventually(t, func() bool { return len(sh.chunks) == cap(sh.chunks) }, time.Second, time.Millisecond)

	sh.stop()
	sh.stop()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return after stop")
	}

	for range sh.chunks {
	}
}
