package sshx

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
)

func (c *Client) getSFTP() (*sftp.Client, error) {
	if c.sftp != nil {
		return c.sftp, nil
	}
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp: %w", err)
	}
	c.sftp = client
	return client, nil
}

// ListDir returns the files (not directories) under dir. With recursive
// set, subdirectories are walked too.
func (c *Client) ListDir(dir string, recursive bool) ([]string, error) {
	client, err := c.getSFTP()
	if err != nil {
		return nil, err
	}
	return listDir(client, trimSlash(dir), recursive)
}

func listDir(client *sftp.Client, dir string, recursive bool) ([]string, error) {
	entries, err := client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		name := path.Join(dir, e.Name())
		if e.IsDir() {
			if recursive {
				sub, err := listDir(client, name, true)
				if err != nil {
					return files, err
				}
				files = append(files, sub...)
			}
			continue
		}
		files = append(files, name)
	}
	return files, nil
}

// GetDir downloads every file under remoteDir into localDir, keeping the
// relative layout, and returns the local paths. A missing remoteDir
// returns an error wrapping fs.ErrNotExist.
func (c *Client) GetDir(remoteDir, localDir string) ([]string, error) {
	client, err := c.getSFTP()
	if err != nil {
		return nil, err
	}
	remoteDir = trimSlash(remoteDir)
	if _, err := client.Stat(remoteDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remote dir %s: %w", remoteDir, fs.ErrNotExist)
		}
		return nil, err
	}

	files, err := listDir(client, remoteDir, true)
	if err != nil {
		return nil, err
	}

	local := make([]string, 0, len(files))
	for _, remote := range files {
		rel := strings.TrimPrefix(remote, remoteDir+"/")
		target := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return local, err
		}
		if err := download(client, remote, target); err != nil {
			return local, err
		}
		local = append(local, target)
	}
	return local, nil
}

func download(client *sftp.Client, remote, local string) error {
	src, err := client.Open(remote)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", remote, err)
	}
	defer src.Close()

	dst, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to download %s: %w", remote, err)
	}
	return dst.Close()
}

func trimSlash(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}
