// Package sshx drives remote hosts and network devices over SSH: an
// interactive shell whose command output is read up to the next prompt,
// with optional sudo/enable escalation, plus SFTP directory listing and
// download.
package sshx
