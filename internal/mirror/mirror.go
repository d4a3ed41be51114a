// Package mirror implements the cloud transport contract (spec.md §6):
// an external file-mirror with two one-way operations, pull and push,
// backed by a bundled or system rclone binary.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	echoerrors "github.com/echovault-sync/echovault/internal/errors"
)

// DefaultRemoteName is the rclone remote name EchoVault configures by
// default.
const DefaultRemoteName = "echovault-remote"

// DefaultRemotePath is the path segment on the remote under which the
// vault subtree is mirrored.
const DefaultRemotePath = "EchoVault"

// AuthStatusKind is the tri-state authentication status (spec.md §4.4
// "Authentication status is a tri-state").
type AuthStatusKind int

const (
	NotAuthenticated AuthStatusKind = iota
	Pending
	Authenticated
)

// AuthState carries the tri-state status plus, when Pending, the
// out-of-band instructions a caller surfaces to the user.
type AuthState struct {
	Status    AuthStatusKind
	UserCode  string
	VerifyURL string
}

// PullResult summarizes one pull operation.
type PullResult struct {
	HasChanges   bool
	NewFiles     int
	UpdatedFiles int
}

// PushResult summarizes one push operation.
type PushResult struct {
	Success     bool
	FilesPushed int
	Message     string
}

// Mirror is the cloud transport contract: pull copies the remote vault
// subtree into local, push copies local to remote. Both are one-way and
// must skip database sidecar files.
type Mirror interface {
	Pull(ctx context.Context, localDir, remoteURL string, excludes []string) (PullResult, error)
	Push(ctx context.Context, localDir, remoteURL string, excludes []string) (PushResult, error)
}

// commandRunner abstracts exec.CommandContext so tests can substitute a
// fake rclone binary invocation.
type commandRunner func(ctx context.Context, name string, args ...string) *exec.Cmd

// RcloneMirror is a Mirror backed by an rclone binary, mirroring the
// teacher codebase's bundled-with-system-fallback discovery strategy.
type RcloneMirror struct {
	rclonePath string
	remoteName string
	remotePath string

	runCommand commandRunner
	lookPath   func(file string) (string, error)
}

// NewRcloneMirror builds a RcloneMirror using remoteName/remotePath for
// the configured rclone remote.
func NewRcloneMirror(remoteName, remotePath string) *RcloneMirror {
	if remoteName == "" {
		remoteName = DefaultRemoteName
	}
	if remotePath == "" {
		remotePath = DefaultRemotePath
	}
	return &RcloneMirror{
		rclonePath: findRcloneBinary(),
		remoteName: remoteName,
		remotePath: remotePath,
		runCommand: exec.CommandContext,
		lookPath:   exec.LookPath,
	}
}

// findRcloneBinary prefers a binary bundled alongside the running
// executable, falling back to the system PATH.
func findRcloneBinary() string {
	binName := "rclone"
	if runtime.GOOS == "windows" {
		binName = "rclone.exe"
	}

	if exePath, err := os.Executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(exePath), binName)
		if _, err := os.Stat(bundled); err == nil {
			return bundled
		}
	}
	return binName
}

// RemoteURL returns the "remote:path" form rclone expects.
func (m *RcloneMirror) RemoteURL() string {
	return m.remoteName + ":" + m.remotePath
}

func (m *RcloneMirror) run(ctx context.Context, args ...string) (string, error) {
	cmd := m.runCommand(ctx, m.rclonePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", echoerrors.NetworkErr("run rclone", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

// ListRemotes lists configured rclone remotes (trailing colon stripped).
func (m *RcloneMirror) ListRemotes(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "listremotes")
	if err != nil {
		return nil, err
	}

	var remotes []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, ":"))
		if line != "" {
			remotes = append(remotes, line)
		}
	}
	return remotes, nil
}

// IsAuthenticated reports whether the configured remote already exists.
func (m *RcloneMirror) IsAuthenticated(ctx context.Context) bool {
	remotes, err := m.ListRemotes(ctx)
	if err != nil {
		return false
	}
	for _, r := range remotes {
		if r == m.remoteName {
			return true
		}
	}
	return false
}

// AuthStatusOf reports the tri-state status for the configured remote.
func (m *RcloneMirror) AuthStatusOf(ctx context.Context) AuthState {
	if m.IsAuthenticated(ctx) {
		return AuthState{Status: Authenticated}
	}
	return AuthState{Status: NotAuthenticated}
}

// StartAuth begins interactive configuration of a new remote (rclone's
// own OAuth flow opens a browser). remoteType selects the backend, e.g.
// "drive" for Google Drive.
func (m *RcloneMirror) StartAuth(ctx context.Context, remoteType string) (AuthState, error) {
	if _, err := m.run(ctx, "version"); err != nil {
		return AuthState{}, echoerrors.ConfigErr("rclone binary not available", err)
	}

	if _, err := m.run(ctx, "config", "create", m.remoteName, remoteType); err != nil {
		return AuthState{
			Status:    Pending,
			UserCode:  "configuring",
			VerifyURL: "complete the browser login rclone opened, then call complete_auth",
		}, nil
	}

	if m.IsAuthenticated(ctx) {
		return AuthState{Status: Authenticated}, nil
	}
	return AuthState{
		Status:    Pending,
		UserCode:  "configuring",
		VerifyURL: "complete the browser login rclone opened, then call complete_auth",
	}, nil
}

// CompleteAuth re-checks whether the remote now exists.
func (m *RcloneMirror) CompleteAuth(ctx context.Context) (AuthState, error) {
	return m.AuthStatusOf(ctx), nil
}

// Pull mirrors remoteURL into localDir, excluding the given glob
// patterns (spec.md §6 "Excludes always contain *.db-wal and
// *.db-shm").
func (m *RcloneMirror) Pull(ctx context.Context, localDir, remoteURL string, excludes []string) (PullResult, error) {
	args := append([]string{"copy", remoteURL, localDir, "--verbose", "--stats-one-line"}, excludeArgs(excludes)...)
	out, err := m.run(ctx, args...)
	if err != nil {
		return PullResult{}, err
	}

	changed := strings.Count(out, "Transferred:")
	return PullResult{
		HasChanges: changed > 0,
		NewFiles:   changed,
	}, nil
}

// Push mirrors localDir to remoteURL, excluding the given glob
// patterns.
func (m *RcloneMirror) Push(ctx context.Context, localDir, remoteURL string, excludes []string) (PushResult, error) {
	args := append([]string{"copy", localDir, remoteURL, "--verbose", "--stats-one-line"}, excludeArgs(excludes)...)
	out, err := m.run(ctx, args...)
	if err != nil {
		return PushResult{}, err
	}

	pushed := strings.Count(out, "Transferred:")
	return PushResult{
		Success:     true,
		FilesPushed: pushed,
		Message:     fmt.Sprintf("synced to %s", remoteURL),
	}, nil
}

func excludeArgs(excludes []string) []string {
	args := make([]string, 0, len(excludes)*2)
	for _, e := range excludes {
		args = append(args, "--exclude", e)
	}
	return args
}
