// Package tmux shells out to the tmux binary. It is the liveness probe for
// guest terminals and the delivery channel for direct text injection.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Prober is the liveness and delivery surface consumed by the monitor,
// the identity resolver and the message router.
type Prober interface {
	// HasSession reports whether the named tmux session currently exists.
	HasSession(ctx context.Context, name string) (bool, error)
	// ListSessionNames returns the set of all live tmux session names.
	ListSessionNames(ctx context.Context) (map[string]struct{}, error)
	// PasteAndSubmit types text into the session's active pane and submits
	// it with Enter. Fails if the session is gone or tmux rejects the write.
	PasteAndSubmit(ctx context.Context, name, text string) error
}

// Client runs tmux commands on the local host.
type Client struct{}

// NewClient returns a tmux client.
func NewClient() *Client { return &Client{} }

var _ Prober = (*Client)(nil)

// IsInstalled checks if tmux is available.
func IsInstalled() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// EnsureInstalled returns an error if tmux is not installed.
func EnsureInstalled() error {
	if !IsInstalled() {
		return errors.New("tmux is not installed. Install it with: brew install tmux (macOS) or apt install tmux (Linux)")
	}
	return nil
}

// InTmux returns true if the current process runs inside a tmux session.
func InTmux() bool {
	return os.Getenv("TMUX") != ""
}

// run executes a tmux command and returns trimmed stdout.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// runSilent executes a tmux command ignoring output.
func (c *Client) runSilent(ctx context.Context, args ...string) error {
	return exec.CommandContext(ctx, "tmux", args...).Run()
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	err := c.runSilent(ctx, "has-session", "-t", "="+name)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Non-zero exit means "no such session" (or no server at all).
		return false, nil
	}
	return false, fmt.Errorf("tmux has-session: %w", err)
}

// ListSessionNames returns all live session names as a set.
func (c *Client) ListSessionNames(ctx context.Context) (map[string]struct{}, error) {
	output, err := c.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running is not an error, it just means no sessions.
		msg := err.Error()
		if strings.Contains(msg, "no server running") ||
			strings.Contains(msg, "no sessions") ||
			strings.Contains(msg, "No such file or directory") ||
			strings.Contains(msg, "error connecting to") {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}

	names := make(map[string]struct{})
	for _, line := range strings.Split(output, "\n") {
		if line != "" {
			names[line] = struct{}{}
		}
	}
	return names, nil
}

// PasteAndSubmit types text literally into the session's active pane and
// presses Enter.
func (c *Client) PasteAndSubmit(ctx context.Context, name, text string) error {
	if err := c.runSilent(ctx, "send-keys", "-t", name, "-l", "--", text); err != nil {
		return fmt.Errorf("tmux send-keys to %s: %w", name, err)
	}
	if err := c.runSilent(ctx, "send-keys", "-t", name, "C-m"); err != nil {
		return fmt.Errorf("tmux submit to %s: %w", name, err)
	}
	return nil
}

// NewSession creates a detached session running in directory.
func (c *Client) NewSession(ctx context.Context, name, directory string) error {
	args := []string{"new-session", "-d", "-s", name}
	if directory != "" {
		args = append(args, "-c", directory)
	}
	if err := c.runSilent(ctx, args...); err != nil {
		return fmt.Errorf("tmux new-session %s: %w", name, err)
	}
	return nil
}

// KillSession kills a session. Killing a missing session is not an error.
func (c *Client) KillSession(ctx context.Context, name string) error {
	err := c.runSilent(ctx, "kill-session", "-t", "="+name)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// CapturePane captures the last lines of a session's active pane.
func (c *Client) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	return c.run(ctx, "capture-pane", "-t", name, "-p", "-S", fmt.Sprintf("-%d", lines))
}

// ValidateSessionName rejects names tmux cannot target unambiguously.
func ValidateSessionName(name string) error {
	if name == "" {
		return errors.New("session name cannot be empty")
	}
	if strings.ContainsAny(name, ":.") {
		return errors.New("session name cannot contain ':' or '.'")
	}
	return nil
}
