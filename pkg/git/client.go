// Package git records document store writes as commits.
package git

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/dealroom/internal/flock"
)

// Client wraps git command execution with a file-based lock for process safety.
type Client struct {
	WorkDir  string
	Logger   *slog.Logger
	lockPath string
	timeout  time.Duration
}

// NewClient creates a new git client for the given working directory.
// lockName is relative to workDir (e.g. ".dealroom.lock").
func NewClient(workDir, lockName string, logger *slog.Logger) *Client {
	if lockName == "" {
		lockName = ".dealroom.lock"
	}
	return &Client{
		WorkDir:  workDir,
		Logger:   logger,
		lockPath: lockName,
		timeout:  10 * time.Second,
	}
}

// IsInstalled checks if git is available in the system path.
func IsInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// IsRepo reports whether WorkDir is the root of a git repository.
func (c *Client) IsRepo() bool {
	info, err := os.Stat(filepath.Join(c.WorkDir, ".git"))
	return err == nil && info.IsDir()
}

// Lock acquires the file-based lock, waiting at most the client timeout.
func (c *Client) Lock() (func(), error) {
	return flock.Acquire(filepath.Join(c.WorkDir, c.lockPath), c.timeout)
}

// Run executes a raw git command in the working directory.
// It does NOT acquire the lock; callers serialize through Lock.
func (c *Client) Run(args ...string) (string, error) {
	if c.Logger != nil {
		c.Logger.Debug("executing git", "args", args, "dir", c.WorkDir)
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = c.WorkDir

	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, output)
	}
	return strings.TrimSpace(output), nil
}

// Init initializes a new git repository.
func (c *Client) Init() error {
	if _, err := c.Run("init"); err != nil {
		return err
	}
	// Commits must not depend on the host's global identity.
	if _, err := c.Run("config", "user.name", "dealroom"); err != nil {
		return err
	}
	_, err := c.Run("config", "user.email", "dealroom@localhost")
	return err
}

// Add stages files.
func (c *Client) Add(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := c.Run(append([]string{"add", "--"}, files...)...)
	return err
}

// Rm removes files from the working tree and from the index.
func (c *Client) Rm(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	_, err := c.Run(append([]string{"rm", "-f", "--"}, files...)...)
	return err
}

// Commit records staged changes. An empty index is not an error.
func (c *Client) Commit(msg string) error {
	out, err := c.Run("commit", "-m", msg)
	if err != nil && strings.Contains(out, "nothing to commit") {
		return nil
	}
	return err
}

// Sync pulls with rebase and pushes when a remote is configured.
func (c *Client) Sync() error {
	remotes, err := c.Run("remote")
	if err != nil {
		return err
	}
	if remotes == "" {
		return fmt.Errorf("no git remote configured")
	}
	if _, err := c.Run("pull", "--rebase"); err != nil {
		return err
	}
	_, err = c.Run("push")
	return err
}

// Log returns the last n commit subjects, newest first.
func (c *Client) Log(n int) ([]string, error) {
	out, err := c.Run("log", fmt.Sprintf("-%d", n), "--format=%s")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
