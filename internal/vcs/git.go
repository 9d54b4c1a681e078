// Package vcs resolves the revision a release is cut from.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Runner executes git with args in dir and returns stdout.
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

func execGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type Git struct {
	dir string
	run Runner
}

// NewGit works in dir; a nil run uses the git binary.
func NewGit(dir string, run Runner) *Git {
	if run == nil {
		run = execGit
	}
	return &Git{dir: dir, run: run}
}

var commitRe = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)

// Head returns the full commit id of HEAD.
func (g *Git) Head(ctx context.Context) (string, error) {
	return g.Resolve(ctx, "HEAD")
}

// Resolve returns the full commit id rev points at.
func (g *Git) Resolve(ctx context.Context, rev string) (string, error) {
	out, err := g.run(ctx, g.dir, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(out))
	if !commitRe.MatchString(id) {
		return "", fmt.Errorf("git rev-parse %s: unexpected output %q", rev, id)
	}
	return id, nil
}
