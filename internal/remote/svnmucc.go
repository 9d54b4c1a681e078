package remote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/ILLUVRSE/release-orchestrator/internal/digest"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

// CommandRunner executes an external command and returns its output.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type SvnConfig struct {
	RootURL     string
	Username    string
	Password    string
	SvnmuccPath string
	SvnPath     string
	Run         CommandRunner
}

// SvnmuccStore commits through svnmucc and inspects the repository with
// the svn client.
type SvnmuccStore struct {
	cfg SvnConfig
}

var (
	committedRe = regexp.MustCompile(`r(\d+) committed`)
	// svn reports an absent URL with one of these codes.
	notFoundRe = regexp.MustCompile(`[EW]170000|E200009|E160013`)
)

func NewSvnmuccStore(cfg SvnConfig) (*SvnmuccStore, error) {
	if cfg.RootURL == "" {
		return nil, release.Configurationf("svn root URL is required")
	}
	cfg.RootURL = strings.TrimRight(cfg.RootURL, "/")
	if cfg.SvnmuccPath == "" {
		cfg.SvnmuccPath = "svnmucc"
	}
	if cfg.SvnPath == "" {
		cfg.SvnPath = "svn"
	}
	if cfg.Run == nil {
		cfg.Run = execRunner
	}
	return &SvnmuccStore{cfg: cfg}, nil
}

func (s *SvnmuccStore) Endpoint() string { return s.cfg.RootURL }

func (s *SvnmuccStore) url(p string) string {
	p = Clean(p)
	if p == "" {
		return s.cfg.RootURL
	}
	return s.cfg.RootURL + "/" + p
}

func (s *SvnmuccStore) authArgs() []string {
	args := []string{"--non-interactive", "--no-auth-cache"}
	if s.cfg.Username != "" {
		args = append(args, "--username", s.cfg.Username)
	}
	if s.cfg.Password != "" {
		args = append(args, "--password", s.cfg.Password)
	}
	return args
}

// CommitArgs renders the svnmucc invocation for a batch.
func (s *SvnmuccStore) CommitArgs(message string, ops []Operation) []string {
	args := append(s.authArgs(), "-m", message, "-U", s.cfg.RootURL)
	for _, op := range ops {
		args = append(args, op.Args()...)
	}
	return args
}

func (s *SvnmuccStore) Stat(ctx context.Context, p string) (EntryKind, error) {
	args := append(s.authArgs(), "info", "--show-item", "kind", s.url(p))
	stdout, stderr, err := s.cfg.Run(ctx, s.cfg.SvnPath, args...)
	if err != nil {
		if notFoundRe.Match(stderr) {
			return EntryNone, nil
		}
		return EntryNone, fmt.Errorf("svn info %s: %w: %s", s.url(p), err, strings.TrimSpace(string(stderr)))
	}
	switch kind := strings.TrimSpace(string(stdout)); kind {
	case "file":
		return EntryFile, nil
	case "dir":
		return EntryDir, nil
	case "none", "":
		return EntryNone, nil
	default:
		return EntryNone, fmt.Errorf("svn info %s: unexpected kind %q", s.url(p), kind)
	}
}

func (s *SvnmuccStore) Digest(ctx context.Context, p string) (string, error) {
	args := append(s.authArgs(), "cat", s.url(p))
	stdout, stderr, err := s.cfg.Run(ctx, s.cfg.SvnPath, args...)
	if err != nil {
		return "", fmt.Errorf("svn cat %s: %w: %s", s.url(p), err, strings.TrimSpace(string(stderr)))
	}
	return digest.Bytes(stdout), nil
}

func (s *SvnmuccStore) Commit(ctx context.Context, message string, ops []Operation) (string, error) {
	stdout, stderr, err := s.cfg.Run(ctx, s.cfg.SvnmuccPath, s.CommitArgs(message, ops)...)
	if err != nil {
		return "", &CommitError{Index: -1, Err: fmt.Errorf("svnmucc: %w: %s", err, strings.TrimSpace(string(stderr)))}
	}
	m := committedRe.FindSubmatch(stdout)
	if m == nil {
		return "", fmt.Errorf("svnmucc: no revision in output %q", strings.TrimSpace(string(stdout)))
	}
	return string(m[1]), nil
}
