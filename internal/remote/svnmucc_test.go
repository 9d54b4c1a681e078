package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeSvn struct {
	calls  []call
	stdout string
	stderr string
	err    error
}

func (f *fakeSvn) run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func TestSvnmuccCommitArgs(t *testing.T) {
	fake := &fakeSvn{stdout: "r1234 committed by alice at 2024-01-01\n"}
	s, err := NewSvnmuccStore(SvnConfig{RootURL: "https://dist.example.org/repos/dist/", Username: "alice", Password: "pw", Run: fake.run})
	require.NoError(t, err)

	rev, err := s.Commit(context.Background(), "msg", []Operation{
		MakeDirectory("dev/p"),
		PutFile("/tmp/a.zip", "dev/p/a.zip"),
		Move("dev/p/a.zip", "release/p/a.zip", ""),
		Remove("dev/p"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1234", rev)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "svnmucc", fake.calls[0].name)
	assert.Equal(t, []string{
		"--non-interactive", "--no-auth-cache", "--username", "alice", "--password", "pw",
		"-m", "msg", "-U", "https://dist.example.org/repos/dist",
		"mkdir", "dev/p",
		"put", "/tmp/a.zip", "dev/p/a.zip",
		"mv", "dev/p/a.zip", "release/p/a.zip",
		"rm", "dev/p",
	}, fake.calls[0].args)
}

func TestSvnmuccCommitFailure(t *testing.T) {
	fake := &fakeSvn{stderr: "svnmucc: E160020: Path already exists", err: errors.New("exit status 1")}
	s, err := NewSvnmuccStore(SvnConfig{RootURL: "http://127.0.0.1/svn/dist", Run: fake.run})
	require.NoError(t, err)

	_, err = s.Commit(context.Background(), "msg", []Operation{MakeDirectory("dev")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E160020")
}

func TestSvnStat(t *testing.T) {
	fake := &fakeSvn{stdout: "dir\n"}
	s, err := NewSvnmuccStore(SvnConfig{RootURL: "http://127.0.0.1/svn/dist", Run: fake.run})
	require.NoError(t, err)

	kind, err := s.Stat(context.Background(), "dev/p")
	require.NoError(t, err)
	assert.Equal(t, EntryDir, kind)
	assert.Equal(t, []string{"--non-interactive", "--no-auth-cache", "info", "--show-item", "kind", "http://127.0.0.1/svn/dist/dev/p"}, fake.calls[0].args)

	fake.stdout, fake.stderr, fake.err = "", "svn: warning: W170000: URL doesn't exist", errors.New("exit status 1")
	kind, err = s.Stat(context.Background(), "dev/q")
	require.NoError(t, err)
	assert.Equal(t, EntryNone, kind)

	fake.stderr = "svn: E175002: Unable to connect"
	_, err = s.Stat(context.Background(), "dev/q")
	require.Error(t, err)
}

func TestSvnRequiresRoot(t *testing.T) {
	_, err := NewSvnmuccStore(SvnConfig{})
	require.Error(t, err)
}
