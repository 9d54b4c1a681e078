package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/release-orchestrator/internal/config"
)

type closeCounter struct{ n int }

func (c *closeCounter) Close() error { c.n++; return errors.New("already closed") }

func TestRunUsageErrors(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"stage", "--no-such-flag"}))
	assert.Equal(t, 0, run([]string{"stage", "--help"}))
}

func TestBuildFailureKeepsAppForCleanup(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Project:   config.ProjectConfig{ID: "JMeter", Version: "5.6", CommitID: "0123456789abcdef", BuildDir: dir},
		Artifacts: []string{filepath.Join(dir, "missing.zip")},
	}
	a, err := build(context.Background(), cfg, true)
	require.Error(t, err)
	require.NotNil(t, a)

	c := &closeCounter{}
	a.closers = append(a.closers, c)
	a.Close()
	assert.Equal(t, 1, c.n)
}

func TestAppCloseClosesEveryResource(t *testing.T) {
	first, second := &closeCounter{}, &closeCounter{}
	a := &app{logger: slog.Default(), closers: []io.Closer{first, second}}
	a.Close()
	assert.Equal(t, 1, first.n)
	assert.Equal(t, 1, second.n)
}
