// Package nexus drives the Nexus 2 staging workflow: open a staging
// repository, publish module files into it, close it for the vote and
// release or drop it afterwards.
package nexus

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// Status is the lifecycle state Nexus reports for a staging repository.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusReleased Status = "released"
)

var ErrNotFound = errors.New("staging repository not found")

// RepositoryStatus is the subset of the staging repository document the
// orchestrator relies on.
type RepositoryStatus struct {
	ID            string `json:"repositoryId"`
	Type          Status `json:"type"`
	Transitioning bool   `json:"transitioning"`
	Description   string `json:"description,omitempty"`
}

// Module is a publishable unit. Files are local paths; each is deployed under
// the module's coordinates using its base name.
type Module struct {
	Group    string
	Artifact string
	Version  string
	Files    []string
}

func (m Module) Coordinates() string {
	return m.Group + ":" + m.Artifact + ":" + m.Version
}

// DeployPath is the repository-relative path of file within the module.
func (m Module) DeployPath(file string) string {
	return path.Join(strings.ReplaceAll(m.Group, ".", "/"), m.Artifact, m.Version, path.Base(file))
}

// Client is the binary repository transport.
type Client interface {
	Endpoint() string
	OpenStagingRepository(ctx context.Context, description string) (string, error)
	Publish(ctx context.Context, repositoryID string, m Module) error
	Close(ctx context.Context, repositoryID, description string) error
	Release(ctx context.Context, repositoryID, description string) error
	Drop(ctx context.Context, repositoryID, description string) error
	Status(ctx context.Context, repositoryID string) (RepositoryStatus, error)
}

// Await polls Status until the repository stops transitioning or ctx ends.
func Await(ctx context.Context, c Client, repositoryID string, interval time.Duration) (RepositoryStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		st, err := c.Status(ctx, repositoryID)
		if err != nil || !st.Transitioning {
			return st, err
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(interval):
		}
	}
}
