package nexus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ILLUVRSE/release-orchestrator/internal/digest"
)

type memRepo struct {
	status RepositoryStatus
	files  map[string]string // deploy path -> sha512
}

// MemoryClient is an in-process Client. Fail hooks, keyed by operation name
// ("open", "publish", "close", "release", "drop", "status"), let tests inject
// faults.
type MemoryClient struct {
	endpoint string

	mu     sync.Mutex
	next   int
	repos  map[string]*memRepo
	opened int
	fail   map[string]error
}

func NewMemoryClient(endpoint string) *MemoryClient {
	return &MemoryClient{endpoint: endpoint, repos: map[string]*memRepo{}, fail: map[string]error{}}
}

func (m *MemoryClient) Endpoint() string { return m.endpoint }

// FailOn makes every subsequent call of op return err; nil clears it.
func (m *MemoryClient) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// SetStatus overrides the state of a repository.
func (m *MemoryClient) SetStatus(id string, st Status, transitioning bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[id]; ok {
		r.status.Type = st
		r.status.Transitioning = transitioning
	}
}

// Opened counts OpenStagingRepository successes.
func (m *MemoryClient) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Files lists the deploy paths published into id.
func (m *MemoryClient) Files(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.files))
	for p := range r.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryClient) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.repos[id]
	return ok
}

func (m *MemoryClient) OpenStagingRepository(ctx context.Context, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "open"); err != nil {
		return "", err
	}
	m.next++
	id := fmt.Sprintf("staging-%d", 1000+m.next)
	m.repos[id] = &memRepo{
		status: RepositoryStatus{ID: id, Type: StatusOpen, Description: description},
		files:  map[string]string{},
	}
	m.opened++
	return id, nil
}

func (m *MemoryClient) Publish(ctx context.Context, id string, mod Module) error {
	sums := make(map[string]string, len(mod.Files))
	for _, f := range mod.Files {
		sum, err := digest.File(f)
		if err != nil {
			return err
		}
		sums[mod.DeployPath(f)] = sum
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "publish"); err != nil {
		return err
	}
	r, err := m.repo(id)
	if err != nil {
		return err
	}
	if r.status.Type != StatusOpen {
		return fmt.Errorf("repository %s is %s", id, r.status.Type)
	}
	for p, s := range sums {
		r.files[p] = s
	}
	return nil
}

func (m *MemoryClient) Close(ctx context.Context, id, _ string) error {
	return m.transition(ctx, "close", id, StatusOpen, StatusClosed)
}

func (m *MemoryClient) Release(ctx context.Context, id, _ string) error {
	return m.transition(ctx, "release", id, StatusClosed, StatusReleased)
}

func (m *MemoryClient) Drop(ctx context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "drop"); err != nil {
		return err
	}
	if _, err := m.repo(id); err != nil {
		return err
	}
	delete(m.repos, id)
	return nil
}

func (m *MemoryClient) Status(ctx context.Context, id string) (RepositoryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "status"); err != nil {
		return RepositoryStatus{}, err
	}
	r, err := m.repo(id)
	if err != nil {
		return RepositoryStatus{}, err
	}
	return r.status, nil
}

func (m *MemoryClient) transition(ctx context.Context, op, id string, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, op); err != nil {
		return err
	}
	r, err := m.repo(id)
	if err != nil {
		return err
	}
	if r.status.Type != from || r.status.Transitioning {
		return fmt.Errorf("cannot %s repository %s in state %s", op, id, r.status.Type)
	}
	r.status.Type = to
	return nil
}

func (m *MemoryClient) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.fail[op]
}

func (m *MemoryClient) repo(id string) (*memRepo, error) {
	r, ok := m.repos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}
