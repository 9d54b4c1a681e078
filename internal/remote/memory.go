package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/ILLUVRSE/release-orchestrator/internal/digest"
)

type memEntry struct {
	dir  bool
	data []byte
}

// Commit records one successful MemoryStore commit.
type Commit struct {
	Revision string
	Message  string
	Ops      []Operation
}

// MemoryStore is an in-process Store. Commits are applied to a copy of the
// tree and swapped in only when every operation succeeds.
type MemoryStore struct {
	endpoint string

	mu       sync.Mutex
	tree     map[string]memEntry
	revision int
	commits  []Commit
	failOn   func(index int, op Operation) error
}

func NewMemoryStore(endpoint string) *MemoryStore {
	return &MemoryStore{endpoint: endpoint, tree: map[string]memEntry{}}
}

func (m *MemoryStore) Endpoint() string { return m.endpoint }

// FailOn installs a hook consulted before each operation of a commit; a
// non-nil return aborts the whole commit.
func (m *MemoryStore) FailOn(fn func(index int, op Operation) error) {
	m.mu.Lock()
	m.failOn = fn
	m.mu.Unlock()
}

// Mkdir seeds a directory, and its parents, outside of any commit.
func (m *MemoryStore) Mkdir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = Clean(p)
	for _, dir := range append(Parents(p), p) {
		m.tree[dir] = memEntry{dir: true}
	}
}

// WriteFile seeds a file, creating its parents, outside of any commit.
func (m *MemoryStore) WriteFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = Clean(p)
	for _, dir := range Parents(p) {
		m.tree[dir] = memEntry{dir: true}
	}
	m.tree[p] = memEntry{data: append([]byte(nil), data...)}
}

func (m *MemoryStore) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tree[Clean(p)]
	return ok
}

func (m *MemoryStore) Read(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tree[Clean(p)]
	if !ok || e.dir {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// List returns every path at or below root, sorted.
func (m *MemoryStore) List(root string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	root = Clean(root)
	var out []string
	for p := range m.tree {
		if root == "" || under(p, root) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) Commits() []Commit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Commit(nil), m.commits...)
}

func (m *MemoryStore) Stat(ctx context.Context, p string) (EntryKind, error) {
	if err := ctx.Err(); err != nil {
		return EntryNone, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tree[Clean(p)]
	switch {
	case !ok:
		return EntryNone, nil
	case e.dir:
		return EntryDir, nil
	}
	return EntryFile, nil
}

func (m *MemoryStore) Digest(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tree[Clean(p)]
	if !ok || e.dir {
		return "", fmt.Errorf("%s: not a file", p)
	}
	return digest.Bytes(e.data), nil
}

func (m *MemoryStore) Commit(ctx context.Context, message string, ops []Operation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]memEntry, len(m.tree))
	for k, v := range m.tree {
		next[k] = v
	}
	for i, op := range ops {
		if m.failOn != nil {
			if err := m.failOn(i, op); err != nil {
				return "", &CommitError{Index: i, Err: err}
			}
		}
		if err := apply(next, op); err != nil {
			return "", &CommitError{Index: i, Err: err}
		}
	}
	m.tree = next
	m.revision++
	rev := strconv.Itoa(m.revision)
	m.commits = append(m.commits, Commit{Revision: rev, Message: message, Ops: append([]Operation(nil), ops...)})
	return rev, nil
}

func apply(tree map[string]memEntry, op Operation) error {
	parentOK := func(p string) error {
		for _, dir := range Parents(p) {
			if e, ok := tree[dir]; !ok || !e.dir {
				return fmt.Errorf("parent %s does not exist", dir)
			}
		}
		return nil
	}
	switch op.Kind {
	case KindMakeDirectory:
		if _, ok := tree[op.Path]; ok {
			return fmt.Errorf("%s already exists", op.Path)
		}
		if err := parentOK(op.Path); err != nil {
			return err
		}
		tree[op.Path] = memEntry{dir: true}
	case KindPutFile:
		if e, ok := tree[op.Path]; ok && e.dir {
			return fmt.Errorf("%s is a directory", op.Path)
		}
		if err := parentOK(op.Path); err != nil {
			return err
		}
		data, err := os.ReadFile(op.LocalPath)
		if err != nil {
			return err
		}
		tree[op.Path] = memEntry{data: data}
	case KindMove:
		if _, ok := tree[op.From]; !ok {
			return fmt.Errorf("%s does not exist", op.From)
		}
		if _, ok := tree[op.Path]; ok {
			return fmt.Errorf("%s already exists", op.Path)
		}
		if err := parentOK(op.Path); err != nil {
			return err
		}
		for p, e := range tree {
			if under(p, op.From) {
				delete(tree, p)
				tree[op.Path+p[len(op.From):]] = e
			}
		}
	case KindRemove:
		if _, ok := tree[op.Path]; !ok {
			return fmt.Errorf("%s does not exist", op.Path)
		}
		for p := range tree {
			if under(p, op.Path) {
				delete(tree, p)
			}
		}
	default:
		return errors.New("unknown operation " + string(op.Kind))
	}
	return nil
}
