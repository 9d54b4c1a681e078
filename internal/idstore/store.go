// Package idstore remembers which remote staging repository belongs to each
// logical repository name, across process runs.
package idstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileSuffix = ".txt"

var errEmptyRecord = errors.New("empty record")

// Store is a durable name -> repository id map backed by one file per name.
// Set is first-writer-wins both within a process and across processes
// sharing the directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	ids map[string]string
}

// New returns a store persisting into dir. Call Load to pick up records from
// an earlier run.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "idstore"),
		ids:    map[string]string{},
	}
}

// DefaultDir is the conventional location under a build output directory.
func DefaultDir(buildDir string) string {
	return filepath.Join(buildDir, "stagingProfiles")
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileSuffix)
}

// Get returns the recorded id for name.
func (s *Store) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[name]
	return id, ok
}

// Set records id for name unless a value already exists, and returns the
// value that is authoritative afterwards. The in-memory map only observes
// the id once it is on disk; a write failure leaves the name unrecorded.
func (s *Store) Set(name, id string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("idstore: empty id for %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.ids[name]; ok {
		return existing, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("idstore: create %s: %w", s.dir, err)
	}
	existing, err := s.publish(name, id)
	if err != nil {
		return "", err
	}
	if existing != "" {
		// another process recorded first
		s.ids[name] = existing
		return existing, nil
	}
	s.ids[name] = id
	s.logger.Info("saved staging repository id", "repository", name, "id", id)
	return id, nil
}

// publish makes the record for name appear with its content in one step:
// the id is written to a temp file which is then hard-linked into place.
// It returns the id already on disk when another writer won. An empty
// record left by an interrupted writer that did not link is replaced.
func (s *Store) publish(name, id string) (string, error) {
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("idstore: record %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	_, werr := tmp.WriteString(id)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("idstore: write %s: %w", name, werr)
	}
	for attempt := 0; ; attempt++ {
		err := os.Link(tmp.Name(), s.path(name))
		if err == nil {
			return "", nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("idstore: record %s: %w", name, err)
		}
		existing, rerr := readID(s.path(name))
		if errors.Is(rerr, errEmptyRecord) && attempt == 0 {
			s.logger.Warn("replacing empty staging repository record", "repository", name)
			if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("idstore: clear empty record %s: %w", name, err)
			}
			continue
		}
		if rerr != nil {
			return "", rerr
		}
		return existing, nil
	}
}

// Load repopulates the map from the directory. A missing directory is an
// empty store.
func (s *Store) Load() error {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("idstore: list %s: %w", s.dir, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), fileSuffix)
		id, err := readID(filepath.Join(s.dir, e.Name()))
		if errors.Is(err, errEmptyRecord) {
			s.logger.Warn("ignoring empty staging repository record", "repository", name)
			continue
		}
		if err != nil {
			return err
		}
		s.ids[name] = id
		s.logger.Debug("loaded staging repository id", "repository", name, "id", id)
	}
	return nil
}

// All returns a snapshot of the recorded ids.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.ids))
	for k, v := range s.ids {
		out[k] = v
	}
	return out
}

func readID(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("idstore: read %s: %w", path, err)
	}
	id := strings.TrimSpace(string(b))
	if id == "" {
		return "", fmt.Errorf("idstore: %s: %w", path, errEmptyRecord)
	}
	return id, nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("idstore: invalid repository name %q", name)
	}
	return nil
}
