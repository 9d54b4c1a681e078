package remote

import (
	"context"
	"errors"
	"fmt"
)

// EntryKind is what a store path currently holds.
type EntryKind int

const (
	EntryNone EntryKind = iota
	EntryFile
	EntryDir
)

func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntryDir:
		return "dir"
	}
	return "none"
}

// Store is the transport to a path-addressed remote store.
type Store interface {
	// Endpoint identifies the store root, for logs and errors.
	Endpoint() string
	// Stat reports the kind of entry at p; a missing path is EntryNone.
	Stat(ctx context.Context, p string) (EntryKind, error)
	// Digest returns the sha512 hex of the file at p.
	Digest(ctx context.Context, p string) (string, error)
	// Commit applies ops in order as one atomic change and returns the new
	// revision. On error no part of the change is visible.
	Commit(ctx context.Context, message string, ops []Operation) (string, error)
}

// CommitError is returned by stores that can tell which operation of a
// commit failed. Index is -1 when unknown.
type CommitError struct {
	Index int
	Err   error
}

func (e *CommitError) Error() string {
	if e.Index < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("operation %d: %v", e.Index, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

func commitIndex(err error) int {
	var ce *CommitError
	if errors.As(err, &ce) {
		return ce.Index
	}
	return -1
}
