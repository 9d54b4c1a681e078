package audit

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ILLUVRSE/release-orchestrator/internal/signer"
)

// ErrNotFound is returned when an event id is not in the journal.
var ErrNotFound = errors.New("audit event not found")

const headFile = "head.hash"

// Journal is a file-backed, hash-chained audit log. Each event's hash is
// sha256(canonical(payload) || prevHash) and is signed when a signer is set.
type Journal struct {
	dir    string
	signer signer.Signer

	mu sync.Mutex
}

// NewJournal creates the journal directory if needed.
func NewJournal(dir string, s signer.Signer) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Journal{dir: dir, signer: s}, nil
}

func (j *Journal) Record(ctx context.Context, ev *Event) error {
	canon, err := MarshalCanonical(ev.Payload)
	if err != nil {
		return fmt.Errorf("canonicalize payload: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	prev, err := j.readHead()
	if err != nil {
		return err
	}
	concat := append([]byte(nil), canon...)
	if prev != "" {
		prevBytes, err := hex.DecodeString(prev)
		if err != nil {
			return fmt.Errorf("decode prevHash: %w", err)
		}
		concat = append(concat, prevBytes...)
	}
	hash := hashBytes(concat)

	ev.PrevHash = prev
	ev.Hash = hex.EncodeToString(hash)
	if j.signer != nil {
		sig, signerID, err := j.signer.Sign(hash)
		if err != nil {
			return fmt.Errorf("sign audit hash: %w", err)
		}
		ev.Signature = base64.StdEncoding.EncodeToString(sig)
		ev.SignerID = signerID
	}

	b, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := os.WriteFile(j.eventPath(ev.ID), b, 0o644); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(j.dir, headFile), []byte(ev.Hash), 0o644); err != nil {
		return fmt.Errorf("write head.hash: %w", err)
	}
	return nil
}

// Get reads an event by id.
func (j *Journal) Get(id string) (*Event, error) {
	b, err := os.ReadFile(j.eventPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Head returns the hash of the latest event, or "" for an empty journal.
func (j *Journal) Head() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readHead()
}

func (j *Journal) eventPath(id string) string {
	return filepath.Join(j.dir, fmt.Sprintf("audit_%s.json", id))
}

func (j *Journal) readHead() (string, error) {
	b, err := os.ReadFile(filepath.Join(j.dir, headFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read head.hash: %w", err)
	}
	return string(b), nil
}
