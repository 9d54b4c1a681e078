// Package audit records every remote transaction and state transition of a
// release so that a release manager can reconstruct what happened.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the orchestrator.
const (
	EventBatchCommitted     = "remote.batch.committed"
	EventBatchSkipped       = "remote.batch.skipped"
	EventBatchFailed        = "remote.batch.failed"
	EventRepositoryOpened   = "repository.opened"
	EventRepositoryClosed   = "repository.closed"
	EventRepositoryReleased = "repository.released"
	EventRepositoryDropped  = "repository.dropped"
	EventPhaseChanged       = "release.phase"
	EventVoteRendered       = "release.vote"
)

// Event is one audit record.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	PrevHash  string      `json:"prevHash,omitempty"`
	Hash      string      `json:"hash,omitempty"`
	Signature string      `json:"signature,omitempty"`
	SignerID  string      `json:"signerId,omitempty"`
	Ts        time.Time   `json:"ts"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType string, payload interface{}) *Event {
	return &Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Payload: payload,
		Ts:      time.Now().UTC(),
	}
}

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, ev *Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, *Event) error { return nil }

// Multi fans an event out to several recorders. The first recorder is the
// system of record: its error is returned. Errors from the remaining
// recorders are logged.
type Multi struct {
	Primary Recorder
	Others  []Recorder
	Logger  *slog.Logger
}

func (m *Multi) Record(ctx context.Context, ev *Event) error {
	if m.Primary != nil {
		if err := m.Primary.Record(ctx, ev); err != nil {
			return err
		}
	}
	var errs []error
	for _, r := range m.Others {
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger := m.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("audit fan-out failed", "event", ev.ID, "type", ev.Type, "err", err)
	}
	return nil
}

// Emit records an event and logs instead of failing the caller. Audit is a
// side channel for release operations.
func Emit(ctx context.Context, r Recorder, logger *slog.Logger, eventType string, payload interface{}) {
	if r == nil {
		return
	}
	ev := NewEvent(eventType, payload)
	if err := r.Record(ctx, ev); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("audit record failed", "type", eventType, "err", err)
	}
}

// HashHex returns the hex SHA-256 of b.
func HashHex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func hashBytes(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}
