package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/release-orchestrator/internal/audit"
	"github.com/ILLUVRSE/release-orchestrator/internal/digest"
	"github.com/ILLUVRSE/release-orchestrator/internal/metrics"
)

// Result describes one submitted batch.
type Result struct {
	TxID     string      `json:"txId"`
	Message  string      `json:"message"`
	Endpoint string      `json:"endpoint"`
	Revision string      `json:"revision,omitempty"`
	Planned  []Operation `json:"-"`
	Dropped  int         `json:"dropped"`
	// Skipped is true when every operation was already applied and nothing
	// was committed.
	Skipped bool `json:"skipped"`
}

// Runner plans batches against the current store state and commits them.
type Runner struct {
	store    Store
	logger   *slog.Logger
	recorder audit.Recorder
	metrics  *metrics.Metrics
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

func WithRecorder(rec audit.Recorder) Option { return func(r *Runner) { r.recorder = rec } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

func NewRunner(store Store, opts ...Option) *Runner {
	r := &Runner{store: store, logger: slog.Default(), recorder: audit.Nop{}}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "remote", "endpoint", store.Endpoint())
	return r
}

func (r *Runner) Endpoint() string { return r.store.Endpoint() }

// Submit applies ops, in order, as one transaction named by message.
// Operations that are already reflected in the store are dropped so that an
// equivalent batch can be re-submitted after a failure.
func (r *Runner) Submit(ctx context.Context, message string, ops []Operation) (Result, error) {
	res := Result{TxID: uuid.NewString(), Message: message, Endpoint: r.store.Endpoint()}
	start := time.Now()

	planned, err := r.plan(ctx, ops)
	if err != nil {
		return res, r.fail(ctx, res, err)
	}
	res.Planned = planned
	res.Dropped = len(ops) - countRequested(planned, ops)
	if len(planned) == 0 {
		res.Skipped = true
		r.logger.Info("batch already applied", "tx", res.TxID, "message", message, "requested", len(ops))
		r.metrics.ObserveBatch(res.Endpoint, "skipped", nil)
		audit.Emit(ctx, r.recorder, r.logger, audit.EventBatchSkipped, batchPayload(res, nil))
		return res, nil
	}

	rev, err := r.store.Commit(ctx, message, planned)
	if err != nil {
		txErr := &TransactionError{TxID: res.TxID, Message: message, Endpoint: res.Endpoint, Index: commitIndex(err), Err: err}
		if txErr.Index >= 0 && txErr.Index < len(planned) {
			op := planned[txErr.Index]
			txErr.Op = &op
		}
		return res, r.fail(ctx, res, txErr)
	}
	res.Revision = rev
	kinds := make([]string, len(planned))
	for i, op := range planned {
		kinds[i] = string(op.Kind)
	}
	r.metrics.ObserveBatch(res.Endpoint, "committed", kinds)
	r.logger.Info("batch committed", "tx", res.TxID, "message", message, "revision", rev,
		"operations", len(planned), "dropped", res.Dropped, "elapsed", time.Since(start))
	audit.Emit(ctx, r.recorder, r.logger, audit.EventBatchCommitted, batchPayload(res, nil))
	return res, nil
}

func (r *Runner) fail(ctx context.Context, res Result, err error) error {
	var txErr *TransactionError
	if !errors.As(err, &txErr) {
		txErr = &TransactionError{Index: -1, Err: err}
	}
	txErr.TxID, txErr.Message, txErr.Endpoint = res.TxID, res.Message, res.Endpoint
	r.metrics.ObserveBatch(res.Endpoint, "failed", nil)
	r.logger.Error("batch failed", "tx", res.TxID, "message", res.Message, "err", txErr.Err)
	audit.Emit(ctx, r.recorder, r.logger, audit.EventBatchFailed, batchPayload(res, txErr))
	return txErr
}

func batchPayload(res Result, err *TransactionError) map[string]interface{} {
	ops := make([]interface{}, len(res.Planned))
	for i, op := range res.Planned {
		ops[i] = op.String()
	}
	p := map[string]interface{}{
		"txId":     res.TxID,
		"message":  res.Message,
		"endpoint": res.Endpoint,
		"revision": res.Revision,
		"ops":      ops,
		"dropped":  res.Dropped,
	}
	if err != nil {
		p["error"] = err.Err.Error()
		if err.Op != nil {
			p["failedOp"] = err.Op.String()
		}
	}
	return p
}

// countRequested counts the planned operations that came from the request,
// ignoring inserted parent directories.
func countRequested(planned, requested []Operation) int {
	want := make(map[Operation]int, len(requested))
	for _, op := range requested {
		want[op]++
	}
	n := 0
	for _, op := range planned {
		if want[op] > 0 {
			want[op]--
			n++
		}
	}
	return n
}

type entry struct {
	kind EntryKind
	// digest is known for files put or moved within the batch.
	digest string
	// origin is the store path whose content this entry carries.
	origin string
}

// view overlays the batch's own effects on top of the store.
type view struct {
	ctx     context.Context
	store   Store
	entries map[string]entry
	removed []string
}

func (v *view) stat(p string) (entry, error) {
	if e, ok := v.entries[p]; ok {
		return e, nil
	}
	for _, root := range v.removed {
		if under(p, root) {
			return entry{kind: EntryNone}, nil
		}
	}
	kind, err := v.store.Stat(v.ctx, p)
	if err != nil {
		return entry{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return entry{kind: kind, origin: p}, nil
}

func (v *view) digestOf(e entry) (string, error) {
	if e.digest != "" {
		return e.digest, nil
	}
	sum, err := v.store.Digest(v.ctx, e.origin)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", e.origin, err)
	}
	return sum, nil
}

func (v *view) drop(p string) {
	for k := range v.entries {
		if under(k, p) {
			delete(v.entries, k)
		}
	}
	v.removed = append(v.removed, p)
	v.entries[p] = entry{kind: EntryNone}
}

func (r *Runner) plan(ctx context.Context, ops []Operation) ([]Operation, error) {
	v := &view{ctx: ctx, store: r.store, entries: map[string]entry{}}
	var out []Operation

	ensureParents := func(idx int, op Operation) error {
		for _, dir := range Parents(op.Path) {
			e, err := v.stat(dir)
			if err != nil {
				return planErr(idx, op, err)
			}
			switch e.kind {
			case EntryDir:
			case EntryFile:
				return planErr(idx, op, fmt.Errorf("parent %s is a file", dir))
			default:
				out = append(out, MakeDirectory(dir))
				v.entries[dir] = entry{kind: EntryDir}
			}
		}
		return nil
	}

	for i, op := range ops {
		if op.Path == "" {
			return nil, planErr(i, op, errors.New("operation on store root"))
		}
		switch op.Kind {
		case KindMakeDirectory:
			e, err := v.stat(op.Path)
			if err != nil {
				return nil, planErr(i, op, err)
			}
			if e.kind == EntryDir {
				continue
			}
			if e.kind == EntryFile {
				return nil, planErr(i, op, errors.New("path exists as a file"))
			}
			if err := ensureParents(i, op); err != nil {
				return nil, err
			}
			out = append(out, op)
			v.entries[op.Path] = entry{kind: EntryDir}

		case KindPutFile:
			local := op.Digest
			if local == "" {
				sum, err := digest.File(op.LocalPath)
				if err != nil {
					return nil, planErr(i, op, err)
				}
				local = sum
			}
			e, err := v.stat(op.Path)
			if err != nil {
				return nil, planErr(i, op, err)
			}
			if e.kind == EntryDir {
				return nil, planErr(i, op, errors.New("path exists as a directory"))
			}
			if e.kind == EntryFile {
				remote, err := v.digestOf(e)
				if err != nil {
					return nil, planErr(i, op, err)
				}
				if remote == local {
					continue
				}
			} else if err := ensureParents(i, op); err != nil {
				return nil, err
			}
			out = append(out, op)
			v.entries[op.Path] = entry{kind: EntryFile, digest: local}

		case KindMove:
			src, err := v.stat(op.From)
			if err != nil {
				return nil, planErr(i, op, err)
			}
			dst, err := v.stat(op.Path)
			if err != nil {
				return nil, planErr(i, op, err)
			}
			if src.kind == EntryNone {
				if dst.kind != EntryFile {
					return nil, planErr(i, op, fmt.Errorf("source %s is missing and destination holds nothing to recover", op.From))
				}
				if op.Digest == "" {
					return nil, planErr(i, op, fmt.Errorf("source %s is missing and destination content cannot be verified", op.From))
				}
				have, err := v.digestOf(dst)
				if err != nil {
					return nil, planErr(i, op, err)
				}
				if have != op.Digest {
					return nil, planErr(i, op, fmt.Errorf("source %s is missing and destination holds different content", op.From))
				}
				// already moved by an earlier run
				continue
			}
			if dst.kind != EntryNone {
				return nil, planErr(i, op, fmt.Errorf("destination %s already exists", op.Path))
			}
			if err := ensureParents(i, op); err != nil {
				return nil, err
			}
			out = append(out, op)
			v.drop(op.From)
			v.entries[op.Path] = src

		case KindRemove:
			e, err := v.stat(op.Path)
			if err != nil {
				return nil, planErr(i, op, err)
			}
			if e.kind == EntryNone {
				continue
			}
			out = append(out, op)
			v.drop(op.Path)

		default:
			return nil, planErr(i, op, fmt.Errorf("unknown operation kind %q", op.Kind))
		}
	}
	return out, nil
}

func planErr(idx int, op Operation, err error) *TransactionError {
	return &TransactionError{Index: idx, Op: &op, Err: err}
}
