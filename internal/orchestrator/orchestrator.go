// Package orchestrator wires the staging, vote and promotion steps of a
// release into task graphs and records progress in the state store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ILLUVRSE/release-orchestrator/internal/audit"
	"github.com/ILLUVRSE/release-orchestrator/internal/idstore"
	"github.com/ILLUVRSE/release-orchestrator/internal/metrics"
	"github.com/ILLUVRSE/release-orchestrator/internal/nexus"
	"github.com/ILLUVRSE/release-orchestrator/internal/promotion"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
	"github.com/ILLUVRSE/release-orchestrator/internal/remote"
	"github.com/ILLUVRSE/release-orchestrator/internal/state"
	"github.com/ILLUVRSE/release-orchestrator/internal/taskgraph"
	"github.com/ILLUVRSE/release-orchestrator/internal/vote"
)

// Task names of the stage and promote graphs.
const (
	TaskStageDist         = "stageDist"
	TaskStageRepository   = "stageRepository"
	TaskGenerateVoteText  = "generateVoteText"
	TaskPromoteDist       = "promoteDist"
	TaskReleaseRepository = "releaseRepository"
	TaskPublishDist       = "publishDist"
)

var ErrUnknownRelease = errors.New("unknown release")

// Archiver stores release documents outside the build directory.
type Archiver interface {
	ArchiveRelease(ctx context.Context, tag, name string, body []byte, contentType string) (string, error)
}

type Deps struct {
	Params         release.Params
	NexusURL       string
	BuildDir       string
	RepositoryName string
	Modules        []nexus.Module
	Concurrency    int
	AwaitInterval  time.Duration

	Dist     *remote.Runner
	Nexus    nexus.Client
	IDs      *idstore.Store
	State    state.Store
	Rules    promotion.Rules
	Vote     *vote.Generator
	Archiver Archiver
	Recorder audit.Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Orchestrator struct {
	d      Deps
	logger *slog.Logger

	// mu serialises record updates from concurrent tasks.
	mu sync.Mutex
}

func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Dist == nil:
		return nil, release.Configurationf("dist runner required")
	case d.Nexus == nil:
		return nil, release.Configurationf("nexus client required")
	case d.IDs == nil:
		return nil, release.Configurationf("repository id store required")
	case d.State == nil:
		return nil, release.Configurationf("state store required")
	case d.Params.Tag == "":
		return nil, release.Configurationf("release parameters required")
	}
	if d.RepositoryName == "" {
		d.RepositoryName = "nexus"
	}
	if d.Vote == nil {
		d.Vote = vote.New()
	}
	if d.Rules == nil {
		d.Rules = promotion.DefaultRules()
	}
	if d.Recorder == nil {
		d.Recorder = audit.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{d: d, logger: d.Logger.With("component", "orchestrator", "tag", d.Params.Tag)}, nil
}

func (o *Orchestrator) Tag() string { return o.d.Params.Tag }

// VotePath is where the vote announcement is written.
func (o *Orchestrator) VotePath() string { return vote.DefaultPath(o.d.BuildDir) }

func (o *Orchestrator) checkTag(tag string) error {
	if tag != o.d.Params.Tag {
		return fmt.Errorf("%w: %s", ErrUnknownRelease, tag)
	}
	return nil
}

// Status returns the persisted record for tag.
func (o *Orchestrator) Status(ctx context.Context, tag string) (*state.Record, error) {
	return o.d.State.Get(ctx, tag)
}

func (o *Orchestrator) loadRecord(ctx context.Context) (*state.Record, error) {
	rec, err := o.d.State.Get(ctx, o.d.Params.Tag)
	if errors.Is(err, state.ErrNotFound) {
		return state.NewRecord(o.d.Params), nil
	}
	return rec, err
}

// update applies fn to rec and persists it under the record lock.
func (o *Orchestrator) update(ctx context.Context, rec *state.Record, fn func(*state.Record) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	before := rec.Phase
	if err := fn(rec); err != nil {
		return err
	}
	if err := o.d.State.Put(ctx, rec); err != nil {
		return fmt.Errorf("persist release state: %w", err)
	}
	o.d.Metrics.SetPhase(rec.Tag, string(rec.Phase), state.Phases)
	if rec.Phase != before {
		o.logger.Info("release phase changed", "from", before, "to", rec.Phase)
		audit.Emit(ctx, o.d.Recorder, o.logger, audit.EventPhaseChanged, map[string]interface{}{
			"tag": rec.Tag, "from": string(before), "to": string(rec.Phase),
		})
	}
	return nil
}

func (o *Orchestrator) runGraph(ctx context.Context, tasks ...taskgraph.Task) (taskgraph.Report, error) {
	g, err := taskgraph.New(tasks...)
	if err != nil {
		return taskgraph.Report{}, err
	}
	report := g.Run(ctx, o.d.Concurrency, taskgraph.WithLogger(o.d.Logger), taskgraph.WithMetrics(o.d.Metrics))
	return report, report.Err()
}
