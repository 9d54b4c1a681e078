// Package staging uploads a release candidate to the dist staging area and
// publishes its modules into a binary repository staging repository.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ILLUVRSE/release-orchestrator/internal/audit"
	"github.com/ILLUVRSE/release-orchestrator/internal/digest"
	"github.com/ILLUVRSE/release-orchestrator/internal/idstore"
	"github.com/ILLUVRSE/release-orchestrator/internal/metrics"
	"github.com/ILLUVRSE/release-orchestrator/internal/nexus"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
	"github.com/ILLUVRSE/release-orchestrator/internal/remote"
)

// openTimeout bounds a shared staging repository open.
const openTimeout = 5 * time.Minute

type Config struct {
	Params   release.Params
	Dist     *remote.Runner
	Nexus    nexus.Client
	IDs      *idstore.Store
	Logger   *slog.Logger
	Recorder audit.Recorder
	Metrics  *metrics.Metrics
	// AwaitInterval, when positive, makes StageRepository wait for Nexus to
	// finish closing the repository.
	AwaitInterval time.Duration
}

type Session struct {
	params        release.Params
	dist          *remote.Runner
	nexus         nexus.Client
	ids           *idstore.Store
	logger        *slog.Logger
	recorder      audit.Recorder
	metrics       *metrics.Metrics
	awaitInterval time.Duration

	open singleflight.Group

	mu        sync.Mutex
	published map[string]map[string]bool // repository id -> module coordinates
}

func New(cfg Config) (*Session, error) {
	if cfg.Dist == nil && cfg.Nexus == nil {
		return nil, release.Configurationf("staging needs a dist runner or a nexus client")
	}
	if cfg.Nexus != nil && cfg.IDs == nil {
		return nil, release.Configurationf("staging repository id store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Session{
		params:        cfg.Params,
		dist:          cfg.Dist,
		nexus:         cfg.Nexus,
		ids:           cfg.IDs,
		logger:        logger.With("component", "staging", "tag", cfg.Params.Tag),
		recorder:      rec,
		metrics:       cfg.Metrics,
		awaitInterval: cfg.AwaitInterval,
		published:     map[string]map[string]bool{},
	}, nil
}

// DistMessage is the commit message of the staging batch.
func (s *Session) DistMessage() string {
	return fmt.Sprintf("Uploading release candidate %s %s to dev area", s.params.ProjectID, s.params.Tag)
}

// DistBatch builds the staging operations for cs without touching the store.
func DistBatch(cs Changeset, stagingPath string) []remote.Operation {
	ops := []remote.Operation{remote.MakeDirectory(stagingPath)}
	for _, a := range cs.Upload() {
		ops = append(ops,
			remote.PutFileDigest(a.Path, path.Join(stagingPath, a.Name), a.DigestHex),
			remote.PutFileDigest(digest.SidecarPath(a.Path), path.Join(stagingPath, a.SidecarName()), digest.Bytes(digest.SidecarBytes(a.DigestHex))),
		)
	}
	for _, a := range cs.Removed {
		ops = append(ops,
			remote.Remove(path.Join(stagingPath, a.Name)),
			remote.Remove(path.Join(stagingPath, a.SidecarName())),
		)
	}
	return ops
}

// StageDist verifies every artifact to upload and then submits one batch.
// A digest mismatch fails before anything is sent.
func (s *Session) StageDist(ctx context.Context, cs Changeset, stagingPath string) (remote.Result, error) {
	if s.dist == nil {
		return remote.Result{}, release.Configurationf("dist store not configured")
	}
	for _, a := range cs.Upload() {
		if err := digest.Verify(a); err != nil {
			s.logger.Error("artifact failed verification", "artifact", a.Name, "err", err)
			return remote.Result{}, err
		}
	}
	res, err := s.dist.Submit(ctx, s.DistMessage(), DistBatch(cs, stagingPath))
	if err != nil {
		return res, err
	}
	s.logger.Info("dist staged", "path", stagingPath, "added", len(cs.Added), "modified", len(cs.Modified),
		"removed", len(cs.Removed), "unchanged", len(cs.Unchanged), "revision", res.Revision, "skipped", res.Skipped)
	return res, nil
}

func (s *Session) description() string {
	return fmt.Sprintf("%s %s", s.params.ProjectID, s.params.Tag)
}

// OpenRepository returns the staging repository for logicalName, opening one
// only when none has been recorded. Concurrent callers share one open.
func (s *Session) OpenRepository(ctx context.Context, logicalName string) (string, error) {
	if s.nexus == nil {
		return "", release.Configurationf("nexus client not configured")
	}
	if id, ok := s.ids.Get(logicalName); ok {
		return id, nil
	}
	ch := s.open.DoChan(logicalName, func() (interface{}, error) {
		// Detached from the first caller so one cancellation does not fail
		// every caller sharing the open.
		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()
		return s.openAndRecord(octx, logicalName)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Session) openAndRecord(ctx context.Context, logicalName string) (string, error) {
	if id, ok := s.ids.Get(logicalName); ok {
		return id, nil
	}
	opened, err := s.nexus.OpenStagingRepository(ctx, s.description())
	s.metrics.ObserveTransition("open", err)
	if err != nil {
		return "", err
	}
	winner, err := s.ids.Set(logicalName, opened)
	if err != nil {
		s.dropOrphan(ctx, opened, "id could not be recorded")
		return "", fmt.Errorf("record staging repository %s: %w", opened, err)
	}
	if winner != opened {
		s.dropOrphan(ctx, opened, "another process recorded "+winner)
		return winner, nil
	}
	s.logger.Info("staging repository opened", "name", logicalName, "repository", opened)
	audit.Emit(ctx, s.recorder, s.logger, audit.EventRepositoryOpened, map[string]interface{}{
		"tag": s.params.Tag, "name": logicalName, "repositoryId": opened, "endpoint": s.nexus.Endpoint(),
	})
	return opened, nil
}

func (s *Session) dropOrphan(ctx context.Context, id, reason string) {
	err := s.nexus.Drop(ctx, id, "orphaned: "+reason)
	s.metrics.ObserveTransition("drop", err)
	if err != nil {
		s.logger.Error("drop orphaned staging repository", "repository", id, "reason", reason, "err", err)
		return
	}
	s.logger.Warn("dropped orphaned staging repository", "repository", id, "reason", reason)
	audit.Emit(ctx, s.recorder, s.logger, audit.EventRepositoryDropped, map[string]interface{}{
		"tag": s.params.Tag, "repositoryId": id, "reason": reason,
	})
}

// StageRepository publishes modules into the staging repository for
// logicalName and closes it. A repository that is already closed or
// released is left untouched.
func (s *Session) StageRepository(ctx context.Context, logicalName string, modules []nexus.Module) (string, error) {
	id, err := s.OpenRepository(ctx, logicalName)
	if err != nil {
		return "", err
	}
	st, err := s.nexus.Status(ctx, id)
	if err != nil {
		return id, err
	}
	if st.Type == nexus.StatusClosed || st.Type == nexus.StatusReleased {
		s.logger.Info("staging repository already closed", "repository", id, "status", st.Type)
		return id, nil
	}
	for _, m := range modules {
		if err := s.Publish(ctx, id, m); err != nil {
			return id, err
		}
	}
	if err := s.CloseRepository(ctx, id, modules); err != nil {
		return id, err
	}
	if s.awaitInterval > 0 {
		if _, err := nexus.Await(ctx, s.nexus, id, s.awaitInterval); err != nil {
			return id, err
		}
	}
	return id, nil
}

// Publish deploys one module and remembers it for CloseRepository.
func (s *Session) Publish(ctx context.Context, id string, m nexus.Module) error {
	if err := s.nexus.Publish(ctx, id, m); err != nil {
		s.logger.Error("publish failed", "repository", id, "module", m.Coordinates(), "err", err)
		return err
	}
	s.mu.Lock()
	if s.published[id] == nil {
		s.published[id] = map[string]bool{}
	}
	s.published[id][m.Coordinates()] = true
	s.mu.Unlock()
	s.logger.Debug("module published", "repository", id, "module", m.Coordinates(), "files", len(m.Files))
	return nil
}

// CloseRepository closes id once every one of modules has been published
// through this session.
func (s *Session) CloseRepository(ctx context.Context, id string, modules []nexus.Module) error {
	s.mu.Lock()
	var pending []string
	for _, m := range modules {
		if !s.published[id][m.Coordinates()] {
			pending = append(pending, m.Coordinates())
		}
	}
	s.mu.Unlock()
	if len(pending) > 0 {
		return release.Orderingf("close "+id, "incomplete staging repository: %d module(s) not published: %v", len(pending), pending)
	}
	err := s.nexus.Close(ctx, id, s.description())
	s.metrics.ObserveTransition("close", err)
	if err != nil {
		return err
	}
	s.logger.Info("staging repository closed", "repository", id, "modules", len(modules))
	audit.Emit(ctx, s.recorder, s.logger, audit.EventRepositoryClosed, map[string]interface{}{
		"tag": s.params.Tag, "repositoryId": id, "modules": len(modules),
	})
	return nil
}

type DistOutcome struct {
	Result remote.Result
	Err    error
}

type RepositoryOutcome struct {
	RepositoryID string
	Err          error
}

// Outcome reports the two halves of a staging run independently.
type Outcome struct {
	Dist       DistOutcome
	Repository RepositoryOutcome
}

func (o Outcome) Err() error {
	return errors.Join(o.Dist.Err, o.Repository.Err)
}

// Stage runs StageDist and StageRepository concurrently.
func (s *Session) Stage(ctx context.Context, cs Changeset, stagingPath, logicalName string, modules []nexus.Module) Outcome {
	var out Outcome
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.Dist.Result, out.Dist.Err = s.StageDist(ctx, cs, stagingPath)
	}()
	go func() {
		defer wg.Done()
		out.Repository.RepositoryID, out.Repository.Err = s.StageRepository(ctx, logicalName, modules)
	}()
	wg.Wait()
	return out
}
