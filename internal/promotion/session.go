// Package promotion moves a voted release candidate from the dist staging
// area to the release area and releases its staging repository.
package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/ILLUVRSE/release-orchestrator/internal/audit"
	"github.com/ILLUVRSE/release-orchestrator/internal/digest"
	"github.com/ILLUVRSE/release-orchestrator/internal/metrics"
	"github.com/ILLUVRSE/release-orchestrator/internal/nexus"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
	"github.com/ILLUVRSE/release-orchestrator/internal/remote"
)

// PlanPromotion moves every artifact and its sidecar out of stagingPath and
// finally removes stagingPath. The Remove comes last so a failed move leaves
// the candidate in place.
func PlanPromotion(artifacts []release.Artifact, stagingPath, releasePath string, rules Rules) []remote.Operation {
	var ops []remote.Operation
	for _, a := range release.SortArtifacts(artifacts) {
		dest := rules.Destination(a.Name, releasePath)
		ops = append(ops,
			remote.Move(path.Join(stagingPath, a.Name), path.Join(dest, a.Name), a.DigestHex),
			remote.Move(path.Join(stagingPath, a.SidecarName()), path.Join(dest, a.SidecarName()), digest.Bytes(digest.SidecarBytes(a.DigestHex))),
		)
	}
	return append(ops, remote.Remove(stagingPath))
}

type Config struct {
	Params   release.Params
	Dist     *remote.Runner
	Nexus    nexus.Client
	Rules    Rules
	Logger   *slog.Logger
	Recorder audit.Recorder
	Metrics  *metrics.Metrics
}

type Session struct {
	params   release.Params
	dist     *remote.Runner
	nexus    nexus.Client
	rules    Rules
	logger   *slog.Logger
	recorder audit.Recorder
	metrics  *metrics.Metrics
}

func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = audit.Nop{}
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	return &Session{
		params:   cfg.Params,
		dist:     cfg.Dist,
		nexus:    cfg.Nexus,
		rules:    rules,
		logger:   logger.With("component", "promotion", "tag", cfg.Params.Tag),
		recorder: rec,
		metrics:  cfg.Metrics,
	}
}

func (s *Session) Message() string {
	return fmt.Sprintf("Promoting release candidate %s %s to release area", s.params.ProjectID, s.params.Tag)
}

// Plan returns the promotion batch for the session's parameters.
func (s *Session) Plan() []remote.Operation {
	return PlanPromotion(s.params.Artifacts, s.params.StageFolder, s.params.ReleaseFolder, s.rules)
}

// PromoteDist submits the promotion batch.
func (s *Session) PromoteDist(ctx context.Context) (remote.Result, error) {
	if s.dist == nil {
		return remote.Result{}, release.Configurationf("dist store not configured")
	}
	if len(s.params.Artifacts) == 0 {
		return remote.Result{}, &release.Error{Kind: release.KindPromotion, Op: "promote dist", Err: fmt.Errorf("no staged artifacts")}
	}
	res, err := s.dist.Submit(ctx, s.Message(), s.Plan())
	if err != nil {
		return res, err
	}
	s.logger.Info("dist promoted", "from", s.params.StageFolder, "to", s.params.ReleaseFolder,
		"artifacts", len(s.params.Artifacts), "revision", res.Revision, "skipped", res.Skipped)
	return res, nil
}

// ReleaseRepository releases a closed staging repository. One that is
// already released is left alone.
func (s *Session) ReleaseRepository(ctx context.Context, repositoryID string) error {
	if s.nexus == nil {
		return release.Configurationf("nexus client not configured")
	}
	op := "release " + repositoryID
	st, err := s.nexus.Status(ctx, repositoryID)
	if err != nil {
		return err
	}
	switch {
	case st.Type == nexus.StatusReleased:
		s.logger.Info("staging repository already released", "repository", repositoryID)
		return nil
	case st.Transitioning:
		return &release.Error{Kind: release.KindPromotion, Op: op, Endpoint: s.nexus.Endpoint(),
			Err: fmt.Errorf("%w: repository is transitioning (%s)", release.ErrOrdering, st.Type)}
	case st.Type != nexus.StatusClosed:
		return &release.Error{Kind: release.KindPromotion, Op: op, Endpoint: s.nexus.Endpoint(),
			Err: fmt.Errorf("%w: repository is %s, want %s", release.ErrOrdering, st.Type, nexus.StatusClosed)}
	}
	err = s.nexus.Release(ctx, repositoryID, fmt.Sprintf("%s %s", s.params.ProjectID, s.params.Tag))
	s.metrics.ObserveTransition("release", err)
	if err != nil {
		return err
	}
	s.logger.Info("staging repository released", "repository", repositoryID)
	audit.Emit(ctx, s.recorder, s.logger, audit.EventRepositoryReleased, map[string]interface{}{
		"tag": s.params.Tag, "repositoryId": repositoryID, "endpoint": s.nexus.Endpoint(),
	})
	return nil
}
