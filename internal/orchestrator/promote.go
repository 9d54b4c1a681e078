package orchestrator

import (
	"context"

	"github.com/ILLUVRSE/release-orchestrator/internal/audit"
	"github.com/ILLUVRSE/release-orchestrator/internal/promotion"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
	"github.com/ILLUVRSE/release-orchestrator/internal/state"
	"github.com/ILLUVRSE/release-orchestrator/internal/taskgraph"
)

type PromoteResult struct {
	Report taskgraph.Report `json:"-"`
	Record *state.Record    `json:"record"`
}

// Promote moves the staged candidate to the release area and releases its
// staging repository. It can be re-run after a partial failure.
func (o *Orchestrator) Promote(ctx context.Context, tag string) (PromoteResult, error) {
	if err := o.checkTag(tag); err != nil {
		return PromoteResult{}, err
	}
	rec, err := o.d.State.Get(ctx, tag)
	if err != nil {
		return PromoteResult{}, err
	}
	if err := rec.BeginPromotion(); err != nil {
		return PromoteResult{Record: rec}, err
	}
	p, err := o.paramsFor(rec)
	if err != nil {
		return PromoteResult{Record: rec}, err
	}
	session := promotion.New(promotion.Config{
		Params:   p,
		Dist:     o.d.Dist,
		Nexus:    o.d.Nexus,
		Rules:    o.d.Rules,
		Logger:   o.d.Logger,
		Recorder: o.d.Recorder,
		Metrics:  o.d.Metrics,
	})

	out := PromoteResult{Record: rec}
	out.Report, err = o.runGraph(ctx,
		taskgraph.Task{Name: TaskPromoteDist, Run: func(ctx context.Context) error {
			res, err := session.PromoteDist(ctx)
			if err != nil {
				return err
			}
			return o.update(ctx, rec, func(r *state.Record) error { return r.MarkDistPromoted(res.Revision) })
		}},
		taskgraph.Task{Name: TaskReleaseRepository, Run: func(ctx context.Context) error {
			if err := session.ReleaseRepository(ctx, rec.RepositoryID); err != nil {
				return err
			}
			return o.update(ctx, rec, func(r *state.Record) error { return r.MarkRepositoryReleased() })
		}},
		taskgraph.Task{Name: TaskPublishDist, Deps: []string{TaskPromoteDist, TaskReleaseRepository}, Run: func(ctx context.Context) error {
			o.mu.Lock()
			phase := rec.Phase
			o.mu.Unlock()
			if phase != state.PhasePromoted {
				return release.Orderingf("publish release", "release %s ended promotion in phase %s", tag, phase)
			}
			o.logger.Info("release published", "release", p.ReleaseStoreURI, "repository", rec.RepositoryID)
			audit.Emit(ctx, o.d.Recorder, o.logger, audit.EventPhaseChanged, map[string]interface{}{
				"tag": tag, "to": string(phase), "releaseUri": p.ReleaseStoreURI, "repositoryId": rec.RepositoryID,
			})
			return nil
		}},
	)
	return out, err
}
