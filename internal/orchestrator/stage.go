package orchestrator

import (
	"context"

	"github.com/ILLUVRSE/release-orchestrator/internal/audit"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
	"github.com/ILLUVRSE/release-orchestrator/internal/staging"
	"github.com/ILLUVRSE/release-orchestrator/internal/state"
	"github.com/ILLUVRSE/release-orchestrator/internal/taskgraph"
	"github.com/ILLUVRSE/release-orchestrator/internal/vote"
)

type StageResult struct {
	Report     taskgraph.Report
	Record     *state.Record
	VoteText   string
	VotePath   string
	ArchiveKey string
}

func (o *Orchestrator) stagingSession() (*staging.Session, error) {
	return staging.New(staging.Config{
		Params:        o.d.Params,
		Dist:          o.d.Dist,
		Nexus:         o.d.Nexus,
		IDs:           o.d.IDs,
		Logger:        o.d.Logger,
		Recorder:      o.d.Recorder,
		Metrics:       o.d.Metrics,
		AwaitInterval: o.d.AwaitInterval,
	})
}

// Stage uploads the candidate to dist and the staging repository
// concurrently, then renders and writes the vote announcement.
func (o *Orchestrator) Stage(ctx context.Context) (StageResult, error) {
	if len(o.d.Params.Artifacts) == 0 {
		return StageResult{}, release.Configurationf("no artifacts to stage")
	}
	if err := o.d.IDs.Load(); err != nil {
		return StageResult{}, err
	}
	rec, err := o.loadRecord(ctx)
	if err != nil {
		return StageResult{}, err
	}
	if rec.Phase == state.PhasePromoted {
		return StageResult{Record: rec}, release.Orderingf("stage", "release %s is already promoted", rec.Tag)
	}
	session, err := o.stagingSession()
	if err != nil {
		return StageResult{}, err
	}
	var previous map[string]string
	if rec.DistStaged {
		previous = rec.StagedArtifacts
	}
	cs := staging.ComputeChanges(previous, o.d.Params.Artifacts)
	out := StageResult{Record: rec, VotePath: o.VotePath()}

	out.Report, err = o.runGraph(ctx,
		taskgraph.Task{Name: TaskStageDist, Run: func(ctx context.Context) error {
			res, err := session.StageDist(ctx, cs, o.d.Params.StageFolder)
			if err != nil {
				return err
			}
			return o.update(ctx, rec, func(r *state.Record) error {
				return r.MarkDistStaged(o.d.Params.Artifacts, res.Revision)
			})
		}},
		taskgraph.Task{Name: TaskStageRepository, Run: func(ctx context.Context) error {
			id, err := session.StageRepository(ctx, o.d.RepositoryName, o.d.Modules)
			if err != nil {
				return err
			}
			return o.update(ctx, rec, func(r *state.Record) error { return r.MarkRepositoryStaged(id) })
		}},
		taskgraph.Task{Name: TaskGenerateVoteText, Deps: []string{TaskStageDist, TaskStageRepository}, Run: func(ctx context.Context) error {
			text, err := o.renderVote(rec)
			if err != nil {
				return err
			}
			if err := vote.WriteFile(out.VotePath, text); err != nil {
				return err
			}
			out.VoteText = text
			o.logger.Info("vote announcement written", "path", out.VotePath)
			audit.Emit(ctx, o.d.Recorder, o.logger, audit.EventVoteRendered, map[string]interface{}{
				"tag": rec.Tag, "path": out.VotePath, "repositoryId": rec.RepositoryID, "distRevision": rec.DistRevision,
			})
			out.ArchiveKey = o.archive(ctx, "mail.txt", []byte(text))
			return nil
		}},
	)
	return out, err
}

func (o *Orchestrator) paramsFor(rec *state.Record) (release.Params, error) {
	p := o.d.Params
	if len(rec.StagedArtifacts) > 0 {
		p.Artifacts = rec.Artifacts()
	}
	if rec.RepositoryID != "" {
		uri, err := release.RepositoryURI(o.d.NexusURL, rec.RepositoryID)
		if err != nil {
			return release.Params{}, err
		}
		p = p.WithRepository(rec.RepositoryID, uri)
	}
	return p, nil
}

func (o *Orchestrator) renderVote(rec *state.Record) (string, error) {
	p, err := o.paramsFor(rec)
	if err != nil {
		return "", err
	}
	return o.d.Vote.Render(p, rec.DistRevision)
}

// Vote renders the announcement for a staged release from its record.
func (o *Orchestrator) Vote(ctx context.Context, tag string) (string, error) {
	if err := o.checkTag(tag); err != nil {
		return "", err
	}
	rec, err := o.d.State.Get(ctx, tag)
	if err != nil {
		return "", err
	}
	if !rec.DistStaged || !rec.RepositoryStaged {
		return "", release.Orderingf("render vote text", "release %s is not staged", tag)
	}
	return o.renderVote(rec)
}

func (o *Orchestrator) archive(ctx context.Context, name string, body []byte) string {
	if o.d.Archiver == nil {
		return ""
	}
	key, err := o.d.Archiver.ArchiveRelease(ctx, o.d.Params.Tag, name, body, "text/plain; charset=utf-8")
	if err != nil {
		o.logger.Error("archive release document", "name", name, "err", err)
		return ""
	}
	o.logger.Info("release document archived", "name", name, "key", key)
	return key
}
