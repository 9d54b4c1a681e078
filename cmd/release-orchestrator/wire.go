package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ILLUVRSE/release-orchestrator/internal/audit"
	"github.com/ILLUVRSE/release-orchestrator/internal/config"
	"github.com/ILLUVRSE/release-orchestrator/internal/digest"
	"github.com/ILLUVRSE/release-orchestrator/internal/idstore"
	"github.com/ILLUVRSE/release-orchestrator/internal/metrics"
	"github.com/ILLUVRSE/release-orchestrator/internal/nexus"
	"github.com/ILLUVRSE/release-orchestrator/internal/orchestrator"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
	"github.com/ILLUVRSE/release-orchestrator/internal/remote"
	"github.com/ILLUVRSE/release-orchestrator/internal/signer"
	"github.com/ILLUVRSE/release-orchestrator/internal/state"
	"github.com/ILLUVRSE/release-orchestrator/internal/vcs"
	"github.com/ILLUVRSE/release-orchestrator/internal/vote"
)

type app struct {
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	logger  *slog.Logger
	closers []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close", "err", err)
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// build assembles the orchestrator from configuration. Artifacts are hashed
// only when staging; later commands read digests from the release record.
// On error the partially built app is still returned so its resources can
// be closed.
func build(ctx context.Context, cfg *config.Config, hashArtifacts bool) (*app, error) {
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	a := &app{metrics: metrics.New(), logger: logger}

	commitID := cfg.Project.CommitID
	if commitID == "" {
		head, err := vcs.NewGit(".", nil).Head(ctx)
		if err != nil {
			return a, fmt.Errorf("resolve commit id: %w", err)
		}
		commitID = head
	}

	var artifacts []release.Artifact
	if hashArtifacts {
		computed, err := digest.Compute(cfg.Artifacts)
		if err != nil {
			return a, fmt.Errorf("hash artifacts: %w", err)
		}
		artifacts = computed
	}
	params, err := release.NewBuilder().
		ProjectID(cfg.Project.ID).
		Version(cfg.Project.Version).
		CommitID(commitID).
		Tag(cfg.Project.Tag).
		DistURL(cfg.Dist.URL).
		NexusURL(cfg.Nexus.URL).
		StageFolder(cfg.Dist.StageFolder).
		ReleaseFolder(cfg.Dist.ReleaseFolder).
		Artifacts(artifacts...).
		Build()
	if err != nil {
		return a, err
	}

	recorder, err := a.auditRecorder(ctx, cfg.Audit)
	if err != nil {
		return a, err
	}
	var archiver orchestrator.Archiver
	if cfg.Audit.S3Bucket != "" {
		s3a, err := audit.NewS3Archiver(ctx, cfg.Audit.S3Bucket, cfg.Audit.S3Prefix)
		if err != nil {
			return a, err
		}
		archiver = s3a
	}

	svn, err := remote.NewSvnmuccStore(remote.SvnConfig{
		RootURL:     cfg.Dist.URL,
		Username:    cfg.Dist.Username,
		Password:    cfg.Dist.Password,
		SvnmuccPath: cfg.Dist.SvnmuccPath,
		SvnPath:     cfg.Dist.SvnPath,
	})
	if err != nil {
		return a, err
	}
	dist := remote.NewRunner(svn, remote.WithLogger(logger), remote.WithRecorder(recorder), remote.WithMetrics(a.metrics))

	nx, err := nexus.NewHTTPClient(nexus.HTTPClientConfig{
		BaseURL:   cfg.Nexus.URL,
		ProfileID: cfg.Nexus.StagingProfileID,
		Username:  cfg.Nexus.Username,
		Password:  cfg.Nexus.Password,
		Timeout:   cfg.Nexus.Timeout,
	})
	if err != nil {
		return a, err
	}

	st, err := a.stateStore(ctx, cfg.State)
	if err != nil {
		return a, err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return a, err
	}
	gen := vote.New()
	if cfg.VoteTemplate != "" {
		if gen, err = vote.FromFile(cfg.VoteTemplate); err != nil {
			return a, err
		}
	}
	modules := make([]nexus.Module, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		v := m.Version
		if v == "" {
			v = cfg.Project.Version
		}
		modules = append(modules, nexus.Module{Group: m.Group, Artifact: m.Artifact, Version: v, Files: m.Files})
	}

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Params:         params,
		NexusURL:       cfg.Nexus.URL,
		BuildDir:       cfg.Project.BuildDir,
		RepositoryName: cfg.Nexus.RepositoryName,
		Modules:        modules,
		Concurrency:    cfg.Concurrency,
		AwaitInterval:  cfg.Nexus.AwaitInterval,
		Dist:           dist,
		Nexus:          nx,
		IDs:            idstore.New(idstore.DefaultDir(cfg.Project.BuildDir), logger),
		State:          st,
		Rules:          rules,
		Vote:           gen,
		Archiver:       archiver,
		Recorder:       recorder,
		Metrics:        a.metrics,
		Logger:         logger,
	})
	if err != nil {
		return a, err
	}
	logger.Info("release configured", "project", params.ProjectID, "tag", params.Tag, "type", cfg.RepositoryType,
		"dist", cfg.Dist.URL, "nexus", cfg.Nexus.URL, "artifacts", len(params.Artifacts))
	return a, nil
}

func (a *app) auditRecorder(ctx context.Context, cfg config.AuditConfig) (audit.Recorder, error) {
	var s signer.Signer
	if cfg.SignerKeyB64 != "" {
		ls, err := signer.NewSignerFromB64(cfg.SignerKeyB64, cfg.SignerID)
		if err != nil {
			return nil, fmt.Errorf("audit signer: %w", err)
		}
		s = ls
	} else {
		ls, err := signer.NewLocalSigner(cfg.SignerID)
		if err != nil {
			return nil, fmt.Errorf("audit signer: %w", err)
		}
		a.logger.Warn("audit signer key unset; using an ephemeral key")
		s = ls
	}
	journal, err := audit.NewJournal(cfg.Dir, s)
	if err != nil {
		return nil, err
	}
	multi := &audit.Multi{Primary: journal, Logger: a.logger}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		kp, err := audit.NewKafkaPublisher(audit.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kp)
		multi.Others = append(multi.Others, kp)
	}
	if cfg.S3Bucket != "" {
		s3a, err := audit.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
		multi.Others = append(multi.Others, s3a)
	}
	return multi, nil
}

func (a *app) stateStore(ctx context.Context, cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "memory":
		return state.NewMemoryStore(), nil
	case "postgres":
		pg, err := state.OpenPG(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate state schema: %w", err)
		}
		a.closers = append(a.closers, pg)
		return pg, nil
	default:
		return state.NewFileStore(cfg.Dir)
	}
}
