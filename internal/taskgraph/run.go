package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ILLUVRSE/release-orchestrator/internal/metrics"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

type Result struct {
	Name     string
	Status   Status
	Err      error
	Duration time.Duration
	// SkippedBy names the failed task that caused a skip.
	SkippedBy string
}

// Report holds the outcome of every task, in topological order.
type Report struct {
	Results []Result
}

func (r Report) Get(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

// Err joins the errors of failed tasks; nil when none failed.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("task %s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

func (r Report) Succeeded() bool {
	for _, res := range r.Results {
		if res.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

type RunOption func(*runConfig)

type runConfig struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func WithLogger(l *slog.Logger) RunOption { return func(c *runConfig) { c.logger = l } }

func WithMetrics(m *metrics.Metrics) RunOption { return func(c *runConfig) { c.metrics = m } }

// Run executes the graph with at most concurrency tasks in flight
// (unbounded when concurrency <= 0). It returns once no task can start.
func (g *Graph) Run(ctx context.Context, concurrency int, opts ...RunOption) Report {
	cfg := runConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With("component", "taskgraph")

	results := make(map[string]*Result, len(g.tasks))
	waiting := make(map[string]int, len(g.tasks))
	for _, name := range g.order {
		results[name] = &Result{Name: name, Status: StatusPending}
		waiting[name] = len(g.tasks[name].Deps)
	}

	var eg errgroup.Group
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	done := make(chan Result, len(g.tasks))
	running := 0
	launch := func(name string) {
		t := g.tasks[name]
		running++
		eg.Go(func() error {
			start := time.Now()
			err := ctx.Err()
			if err == nil {
				logger.Debug("task started", "task", name)
				err = t.Run(ctx)
			}
			res := Result{Name: name, Status: StatusSucceeded, Err: err, Duration: time.Since(start)}
			if err != nil {
				res.Status = StatusFailed
			}
			done <- res
			return nil
		})
	}

	for _, name := range g.order {
		if waiting[name] == 0 {
			launch(name)
		}
	}
	for running > 0 {
		res := <-done
		running--
		*results[res.Name] = res
		cfg.metrics.ObserveTask(res.Name, string(res.Status), res.Duration)

		if res.Status == StatusFailed {
			logger.Error("task failed", "task", res.Name, "elapsed", res.Duration, "err", res.Err)
			for _, d := range g.downstream(res.Name) {
				if r := results[d]; r.Status == StatusPending {
					r.Status = StatusSkipped
					r.SkippedBy = res.Name
					cfg.metrics.ObserveTask(d, string(StatusSkipped), 0)
					logger.Warn("task skipped", "task", d, "failed", res.Name)
				}
			}
			continue
		}
		logger.Info("task succeeded", "task", res.Name, "elapsed", res.Duration)
		for _, d := range g.dependents[res.Name] {
			waiting[d]--
			if waiting[d] == 0 && results[d].Status == StatusPending {
				launch(d)
			}
		}
	}
	_ = eg.Wait()

	report := Report{Results: make([]Result, 0, len(g.order))}
	for _, name := range g.order {
		report.Results = append(report.Results, *results[name])
	}
	return report
}
