package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ILLUVRSE/release-orchestrator/internal/config"
	"github.com/ILLUVRSE/release-orchestrator/internal/httpserver"
)

const usage = `usage: release-orchestrator <command> [flags]

commands:
  stage     upload the release candidate to dist and nexus, write the vote mail
  vote      print the vote announcement for a staged release
  promote   move a voted release to the release area and release nexus
  status    print the recorded state of the release
  serve     run the status and promotion HTTP API
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one command and returns the process exit code. Startup
// failures before any resource is opened still exit via log.Fatalf.
func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cmd := args[0]

	flags := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the release YAML config")
	version := flags.String("version", "", "release version (overrides project.version)")
	commit := flags.String("commit", "", "commit id (default: git rev-parse HEAD)")
	repoType := flags.String("type", "", "repository type: TEST or PROD")
	if err := flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprint(os.Stderr, usage)
			flags.PrintDefaults()
			return 0
		}
		log.Printf("flags: %v", err)
		return 2
	}

	if *version != "" {
		os.Setenv(config.EnvPrefix+"_PROJECT_VERSION", *version)
	}
	if *commit != "" {
		os.Setenv(config.EnvPrefix+"_PROJECT_COMMIT_ID", *commit)
	}
	if *repoType != "" {
		os.Setenv(config.EnvPrefix+"_REPOSITORY_TYPE", *repoType)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := build(ctx, cfg, cmd == "stage")
	if app != nil {
		defer app.Close()
	}
	if err != nil {
		log.Printf("startup: %v", err)
		return 1
	}

	switch cmd {
	case "stage":
		out, err := app.orch.Stage(ctx)
		for _, r := range out.Report.Results {
			app.logger.Info("task", "name", r.Name, "status", r.Status, "elapsed", r.Duration)
		}
		if err != nil {
			log.Printf("stage: %v", err)
			return 1
		}
		fmt.Printf("release %s staged; vote mail written to %s\n", app.orch.Tag(), out.VotePath)
	case "vote":
		text, err := app.orch.Vote(ctx, app.orch.Tag())
		if err != nil {
			log.Printf("vote: %v", err)
			return 1
		}
		fmt.Print(text)
	case "promote":
		res, err := app.orch.Promote(ctx, app.orch.Tag())
		if err != nil {
			log.Printf("promote: %v", err)
			return 1
		}
		fmt.Printf("release %s is %s\n", app.orch.Tag(), res.Record.Phase)
	case "status":
		rec, err := app.orch.Status(ctx, app.orch.Tag())
		if err != nil {
			log.Printf("status: %v", err)
			return 1
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rec)
	case "serve":
		return serve(ctx, cfg, app)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, app *app) int {
	var verifier *httpserver.TokenVerifier
	if cfg.Server.JWTSecret != "" {
		v, err := httpserver.NewTokenVerifier(cfg.Server.JWTSecret, "")
		if err != nil {
			log.Printf("token verifier: %v", err)
			return 1
		}
		verifier = v
	} else {
		log.Printf("server.jwt_secret unset; promotion over http is disabled")
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpserver.New(app.orch, verifier, app.metrics, app.logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("release orchestrator listening on %s", cfg.Server.Addr)
		serveErr <- srv.ListenAndServe()
	}()
	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		return 1
	}
	return 0
}
