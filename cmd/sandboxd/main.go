// Command sandboxd executes transported runs submitted over its HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strata-labs/strata-go/internal/exec"
	"github.com/strata-labs/strata-go/internal/exec/remote"
	"github.com/strata-labs/strata-go/internal/platform/env"
	"github.com/strata-labs/strata-go/internal/platform/httpserver"
	"github.com/strata-labs/strata-go/internal/platform/objectstore"
	"github.com/strata-labs/strata-go/internal/registry"
	"github.com/strata-labs/strata-go/internal/sandbox"
)

const service = "sandboxd"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("sandboxd failed", "error", err)
		var missing *env.MissingError
		if errors.As(err, &missing) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := env.Require("STRATA_SANDBOX_API_TOKEN")
	if err != nil {
		return err
	}
	maxParallel, err := env.Int("STRATA_SANDBOX_MAX_PARALLEL", 1)
	if err != nil {
		return err
	}
	stepTimeout, err := env.Duration("STRATA_SANDBOX_STEP_TIMEOUT", 0)
	if err != nil {
		return err
	}
	shutdownTimeout, err := env.Duration("STRATA_SANDBOX_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return err
	}
	client, err := objectstore.NewClient(storeCfg)
	if err != nil {
		return err
	}
	if err := objectstore.EnsureBucket(ctx, client, storeCfg); err != nil {
		return err
	}
	transfer, err := remote.NewObjectTransfer(client, storeCfg.BucketRuns)
	if err != nil {
		return err
	}

	reg, err := registry.Builtin()
	if err != nil {
		return err
	}
	svc, err := sandbox.NewService(sandbox.Config{
		Registry:   reg,
		Transfer:   transfer,
		Logger:     logger,
		ScratchDir: env.String("STRATA_SANDBOX_SCRATCH_DIR", ""),
		Runner: exec.RunnerConfig{
			MaxParallel: maxParallel,
			StepTimeout: stepTimeout,
		},
	})
	if err != nil {
		return err
	}
	server, err := sandbox.NewServer(svc, token, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", server.Handler())
	mux.HandleFunc("/healthz", httpserver.Healthz(service))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(service,
		httpserver.ReadinessCheck{
			Name: "objectstore",
			Check: func(ctx context.Context) error {
				return objectstore.CheckBucket(ctx, client, storeCfg)
			},
		},
	))

	return httpserver.Run(ctx, logger, httpserver.Config{
		Service:         service,
		Addr:            env.String("STRATA_SANDBOX_ADDR", ":8080"),
		ShutdownTimeout: shutdownTimeout,
	}, httpserver.Wrap(logger, service, mux))
}
