// Command stratactl compiles pipeline descriptions into manifests and
// executes manifests on the local or remote backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/strata-labs/strata-go/internal/compile"
	"github.com/strata-labs/strata-go/internal/compile/cache"
	"github.com/strata-labs/strata-go/internal/describe"
	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/exec"
	"github.com/strata-labs/strata-go/internal/exec/remote"
	"github.com/strata-labs/strata-go/internal/platform/env"
	"github.com/strata-labs/strata-go/internal/platform/objectstore"
	"github.com/strata-labs/strata-go/internal/registry"
	"github.com/strata-labs/strata-go/internal/runindex"
	"github.com/strata-labs/strata-go/internal/runner"
)

const (
	exitOK       = 0
	exitInternal = 1
	exitUsage    = 2
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: stratactl <compile|run> [flags]")
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "compile":
		code = runCompile(ctx, logger, os.Args[2:])
	case "run":
		code = runExecute(ctx, logger, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		code = exitUsage
	}
	os.Exit(code)
}

func runCompile(ctx context.Context, logger *slog.Logger, args []string) int {
	flags := pflag.NewFlagSet("compile", pflag.ContinueOnError)
	pipelinePath := flags.String("pipeline", "", "pipeline description file")
	outDir := flags.String("out", "", "output directory for the compiled manifest")
	profile := flags.String("profile", "", "profile name")
	profilesPath := flags.String("profiles", "", "profiles file")
	params := flags.StringArray("param", nil, "parameter override name=value (repeatable)")
	cacheMode := flags.String("cache", "auto", "cache mode: auto, force or never")
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}
	if *pipelinePath == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "stratactl compile: --pipeline and --out are required")
		return exitUsage
	}

	mode, err := cache.ParseMode(*cacheMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stratactl compile:", err)
		return exitUsage
	}
	overrides, err := parsePairs(*params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stratactl compile:", err)
		return exitUsage
	}

	cacheDir, err := env.Require("STRATA_CACHE_DIR")
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitUsage
	}
	store, err := cache.NewFSStore(cacheDir)
	if err != nil {
		logger.Error("cache store init failed", "error", err)
		return exitInternal
	}

	data, err := os.ReadFile(*pipelinePath)
	if err != nil {
		logger.Error("read pipeline description failed", "error", err)
		return exitInternal
	}
	desc, err := describe.Parse(data)
	if err != nil {
		logger.Error("pipeline description invalid", "error", err)
		return exitUsage
	}

	var profileParams map[string]any
	if *profilesPath != "" {
		profileData, err := os.ReadFile(*profilesPath)
		if err != nil {
			logger.Error("read profiles failed", "error", err)
			return exitInternal
		}
		set, err := describe.ParseProfiles(profileData)
		if err != nil {
			logger.Error("profiles invalid", "error", err)
			return exitUsage
		}
		profileParams, err = set.Params(*profile)
		if err != nil {
			logger.Error("profile selection failed", "error", err)
			return exitUsage
		}
	}

	reg, err := registry.Builtin()
	if err != nil {
		logger.Error("registry init failed", "error", err)
		return exitInternal
	}
	compiler, err := compile.New(reg, store, logger)
	if err != nil {
		logger.Error("compiler init failed", "error", err)
		return exitInternal
	}

	m, err := compiler.Compile(ctx, desc, compile.Options{
		Profile:       *profile,
		Overrides:     overrides,
		ProfileParams: profileParams,
		Environ:       os.LookupEnv,
		CacheMode:     mode,
	})
	if err != nil {
		logger.Error("compilation failed", "error", err)
		if isUserError(err) {
			return exitUsage
		}
		return exitInternal
	}

	if err := writeManifestTree(*outDir, m); err != nil {
		logger.Error("write manifest failed", "error", err)
		return exitInternal
	}
	logger.Info("manifest compiled",
		"pipeline", m.Meta.Pipeline,
		"manifest_short", m.Meta.ManifestShort,
		"steps", len(m.Steps),
		"out", *outDir,
	)
	fmt.Println(m.Meta.ManifestHash)
	return exitOK
}

func runExecute(ctx context.Context, logger *slog.Logger, args []string) int {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	manifestPath := flags.String("manifest", "", "compiled manifest file")
	workDir := flags.String("out", "", "run work directory")
	adapterName := flags.String("adapter", "local", "execution adapter: local or remote")
	profile := flags.String("profile", "", "profile name recorded with the run")
	seed := flags.Int64("seed", 0, "deterministic seed passed to drivers")
	runFlags := flags.StringArray("flag", nil, "run flag name=value (repeatable)")
	parallel := flags.Int("parallel", 1, "maximum concurrently executing steps")
	stepTimeout := flags.Duration("step-timeout", 0, "per-step timeout, 0 disables")
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}
	if *manifestPath == "" || *workDir == "" {
		fmt.Fprintln(os.Stderr, "stratactl run: --manifest and --out are required")
		return exitUsage
	}
	flagPairs, err := parsePairs(*runFlags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stratactl run:", err)
		return exitUsage
	}

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		logger.Error("read manifest failed", "error", err)
		return exitInternal
	}
	m, err := compile.UnmarshalManifest(data)
	if err != nil {
		logger.Error("manifest invalid", "error", err)
		return exitInternal
	}

	indexDir, err := env.Require("STRATA_RUN_INDEX_DIR")
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitUsage
	}
	indexStore, err := runindex.NewFileStore(indexDir, logger)
	if err != nil {
		logger.Error("run index init failed", "error", err)
		return exitInternal
	}
	analyzer, err := runindex.NewAnalyzer(indexStore, logger)
	if err != nil {
		logger.Error("run index init failed", "error", err)
		return exitInternal
	}

	reg, err := registry.Builtin()
	if err != nil {
		logger.Error("registry init failed", "error", err)
		return exitInternal
	}
	runnerCfg := exec.RunnerConfig{MaxParallel: *parallel, StepTimeout: *stepTimeout}

	var adapter exec.Adapter
	switch *adapterName {
	case "local":
		adapter, err = exec.NewLocalAdapter(reg, logger, runnerCfg)
	case "remote":
		adapter, err = buildRemoteAdapter(ctx, reg, logger)
	default:
		fmt.Fprintf(os.Stderr, "stratactl run: unknown adapter %q\n", *adapterName)
		return exitUsage
	}
	if err != nil {
		logger.Error("adapter init failed", "error", err)
		var missing *env.MissingError
		if errors.As(err, &missing) {
			return exitUsage
		}
		return exitInternal
	}

	r, err := runner.New(adapter, analyzer, logger)
	if err != nil {
		logger.Error("runner init failed", "error", err)
		return exitInternal
	}
	outcome, err := r.Run(ctx, m, runner.Options{
		WorkDir: *workDir,
		Params: domain.RunParams{
			Profile: *profile,
			Flags:   flagPairs,
			Seed:    *seed,
		},
	})
	if err != nil {
		logger.Error("run failed", "error", err)
		return exitInternal
	}

	reportOutcome(logger, outcome)
	if outcome.Result.Status != domain.RunSucceeded {
		return exitInternal
	}
	return exitOK
}

func buildRemoteAdapter(ctx context.Context, reg registry.Registry, logger *slog.Logger) (exec.Adapter, error) {
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client, err := objectstore.NewClient(storeCfg)
	if err != nil {
		return nil, err
	}
	if err := objectstore.CheckBucket(ctx, client, storeCfg); err != nil {
		return nil, err
	}
	transfer, err := remote.NewObjectTransfer(client, storeCfg.BucketRuns)
	if err != nil {
		return nil, err
	}
	baseURL, err := env.Require("STRATA_SANDBOX_URL")
	if err != nil {
		return nil, err
	}
	timeout, err := env.Duration("STRATA_SANDBOX_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	sandboxClient, err := remote.NewHTTPSandboxClient(remote.ClientConfig{
		BaseURL:      baseURL,
		Token:        env.String("STRATA_SANDBOX_TOKEN", ""),
		ClientID:     env.String("STRATA_SANDBOX_CLIENT_ID", ""),
		ClientSecret: env.String("STRATA_SANDBOX_CLIENT_SECRET", ""),
		TokenURL:     env.String("STRATA_SANDBOX_TOKEN_URL", ""),
		Timeout:      timeout,
	})
	if err != nil {
		return nil, err
	}
	pollInterval, err := env.Duration("STRATA_SANDBOX_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	stageTimeout, err := env.Duration("STRATA_SANDBOX_STAGE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	return remote.NewAdapter(reg, transfer, sandboxClient, logger, remote.AdapterConfig{
		PollInterval: pollInterval,
		StageTimeout: stageTimeout,
	})
}

// writeManifestTree publishes the canonical manifest plus one config file
// per step. Recompiling identical inputs rewrites byte-identical files.
func writeManifestTree(outDir string, m domain.Manifest) error {
	stepsDir := filepath.Join(outDir, "steps")
	if err := os.MkdirAll(stepsDir, 0o755); err != nil {
		return err
	}
	data, err := compile.MarshalManifest(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "manifest.json"), data, 0o644); err != nil {
		return err
	}
	for _, step := range m.Steps {
		cfg, err := compile.MarshalStepConfig(step.Config)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(stepsDir, step.ID+".json"), cfg, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func reportOutcome(logger *slog.Logger, outcome runner.Outcome) {
	attrs := []any{
		"run_id", outcome.Run.RunID,
		"status", string(outcome.Result.Status),
		"artifacts", len(outcome.Artifacts.Files),
	}
	if outcome.Delta.FirstRun {
		attrs = append(attrs, "first_run", true)
	} else if outcome.Delta.PreviousRunID != "" {
		attrs = append(attrs, "previous_run_id", outcome.Delta.PreviousRunID)
		for name, d := range outcome.Delta.Metrics {
			if d.ChangePercent != nil {
				attrs = append(attrs, "delta_"+name, fmt.Sprintf("%+.1f%%", *d.ChangePercent))
			}
		}
	}
	logger.Info("run finished", attrs...)
}

func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed pair %q, want name=value", pair)
		}
		out[name] = value
	}
	return out, nil
}

// isUserError separates rejected inputs from infrastructure failures for
// the exit code.
func isUserError(err error) bool {
	var (
		validation *describe.ValidationError
		secret     *domain.SecretInlineForbiddenError
		unresolved *domain.UnresolvedParameterError
		cycle      *domain.DependencyCycleError
		miss       *domain.CacheMissError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &secret) ||
		errors.As(err, &unresolved) ||
		errors.As(err, &cycle) ||
		errors.As(err, &miss)
}
