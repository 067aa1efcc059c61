// Package main provides the verisim CLI entrypoint.
//
// Usage:
//
//	verisim verify -config <path> -archive <path> -simulator copasi -simulator tellurium:2.2
//	verisim runs   -config <path> -run-id <id> -run-id <id>
//
// Exit codes:
//   - 0: verification completed and all outputs agree
//   - 1: verification completed with disagreements
//   - 2: verification failed or could not be submitted
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/verisim-io/verisim/catalog"
	"github.com/verisim-io/verisim/config"
	"github.com/verisim-io/verisim/content"
	"github.com/verisim-io/verisim/docstore"
	"github.com/verisim-io/verisim/lifecycle"
	"github.com/verisim-io/verisim/log"
	"github.com/verisim-io/verisim/metrics"
	"github.com/verisim-io/verisim/objstore"
	"github.com/verisim-io/verisim/simrun"
	"github.com/verisim-io/verisim/task"
	"github.com/verisim-io/verisim/types"
	"github.com/verisim-io/verisim/verify"
)

const (
	exitAgree    = 0
	exitDisagree = 1
	exitFailure  = 2
)

// commit is injected at build time via -ldflags.
var commit = "none"

// statusPollInterval is how often the CLI re-queries workflow state.
const statusPollInterval = 2 * time.Second

func main() {
	app := &cli.App{
		Name:    "verisim",
		Usage:   "Run a model archive across simulators and compare the outputs",
		Version: fmt.Sprintf("%s (commit %s)", types.Version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to YAML config file",
				Value: "verisim.yaml",
			},
		},
		Commands: []*cli.Command{
			verifyCommand(),
			runsCommand(),
		},
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitFailure)
	}
}

// exitErrHandler handles errors from the CLI, respecting cli.ExitCoder.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitFailure)
}

func compareFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:  "rel-tol",
			Usage: "Relative tolerance",
			Value: types.DefaultRelTol,
		},
		&cli.Float64Flag{
			Name:  "abs-tol-min",
			Usage: "Absolute tolerance floor",
			Value: types.DefaultAbsTolMin,
		},
		&cli.Float64Flag{
			Name:  "abs-tol-scale",
			Usage: "Absolute tolerance magnitude scale",
			Value: types.DefaultAbsTolScale,
		},
		&cli.StringSliceFlag{
			Name:  "observable",
			Usage: "Restrict comparison to the named observable (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "include-outputs",
			Usage: "Attach raw series to the report",
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Submit an archive to several simulators and compare the outputs",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "archive",
				Usage:    "Path to the model archive (.omex)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "simulator",
				Usage:    "Simulator spec, name or name:version (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "cache-buster",
				Usage: "Change to force fresh simulations",
				Value: types.DefaultCacheBuster,
			},
		}, compareFlags()...),
		Action: verifyAction,
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Fetch existing remote runs and compare their outputs",
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{
				Name:     "run-id",
				Usage:    "Remote run id (repeatable)",
				Required: true,
			},
		}, compareFlags()...),
		Action: runsAction,
	}
}

func settingsFromFlags(c *cli.Context) *types.CompareSettings {
	return &types.CompareSettings{
		RelTol:         c.Float64("rel-tol"),
		AbsTolMin:      c.Float64("abs-tol-min"),
		AbsTolScale:    c.Float64("abs-tol-scale"),
		Observables:    c.StringSlice("observable"),
		IncludeOutputs: c.Bool("include-outputs"),
	}
}

func verifyAction(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := newService(ctx, c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer svc.Close()

	archive, err := os.ReadFile(c.String("archive"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("read archive: %v", err), exitFailure)
	}

	state, err := svc.verifier.VerifyArchive(ctx, verify.ArchiveRequest{
		Filename:    c.String("archive"),
		Archive:     archive,
		Simulators:  c.StringSlice("simulator"),
		Settings:    settingsFromFlags(c),
		CacheBuster: c.String("cache-buster"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("submit verification: %v", err), exitFailure)
	}

	return svc.follow(ctx, state.WorkflowID)
}

func runsAction(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, err := newService(ctx, c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer svc.Close()

	state, err := svc.verifier.VerifyRuns(ctx, verify.RunsRequest{
		RunIDs:   c.StringSlice("run-id"),
		Settings: settingsFromFlags(c),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("submit verification: %v", err), exitFailure)
	}

	return svc.follow(ctx, state.WorkflowID)
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// service is the fully wired verification stack.
type service struct {
	verifier *verify.Verifier
	engine   *task.Engine
	docs     docstore.Store
	objects  objstore.Store
}

// newService builds the stack from a config file.
func newService(ctx context.Context, configPath string) (*service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.New()
	collector := metrics.NewCollector()

	docs, err := docstore.NewRedisStore(docstore.RedisConfig{
		URL:    cfg.Redis.URL,
		Prefix: cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}

	var objects objstore.Store
	if cfg.Storage.Bucket != "" {
		objects, err = objstore.NewS3Store(ctx, objstore.S3Config{
			Bucket:       cfg.Storage.Bucket,
			Prefix:       cfg.Storage.Prefix,
			Region:       cfg.Storage.Region,
			Endpoint:     cfg.Storage.Endpoint,
			UsePathStyle: cfg.Storage.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
	} else {
		// One-shot invocations without a bucket keep archives in memory.
		objects = objstore.NewMemoryStore()
	}

	client, err := simrun.NewClient(simrun.ClientConfig{
		RunsBaseURL: cfg.API.RunsBaseURL,
		DataBaseURL: cfg.API.DataBaseURL,
		Timeout:     cfg.API.Timeout.Duration,
	})
	if err != nil {
		return nil, err
	}

	archives := content.NewStore(objects, docs, logger, collector)
	registry := catalog.NewRegistry(
		catalog.NewHTTPSource(cfg.Catalog.BaseURL, cfg.API.Timeout.Duration),
		logger,
		catalog.WithTTL(cfg.Catalog.TTL.Duration),
		catalog.WithCollector(collector),
	)
	runs := lifecycle.NewManager(client, docs, archives, logger, collector, lifecycle.Config{
		PollInterval:    cfg.Polling.Interval.Duration,
		MaxPollDuration: cfg.Polling.MaxDuration.Duration,
		AbortOnNotFound: cfg.Polling.AbortOnNotFound,
		Retry: task.RetryPolicy{
			InitialInterval:    cfg.Retry.InitialInterval.Duration,
			BackoffCoefficient: cfg.Retry.BackoffCoefficient,
			MaxInterval:        cfg.Retry.MaxInterval.Duration,
			MaxAttempts:        cfg.Retry.MaxAttempts,
		},
	})
	engine := task.NewEngine(docs, logger)

	return &service{
		verifier: verify.NewVerifier(engine, archives, registry, runs, logger, collector),
		engine:   engine,
		docs:     docs,
		objects:  objects,
	}, nil
}

// Close shuts the stack down in dependency order.
func (s *service) Close() {
	s.engine.Close()
	_ = s.docs.Close()
	_ = s.objects.Close()
}

// follow polls the workflow until it terminates and prints the outcome.
func (s *service) follow(ctx context.Context, workflowID string) error {
	fmt.Printf("workflow_id=%s\n", workflowID)

	lastStatus := types.VerificationStatus("")
	for {
		state, err := s.verifier.Status(ctx, workflowID)
		if err != nil {
			return cli.Exit(fmt.Sprintf("query status: %v", err), exitFailure)
		}

		if state.Status != lastStatus {
			fmt.Printf("status=%s\n", state.Status)
			lastStatus = state.Status
		}
		if state.Status.IsTerminal() {
			return printOutcome(state)
		}

		select {
		case <-ctx.Done():
			return cli.Exit("interrupted; the verification keeps running server-side", exitFailure)
		case <-time.After(statusPollInterval):
		}
	}
}

// printOutcome prints the terminal state and maps it to an exit code.
func printOutcome(state *types.VerificationState) error {
	if state.Status == types.VerificationFailed {
		return cli.Exit(fmt.Sprintf("verification failed: %s", state.Error), exitFailure)
	}

	fmt.Printf("\n=== Runs ===\n")
	for _, record := range state.Runs {
		label := record.Key()
		fmt.Printf("%-28s %-18s", label, record.Status)
		if record.Reused {
			fmt.Printf(" (reused)")
		}
		if record.Error != "" {
			fmt.Printf(" %s", record.Error)
		}
		fmt.Println()
	}

	report := state.Report
	fmt.Printf("\n=== Comparison ===\n")
	for _, obs := range report.Observables {
		fmt.Printf("%s:\n", obs.Name)
		for _, pair := range obs.Pairs {
			verdict := "agree"
			if !pair.Agree {
				verdict = "DISAGREE"
			}
			fmt.Printf("  %s vs %s: %s (max_abs=%.3g max_rel=%.3g)", pair.A, pair.B, verdict, pair.MaxAbsDiff, pair.MaxRelDiff)
			if pair.Reason != "" {
				fmt.Printf(" [%s]", pair.Reason)
			}
			fmt.Println()
		}
		for _, sim := range obs.MissingFrom {
			fmt.Printf("  missing from %s\n", sim)
		}
	}

	if report.OverallAgreement {
		fmt.Printf("\nresult: all outputs agree\n")
		return cli.Exit("", exitAgree)
	}
	fmt.Printf("\nresult: outputs disagree\n")
	return cli.Exit("", exitDisagree)
}
