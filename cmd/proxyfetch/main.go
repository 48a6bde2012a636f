package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Davis1233798/proxyfetch/internal/checkpoint"
	"github.com/Davis1233798/proxyfetch/internal/config"
	"github.com/Davis1233798/proxyfetch/internal/extract"
	"github.com/Davis1233798/proxyfetch/internal/fetch"
	"github.com/Davis1233798/proxyfetch/internal/input"
	"github.com/Davis1233798/proxyfetch/internal/metrics"
	"github.com/Davis1233798/proxyfetch/internal/notify"
	"github.com/Davis1233798/proxyfetch/internal/progress"
	"github.com/Davis1233798/proxyfetch/internal/proxy"
	"github.com/Davis1233798/proxyfetch/internal/scheduler"
	"github.com/Davis1233798/proxyfetch/internal/sink"
)

const (
	exitOK          = 0
	exitError       = 1
	exitStalled     = 2
	exitInterrupted = 130
)

// exitCode carries the process exit status out of RunE.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCode) Unwrap() error { return e.err }

var (
	configPath string
	noProgress bool
)

var rootCmd = &cobra.Command{
	Use:   "proxyfetch [input]",
	Short: "Fetch a list of pages through rotating proxies",
	Long: `proxyfetch downloads every URL in a CSV or XLSX list through a pool of
rotating proxies, saving each page under its title. Finished URLs are
recorded in a checkpoint log so an interrupted run can be resumed.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			return &exitCode{code: exitError, err: err}
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "settings file (default "+config.DefaultFile+" when present)")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not draw the progress bar")
	// The bound values are never read; flags reach the run through
	// ApplyFlags, which only copies the ones the user set.
	config.Defaults().RegisterFlags(rootCmd.Flags())
}

// loadConfig layers file and environment, then the flags set on cmd, then
// the positional input.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		cfg.Input = args[0]
	}
	setupLogging(cfg.Debug)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(debug bool) {
	logLevel := zerolog.InfoLevel
	if debug {
		logLevel = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
}

func run(cfg *config.Config) error {
	runID := uuid.NewString()
	log.Logger = log.With().Str("run_id", runID).Logger()
	log.Info().
		Str("input", cfg.Input).
		Int("concurrency", cfg.Concurrency).
		Int("max_attempts", cfg.MaxAttempts).
		Dur("attempt_timeout", cfg.AttemptTimeout).
		Int("stall_threshold", cfg.StallThreshold).
		Bool("resume", cfg.Resume).
		Msg("Starting proxyfetch")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	urls, err := input.ReadURLs(cfg.Input, input.Options{Column: cfg.Column, Limit: cfg.Limit})
	if err != nil {
		return &exitCode{code: exitError, err: err}
	}

	list, err := proxy.Collect(ctx, proxySources(cfg)...)
	if err != nil {
		return &exitCode{code: exitError, err: fmt.Errorf("load proxies: %w", err)}
	}
	rotator, err := proxy.NewRotator(list)
	if err != nil {
		return &exitCode{code: exitError, err: err}
	}

	extractor, err := extract.New(cfg.TitleSelector)
	if err != nil {
		return &exitCode{code: exitError, err: err}
	}
	pages, err := sink.New(cfg.OutputDir)
	if err != nil {
		return &exitCode{code: exitError, err: err}
	}

	policy := fetch.DefaultPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	policy.AttemptTimeout = cfg.AttemptTimeout
	policy.ConnectTimeout = cfg.ConnectTimeout
	policy.BackoffBase = cfg.BackoffBase
	policy.BackoffMax = cfg.BackoffMax
	policy.Budget = cfg.FetchBudget
	worker := fetch.NewWorker(policy, extractor, pages, fetch.WithRateLimit(cfg.RateLimit, cfg.Concurrency))
	defer worker.Close()

	store := checkpoint.New(cfg.Checkpoint)
	defer store.Close()

	metrics.StartServer(ctx, cfg.MetricsAddr)

	var opts []scheduler.Option
	if !noProgress {
		opts = append(opts, scheduler.WithObserver(progress.New(nil)))
	}
	sched, err := scheduler.New(scheduler.Config{
		Concurrency:    cfg.Concurrency,
		StallThreshold: cfg.StallThreshold,
		Resume:         cfg.Resume,
	}, worker, rotator, store, opts...)
	if err != nil {
		return &exitCode{code: exitError, err: err}
	}

	log.Info().Int("urls", len(urls)).Int("proxies", rotator.Size()).Msg("Workers started...")
	res, runErr := sched.Run(ctx, urls)

	reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := multierr.Combine(
		store.Close(),
		notify.New(cfg.WebhookURL).Report(reportCtx, runID, res),
	); err != nil {
		log.Warn().Err(err).Msg("Shutdown was not clean")
	}

	log.Info().
		Str("state", res.State.String()).
		Int("unique", res.Unique).
		Int("resumed", res.Resumed).
		Int("saved", res.Succeeded).
		Int("skipped", res.Skipped).
		Int("pending", res.Pending).
		Int("rounds", res.Rounds).
		Dur("elapsed", res.Elapsed).
		Msg("Run finished")

	switch res.State {
	case scheduler.Completed:
		return nil
	case scheduler.Stalled:
		return &exitCode{code: exitStalled, err: runErr}
	case scheduler.Interrupted:
		return &exitCode{code: exitInterrupted, err: fmt.Errorf("interrupted with %d urls pending, run again with --resume to continue", res.Pending)}
	default:
		return &exitCode{code: exitError, err: runErr}
	}
}

func proxySources(cfg *config.Config) []proxy.Source {
	var sources []proxy.Source
	if cfg.ProxyFile != "" {
		sources = append(sources, proxy.FileSource{Path: cfg.ProxyFile})
	}
	if cfg.ProxyAPI {
		sources = append(sources, proxy.NewAPISource(cfg.ProxyAPILimit))
	}
	if cfg.ProxyHTML {
		sources = append(sources, proxy.NewHTMLSource())
	}
	return sources
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	code := exitError
	var ec *exitCode
	if errors.As(err, &ec) {
		code = ec.code
	}
	log.Error().Err(err).Int("exit_code", code).Msg("proxyfetch stopped")
	os.Exit(code)
}
