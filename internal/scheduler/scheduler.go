// Package scheduler drives a run: it owns the pending URLs, fetches them in
// bounded rounds through rotating proxies, records terminal outcomes in the
// checkpoint log and gives up after too many rounds without progress.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Davis1233798/proxyfetch/internal/fetch"
	"github.com/Davis1233798/proxyfetch/internal/metrics"
	"github.com/Davis1233798/proxyfetch/internal/proxy"
)

//go:generate mockgen -destination=mock_fetcher_test.go -package=scheduler . Fetcher

// Fetcher fetches one URL through one proxy.
type Fetcher interface {
	Fetch(ctx context.Context, url string, p proxy.Proxy) fetch.Outcome
}

// ProxySupplier hands out the proxy for the next fetch.
type ProxySupplier interface {
	Next() proxy.Proxy
}

// Checkpoint is the durable log of terminal URLs. Append is called
// concurrently from within a round.
type Checkpoint interface {
	Reset() error
	Load() (map[string]struct{}, error)
	Append(url string) error
}

var (
	// ErrStalled is returned when the stall threshold is exceeded.
	ErrStalled = errors.New("run stalled")
	// ErrInvalidConfig wraps configuration problems found by New.
	ErrInvalidConfig = errors.New("invalid scheduler config")
)

type State int

const (
	Initializing State = iota
	Running
	Completed
	Stalled
	Interrupted
	Failed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Stalled:
		return "stalled"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Config struct {
	Concurrency    int
	StallThreshold int
	Resume         bool
}

// Result summarizes a finished run.
type Result struct {
	State     State
	Unique    int // distinct input URLs
	Resumed   int // already in the checkpoint when the run started
	Processed int // resolved during this run
	Succeeded int
	Skipped   int
	Pending   int // unresolved at exit
	Rounds    int
	Elapsed   time.Duration
}

// RoundStats is reported to the Observer after every round.
type RoundStats struct {
	Round    int
	Batch    int
	Resolved int
	Pending  int
	Stalls   int
	Outcomes []fetch.Outcome
	Duration time.Duration
}

// Observer follows a run's progress. Calls come from the coordinating
// goroutine only.
type Observer interface {
	Started(pending int)
	RoundDone(stats RoundStats)
	Finished(result Result)
}

type nopObserver struct{}

func (nopObserver) Started(int) {}

func (nopObserver) RoundDone(RoundStats) {}

func (nopObserver) Finished(Result) {}

type Scheduler struct {
	cfg        Config
	fetcher    Fetcher
	proxies    ProxySupplier
	checkpoint Checkpoint
	observer   Observer
}

type Option func(*Scheduler)

func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

func New(cfg Config, fetcher Fetcher, proxies ProxySupplier, checkpoint Checkpoint, opts ...Option) (*Scheduler, error) {
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, cfg.Concurrency)
	}
	if cfg.StallThreshold < 0 {
		return nil, fmt.Errorf("%w: stall threshold must not be negative, got %d", ErrInvalidConfig, cfg.StallThreshold)
	}
	if fetcher == nil || proxies == nil || checkpoint == nil {
		return nil, fmt.Errorf("%w: fetcher, proxies and checkpoint are required", ErrInvalidConfig)
	}
	s := &Scheduler{
		cfg:        cfg,
		fetcher:    fetcher,
		proxies:    proxies,
		checkpoint: checkpoint,
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run processes urls until every one of them is resolved, the run stalls,
// or ctx is canceled. The returned Result is valid in every case; err is
// ErrStalled, the context error, or a startup/checkpoint failure.
func (s *Scheduler) Run(ctx context.Context, urls []string) (Result, error) {
	start := time.Now()
	res := Result{State: Initializing}

	pending, err := s.initialize(urls, &res)
	if err != nil {
		res.Elapsed = time.Since(start)
		return res, err
	}

	res.State = Running
	res.Pending = pending.Len()
	metrics.Pending.Set(float64(res.Pending))
	s.observer.Started(res.Pending)
	log.Info().
		Int("unique", res.Unique).
		Int("resumed", res.Resumed).
		Int("pending", res.Pending).
		Int("concurrency", s.cfg.Concurrency).
		Msg("Run started")

	finish := func(state State, err error) (Result, error) {
		res.State = state
		res.Pending = pending.Len()
		res.Elapsed = time.Since(start)
		metrics.Pending.Set(float64(res.Pending))
		s.observer.Finished(res)
		return res, err
	}

	stalls := 0
	for {
		if pending.Len() == 0 {
			return finish(Completed, nil)
		}
		if err := ctx.Err(); err != nil {
			return finish(Interrupted, err)
		}

		res.Rounds++
		stats, err := s.round(ctx, res.Rounds, pending)
		for _, out := range stats.Outcomes {
			metrics.Outcomes.WithLabelValues(out.Kind.String(), string(out.Reason)).Inc()
			switch out.Kind {
			case fetch.Success:
				res.Succeeded++
			case fetch.PermanentSkip:
				res.Skipped++
			}
		}
		res.Processed += stats.Resolved
		metrics.Rounds.Inc()
		metrics.Pending.Set(float64(pending.Len()))

		if err != nil {
			return finish(Failed, err)
		}

		if stats.Resolved == 0 {
			stalls++
			metrics.StalledRounds.Inc()
		} else {
			stalls = 0
		}
		stats.Stalls = stalls
		s.observer.RoundDone(stats)

		log.Info().
			Int("round", stats.Round).
			Int("batch", stats.Batch).
			Int("resolved", stats.Resolved).
			Int("pending", stats.Pending).
			Int("stalls", stalls).
			Dur("took", stats.Duration).
			Msg("Round finished")

		if ctx.Err() != nil {
			// canceled rounds are not stalls; the loop head settles the state
			continue
		}
		if stalls > s.cfg.StallThreshold {
			log.Error().
				Int("pending", pending.Len()).
				Int("stalled_rounds", stalls).
				Msg("No progress for too long, proxies may all be blocked")
			return finish(Stalled, fmt.Errorf("%w: %d urls still pending after %d rounds without progress", ErrStalled, pending.Len(), stalls))
		}
	}
}

func (s *Scheduler) initialize(urls []string, res *Result) (*pendingSet, error) {
	var done map[string]struct{}
	if s.cfg.Resume {
		loaded, err := s.checkpoint.Load()
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		done = loaded
	} else if err := s.checkpoint.Reset(); err != nil {
		return nil, fmt.Errorf("reset checkpoint: %w", err)
	}

	pending := newPendingSet()
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if _, ok := done[u]; ok {
			res.Resumed++
			continue
		}
		pending.Add(u)
	}
	res.Unique = len(seen)
	return pending, nil
}

// round fetches one batch and waits for every fetch in it before settling
// the batch back into the pending set.
func (s *Scheduler) round(ctx context.Context, number int, pending *pendingSet) (RoundStats, error) {
	start := time.Now()
	batch := pending.Take(s.cfg.Concurrency)
	outcomes := make([]fetch.Outcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, url := range batch {
		i, url := i, url
		p := s.proxies.Next()
		g.Go(func() error {
			out := s.fetcher.Fetch(gctx, url, p)
			out.URL = url
			if out.Terminal() {
				if err := s.checkpoint.Append(url); err != nil {
					outcomes[i] = fetch.Outcome{URL: url, Kind: fetch.Transient, Reason: fetch.ReasonSink, Err: err}
					return fmt.Errorf("checkpoint %s: %w", url, err)
				}
			} else if out.Reason != fetch.ReasonCanceled {
				log.Debug().Str("url", url).Str("proxy", p.String()).Str("reason", string(out.Reason)).Int("status", out.Status).Err(out.Err).Msg("Fetch will be retried")
			}
			outcomes[i] = out
			return nil
		})
	}
	err := g.Wait()

	resolved := 0
	for _, out := range outcomes {
		if out.Terminal() {
			pending.Remove(out.URL)
			resolved++
		} else {
			pending.Requeue(out.URL)
		}
	}

	return RoundStats{
		Round:    number,
		Batch:    len(batch),
		Resolved: resolved,
		Pending:  pending.Len(),
		Outcomes: outcomes,
		Duration: time.Since(start),
	}, err
}
