// Package fetch issues one GET for one URL through one proxy and folds
// everything that can happen into an Outcome.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Davis1233798/proxyfetch/internal/metrics"
	"github.com/Davis1233798/proxyfetch/internal/proxy"
	"github.com/Davis1233798/proxyfetch/pkg/fingerprint"
)

// TitleExtractor derives the artifact title from a 200 response.
type TitleExtractor interface {
	Title(body []byte, contentType string) (string, error)
}

// Saver persists a fetched page and returns where it went.
type Saver interface {
	Save(sourceURL, title string, body []byte) (string, error)
}

// Policy bounds one Fetch.
type Policy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration // one request, body included
	ConnectTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	Budget         time.Duration // whole Fetch, retries included; 0 = unbounded
	MaxBodyBytes   int64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    10,
		AttemptTimeout: 2 * time.Second,
		ConnectTimeout: 5 * time.Second,
		BackoffBase:    100 * time.Millisecond,
		BackoffMax:     2 * time.Second,
		Budget:         30 * time.Second,
		MaxBodyBytes:   10 << 20,
	}
}

// Backoff is the pause before attempt n+1 after attempt n failed (n >= 1).
func (p Policy) Backoff(n int) time.Duration {
	delay := p.BackoffBase
	for i := 1; i < n && (p.BackoffMax <= 0 || delay < p.BackoffMax); i++ {
		delay *= 2
	}
	if p.BackoffMax > 0 && delay > p.BackoffMax {
		delay = p.BackoffMax
	}
	return delay
}

// Worker is stateless with respect to the run: it never touches the pending
// set or the checkpoint log. Transports are cached per proxy.
type Worker struct {
	policy    Policy
	extractor TitleExtractor
	sink      Saver
	limiter   *rate.Limiter
	identity  func() fingerprint.Identity

	transports sync.Map // proxy.Proxy -> *http.Transport
}

type Option func(*Worker)

// WithRateLimit paces attempts across all workers; rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(w *Worker) {
		if rps <= 0 {
			w.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithIdentity(fn func() fingerprint.Identity) Option {
	return func(w *Worker) { w.identity = fn }
}

func NewWorker(policy Policy, extractor TitleExtractor, sink Saver, opts ...Option) *Worker {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MaxBodyBytes <= 0 {
		policy.MaxBodyBytes = DefaultPolicy().MaxBodyBytes
	}
	w := &Worker{
		policy:    policy,
		extractor: extractor,
		sink:      sink,
		identity:  fingerprint.Random,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// response is what one successful round trip produced.
type response struct {
	status      int
	contentType string
	body        []byte
	tooLarge    bool
}

// Fetch never returns an error; the Outcome carries it.
func (w *Worker) Fetch(ctx context.Context, url string, p proxy.Proxy) Outcome {
	start := time.Now()
	metrics.InFlight.Inc()
	defer func() {
		metrics.InFlight.Dec()
		metrics.FetchDuration.Observe(time.Since(start).Seconds())
	}()

	if w.policy.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.policy.Budget)
		defer cancel()
	}

	client, err := w.client(p)
	if err != nil {
		return Outcome{URL: url, Kind: Transient, Reason: ReasonTransport, Err: err}
	}

	logger := log.With().Str("url", url).Str("proxy", p.String()).Logger()

	var lastErr error
	attempts := 0
	for attempts < w.policy.MaxAttempts {
		if attempts > 0 {
			if err := sleep(ctx, w.policy.Backoff(attempts)); err != nil {
				break
			}
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				break
			}
		}

		attempts++
		metrics.Attempts.Inc()
		resp, err := w.attempt(ctx, client, url)
		if err != nil {
			lastErr = err
			logger.Debug().Err(err).Int("attempt", attempts).Msg("Attempt failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out := w.classify(url, resp)
		out.Attempts = attempts
		return out
	}

	out := Outcome{URL: url, Kind: Transient, Reason: ReasonTransport, Attempts: attempts, Err: lastErr}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		out.Reason = ReasonCanceled
		out.Err = ctx.Err()
	}
	return out
}

func (w *Worker) attempt(ctx context.Context, client *http.Client, url string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, w.policy.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	w.identity().Apply(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	r := &response{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type")}
	if resp.StatusCode != http.StatusOK {
		// Only a 200 body is ever used.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return r, nil
	}

	limit := w.policy.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		r.tooLarge = true
		return r, nil
	}
	r.body = body
	return r, nil
}

func (w *Worker) classify(url string, r *response) Outcome {
	out := Outcome{URL: url, Status: r.status}

	switch {
	case r.status == http.StatusOK && r.tooLarge:
		out.Kind, out.Reason = Transient, ReasonContentShape
		out.Err = fmt.Errorf("body larger than %d bytes", w.policy.MaxBodyBytes)
	case r.status == http.StatusOK:
		title, err := w.extractor.Title(r.body, r.contentType)
		if err != nil {
			out.Kind, out.Reason, out.Err = Transient, ReasonContentShape, err
			return out
		}
		path, err := w.sink.Save(url, title, r.body)
		if err != nil {
			out.Kind, out.Reason, out.Err = Transient, ReasonSink, err
			return out
		}
		out.Kind, out.Reason, out.Title, out.Artifact = Success, ReasonOK, title, path
	case r.status == http.StatusNotFound || r.status == http.StatusGone:
		out.Kind, out.Reason = PermanentSkip, ReasonAbsent
	case r.status == http.StatusTooManyRequests:
		out.Kind, out.Reason = Transient, ReasonRateLimited
	case r.status >= 500:
		out.Kind, out.Reason = Transient, ReasonServerError
	default:
		out.Kind, out.Reason = Transient, ReasonUnexpectedStatus
	}
	return out
}

func (w *Worker) client(p proxy.Proxy) (*http.Client, error) {
	if t, ok := w.transports.Load(p); ok {
		return &http.Client{Transport: t.(*http.Transport)}, nil
	}

	proxyURL, err := p.ToURL()
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout:   w.policy.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   w.policy.ConnectTimeout,
		ResponseHeaderTimeout: w.policy.AttemptTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	t, _ := w.transports.LoadOrStore(p, transport)
	return &http.Client{Transport: t.(*http.Transport)}, nil
}

// Close drops idle proxy connections.
func (w *Worker) Close() {
	w.transports.Range(func(_, v any) bool {
		v.(*http.Transport).CloseIdleConnections()
		return true
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
