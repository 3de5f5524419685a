// File: internal/fetch/proxy.go
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tab is a connected page of the remote browser.
type Tab interface {
	// Navigate loads url and returns once DOMContentLoaded has fired.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs script in the page, awaiting a returned promise, and
	// returns the resulting string.
	Evaluate(ctx context.Context, script string) (string, error)
	// Close releases the connection. The page itself stays open.
	Close() error
}

// Dialer opens a fresh browser connection for each execution.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Tab, error)
}

// Stage names reported to a Recorder.
const (
	StageConnect  = "connect"
	StageNavigate = "navigate"
	StageSettle   = "settle"
	StageEvaluate = "evaluate"
)

// Outcome labels reported to a Recorder.
const (
	OutcomeSuccess          = "success"
	OutcomeReferrerNotFound = "referrer_not_found"
	OutcomeConnectError     = "connect_error"
	OutcomeNavigationError  = "navigation_error"
	OutcomeSettleError      = "settle_error"
	OutcomeEvaluationError  = "evaluation_error"
	OutcomeAborted          = "aborted"
	OutcomePanic            = "panic"
)

// Recorder receives execution measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveExecution(outcome string, elapsed time.Duration)
	ObserveStage(stage string, elapsed time.Duration)
	ObserveResponseSize(bytes int)
	GateWaiting(delta int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveExecution(string, time.Duration) {}
func (nopRecorder) ObserveStage(string, time.Duration)     {}
func (nopRecorder) ObserveResponseSize(int)                {}
func (nopRecorder) GateWaiting(int)                        {}

// Options tune a Proxy. The zero value is usable apart from Endpoint.
type Options struct {
	// Endpoint is the remote debugging URL, e.g. http://127.0.0.1:9222.
	Endpoint string
	// SettleDelay is slept after DOMContentLoaded and before evaluation.
	SettleDelay time.Duration
	// Zero disables the per-step bound; the caller's context still applies.
	NavigationTimeout time.Duration
	EvaluationTimeout time.Duration
	// Serialize admits one execution at a time against the shared page.
	Serialize bool
	Recorder  Recorder
	// Now is overridable for tests.
	Now func() time.Time
}

// Proxy drives a remote browser to run fetch commands in a page context.
type Proxy struct {
	dialer Dialer
	opts   Options
	gate   *Gate
	rec    Recorder
	now    func() time.Time
	logger *zap.Logger
}

// NewProxy wires a proxy around dialer.
func NewProxy(dialer Dialer, opts Options, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Proxy{
		dialer: dialer,
		opts:   opts,
		rec:    opts.Recorder,
		now:    opts.Now,
		logger: logger.Named("fetch_proxy"),
	}
	if p.rec == nil {
		p.rec = nopRecorder{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if opts.Serialize {
		p.gate = NewGate()
	}
	return p
}

// Endpoint returns the remote debugging URL this proxy dials.
func (p *Proxy) Endpoint() string { return p.opts.Endpoint }

// Execute runs command and reports the outcome. It never panics and never
// returns an error; failures are carried in the envelope.
func (p *Proxy) Execute(ctx context.Context, command string) (env ResponseEnvelope) {
	start := time.Now()
	log := p.logger.With(zap.String("execution_id", uuid.NewString()))
	outcome := OutcomePanic

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic during execution.", zap.Any("panic", r), zap.Stack("stack"))
			env = newFailure(fmt.Errorf("internal error during execution: %v", r), p.now())
			outcome = OutcomePanic
		}
		p.rec.ObserveExecution(outcome, time.Since(start))
	}()

	log.Info("Executing fetch command.", zap.Int("command_length", len(command)), zap.String("endpoint", p.opts.Endpoint))

	p.rec.GateWaiting(1)
	release, err := p.gate.Acquire(ctx)
	p.rec.GateWaiting(-1)
	if err != nil {
		outcome = OutcomeAborted
		err = fmt.Errorf("execution aborted while waiting for the page: %w", err)
		log.Warn("Execution aborted before start.", zap.Error(err))
		return newFailure(err, p.now())
	}
	defer release()

	data, outcome, err := p.run(ctx, log, command)
	if err != nil {
		log.Error("Fetch execution failed.", zap.String("outcome", outcome), zap.Error(err))
		return newFailure(err, p.now())
	}

	p.rec.ObserveResponseSize(len(data))
	log.Info("Fetch execution succeeded.", zap.Int("data_length", len(data)), zap.Duration("elapsed", time.Since(start)))
	return newSuccess(data, p.now())
}

// run performs the linear connect, navigate, settle, evaluate sequence and
// returns the outcome label alongside any error.
func (p *Proxy) run(ctx context.Context, log *zap.Logger, command string) (string, string, error) {
	stageStart := time.Now()
	tab, err := p.dialer.Dial(ctx, p.opts.Endpoint)
	p.rec.ObserveStage(StageConnect, time.Since(stageStart))
	if err != nil {
		return "", OutcomeConnectError, fmt.Errorf("failed to connect to browser at %s: %w", p.opts.Endpoint, err)
	}
	defer func() {
		if cerr := tab.Close(); cerr != nil {
			log.Debug("Error while closing browser connection.", zap.Error(cerr))
		}
	}()

	url, ok := ExtractReferrer(command)
	if !ok {
		return "", OutcomeReferrerNotFound, ErrReferrerNotFound
	}

	log.Info("Navigating to referrer.", zap.String("url", url))
	stageStart = time.Now()
	if err := p.navigate(ctx, tab, url); err != nil {
		return "", OutcomeNavigationError, fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	p.rec.ObserveStage(StageNavigate, time.Since(stageStart))

	stageStart = time.Now()
	if err := sleepContext(ctx, p.opts.SettleDelay); err != nil {
		return "", OutcomeSettleError, fmt.Errorf("interrupted while waiting for the page to settle: %w", err)
	}
	p.rec.ObserveStage(StageSettle, time.Since(stageStart))

	stageStart = time.Now()
	data, err := p.evaluate(ctx, tab, WrapCommand(command))
	if err != nil {
		return "", OutcomeEvaluationError, fmt.Errorf("evaluation failed: %w", err)
	}
	p.rec.ObserveStage(StageEvaluate, time.Since(stageStart))

	return data, OutcomeSuccess, nil
}

func (p *Proxy) navigate(ctx context.Context, tab Tab, url string) error {
	if p.opts.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.NavigationTimeout)
		defer cancel()
	}
	return tab.Navigate(ctx, url)
}

func (p *Proxy) evaluate(ctx context.Context, tab Tab, script string) (string, error) {
	if p.opts.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.EvaluationTimeout)
		defer cancel()
	}
	return tab.Evaluate(ctx, script)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
