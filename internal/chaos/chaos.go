// Package chaos runs fault experiments against a live lending service and
// checks that portfolio invariants survive them.
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Experiment is a hypothesis about the service, the steps that stress it and
// the checks that decide whether it held.
type Experiment struct {
	Name       string
	Hypothesis string
	Baseline   []Probe
	Steps      []Step
	Cleanup    []Step
	Checks     []Check
	Duration   time.Duration
	// Share of the portfolio the experiment touches, 0 to 1.
	BlastRadius float64
}

// Probe measures one numeric property of the running service.
type Probe struct {
	Name    string
	Measure func(context.Context) (float64, error)
	Expect  Bound
}

// Bound compares a measured value with a limit. Op is one of
// ">", "<", ">=", "<=", "==".
type Bound struct {
	Op    string
	Value float64
}

// Holds reports whether v satisfies the bound. Unknown operators never hold.
func (b Bound) Holds(v float64) bool {
	switch b.Op {
	case ">":
		return v > b.Value
	case "<":
		return v < b.Value
	case ">=":
		return v >= b.Value
	case "<=":
		return v <= b.Value
	case "==":
		return v == b.Value
	}
	return false
}

// Step is one action against the target.
type Step struct {
	Kind   string
	Target string
	Params map[string]interface{}
	Run    func(context.Context) error
}

// Check judges the last sample of a probe once the experiment is over.
type Check struct {
	Probe   string
	Pass    func(float64) bool
	Message string
}

// Result is the record of one experiment run.
type Result struct {
	Experiment    string              `json:"experiment"`
	Started       time.Time           `json:"started"`
	Finished      time.Time           `json:"finished"`
	Elapsed       time.Duration       `json:"elapsed"`
	Held          bool                `json:"held"`
	BaselineOK    bool                `json:"baseline_ok"`
	Breaches      []Breach            `json:"breaches"`
	Samples       map[string][]Sample `json:"samples"`
	Failures      []Failure           `json:"failures"`
	FailedChecks  []string            `json:"failed_checks,omitempty"`
	TimeToRecover *time.Duration      `json:"time_to_recover,omitempty"`
}

// Breach is a probe reading outside its bound. A probe that could not be
// read at baseline is recorded with Actual -1.
type Breach struct {
	Probe    string    `json:"probe"`
	Expected float64   `json:"expected"`
	Actual   float64   `json:"actual"`
	At       time.Time `json:"at"`
}

type Sample struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Failure is an error returned by a step or a probe.
type Failure struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Error  string    `json:"error"`
}

var (
	// ErrBaselineBroken aborts an experiment before any step runs.
	ErrBaselineBroken = errors.New("baseline probes out of bounds, experiment not started")
	// ErrHypothesisViolated reports that at least one game day experiment failed.
	ErrHypothesisViolated = errors.New("one or more experiments violated their hypothesis")
)

// Engine runs experiments against a lending service.
type Engine struct {
	tracer   trace.Tracer
	target   Target
	logger   *zap.Logger
	interval time.Duration
	pause    time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

type EngineOption func(*Engine)

// WithSampleInterval sets how often probes are read while an experiment runs.
func WithSampleInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.interval = d }
}

// WithPause sets the wait between game day experiments.
func WithPause(d time.Duration) EngineOption {
	return func(e *Engine) { e.pause = d }
}

func NewEngine(target Target, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		tracer:   otel.Tracer("coopcredit/chaos"),
		target:   target,
		logger:   logger,
		interval: time.Second,
		pause:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns a copy of the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns every finished run in order.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run checks the baseline, runs the steps, samples the probes for the
// experiment's duration, runs the cleanup and evaluates the checks.
// Step errors are recorded on the result, not returned.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.Run",
		trace.WithAttributes(attribute.String("experiment", exp.Name)))
	defer span.End()

	res := &Result{
		Experiment: exp.Name,
		Started:    time.Now(),
		Samples:    make(map[string][]Sample),
	}

	if breaches := e.checkBaseline(ctx, exp.Baseline); len(breaches) > 0 {
		res.Breaches = breaches
		span.SetAttributes(attribute.Bool("baseline_ok", false))
		return res, ErrBaselineBroken
	}
	res.BaselineOK = true

	span.AddEvent("steps")
	e.runSteps(ctx, exp.Steps, res, span)

	span.AddEvent("sampling")
	e.sample(ctx, exp, res)

	span.AddEvent("cleanup")
	e.runSteps(ctx, exp.Cleanup, nil, span)

	res.Held = res.evaluate(exp.Checks)
	res.Finished = time.Now()
	res.Elapsed = res.Finished.Sub(res.Started)

	e.mu.Lock()
	e.results = append(e.results, *res)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("held", res.Held),
		attribute.Int("breaches", len(res.Breaches)),
	)
	return res, nil
}

// runSteps runs steps in order. Failures are recorded on res when it is set.
func (e *Engine) runSteps(ctx context.Context, steps []Step, res *Result, span trace.Span) {
	for _, st := range steps {
		err := st.Run(ctx)
		if err == nil {
			continue
		}
		span.RecordError(err)
		if res != nil {
			res.Failures = append(res.Failures, Failure{At: time.Now(), Source: st.Target, Error: err.Error()})
		}
	}
}

func (e *Engine) checkBaseline(ctx context.Context, probes []Probe) []Breach {
	var breaches []Breach
	for _, p := range probes {
		v, err := p.Measure(ctx)
		switch {
		case err != nil:
			breaches = append(breaches, Breach{Probe: p.Name, Expected: p.Expect.Value, Actual: -1, At: time.Now()})
		case !p.Expect.Holds(v):
			breaches = append(breaches, Breach{Probe: p.Name, Expected: p.Expect.Value, Actual: v, At: time.Now()})
		}
	}
	return breaches
}

// sample reads the baseline probes every interval until the experiment's
// duration elapses, taking at least one reading. The time from the first
// breach to the first reading back in bounds is the time to recover.
func (e *Engine) sample(ctx context.Context, exp Experiment, res *Result) {
	window, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	tick := time.NewTicker(e.interval)
	defer tick.Stop()

	var firstBreach time.Time
	read := func() {
		for _, p := range exp.Baseline {
			v, err := p.Measure(ctx)
			now := time.Now()
			if err != nil {
				res.Failures = append(res.Failures, Failure{At: now, Source: p.Name, Error: err.Error()})
				continue
			}
			res.Samples[p.Name] = append(res.Samples[p.Name], Sample{At: now, Value: v})

			if !p.Expect.Holds(v) {
				if firstBreach.IsZero() {
					firstBreach = now
				}
				res.Breaches = append(res.Breaches, Breach{Probe: p.Name, Expected: p.Expect.Value, Actual: v, At: now})
				continue
			}
			if !firstBreach.IsZero() && res.TimeToRecover == nil {
				d := now.Sub(firstBreach)
				res.TimeToRecover = &d
			}
		}
	}

	read()
	for {
		select {
		case <-window.Done():
			return
		case <-tick.C:
			read()
		}
	}
}

// evaluate runs each check against the last sample of its probe. A probe
// with no samples fails its checks.
func (r *Result) evaluate(checks []Check) bool {
	held := true
	for _, c := range checks {
		samples := r.Samples[c.Probe]
		if len(samples) > 0 && c.Pass(samples[len(samples)-1].Value) {
			continue
		}
		r.FailedChecks = append(r.FailedChecks, c.Message)
		held = false
	}
	return held
}

// GameDay is a named batch of experiments run back to back.
type GameDay struct {
	Name         string
	Date         time.Time
	Experiments  []Experiment
	Participants []string
}

// RunGameDay runs every experiment in order, pausing between them, and
// returns ErrHypothesisViolated if any was aborted or did not hold.
func (e *Engine) RunGameDay(ctx context.Context, day GameDay) error {
	ctx, span := e.tracer.Start(ctx, "chaos.RunGameDay",
		trace.WithAttributes(attribute.String("game_day", day.Name)))
	defer span.End()

	log := e.logger.With(zap.String("game_day", day.Name))
	log.Info("game day started",
		zap.Time("date", day.Date),
		zap.Strings("participants", day.Participants),
		zap.Int("experiments", len(day.Experiments)),
	)

	failed := 0
	for i, exp := range day.Experiments {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.pause):
			}
		}

		log.Info("experiment started", zap.String("experiment", exp.Name), zap.String("hypothesis", exp.Hypothesis))
		res, err := e.Run(ctx, exp)
		if err != nil {
			log.Error("experiment aborted", zap.String("experiment", exp.Name), zap.Error(err))
			failed++
			continue
		}
		logResult(log, res)
		if !res.Held {
			failed++
		}
	}

	span.SetAttributes(attribute.Int("failed", failed))
	if failed > 0 {
		return ErrHypothesisViolated
	}
	return nil
}

func logResult(log *zap.Logger, res *Result) {
	fields := []zap.Field{
		zap.String("experiment", res.Experiment),
		zap.Int("breaches", len(res.Breaches)),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("elapsed", res.Elapsed),
	}
	if res.TimeToRecover != nil {
		fields = append(fields, zap.Duration("time_to_recover", *res.TimeToRecover))
	}
	if !res.Held {
		log.Error("hypothesis violated", append(fields, zap.Strings("failed_checks", res.FailedChecks))...)
		return
	}
	log.Info("hypothesis held", fields...)
}
