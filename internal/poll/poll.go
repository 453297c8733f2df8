// Package poll keeps a run's analysis current while the run is in flight.
//
// A Controller refreshes the run on one interval and its full case list on
// another, re-running the analysis after every accepted refresh. Refreshes may
// overlap; a result is accepted only if no refresh of the same kind that
// started later has already been accepted. Polling ends when the run reaches
// a terminal status and one final case drain has been applied, or when the
// caller stops it.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/chanyong1027/evalstudio/internal/analysis"
	"github.com/chanyong1027/evalstudio/internal/client"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

const (
	DefaultRunInterval  = 2 * time.Second
	DefaultCaseInterval = 3 * time.Second
)

// Fetcher is the part of the evaluation service client the controller uses.
// AllRunCases must return every page or an error.
type Fetcher interface {
	GetRun(ctx context.Context, ref client.RunRef) (types.EvaluationRun, error)
	AllRunCases(ctx context.Context, ref client.RunRef) ([]types.EvalCaseResult, error)
}

// Snapshot is one accepted state of the run and the analysis derived from it.
type Snapshot struct {
	Seq       uint64
	RefreshID string
	Run       types.EvaluationRun
	Cases     []types.EvalCaseResult
	View      analysis.View
	Final     bool
}

// Controller holds the polling configuration for one run. Start it with
// Start or Run.
type Controller struct {
	fetcher      Fetcher
	ref          client.RunRef
	runInterval  time.Duration
	caseInterval time.Duration
	criteria     *types.ReleaseCriteria
	onUpdate     func(Snapshot)
	onError      func(error)
}

// Option configures a Controller.
type Option func(*Controller)

func WithRunInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.runInterval = d
		}
	}
}

func WithCaseInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.caseInterval = d
		}
	}
}

// WithCriteria sets the workspace criteria used when the run carries no
// criteria snapshot.
func WithCriteria(rc *types.ReleaseCriteria) Option {
	return func(c *Controller) { c.criteria = rc }
}

// WithOnUpdate registers a callback invoked from the polling goroutine after
// every accepted refresh.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onUpdate = fn }
}

// WithOnError registers a callback for failed refreshes. Cancellations are
// never reported.
func WithOnError(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// New returns a controller for ref using the default intervals.
func New(f Fetcher, ref client.RunRef, opts ...Option) *Controller {
	c := &Controller{
		fetcher:      f,
		ref:          ref,
		runInterval:  DefaultRunInterval,
		caseInterval: DefaultCaseInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle controls one polling session.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	last Snapshot
	ok   bool
}

// Stop tears the session down and waits until no refresh is outstanding.
// It is safe to call more than once.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once polling has ended for any reason.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Last returns the most recent accepted snapshot.
func (h *Handle) Last() (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.ok
}

func (h *Handle) store(s Snapshot) {
	h.mu.Lock()
	h.last, h.ok = s, true
	h.mu.Unlock()
}

// Start begins polling in the background. Cancelling ctx has the same effect
// as Stop.
func (c *Controller) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go c.loop(ctx, h)
	return h
}

// Run polls until the run is final or ctx is cancelled and returns the last
// accepted snapshot.
func (c *Controller) Run(ctx context.Context) (Snapshot, bool) {
	h := c.Start(ctx)
	<-h.Done()
	return h.Last()
}

type kind string

const (
	kindRun   kind = "run"
	kindCases kind = "cases"
)

type result struct {
	kind      kind
	seq       uint64
	refreshID string
	run       types.EvaluationRun
	cases     []types.EvalCaseResult
	err       error
}

type state struct {
	seq      uint64
	applied  map[kind]uint64
	run      types.EvaluationRun
	cases    []types.EvalCaseResult
	haveRun  bool
	haveCase bool
	terminal bool
	// finalSeq is the case drain launched after the terminal status was
	// seen. It is retried on the case interval until it succeeds.
	finalSeq   uint64
	retryFinal bool
}

func (c *Controller) loop(ctx context.Context, h *Handle) {
	defer close(h.done)
	log := clog.FromContext(ctx).With("run", c.ref.RunID)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	activeSessions.Inc()
	defer activeSessions.Dec()

	results := make(chan result)
	st := &state{applied: map[kind]uint64{}}

	launch := func(k kind) uint64 {
		st.seq++
		seq := st.seq
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := c.fetch(ctx, k, seq)
			select {
			case results <- r:
			case <-ctx.Done():
			}
		}()
		return seq
	}

	runTicker := time.NewTicker(c.runInterval)
	defer runTicker.Stop()
	caseTicker := time.NewTicker(c.caseInterval)
	defer caseTicker.Stop()

	launch(kindRun)
	launch(kindCases)

	for {
		select {
		case <-ctx.Done():
			log.Debug("polling stopped")
			return
		case <-runTicker.C:
			if !st.terminal {
				launch(kindRun)
			}
		case <-caseTicker.C:
			switch {
			case !st.terminal:
				launch(kindCases)
			case st.retryFinal:
				st.retryFinal = false
				st.finalSeq = launch(kindCases)
			}
		case r := <-results:
			if r.err != nil {
				if client.IsCancellation(r.err) || ctx.Err() != nil {
					refreshes.WithLabelValues(string(r.kind), "cancelled").Inc()
					continue
				}
				refreshes.WithLabelValues(string(r.kind), "error").Inc()
				log.With("kind", r.kind).Warnf("refresh failed: %v", r.err)
				if c.onError != nil {
					c.onError(r.err)
				}
				if st.terminal && r.kind == kindCases && r.seq == st.finalSeq {
					st.retryFinal = true
				}
				continue
			}
			if r.seq < st.applied[r.kind] {
				refreshes.WithLabelValues(string(r.kind), "stale").Inc()
				continue
			}
			refreshes.WithLabelValues(string(r.kind), "ok").Inc()
			st.applied[r.kind] = r.seq

			switch r.kind {
			case kindRun:
				st.run, st.haveRun = r.run, true
				if !st.terminal && r.run.Status.Terminal() {
					st.terminal = true
					st.finalSeq = launch(kindCases)
					log.With("status", r.run.Status).Info("run reached a terminal status, draining cases")
				}
			case kindCases:
				st.cases, st.haveCase = r.cases, true
			}
			if !st.haveRun || !st.haveCase {
				continue
			}

			final := st.terminal && st.applied[kindCases] >= st.finalSeq
			snap := Snapshot{
				Seq:       r.seq,
				RefreshID: r.refreshID,
				Run:       st.run,
				Cases:     st.cases,
				View:      analysis.Analyze(analysis.Input{Run: st.run, Cases: st.cases, Criteria: c.criteria}),
				Final:     final,
			}
			h.store(snap)
			if c.onUpdate != nil {
				c.onUpdate(snap)
			}
			if final {
				log.With("decision", snap.View.Decision.Release).Info("polling finished")
				return
			}
		}
	}
}

func (c *Controller) fetch(ctx context.Context, k kind, seq uint64) result {
	r := result{kind: k, seq: seq, refreshID: uuid.NewString()}
	start := time.Now()
	defer func() {
		refreshSeconds.WithLabelValues(string(k)).Observe(time.Since(start).Seconds())
	}()
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("refresh_id", r.refreshID))
	switch k {
	case kindRun:
		r.run, r.err = c.fetcher.GetRun(ctx, c.ref)
	case kindCases:
		r.cases, r.err = c.fetcher.AllRunCases(ctx, c.ref)
	}
	return r
}
