// Package poller watches long-running backend jobs until they reach a
// terminal status.
//
// A Poller moves through idle -> running -> succeeded|failed, or to canceled
// when its context ends first. It owns exactly one ticker, fetches the job
// status once per tick, replaces its log slice with the server's logs and
// fires OnSuccess or OnFailure exactly once. A failed fetch is logged and
// retried on the next tick.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/observability"
)

const DefaultInterval = 2 * time.Second

// StatusFetcher is implemented by apiclient.Client.
type StatusFetcher interface {
	JobStatus(ctx context.Context, kind core.JobKind, id core.JobID) (*core.JobStatusResponse, error)
}

// Callbacks are invoked from the polling goroutine.
type Callbacks struct {
	OnUpdate  func(core.JobSnapshot)
	OnSuccess func(core.JobSnapshot)
	OnFailure func(core.JobSnapshot)
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Poller) { p.log = log }
}

func WithCallbacks(cb Callbacks) Option {
	return func(p *Poller) { p.cb = cb }
}

type Poller struct {
	fetch       StatusFetcher
	workspaceID string
	kind        core.JobKind
	id          core.JobID
	interval    time.Duration
	log         *zap.Logger
	cb          Callbacks

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	mu   sync.Mutex
	snap core.JobSnapshot
}

func New(fetch StatusFetcher, workspaceID string, kind core.JobKind, id core.JobID, opts ...Option) *Poller {
	p := &Poller{
		fetch:       fetch,
		workspaceID: workspaceID,
		kind:        kind,
		id:          id,
		interval:    DefaultInterval,
		log:         zap.NewNop(),
		cancel:      func() {},
		done:        make(chan struct{}),
		snap:        core.JobSnapshot{Kind: kind, JobID: id, Phase: core.PhaseIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = observability.JobLogger(p.log, workspaceID, string(kind), string(id))
	return p
}

func (p *Poller) Kind() core.JobKind { return p.kind }
func (p *Poller) JobID() core.JobID  { return p.id }

// Start runs the poll loop in a new goroutine. Calls after the first are
// no-ops.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.cancel = cancel
		p.mu.Unlock()
		go p.run(ctx)
	})
}

// Run polls on the calling goroutine and returns the final snapshot.
func (p *Poller) Run(ctx context.Context) core.JobSnapshot {
	started := false
	p.startOnce.Do(func() {
		started = true
		ctx2, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.cancel = cancel
		p.mu.Unlock()
		p.run(ctx2)
	})
	if !started {
		<-p.done
	}
	return p.Snapshot()
}

// Cancel stops polling. The phase becomes canceled unless the job already
// reached a terminal status.
func (p *Poller) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	cancel()
}

// Done is closed when the poll loop has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Wait blocks until polling ends or ctx is done.
func (p *Poller) Wait(ctx context.Context) (core.JobSnapshot, error) {
	select {
	case <-p.done:
		return p.Snapshot(), nil
	case <-ctx.Done():
		return p.Snapshot(), ctx.Err()
	}
}

func (p *Poller) Snapshot() core.JobSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.snap
	s.Logs = append([]core.LogEntry(nil), p.snap.Logs...)
	return s
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancelSelf()

	start := time.Now()
	observability.ActivePollers.Inc()
	defer observability.ActivePollers.Dec()

	p.setPhase(core.PhaseRunning)
	p.log.Info("polling started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.setPhase(core.PhaseCanceled)
			observability.PollOutcomesTotal.WithLabelValues(string(p.kind), string(core.PhaseCanceled)).Inc()
			p.log.Info("polling canceled")
			return
		case <-ticker.C:
		}

		if p.tick(ctx) {
			snap := p.Snapshot()
			observability.PollOutcomesTotal.WithLabelValues(string(p.kind), string(snap.Phase)).Inc()
			observability.JobDuration.WithLabelValues(string(p.kind)).Observe(time.Since(start).Seconds())
			p.finish(snap)
			return
		}
	}
}

// tick fetches once and reports whether the job is finished.
func (p *Poller) tick(ctx context.Context) bool {
	observability.PollTicksTotal.WithLabelValues(string(p.kind)).Inc()
	p.mu.Lock()
	p.snap.Ticks++
	p.mu.Unlock()

	resp, err := p.fetch.JobStatus(ctx, p.kind, p.id)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		observability.PollTickErrorsTotal.WithLabelValues(string(p.kind)).Inc()
		p.log.Warn("status poll failed, retrying next tick", zap.Error(err))
		return false
	}

	phase := core.PhaseFor(p.kind, resp.Status)
	if phase == core.PhaseIdle {
		phase = core.PhaseRunning
	}
	p.mu.Lock()
	p.snap.Status = resp.Status
	p.snap.Logs = append([]core.LogEntry(nil), resp.Logs...)
	p.snap.Phase = phase
	p.snap.UpdatedAt = time.Now()
	p.mu.Unlock()

	if p.cb.OnUpdate != nil {
		p.cb.OnUpdate(p.Snapshot())
	}
	return phase.IsTerminal()
}

func (p *Poller) finish(snap core.JobSnapshot) {
	switch snap.Phase {
	case core.PhaseSucceeded:
		p.log.Info("job succeeded", zap.Int("ticks", snap.Ticks))
		if p.cb.OnSuccess != nil {
			p.cb.OnSuccess(snap)
		}
	case core.PhaseFailed:
		p.log.Warn("job failed", zap.Int("ticks", snap.Ticks))
		if p.cb.OnFailure != nil {
			p.cb.OnFailure(snap)
		}
	}
}

func (p *Poller) setPhase(ph core.Phase) {
	p.mu.Lock()
	p.snap.Phase = ph
	p.mu.Unlock()
}

func (p *Poller) cancelSelf() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	cancel()
}
