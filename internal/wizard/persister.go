package wizard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/observability"
)

const DefaultDebounce = 800 * time.Millisecond

var ErrPersisterClosed = errors.New("persister closed")

// StateSaver writes a state patch. *apiclient.Client implements it.
type StateSaver interface {
	SaveState(ctx context.Context, id string, req apiclient.SaveStateRequest) (*core.Workspace, error)
}

// WorkspaceLoader reads the current stored document. *apiclient.Client
// implements it.
type WorkspaceLoader interface {
	GetWorkspace(ctx context.Context, id string) (*core.Workspace, error)
}

type PersisterOption func(*Persister)

func WithDebounce(d time.Duration) PersisterOption {
	return func(p *Persister) { p.delay = d }
}

func WithPersisterLogger(log *zap.Logger) PersisterOption {
	return func(p *Persister) { p.log = log }
}

// WithSaveTimeout bounds background writes triggered by the debounce timer.
func WithSaveTimeout(d time.Duration) PersisterOption {
	return func(p *Persister) { p.timeout = d }
}

// WithReloader makes a conflicting write reload the stored document, rebase
// on it and retry once. The queued fields then overwrite the stored ones.
// Without it a conflict is returned to the caller.
func WithReloader(l WorkspaceLoader) PersisterOption {
	return func(p *Persister) { p.loader = l }
}

// WithRetryBackOff sets the delays between retries of writes that failed
// for reasons other than a conflict.
func WithRetryBackOff(b backoff.BackOff) PersisterOption {
	return func(p *Persister) { p.retry = b }
}

// OnSaved is called after every successful write with the stored document.
func OnSaved(fn func(*core.Workspace)) PersisterOption {
	return func(p *Persister) { p.onSaved = fn }
}

// Persister batches state patches for one workspace. Patches arriving within
// the debounce window are merged by top-level key, the latest value winning,
// and written in one request carrying the revision and hash of the last
// document this process saw.
type Persister struct {
	saver   StateSaver
	wsID    string
	delay   time.Duration
	timeout time.Duration
	log     *zap.Logger
	onSaved func(*core.Workspace)
	loader  WorkspaceLoader
	retry   backoff.BackOff

	// writeMu serialises requests so revisions advance in order.
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  core.StatePatch
	step     core.WizardStep
	revision int64
	hash     string
	timer    *time.Timer
	lastErr  error
	closed   bool
}

func NewPersister(saver StateSaver, ws *core.Workspace, opts ...PersisterOption) *Persister {
	p := &Persister{
		saver:   saver,
		wsID:    ws.ID,
		delay:   DefaultDebounce,
		timeout: 30 * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = time.Minute
		b.MaxElapsedTime = 0
		p.retry = b
	}
	p.rebase(ws)
	return p
}

// Save queues patch for the next write.
func (p *Persister) Save(patch core.StatePatch) error {
	return p.queue("", patch)
}

// SaveStep queues a step change together with patch.
func (p *Persister) SaveStep(step core.WizardStep, patch core.StatePatch) error {
	return p.queue(step, patch)
}

func (p *Persister) queue(step core.WizardStep, patch core.StatePatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPersisterClosed
	}
	if p.pending == nil {
		p.pending = core.StatePatch{}
	}
	for k, v := range patch {
		p.pending[k] = v
	}
	if step != "" {
		p.step = step
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.delay, p.flushAsync)
	} else {
		p.timer.Reset(p.delay)
	}
	return nil
}

// Pending reports whether a write is queued.
func (p *Persister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0 || p.step != ""
}

// Revision returns the revision the next write will be based on.
func (p *Persister) Revision() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revision
}

// Err returns the error of the last background write, if it failed.
func (p *Persister) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Rebase adopts ws as the base document, typically after reloading it to
// resolve a conflict. Queued patches are kept.
func (p *Persister) Rebase(ws *core.Workspace) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebase(ws)
	p.lastErr = nil
}

func (p *Persister) rebase(ws *core.Workspace) {
	p.revision = ws.Revision
	hash, err := core.HashState(ws.State)
	if err != nil {
		p.log.Warn("hash workspace state", zap.String("workspace_id", ws.ID), zap.Error(err))
		hash = ""
	}
	p.hash = hash
}

// Flush writes queued patches now. A conflict that cannot be resolved by a
// reload leaves the patches queued and returns an error with code CONFLICT.
// Other failures also keep the patches and schedule a retry.
func (p *Persister) Flush(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	patch, step := p.pending, p.step
	p.pending, p.step = nil, ""
	req := apiclient.SaveStateRequest{
		Step:         step,
		Patch:        patch,
		BaseRevision: p.revision,
		BaseHash:     p.hash,
	}
	p.mu.Unlock()

	if len(patch) == 0 && step == "" {
		return nil
	}
	if req.Patch == nil {
		req.Patch = core.StatePatch{}
	}
	observability.StatePatchFields.Observe(float64(len(patch)))

	ws, err := p.saver.SaveState(ctx, p.wsID, req)
	if core.HasCode(err, core.ErrConflict) && p.loader != nil {
		ws, err = p.retryRebased(ctx, req)
	}
	if err != nil {
		conflict := core.HasCode(err, core.ErrConflict)
		p.requeue(patch, step, !conflict)
		result := "error"
		if conflict {
			result = "conflict"
		}
		observability.StateSavesTotal.WithLabelValues(result).Inc()
		p.log.Warn("save workspace state",
			zap.String("workspace_id", p.wsID),
			zap.Int64("base_revision", req.BaseRevision),
			zap.Int("fields", len(patch)),
			zap.Error(err))
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return err
	}

	observability.StateSavesTotal.WithLabelValues("ok").Inc()
	p.mu.Lock()
	p.rebase(ws)
	p.lastErr = nil
	p.retry.Reset()
	p.mu.Unlock()
	p.log.Debug("saved workspace state",
		zap.String("workspace_id", p.wsID),
		zap.Int64("revision", ws.Revision),
		zap.Int("fields", len(patch)))
	if p.onSaved != nil {
		p.onSaved(ws)
	}
	return nil
}

// retryRebased reloads the stored document and repeats req on top of it.
func (p *Persister) retryRebased(ctx context.Context, req apiclient.SaveStateRequest) (*core.Workspace, error) {
	observability.StateSavesTotal.WithLabelValues("conflict").Inc()
	fresh, err := p.loader.GetWorkspace(ctx, p.wsID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.rebase(fresh)
	req.BaseRevision, req.BaseHash = p.revision, p.hash
	p.mu.Unlock()
	p.log.Info("rebased state write after conflict",
		zap.String("workspace_id", p.wsID),
		zap.Int64("base_revision", req.BaseRevision))
	return p.saver.SaveState(ctx, p.wsID, req)
}

// requeue puts a failed patch back underneath anything queued since. With
// retry set the write is attempted again after the next backoff delay.
func (p *Persister) requeue(patch core.StatePatch, step core.WizardStep, retry bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	merged := core.StatePatch{}
	for k, v := range patch {
		merged[k] = v
	}
	for k, v := range p.pending {
		merged[k] = v
	}
	p.pending = merged
	if p.step == "" {
		p.step = step
	}
	if !retry || p.closed {
		return
	}
	d := p.retry.NextBackOff()
	if d == backoff.Stop {
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(d, p.flushAsync)
	} else {
		p.timer.Reset(d)
	}
}

func (p *Persister) flushAsync() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	_ = p.Flush(ctx)
}

// Close flushes queued patches and rejects later saves.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Flush(ctx)
}
