package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/core"
)

// Key identifies the single poll slot a workspace has for a job kind.
type Key struct {
	WorkspaceID string
	Kind        core.JobKind
}

// Manager owns every running poller and keeps at most one per Key.
type Manager struct {
	fetch    StatusFetcher
	interval time.Duration
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pollers map[Key]*Poller
	closed  bool
}

func NewManager(fetch StatusFetcher, interval time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetch:    fetch,
		interval: interval,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		pollers:  make(map[Key]*Poller),
	}
}

// Watch starts polling job id. If the same job is already being polled the
// existing poller is returned with started=false. A different job of the same
// kind replaces the previous poller, which is canceled first.
func (m *Manager) Watch(workspaceID string, kind core.JobKind, id core.JobID, cb Callbacks) (p *Poller, started bool) {
	key := Key{WorkspaceID: workspaceID, Kind: kind}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}
	if prev, ok := m.pollers[key]; ok {
		if prev.JobID() == id && !isDone(prev) {
			return prev, false
		}
		prev.Cancel()
		m.log.Info("replacing poller",
			zap.String("workspace_id", workspaceID),
			zap.String("kind", string(kind)),
			zap.String("old_job_id", string(prev.JobID())),
			zap.String("job_id", string(id)))
	}

	p = New(m.fetch, workspaceID, kind, id,
		WithInterval(m.interval), WithLogger(m.log), WithCallbacks(cb))
	m.pollers[key] = p
	m.wg.Add(1)
	p.Start(m.ctx)
	go func() {
		defer m.wg.Done()
		<-p.Done()
		m.mu.Lock()
		if m.pollers[key] == p {
			delete(m.pollers, key)
		}
		m.mu.Unlock()
	}()
	return p, true
}

// Get returns the live poller for key, if any.
func (m *Manager) Get(workspaceID string, kind core.JobKind) (*Poller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pollers[Key{WorkspaceID: workspaceID, Kind: kind}]
	return p, ok
}

// Cancel stops the poller for key and reports whether one was running.
func (m *Manager) Cancel(workspaceID string, kind core.JobKind) bool {
	m.mu.Lock()
	p, ok := m.pollers[Key{WorkspaceID: workspaceID, Kind: kind}]
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.Cancel()
	<-p.Done()
	return true
}

// Active returns the number of live pollers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pollers)
}

// Close cancels every poller and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func isDone(p *Poller) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
