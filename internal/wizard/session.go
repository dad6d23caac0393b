// Package wizard keeps the client-side state of one workspace's wizard:
// it rebuilds in-memory job state from the saved document, resumes polling
// for jobs that were running, and writes every transition back through a
// debounced, revision-checked persister.
package wizard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/observability"
	"github.com/lzjever/infrawiz/internal/poller"
)

// JobStarter starts backend jobs. *apiclient.Client implements it.
type JobStarter interface {
	StartJob(ctx context.Context, kind core.JobKind, workspaceID, provider string, deploy apiclient.AppDeployRequest) (*core.JobRef, error)
}

// JobObserver sees every snapshot the session records, terminal ones
// included.
type JobObserver func(kind core.JobKind, snap core.JobSnapshot)

type SessionOption func(*Session)

func WithJobStarter(j JobStarter) SessionOption {
	return func(s *Session) { s.jobs = j }
}

func WithSessionLogger(log *zap.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

func WithJobObserver(fn JobObserver) SessionOption {
	return func(s *Session) { s.observers = append(s.observers, fn) }
}

// WithFlushTimeout bounds the write issued when a job finishes.
func WithFlushTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.flushTimeout = d }
}

type Session struct {
	id           string
	persister    *Persister
	polls        *poller.Manager
	jobs         JobStarter
	log          *zap.Logger
	observers    []JobObserver
	flushTimeout time.Duration

	mu       sync.Mutex
	step     core.WizardStep
	state    core.WorkspaceState
	mismatch string
}

func NewSession(ws *core.Workspace, persister *Persister, polls *poller.Manager, opts ...SessionOption) *Session {
	s := &Session{
		id:           ws.ID,
		persister:    persister,
		polls:        polls,
		log:          zap.NewNop(),
		flushTimeout: 30 * time.Second,
		step:         ws.Step,
		state:        ws.State,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("workspace_id", ws.ID))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Step() core.WizardStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// State returns the in-memory document.
func (s *Session) State() core.WorkspaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReadOnly reports whether the workspace is deployed. Field edits are
// rejected while it is.
func (s *Session) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsDeployed
}

// Hydrate replaces the in-memory state with saved and resumes polling for
// every job it records as running. Resuming is keyed by (kind, job id), so
// hydrating again from the same or an equal document starts nothing new.
// It returns the kinds for which a poller was started.
func (s *Session) Hydrate(saved core.WorkspaceState) []core.JobKind {
	type job struct {
		kind core.JobKind
		id   core.JobID
	}
	s.mu.Lock()
	s.state = saved
	var running []job
	for _, kind := range core.JobKinds {
		status, id := saved.Job(kind)
		if id != "" && active(status) {
			running = append(running, job{kind, id})
		}
	}
	s.mu.Unlock()

	var started []core.JobKind
	for _, j := range running {
		if _, ok := s.watch(j.kind, j.id); ok {
			observability.WatchesResumedTotal.Inc()
			s.log.Info("resumed job polling", zap.String("kind", string(j.kind)), zap.String("job_id", string(j.id)))
			started = append(started, j.kind)
		}
	}
	return started
}

func active(status core.JobStatus) bool {
	return status == core.JobStatusRunning || status == core.JobStatusPending
}

// Resume polls a job started elsewhere. The job is recorded as running if
// the saved state does not already name it.
func (s *Session) Resume(kind core.JobKind, id core.JobID) (*poller.Poller, bool, error) {
	if id == "" {
		return nil, false, core.NewAppError(core.ErrInvalidInput, "job id is required")
	}
	s.mu.Lock()
	_, cur := s.state.Job(kind)
	s.mu.Unlock()
	if cur != id {
		if err := s.recordStatus(kind, id, core.JobStatusRunning, nil, true); err != nil {
			return nil, false, err
		}
	}
	p, started := s.watch(kind, id)
	if p == nil {
		return nil, false, core.NewAppError(core.ErrInternal, "poller manager is closed")
	}
	return p, started, nil
}

// StartJob starts a backend job of kind and polls it. Provision is refused
// on a deployed workspace, and provision and destroy exclude each other.
func (s *Session) StartJob(ctx context.Context, kind core.JobKind, deploy apiclient.AppDeployRequest) (*poller.Poller, error) {
	if s.jobs == nil {
		return nil, core.NewAppError(core.ErrInternal, "session has no job starter")
	}
	other, exclusive := infraPeer(kind)
	s.mu.Lock()
	provider := s.state.SelectedProvider
	deployed := s.state.IsDeployed
	var peerStatus core.JobStatus
	var peerID core.JobID
	if exclusive {
		peerStatus, peerID = s.state.Job(other)
	}
	s.mu.Unlock()

	if kind == core.JobProvision && deployed {
		return nil, core.NewAppError(core.ErrReadOnly, "workspace is already deployed; destroy it first")
	}
	if exclusive {
		if _, running := s.polls.Get(s.id, other); running {
			return nil, core.NewAppError(core.ErrConflict, "a "+string(other)+" job is still running for this workspace")
		}
		// a peer started by another process is only known from the saved state
		if peerID != "" && active(peerStatus) {
			return nil, core.NewAppError(core.ErrConflict,
				"a "+string(other)+" job ("+string(peerID)+") is recorded as running; follow it until it finishes first")
		}
	}

	ref, err := s.jobs.StartJob(ctx, kind, s.id, provider, deploy)
	if err != nil {
		return nil, err
	}
	if err := s.recordStatus(kind, ref.JobID, core.JobStatusRunning, nil, true); err != nil {
		return nil, err
	}
	// the job id must survive a restart before the first tick
	if err := s.persister.Flush(ctx); err != nil {
		s.log.Warn("job started but state not saved yet", zap.String("job_id", string(ref.JobID)), zap.Error(err))
	}
	p, _ := s.watch(kind, ref.JobID)
	if p == nil {
		return nil, core.NewAppError(core.ErrInternal, "poller manager is closed")
	}
	return p, nil
}

func infraPeer(kind core.JobKind) (core.JobKind, bool) {
	switch kind {
	case core.JobProvision:
		return core.JobDestroy, true
	case core.JobDestroy:
		return core.JobProvision, true
	}
	return "", false
}

// CancelJob stops polling kind. The backend job keeps running.
func (s *Session) CancelJob(kind core.JobKind) bool {
	return s.polls.Cancel(s.id, kind)
}

func (s *Session) watch(kind core.JobKind, id core.JobID) (*poller.Poller, bool) {
	return s.polls.Watch(s.id, kind, id, poller.Callbacks{
		OnUpdate:  func(snap core.JobSnapshot) { s.onSnapshot(kind, snap) },
		OnSuccess: func(snap core.JobSnapshot) { s.onTerminal(kind, snap) },
		OnFailure: func(snap core.JobSnapshot) { s.onTerminal(kind, snap) },
	})
}

func (s *Session) onSnapshot(kind core.JobKind, snap core.JobSnapshot) {
	if snap.Phase.IsTerminal() {
		// recorded by onTerminal together with the outcome fields
		return
	}
	if err := s.recordStatus(kind, snap.JobID, snap.Status, snap.Logs, false); err != nil {
		s.log.Debug("skip job snapshot", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	s.notify(kind, snap)
}

func (s *Session) onTerminal(kind core.JobKind, snap core.JobSnapshot) {
	if err := s.recordStatus(kind, snap.JobID, snap.Status, snap.Logs, false); err != nil {
		s.log.Debug("skip job outcome", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	if snap.Phase == core.PhaseSucceeded {
		s.applyOutcome(outcomePatch(kind))
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
	defer cancel()
	if err := s.persister.Flush(ctx); err != nil {
		s.log.Warn("save job outcome", zap.String("kind", string(kind)), zap.Error(err))
	}
	s.notify(kind, snap)
}

// outcomePatch lists the workspace flags a successful job sets.
func outcomePatch(kind core.JobKind) core.StatePatch {
	switch kind {
	case core.JobProvision:
		return core.StatePatch{"is_deployed": true}
	case core.JobDestroy:
		return core.StatePatch{"is_deployed": false, "is_live": false}
	case core.JobAppDeploy:
		return core.StatePatch{"is_live": true}
	}
	return nil
}

var errStaleJob = core.NewAppError(core.ErrConflict, "job superseded")

// recordStatus stores status, id and logs for kind. Unless replace is set,
// snapshots of a job other than the recorded one are dropped.
func (s *Session) recordStatus(kind core.JobKind, id core.JobID, status core.JobStatus, logs []core.LogEntry, replace bool) error {
	s.mu.Lock()
	if !replace {
		if _, cur := s.state.Job(kind); cur != id {
			s.mu.Unlock()
			return errStaleJob
		}
	}
	patch := core.JobPatch(kind, s.state.Slot(kind), status, id, logs)
	next, err := s.state.Apply(patch)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.mu.Unlock()
	return s.persister.Save(patch)
}

func (s *Session) applyOutcome(patch core.StatePatch) {
	s.mu.Lock()
	next, err := s.state.Apply(patch)
	if err == nil {
		s.state = next
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("apply job outcome", zap.Error(err))
		return
	}
	if err := s.persister.Save(patch); err != nil {
		s.log.Warn("queue job outcome", zap.Error(err))
	}
}

func (s *Session) notify(kind core.JobKind, snap core.JobSnapshot) {
	for _, fn := range s.observers {
		fn(kind, snap)
	}
}

// SetField edits one top-level state field. A nil value removes it.
func (s *Session) SetField(key string, value any) error {
	return s.edit(core.StatePatch{key: value})
}

func (s *Session) SetRemovedServices(services []string) error {
	return s.edit(core.StatePatch{"removedServices": services})
}

// SelectProvider changes the target cloud and returns the resulting
// connection view.
func (s *Session) SelectProvider(provider string) (ConnectionView, error) {
	if err := s.edit(core.StatePatch{"selectedProvider": provider}); err != nil {
		return ConnectionView{}, err
	}
	return s.Connection(), nil
}

func (s *Session) edit(patch core.StatePatch) error {
	s.mu.Lock()
	if s.state.IsDeployed {
		s.mu.Unlock()
		return core.NewAppError(core.ErrReadOnly, "workspace is deployed and read-only")
	}
	next, err := s.state.Apply(patch)
	if err != nil {
		s.mu.Unlock()
		return core.NewAppError(core.ErrInvalidInput, err.Error())
	}
	s.state = next
	s.mu.Unlock()
	return s.persister.Save(patch)
}

// SetConnection records a cloud link. It is allowed on deployed workspaces
// so the link can be removed after a destroy.
func (s *Session) SetConnection(conn *core.Connection) error {
	var v any
	if conn != nil {
		v = conn
	}
	patch := core.StatePatch{"connection": v}
	s.mu.Lock()
	next, err := s.state.Apply(patch)
	if err == nil {
		s.state = next
		s.mismatch = ""
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.persister.Save(patch)
}

// Connection returns the reconciled connection. A link saved for another
// provider is logged once per provider pair.
func (s *Session) Connection() ConnectionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := ReconcileConnection(s.state)
	if v.Mismatch {
		pair := v.SavedProvider + "->" + v.Connection.Provider
		if s.mismatch != pair {
			s.mismatch = pair
			s.log.Warn("saved cloud connection is for a different provider; treating as disconnected",
				zap.String("saved_provider", v.SavedProvider),
				zap.String("selected_provider", v.Connection.Provider))
		}
	}
	return v
}

// Advance moves the wizard to step.
func (s *Session) Advance(step core.WizardStep) error {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
	return s.persister.SaveStep(step, nil)
}

// Pending reports whether edits are waiting to be written.
func (s *Session) Pending() bool {
	return s.persister.Pending()
}

// Flush writes pending edits now.
func (s *Session) Flush(ctx context.Context) error {
	return s.persister.Flush(ctx)
}

// Close stops this workspace's pollers and flushes pending edits.
func (s *Session) Close(ctx context.Context) error {
	for _, kind := range core.JobKinds {
		s.polls.Cancel(s.id, kind)
	}
	return s.persister.Close(ctx)
}
