package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/observability"
	"github.com/lzjever/infrawiz/internal/poller"
	"github.com/lzjever/infrawiz/internal/store"
	"github.com/lzjever/infrawiz/internal/wizard"
)

// WatchStore is the persistence the service needs. *store.Queries
// implements it.
type WatchStore interface {
	CreateWatch(ctx context.Context, arg store.CreateWatchParams) (store.InfrawizWatch, error)
	GetWatch(ctx context.Context, watchID string) (store.InfrawizWatch, error)
	GetRunningWatch(ctx context.Context, arg store.GetRunningWatchParams) (store.InfrawizWatch, error)
	ListWatches(ctx context.Context, arg store.ListWatchesParams) ([]store.InfrawizWatch, error)
	ListRunningWatches(ctx context.Context) ([]store.InfrawizWatch, error)
	UpdateWatchProgress(ctx context.Context, arg store.UpdateWatchProgressParams) (int64, error)
	FinishWatch(ctx context.Context, arg store.FinishWatchParams) (store.InfrawizWatch, error)
	CancelWatch(ctx context.Context, watchID string) (store.InfrawizWatch, error)
	SupersedeRunningWatches(ctx context.Context, arg store.SupersedeRunningWatchesParams) (int64, error)
}

// Backend is the part of the API client the service uses besides status
// polling, which goes through the poller manager.
type Backend interface {
	wizard.WorkspaceLoader
	wizard.StateSaver
}

type watchRef struct {
	watchID string
	jobID   core.JobID
}

// Service keeps one poller per running watch and mirrors job progress into
// the watch table and the backend workspace document.
type Service struct {
	watches  WatchStore
	backend  Backend
	polls    *poller.Manager
	log      *zap.Logger
	debounce time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*wizard.Session
	running  map[poller.Key]watchRef
}

func NewService(watches WatchStore, backend Backend, polls *poller.Manager, log *zap.Logger, debounce time.Duration) *Service {
	return &Service{
		watches:  watches,
		backend:  backend,
		polls:    polls,
		log:      log,
		debounce: debounce,
		timeout:  30 * time.Second,
		sessions: make(map[string]*wizard.Session),
		running:  make(map[poller.Key]watchRef),
	}
}

type StartWatchRequest struct {
	WorkspaceID string       `json:"workspace_id"`
	Kind        core.JobKind `json:"kind"`
	JobID       core.JobID   `json:"job_id"`
}

// StartWatch records a watch for the job and starts polling it. Asking for
// the job that is already watched returns the existing watch; a different
// job of the same kind supersedes it.
func (s *Service) StartWatch(ctx context.Context, req StartWatchRequest) (store.InfrawizWatch, error) {
	if req.WorkspaceID == "" || req.JobID == "" {
		return store.InfrawizWatch{}, core.NewAppError(core.ErrInvalidInput, "workspace_id and job_id are required")
	}
	if _, err := core.ParseJobKind(string(req.Kind)); err != nil {
		return store.InfrawizWatch{}, err
	}

	existing, err := s.watches.GetRunningWatch(ctx, store.GetRunningWatchParams{
		WorkspaceID: req.WorkspaceID,
		Kind:        string(req.Kind),
	})
	switch {
	case err == nil && existing.JobID == string(req.JobID):
		if err := s.follow(ctx, existing); err != nil {
			return store.InfrawizWatch{}, err
		}
		return existing, nil
	case err != nil && !store.IsNotFound(err):
		return store.InfrawizWatch{}, fmt.Errorf("get running watch: %w", err)
	}

	if _, err := s.watches.SupersedeRunningWatches(ctx, store.SupersedeRunningWatchesParams{
		WorkspaceID: req.WorkspaceID,
		Kind:        string(req.Kind),
		JobID:       string(req.JobID),
	}); err != nil {
		return store.InfrawizWatch{}, fmt.Errorf("supersede watches: %w", err)
	}

	w, err := s.watches.CreateWatch(ctx, store.CreateWatchParams{
		WatchID:     core.NewID(),
		WorkspaceID: req.WorkspaceID,
		Kind:        string(req.Kind),
		JobID:       string(req.JobID),
	})
	if store.IsUniqueViolation(err) {
		// lost a race with a concurrent request for the same key
		w, err = s.watches.GetRunningWatch(ctx, store.GetRunningWatchParams{
			WorkspaceID: req.WorkspaceID,
			Kind:        string(req.Kind),
		})
	}
	if err != nil {
		return store.InfrawizWatch{}, fmt.Errorf("create watch: %w", err)
	}
	if err := s.follow(ctx, w); err != nil {
		return store.InfrawizWatch{}, err
	}
	s.log.Info("watch started",
		zap.String("watch_id", w.WatchID),
		zap.String("workspace_id", w.WorkspaceID),
		zap.String("kind", w.Kind),
		zap.String("job_id", w.JobID))
	return w, nil
}

// follow makes sure a poller runs for w.
func (s *Service) follow(ctx context.Context, w store.InfrawizWatch) error {
	kind := core.JobKind(w.Kind)
	key := poller.Key{WorkspaceID: w.WorkspaceID, Kind: kind}
	// registered first so a watch finishing meanwhile keeps the session cached
	s.mu.Lock()
	s.running[key] = watchRef{watchID: w.WatchID, jobID: core.JobID(w.JobID)}
	s.mu.Unlock()

	sess, err := s.session(ctx, w.WorkspaceID)
	if err == nil {
		_, _, err = sess.Resume(kind, core.JobID(w.JobID))
	}
	if err != nil {
		s.mu.Lock()
		if ref, ok := s.running[key]; ok && ref.watchID == w.WatchID {
			delete(s.running, key)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Service) session(ctx context.Context, workspaceID string) (*wizard.Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[workspaceID]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	ws, err := s.backend.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	log := s.log.Named("wizard")
	// the agent only merges job outcomes, so a conflicting write is rebased
	// on the reloaded document instead of being dropped
	p := wizard.NewPersister(s.backend, ws,
		wizard.WithDebounce(s.debounce),
		wizard.WithPersisterLogger(log),
		wizard.WithReloader(s.backend))
	sess = wizard.NewSession(ws, p, s.polls,
		wizard.WithSessionLogger(log),
		wizard.WithJobObserver(func(kind core.JobKind, snap core.JobSnapshot) {
			s.observe(workspaceID, kind, snap)
		}))

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[workspaceID]; ok {
		return existing, nil
	}
	s.sessions[workspaceID] = sess
	return sess, nil
}

func (s *Service) observe(workspaceID string, kind core.JobKind, snap core.JobSnapshot) {
	key := poller.Key{WorkspaceID: workspaceID, Kind: kind}
	s.mu.Lock()
	ref, ok := s.running[key]
	if ok && snap.Phase.IsTerminal() && ref.jobID == snap.JobID {
		delete(s.running, key)
	}
	s.mu.Unlock()
	if !ok || ref.jobID != snap.JobID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	logs := encodeLogs(snap.Logs)

	if !snap.Phase.IsTerminal() {
		if _, err := s.watches.UpdateWatchProgress(ctx, store.UpdateWatchProgressParams{
			WatchID:   ref.watchID,
			JobStatus: string(snap.Status),
			Logs:      logs,
			Ticks:     int32(snap.Ticks),
		}); err != nil {
			s.log.Warn("update watch progress", zap.String("watch_id", ref.watchID), zap.Error(err))
		}
		return
	}

	var errText pgtype.Text
	if snap.Phase == core.PhaseFailed {
		errText = pgtype.Text{String: failureMessage(snap), Valid: true}
	}
	if _, err := s.watches.FinishWatch(ctx, store.FinishWatchParams{
		WatchID:   ref.watchID,
		Status:    string(snap.Phase),
		JobStatus: string(snap.Status),
		Logs:      logs,
		Ticks:     int32(snap.Ticks),
		Error:     errText,
	}); err != nil && !store.IsNotFound(err) {
		s.log.Error("finish watch", zap.String("watch_id", ref.watchID), zap.Error(err))
	} else {
		s.log.Info("watch finished",
			zap.String("watch_id", ref.watchID),
			zap.String("phase", string(snap.Phase)),
			zap.Int("ticks", snap.Ticks))
	}
	s.release(workspaceID)
}

// release drops the cached session of a workspace with no watch left and
// nothing unsaved, so the next watch starts from the stored document.
func (s *Service) release(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.running {
		if key.WorkspaceID == workspaceID {
			return
		}
	}
	if sess, ok := s.sessions[workspaceID]; ok && !sess.Pending() {
		delete(s.sessions, workspaceID)
	}
}

func failureMessage(snap core.JobSnapshot) string {
	if n := len(snap.Logs); n > 0 {
		return snap.Logs[n-1].Message
	}
	return "job failed"
}

func encodeLogs(logs []core.LogEntry) []byte {
	if len(logs) == 0 {
		return []byte("[]")
	}
	b, err := json.Marshal(logs)
	if err != nil {
		return []byte("[]")
	}
	return b
}

// CancelWatch stops polling and marks the watch canceled. A watch that
// already ended is returned unchanged.
func (s *Service) CancelWatch(ctx context.Context, watchID string) (store.InfrawizWatch, error) {
	w, err := s.watches.GetWatch(ctx, watchID)
	if err != nil {
		if store.IsNotFound(err) {
			return w, core.NewAppError(core.ErrNotFound, "watch not found")
		}
		return w, fmt.Errorf("get watch: %w", err)
	}
	if w.Status != store.WatchRunning {
		return w, nil
	}

	key := poller.Key{WorkspaceID: w.WorkspaceID, Kind: core.JobKind(w.Kind)}
	s.mu.Lock()
	ref, ok := s.running[key]
	if ok && ref.watchID == watchID {
		delete(s.running, key)
	}
	s.mu.Unlock()
	if ok && ref.watchID == watchID {
		if p, live := s.polls.Get(w.WorkspaceID, key.Kind); live && p.JobID() == ref.jobID {
			s.polls.Cancel(w.WorkspaceID, key.Kind)
		}
	}

	canceled, err := s.watches.CancelWatch(ctx, watchID)
	if store.IsNotFound(err) {
		// finished between the read and the update
		return s.watches.GetWatch(ctx, watchID)
	}
	if err != nil {
		return w, fmt.Errorf("cancel watch: %w", err)
	}
	s.log.Info("watch canceled", zap.String("watch_id", watchID))
	return canceled, nil
}

func (s *Service) GetWatch(ctx context.Context, watchID string) (store.InfrawizWatch, error) {
	w, err := s.watches.GetWatch(ctx, watchID)
	if store.IsNotFound(err) {
		return w, core.NewAppError(core.ErrNotFound, "watch not found")
	}
	return w, err
}

func (s *Service) ListWatches(ctx context.Context, arg store.ListWatchesParams) ([]store.InfrawizWatch, error) {
	return s.watches.ListWatches(ctx, arg)
}

// ResumeAll starts a poller for every running watch. Watches whose
// workspace cannot be loaded stay running and are retried on the next
// start.
func (s *Service) ResumeAll(ctx context.Context) (int, error) {
	watches, err := s.watches.ListRunningWatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running watches: %w", err)
	}
	resumed := 0
	for _, w := range watches {
		if err := s.follow(ctx, w); err != nil {
			s.log.Warn("resume watch", zap.String("watch_id", w.WatchID), zap.Error(err))
			continue
		}
		observability.WatchesResumedTotal.Inc()
		resumed++
	}
	s.log.Info("watches resumed", zap.Int("resumed", resumed), zap.Int("running", len(watches)))
	return resumed, nil
}

// Close stops every poller and flushes pending workspace writes.
func (s *Service) Close(ctx context.Context) error {
	s.polls.Close()
	s.mu.Lock()
	sessions := make([]*wizard.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var firstErr error
	for _, sess := range sessions {
		if err := sess.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
