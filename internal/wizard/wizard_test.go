package wizard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/poller"
)

type fakeSaver struct {
	mu       sync.Mutex
	reqs     []apiclient.SaveStateRequest
	revision int64
	conflict bool
	// down fails that many writes as unreachable
	down int
}

func (f *fakeSaver) SaveState(ctx context.Context, id string, req apiclient.SaveStateRequest) (*core.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.down > 0 {
		f.down--
		return nil, core.NewAppError(core.ErrUnreachable, core.MsgUnreachable)
	}
	if f.conflict || req.BaseRevision != f.revision {
		return nil, core.NewAppError(core.ErrConflict, "stale revision")
	}
	f.revision++
	return &core.Workspace{ID: id, Revision: f.revision}, nil
}

func (f *fakeSaver) requests() []apiclient.SaveStateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.SaveStateRequest(nil), f.reqs...)
}

// merged folds every saved patch in order, as the backend would.
func (f *fakeSaver) merged() core.StatePatch {
	out := core.StatePatch{}
	for _, r := range f.requests() {
		for k, v := range r.Patch {
			out[k] = v
		}
	}
	return out
}

type fakeFetcher struct {
	calls  int32
	status func(n int) core.JobStatus
}

func (f *fakeFetcher) JobStatus(ctx context.Context, kind core.JobKind, id core.JobID) (*core.JobStatusResponse, error) {
	n := int(atomic.AddInt32(&f.calls, 1))
	return &core.JobStatusResponse{
		Status: f.status(n),
		Logs:   []core.LogEntry{{Message: "tick"}},
	}, nil
}

func running(int) core.JobStatus { return core.JobStatusRunning }

type fakeStarter struct{ id core.JobID }

func (f fakeStarter) StartJob(ctx context.Context, kind core.JobKind, wsID, provider string, d apiclient.AppDeployRequest) (*core.JobRef, error) {
	return &core.JobRef{JobID: f.id}, nil
}

type countingStarter struct {
	id    core.JobID
	calls int32
}

func (f *countingStarter) StartJob(ctx context.Context, kind core.JobKind, wsID, provider string, d apiclient.AppDeployRequest) (*core.JobRef, error) {
	atomic.AddInt32(&f.calls, 1)
	return &core.JobRef{JobID: f.id}, nil
}

// storedDoc returns the same stored document for every load.
type storedDoc struct{ ws *core.Workspace }

func (d storedDoc) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	return d.ws, nil
}

const tick = 5 * time.Millisecond

func TestPersister_CoalescesWithinWindow(t *testing.T) {
	saver := &fakeSaver{revision: 4}
	p := NewPersister(saver, &core.Workspace{ID: "ws-1", Revision: 4}, WithDebounce(30*time.Millisecond))

	require.NoError(t, p.Save(core.StatePatch{"selectedProvider": "aws"}))
	require.NoError(t, p.Save(core.StatePatch{"removedServices": []string{"cdn"}}))
	require.NoError(t, p.Save(core.StatePatch{"selectedProvider": "gcp"}))

	require.Eventually(t, func() bool { return len(saver.requests()) == 1 }, time.Second, tick)
	req := saver.requests()[0]
	assert.EqualValues(t, 4, req.BaseRevision)
	assert.NotEmpty(t, req.BaseHash)
	assert.Equal(t, "gcp", req.Patch["selectedProvider"])
	assert.Len(t, req.Patch, 2)
	assert.EqualValues(t, 5, p.Revision())
	assert.False(t, p.Pending())
}

func TestPersister_FlushAdvancesRevision(t *testing.T) {
	saver := &fakeSaver{revision: 1}
	p := NewPersister(saver, &core.Workspace{ID: "ws-1", Revision: 1}, WithDebounce(time.Hour))
	ctx := context.Background()

	require.NoError(t, p.SaveStep(core.StepCost, nil))
	require.NoError(t, p.Flush(ctx))
	require.NoError(t, p.Save(core.StatePatch{"selectedProvider": "azure"}))
	require.NoError(t, p.Flush(ctx))
	require.NoError(t, p.Flush(ctx), "nothing queued")

	reqs := saver.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, core.StepCost, reqs[0].Step)
	assert.EqualValues(t, 1, reqs[0].BaseRevision)
	assert.EqualValues(t, 2, reqs[1].BaseRevision)
}

func TestPersister_ConflictKeepsPatch(t *testing.T) {
	saver := &fakeSaver{revision: 7}
	p := NewPersister(saver, &core.Workspace{ID: "ws-1", Revision: 3}, WithDebounce(time.Hour))
	ctx := context.Background()

	require.NoError(t, p.Save(core.StatePatch{"selectedProvider": "aws"}))
	err := p.Flush(ctx)
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrConflict))
	assert.True(t, p.Pending())
	assert.Equal(t, err, p.Err())

	require.NoError(t, p.Save(core.StatePatch{"is_live": true}))
	p.Rebase(&core.Workspace{ID: "ws-1", Revision: 7})
	require.NoError(t, p.Flush(ctx))

	reqs := saver.requests()
	last := reqs[len(reqs)-1]
	assert.EqualValues(t, 7, last.BaseRevision)
	assert.Equal(t, "aws", last.Patch["selectedProvider"])
	assert.Equal(t, true, last.Patch["is_live"])
	assert.NoError(t, p.Err())
}

func TestPersister_ReloaderRebasesConflict(t *testing.T) {
	saver := &fakeSaver{revision: 7}
	stored := &core.Workspace{ID: "ws-1", Revision: 7, State: core.WorkspaceState{SelectedProvider: "gcp"}}
	p := NewPersister(saver, &core.Workspace{ID: "ws-1", Revision: 3},
		WithDebounce(time.Hour), WithReloader(storedDoc{stored}))

	require.NoError(t, p.Save(core.StatePatch{"is_deployed": false}))
	require.NoError(t, p.Flush(context.Background()))

	reqs := saver.requests()
	require.Len(t, reqs, 2)
	assert.EqualValues(t, 3, reqs[0].BaseRevision)
	assert.EqualValues(t, 7, reqs[1].BaseRevision)
	assert.Equal(t, false, reqs[1].Patch["is_deployed"])
	assert.EqualValues(t, 8, p.Revision())
	assert.False(t, p.Pending())
	assert.NoError(t, p.Err())
}

func TestPersister_FailedWriteIsRetried(t *testing.T) {
	saver := &fakeSaver{down: 1}
	p := NewPersister(saver, &core.Workspace{ID: "ws-1"},
		WithDebounce(10*time.Millisecond),
		WithRetryBackOff(backoff.NewConstantBackOff(10*time.Millisecond)))

	require.NoError(t, p.Save(core.StatePatch{"is_live": true}))
	require.Eventually(t, func() bool {
		return p.Revision() == 1 && p.Err() == nil
	}, time.Second, tick)

	reqs := saver.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, true, reqs[1].Patch["is_live"])
	assert.False(t, p.Pending())
}

func TestPersister_ConflictIsNotRetried(t *testing.T) {
	saver := &fakeSaver{revision: 2}
	p := NewPersister(saver, &core.Workspace{ID: "ws-1"},
		WithDebounce(5*time.Millisecond),
		WithRetryBackOff(backoff.NewConstantBackOff(5*time.Millisecond)))

	require.NoError(t, p.Save(core.StatePatch{"is_live": true}))
	require.Eventually(t, func() bool { return p.Err() != nil }, time.Second, tick)
	time.Sleep(10 * tick)
	assert.Len(t, saver.requests(), 1)
	assert.True(t, core.HasCode(p.Err(), core.ErrConflict))
	assert.True(t, p.Pending())
}

func TestPersister_CloseFlushesAndRejects(t *testing.T) {
	saver := &fakeSaver{}
	p := NewPersister(saver, &core.Workspace{ID: "ws-1"}, WithDebounce(time.Hour))
	require.NoError(t, p.Save(core.StatePatch{"is_live": true}))
	require.NoError(t, p.Close(context.Background()))
	assert.Len(t, saver.requests(), 1)
	assert.ErrorIs(t, p.Save(core.StatePatch{"is_live": false}), ErrPersisterClosed)
}

func newSession(t *testing.T, ws *core.Workspace, fetch poller.StatusFetcher, opts ...SessionOption) (*Session, *fakeSaver) {
	t.Helper()
	saver := &fakeSaver{revision: ws.Revision}
	m := poller.NewManager(fetch, tick, nil)
	t.Cleanup(m.Close)
	p := NewPersister(saver, ws, WithDebounce(time.Hour))
	return NewSession(ws, p, m, opts...), saver
}

func runningProvision(id core.JobID) core.WorkspaceState {
	return core.WorkspaceState{
		SelectedProvider: "aws",
		Provisioning: &core.JobState{
			DeployStatus: core.JobStatusRunning,
			DeployJobID:  id,
		},
	}
}

func TestSession_HydrateIsIdempotent(t *testing.T) {
	f := &fakeFetcher{status: running}
	ws := &core.Workspace{ID: "ws-1", State: runningProvision("17")}
	s, _ := newSession(t, ws, f)

	assert.Equal(t, []core.JobKind{core.JobProvision}, s.Hydrate(ws.State))
	// an equal document built afresh must not start a second poll
	assert.Empty(t, s.Hydrate(runningProvision("17")))
	assert.Equal(t, 1, s.polls.Active())
}

func TestSession_HydrateSkipsFinishedJobs(t *testing.T) {
	f := &fakeFetcher{status: running}
	st := core.WorkspaceState{
		Provisioning: &core.JobState{DeployStatus: core.JobStatusCompleted, DeployJobID: "3"},
		Deployment:   &core.JobState{DeployStatus: core.JobStatusRunning},
	}
	s, _ := newSession(t, &core.Workspace{ID: "ws-1", State: st}, f)
	assert.Empty(t, s.Hydrate(st))
	assert.Zero(t, s.polls.Active())
}

func TestSession_ResumedJobOutcomeIsSaved(t *testing.T) {
	f := &fakeFetcher{status: func(n int) core.JobStatus {
		if n < 3 {
			return core.JobStatusRunning
		}
		return core.JobStatusCompleted
	}}
	var terminal int32
	ws := &core.Workspace{ID: "ws-1", Revision: 2, State: runningProvision("17")}
	s, saver := newSession(t, ws, f, WithJobObserver(func(kind core.JobKind, snap core.JobSnapshot) {
		if snap.Phase.IsTerminal() {
			atomic.AddInt32(&terminal, 1)
		}
	}))

	s.Hydrate(ws.State)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&terminal) == 1 }, time.Second, tick)

	st := s.State()
	assert.True(t, st.IsDeployed)
	status, id := st.Job(core.JobProvision)
	assert.Equal(t, core.JobStatusCompleted, status)
	assert.Equal(t, core.JobID("17"), id)

	merged := saver.merged()
	assert.Equal(t, true, merged["is_deployed"])
	slot, ok := merged["provisioning"].(core.JobState)
	require.True(t, ok)
	assert.Equal(t, core.JobStatusCompleted, slot.DeployStatus)
	assert.Len(t, slot.Logs, 1)
	assert.True(t, s.ReadOnly())
}

func TestSession_ReadOnlyWhenDeployed(t *testing.T) {
	ws := &core.Workspace{ID: "ws-1", State: core.WorkspaceState{IsDeployed: true, SelectedProvider: "aws"}}
	s, _ := newSession(t, ws, &fakeFetcher{status: running}, WithJobStarter(fakeStarter{id: "1"}))

	err := s.SetField("usageProfile", map[string]int{"users": 10})
	assert.True(t, core.HasCode(err, core.ErrReadOnly))
	_, err = s.SelectProvider("gcp")
	assert.True(t, core.HasCode(err, core.ErrReadOnly))
	_, err = s.StartJob(context.Background(), core.JobProvision, apiclient.AppDeployRequest{})
	assert.True(t, core.HasCode(err, core.ErrReadOnly))

	assert.NoError(t, s.SetConnection(nil))
	assert.NoError(t, s.Advance(core.StepDone))
}

func TestSession_StartJobRecordsAndPolls(t *testing.T) {
	ws := &core.Workspace{ID: "ws-1", State: core.WorkspaceState{SelectedProvider: "gcp"}}
	s, saver := newSession(t, ws, &fakeFetcher{status: running}, WithJobStarter(fakeStarter{id: "42"}))

	p, err := s.StartJob(context.Background(), core.JobDestroy, apiclient.AppDeployRequest{})
	require.NoError(t, err)
	assert.Equal(t, core.JobID("42"), p.JobID())

	// flushed immediately so a restart can resume it
	reqs := saver.requests()
	require.Len(t, reqs, 1)
	slot := reqs[0].Patch["provisioning"].(core.JobState)
	assert.Equal(t, core.JobStatusRunning, slot.DestroyStatus)
	assert.Equal(t, core.JobID("42"), slot.DestroyJobID)

	// destroy and provision exclude each other
	_, err = s.StartJob(context.Background(), core.JobProvision, apiclient.AppDeployRequest{})
	assert.True(t, core.HasCode(err, core.ErrConflict))
}

func TestSession_StartJobRefusesWhileSavedPeerRuns(t *testing.T) {
	ws := &core.Workspace{ID: "ws-1", State: runningProvision("17")}
	starter := &countingStarter{id: "18"}
	s, saver := newSession(t, ws, &fakeFetcher{status: running}, WithJobStarter(starter))

	// no poller runs here; the provision job is only known from the document
	_, err := s.StartJob(context.Background(), core.JobDestroy, apiclient.AppDeployRequest{})
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrConflict))
	assert.Contains(t, err.Error(), "17")
	assert.Zero(t, atomic.LoadInt32(&starter.calls))
	assert.Empty(t, saver.requests())
	assert.Zero(t, s.polls.Active())

	// a finished peer does not block
	done := &core.Workspace{ID: "ws-2", State: core.WorkspaceState{
		SelectedProvider: "aws",
		Provisioning:     &core.JobState{DeployStatus: core.JobStatusFailed, DeployJobID: "17"},
	}}
	s2, _ := newSession(t, done, &fakeFetcher{status: running}, WithJobStarter(starter))
	_, err = s2.StartJob(context.Background(), core.JobDestroy, apiclient.AppDeployRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&starter.calls))
}

func TestSession_ProviderMismatch(t *testing.T) {
	ws := &core.Workspace{ID: "ws-1", State: core.WorkspaceState{
		SelectedProvider: "aws",
		Connection:       &core.Connection{Provider: "aws", Status: core.Connected, AccountID: "123"},
	}}
	s, _ := newSession(t, ws, &fakeFetcher{status: running})
	assert.True(t, s.Connection().Connected())

	v, err := s.SelectProvider("azure")
	require.NoError(t, err)
	assert.True(t, v.Mismatch)
	assert.False(t, v.Connected())
	assert.Equal(t, "aws", v.SavedProvider)
	// the saved link itself is untouched
	assert.Equal(t, core.Connected, s.State().Connection.Status)
}

func TestReconcileConnection(t *testing.T) {
	cases := []struct {
		name      string
		state     core.WorkspaceState
		connected bool
		mismatch  bool
	}{
		{"none", core.WorkspaceState{SelectedProvider: "aws"}, false, false},
		{"match", core.WorkspaceState{SelectedProvider: "aws", Connection: &core.Connection{Provider: "aws", Status: core.Connected}}, true, false},
		{"no selection", core.WorkspaceState{Connection: &core.Connection{Provider: "gcp", Status: core.Connected}}, true, false},
		{"saved disconnected", core.WorkspaceState{SelectedProvider: "gcp", Connection: &core.Connection{Provider: "gcp"}}, false, false},
		{"other provider", core.WorkspaceState{SelectedProvider: "gcp", Connection: &core.Connection{Provider: "aws", Status: core.Connected}}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ReconcileConnection(tc.state)
			assert.Equal(t, tc.connected, v.Connected())
			assert.Equal(t, tc.mismatch, v.Mismatch)
		})
	}
}
