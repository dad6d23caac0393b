package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lzjever/infrawiz/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scripted returns one queued reply per call and repeats the last one.
type scripted struct {
	mu      sync.Mutex
	replies []reply
	calls   int32
}

type reply struct {
	resp *core.JobStatusResponse
	err  error
}

func status(s core.JobStatus, logs ...string) reply {
	r := &core.JobStatusResponse{Status: s}
	for _, l := range logs {
		r.Logs = append(r.Logs, core.LogEntry{Message: l})
	}
	return reply{resp: r}
}

func (f *scripted) JobStatus(ctx context.Context, kind core.JobKind, id core.JobID) (*core.JobStatusResponse, error) {
	n := int(atomic.AddInt32(&f.calls, 1))
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.replies) {
		n = len(f.replies)
	}
	r := f.replies[n-1]
	return r.resp, r.err
}

func (f *scripted) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

const tick = 5 * time.Millisecond

func TestPoller_SucceedsAfterThreeTicks(t *testing.T) {
	f := &scripted{replies: []reply{
		status(core.JobStatusRunning, "init"),
		status(core.JobStatusRunning, "init", "plan"),
		status(core.JobStatusCompleted, "init", "plan", "apply"),
	}}
	var success, failure, updates int32
	p := New(f, "ws-1", core.JobProvision, "17", WithInterval(tick), WithCallbacks(Callbacks{
		OnUpdate:  func(core.JobSnapshot) { atomic.AddInt32(&updates, 1) },
		OnSuccess: func(core.JobSnapshot) { atomic.AddInt32(&success, 1) },
		OnFailure: func(core.JobSnapshot) { atomic.AddInt32(&failure, 1) },
	}))

	snap := p.Run(context.Background())

	assert.Equal(t, core.PhaseSucceeded, snap.Phase)
	assert.Equal(t, core.JobStatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.Ticks)
	require.Len(t, snap.Logs, 3)
	assert.Equal(t, "apply", snap.Logs[2].Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(&success))
	assert.Zero(t, atomic.LoadInt32(&failure))
	assert.EqualValues(t, 3, atomic.LoadInt32(&updates))

	time.Sleep(4 * tick)
	assert.Equal(t, 3, f.Calls(), "no request after the terminal tick")
}

func TestPoller_AppDeploySuccessVocabulary(t *testing.T) {
	f := &scripted{replies: []reply{
		status(core.JobStatusCompleted),
		status(core.JobStatusSuccess),
	}}
	p := New(f, "ws-1", core.JobAppDeploy, "a1", WithInterval(tick))
	snap := p.Run(context.Background())
	assert.Equal(t, core.PhaseSucceeded, snap.Phase)
	assert.Equal(t, 2, snap.Ticks)
}

func TestPoller_FailureFiresOnce(t *testing.T) {
	f := &scripted{replies: []reply{
		status(core.JobStatusRunning),
		status(core.JobStatusFailed, "quota exceeded"),
	}}
	var success, failure int32
	var last core.JobSnapshot
	p := New(f, "ws-1", core.JobDestroy, "9", WithInterval(tick), WithCallbacks(Callbacks{
		OnSuccess: func(core.JobSnapshot) { atomic.AddInt32(&success, 1) },
		OnFailure: func(s core.JobSnapshot) { atomic.AddInt32(&failure, 1); last = s },
	}))
	p.Start(context.Background())
	snap, err := p.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.PhaseFailed, snap.Phase)
	assert.EqualValues(t, 1, atomic.LoadInt32(&failure))
	assert.Zero(t, atomic.LoadInt32(&success))
	assert.Equal(t, "quota exceeded", last.Logs[0].Message)
}

func TestPoller_TickErrorsKeepPolling(t *testing.T) {
	f := &scripted{replies: []reply{
		{err: errors.New("connection reset")},
		{err: core.NewAppError(core.ErrServer, core.MsgServerError)},
		status(core.JobStatusCompleted),
	}}
	p := New(f, "ws-1", core.JobProvision, "1", WithInterval(tick))
	snap := p.Run(context.Background())
	assert.Equal(t, core.PhaseSucceeded, snap.Phase)
	assert.Equal(t, 3, snap.Ticks)
}

func TestPoller_LogsReplacedNotAppended(t *testing.T) {
	f := &scripted{replies: []reply{
		status(core.JobStatusRunning, "a", "b"),
		status(core.JobStatusRunning, "a", "b", "c"),
		status(core.JobStatusCompleted, "done"),
	}}
	var seen []int
	var mu sync.Mutex
	p := New(f, "ws-1", core.JobProvision, "1", WithInterval(tick), WithCallbacks(Callbacks{
		OnUpdate: func(s core.JobSnapshot) {
			mu.Lock()
			seen = append(seen, len(s.Logs))
			mu.Unlock()
		},
	}))
	snap := p.Run(context.Background())
	assert.Equal(t, []int{2, 3, 1}, seen)
	assert.Len(t, snap.Logs, 1)
}

func TestPoller_Cancel(t *testing.T) {
	f := &scripted{replies: []reply{status(core.JobStatusRunning)}}
	var terminal int32
	p := New(f, "ws-1", core.JobProvision, "1", WithInterval(tick), WithCallbacks(Callbacks{
		OnSuccess: func(core.JobSnapshot) { atomic.AddInt32(&terminal, 1) },
		OnFailure: func(core.JobSnapshot) { atomic.AddInt32(&terminal, 1) },
	}))
	p.Start(context.Background())
	require.Eventually(t, func() bool { return f.Calls() >= 2 }, time.Second, tick)

	p.Cancel()
	snap, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.PhaseCanceled, snap.Phase)
	assert.Zero(t, atomic.LoadInt32(&terminal))

	calls := f.Calls()
	time.Sleep(4 * tick)
	assert.Equal(t, calls, f.Calls())
}

func TestPoller_FirstFetchWaitsOneInterval(t *testing.T) {
	f := &scripted{replies: []reply{status(core.JobStatusCompleted)}}
	p := New(f, "ws-1", core.JobProvision, "1", WithInterval(200*time.Millisecond))
	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.Calls())
	assert.Equal(t, core.PhaseRunning, p.Snapshot().Phase)
	p.Cancel()
	<-p.Done()
}

func TestManager_SameJobIsNoop(t *testing.T) {
	f := &scripted{replies: []reply{status(core.JobStatusRunning)}}
	m := NewManager(f, tick, nil)
	defer m.Close()

	p1, started := m.Watch("ws-1", core.JobProvision, "7", Callbacks{})
	require.True(t, started)
	p2, started := m.Watch("ws-1", core.JobProvision, "7", Callbacks{})
	assert.False(t, started)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, m.Active())
}

func TestManager_NewJobReplacesPrevious(t *testing.T) {
	f := &scripted{replies: []reply{status(core.JobStatusRunning)}}
	m := NewManager(f, tick, nil)
	defer m.Close()

	old, _ := m.Watch("ws-1", core.JobProvision, "7", Callbacks{})
	cur, started := m.Watch("ws-1", core.JobProvision, "8", Callbacks{})
	require.True(t, started)

	<-old.Done()
	assert.Equal(t, core.PhaseCanceled, old.Snapshot().Phase)
	got, ok := m.Get("ws-1", core.JobProvision)
	require.True(t, ok)
	assert.Same(t, cur, got)

	// other kinds and workspaces get their own slot
	m.Watch("ws-1", core.JobAppDeploy, "8", Callbacks{})
	m.Watch("ws-2", core.JobProvision, "8", Callbacks{})
	assert.Equal(t, 3, m.Active())
}

func TestManager_FinishedPollerIsRemoved(t *testing.T) {
	f := &scripted{replies: []reply{status(core.JobStatusCompleted)}}
	m := NewManager(f, tick, nil)
	defer m.Close()

	p, _ := m.Watch("ws-1", core.JobProvision, "7", Callbacks{})
	<-p.Done()
	require.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, tick)

	// restarting the same finished job polls again
	_, started := m.Watch("ws-1", core.JobProvision, "7", Callbacks{})
	assert.True(t, started)
}

func TestManager_CancelAndClose(t *testing.T) {
	f := &scripted{replies: []reply{status(core.JobStatusRunning)}}
	m := NewManager(f, tick, nil)

	m.Watch("ws-1", core.JobProvision, "1", Callbacks{})
	m.Watch("ws-1", core.JobAppDeploy, "2", Callbacks{})
	assert.True(t, m.Cancel("ws-1", core.JobProvision))
	assert.False(t, m.Cancel("ws-1", core.JobDestroy))

	m.Close()
	assert.Zero(t, m.Active())
	p, started := m.Watch("ws-1", core.JobProvision, "3", Callbacks{})
	assert.Nil(t, p)
	assert.False(t, started)
}
