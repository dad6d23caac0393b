package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/poller"
	"github.com/lzjever/infrawiz/internal/wizard"
)

// wizardRun is a loaded workspace with its session and poll manager.
type wizardRun struct {
	client *apiclient.Client
	sess   *wizard.Session
	polls  *poller.Manager
	ws     *core.Workspace
}

// openSession loads workspace id and wraps it in a wizard session whose
// edits are saved through the backend client.
func openSession(ctx context.Context, client *apiclient.Client, id string) (*wizardRun, error) {
	ws, err := client.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	run := &wizardRun{client: client, ws: ws}
	run.polls = poller.NewManager(client, pollInterval, log.Named("poller"))
	persister := wizard.NewPersister(client, ws, wizard.WithPersisterLogger(log.Named("persister")))
	run.sess = wizard.NewSession(ws, persister, run.polls,
		wizard.WithJobStarter(client),
		wizard.WithSessionLogger(log.Named("wizard")),
	)
	return run, nil
}

// close stops local polling and writes pending edits. Backend jobs keep
// running.
func (r *wizardRun) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := r.sess.Close(ctx)
	r.polls.Close()
	if err != nil {
		log.Warn("failed to save workspace state", zap.String("workspace_id", r.ws.ID), zap.Error(err))
	}
	return err
}

// withSession runs fn against workspace id and flushes afterwards. The
// flush error is returned when fn succeeded.
func withSession(ctx context.Context, id string, fn func(*wizardRun) error) error {
	client, done, err := newClient()
	if err != nil {
		return err
	}
	defer done()
	run, err := openSession(ctx, client, id)
	if err != nil {
		return err
	}
	fnErr := fn(run)
	closeErr := run.close()
	if fnErr != nil {
		return fnErr
	}
	return closeErr
}

// waitJob prints p's new log lines until it ends. Interrupting only stops
// the local poller.
func waitJob(ctx context.Context, p *poller.Poller) (core.JobSnapshot, error) {
	printed := 0
	every := pollInterval / 2
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-p.Done():
			snap := p.Snapshot()
			printNewLogs(snap.Logs, printed)
			return snap, nil
		case <-ctx.Done():
			snap := p.Snapshot()
			fmt.Fprintf(stdout, "Stopped watching; %s job %s continues in the background.\n", snap.Kind, snap.JobID)
			fmt.Fprintf(stdout, "Resume with: infrawizctl workspace resume <workspace-id>\n")
			return snap, ctx.Err()
		case <-ticker.C:
			printed = printNewLogs(p.Snapshot().Logs, printed)
		}
	}
}

// jobResult turns a finished snapshot into the command's outcome.
func jobResult(snap core.JobSnapshot) error {
	switch snap.Phase {
	case core.PhaseSucceeded:
		fmt.Fprintf(stdout, "%s job %s finished: %s\n", kindTitle(snap.Kind), snap.JobID, snap.Status)
		return nil
	case core.PhaseFailed:
		msg := fmt.Sprintf("%s job %s failed", kindTitle(snap.Kind), snap.JobID)
		if n := len(snap.Logs); n > 0 {
			msg += ": " + snap.Logs[n-1].Message
		}
		return core.NewAppError(core.ErrRequestFailed, msg)
	}
	return nil
}

func kindTitle(k core.JobKind) string {
	s := strings.ReplaceAll(string(k), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
