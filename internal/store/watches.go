package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Watch statuses. They match the poller phases a watch can end in.
const (
	WatchRunning   = "running"
	WatchSucceeded = "succeeded"
	WatchFailed    = "failed"
	WatchCanceled  = "canceled"
)

type InfrawizWatch struct {
	WatchID     string             `json:"watch_id"`
	WorkspaceID string             `json:"workspace_id"`
	Kind        string             `json:"kind"`
	JobID       string             `json:"job_id"`
	Status      string             `json:"status"`
	JobStatus   string             `json:"job_status"`
	Logs        []byte             `json:"logs"`
	Ticks       int32              `json:"ticks"`
	Error       pgtype.Text        `json:"error"`
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
	UpdatedAt   pgtype.Timestamptz `json:"updated_at"`
	EndedAt     pgtype.Timestamptz `json:"ended_at"`
}

const watchColumns = `watch_id, workspace_id, kind, job_id, status, job_status, logs, ticks, error, created_at, updated_at, ended_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatch(row rowScanner) (InfrawizWatch, error) {
	var i InfrawizWatch
	err := row.Scan(
		&i.WatchID,
		&i.WorkspaceID,
		&i.Kind,
		&i.JobID,
		&i.Status,
		&i.JobStatus,
		&i.Logs,
		&i.Ticks,
		&i.Error,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.EndedAt,
	)
	return i, err
}

const createWatch = `
INSERT INTO infrawiz.watches (watch_id, workspace_id, kind, job_id)
VALUES ($1, $2, $3, $4)
RETURNING ` + watchColumns

type CreateWatchParams struct {
	WatchID     string `json:"watch_id"`
	WorkspaceID string `json:"workspace_id"`
	Kind        string `json:"kind"`
	JobID       string `json:"job_id"`
}

func (q *Queries) CreateWatch(ctx context.Context, arg CreateWatchParams) (InfrawizWatch, error) {
	row := q.db.QueryRow(ctx, createWatch, arg.WatchID, arg.WorkspaceID, arg.Kind, arg.JobID)
	return scanWatch(row)
}

const getWatch = `SELECT ` + watchColumns + ` FROM infrawiz.watches WHERE watch_id = $1`

func (q *Queries) GetWatch(ctx context.Context, watchID string) (InfrawizWatch, error) {
	return scanWatch(q.db.QueryRow(ctx, getWatch, watchID))
}

const getRunningWatch = `
SELECT ` + watchColumns + ` FROM infrawiz.watches
WHERE workspace_id = $1 AND kind = $2 AND status = 'running'`

type GetRunningWatchParams struct {
	WorkspaceID string `json:"workspace_id"`
	Kind        string `json:"kind"`
}

func (q *Queries) GetRunningWatch(ctx context.Context, arg GetRunningWatchParams) (InfrawizWatch, error) {
	return scanWatch(q.db.QueryRow(ctx, getRunningWatch, arg.WorkspaceID, arg.Kind))
}

const listWatches = `
SELECT ` + watchColumns + ` FROM infrawiz.watches
WHERE ($1::text IS NULL OR workspace_id = $1)
  AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC
LIMIT $3`

type ListWatchesParams struct {
	WorkspaceID pgtype.Text `json:"workspace_id"`
	Status      pgtype.Text `json:"status"`
	Limit       int32       `json:"limit"`
}

func (q *Queries) ListWatches(ctx context.Context, arg ListWatchesParams) ([]InfrawizWatch, error) {
	rows, err := q.db.Query(ctx, listWatches, arg.WorkspaceID, arg.Status, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InfrawizWatch
	for rows.Next() {
		i, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listRunningWatches = `
SELECT ` + watchColumns + ` FROM infrawiz.watches
WHERE status = 'running'
ORDER BY created_at`

func (q *Queries) ListRunningWatches(ctx context.Context) ([]InfrawizWatch, error) {
	rows, err := q.db.Query(ctx, listRunningWatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InfrawizWatch
	for rows.Next() {
		i, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const updateWatchProgress = `
UPDATE infrawiz.watches
SET job_status = $2, logs = $3, ticks = $4, updated_at = now()
WHERE watch_id = $1 AND status = 'running'`

type UpdateWatchProgressParams struct {
	WatchID   string `json:"watch_id"`
	JobStatus string `json:"job_status"`
	Logs      []byte `json:"logs"`
	Ticks     int32  `json:"ticks"`
}

func (q *Queries) UpdateWatchProgress(ctx context.Context, arg UpdateWatchProgressParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateWatchProgress, arg.WatchID, arg.JobStatus, arg.Logs, arg.Ticks)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const finishWatch = `
UPDATE infrawiz.watches
SET status = $2, job_status = $3, logs = $4, ticks = $5, error = $6,
    updated_at = now(), ended_at = now()
WHERE watch_id = $1 AND status = 'running'
RETURNING ` + watchColumns

type FinishWatchParams struct {
	WatchID   string      `json:"watch_id"`
	Status    string      `json:"status"`
	JobStatus string      `json:"job_status"`
	Logs      []byte      `json:"logs"`
	Ticks     int32       `json:"ticks"`
	Error     pgtype.Text `json:"error"`
}

// FinishWatch moves a running watch to a final status. It returns
// pgx.ErrNoRows when the watch already ended.
func (q *Queries) FinishWatch(ctx context.Context, arg FinishWatchParams) (InfrawizWatch, error) {
	row := q.db.QueryRow(ctx, finishWatch, arg.WatchID, arg.Status, arg.JobStatus, arg.Logs, arg.Ticks, arg.Error)
	return scanWatch(row)
}

const cancelWatch = `
UPDATE infrawiz.watches
SET status = 'canceled', updated_at = now(), ended_at = now()
WHERE watch_id = $1 AND status = 'running'
RETURNING ` + watchColumns

func (q *Queries) CancelWatch(ctx context.Context, watchID string) (InfrawizWatch, error) {
	return scanWatch(q.db.QueryRow(ctx, cancelWatch, watchID))
}

const supersedeRunningWatches = `
UPDATE infrawiz.watches
SET status = 'canceled', error = 'superseded by job ' || $3::text, updated_at = now(), ended_at = now()
WHERE workspace_id = $1 AND kind = $2 AND status = 'running' AND job_id <> $3::text`

type SupersedeRunningWatchesParams struct {
	WorkspaceID string `json:"workspace_id"`
	Kind        string `json:"kind"`
	JobID       string `json:"job_id"`
}

// SupersedeRunningWatches cancels running watches of the same workspace and
// kind that follow a different job.
func (q *Queries) SupersedeRunningWatches(ctx context.Context, arg SupersedeRunningWatchesParams) (int64, error) {
	tag, err := q.db.Exec(ctx, supersedeRunningWatches, arg.WorkspaceID, arg.Kind, arg.JobID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
