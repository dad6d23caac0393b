package agent

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/store"
)

type WatchResponse struct {
	WatchID     string          `json:"watch_id"`
	WorkspaceID string          `json:"workspace_id"`
	Kind        string          `json:"kind"`
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	JobStatus   string          `json:"job_status,omitempty"`
	Logs        []core.LogEntry `json:"logs"`
	Ticks       int32           `json:"ticks"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	EndedAt     string          `json:"ended_at,omitempty"`
}

// CreateWatch starts following a backend job.
func (a *API) CreateWatch(w http.ResponseWriter, r *http.Request) {
	var req StartWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrInvalidInput, "invalid request body"))
		return
	}
	watch, err := a.svc.StartWatch(r.Context(), req)
	if err != nil {
		if core.CodeOf(err) == "" {
			a.log.Error("start watch failed", zap.Error(err))
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, watchToResponse(watch))
}

// ListWatches lists watches, newest first.
func (a *API) ListWatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	watches, err := a.svc.ListWatches(r.Context(), store.ListWatchesParams{
		WorkspaceID: textFromString(q.Get("workspace_id")),
		Status:      textFromString(q.Get("status")),
		Limit:       int32(parseLimit(q.Get("limit"), 50, 500)),
	})
	if err != nil {
		a.log.Error("list watches failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list watches"))
		return
	}
	resp := make([]WatchResponse, len(watches))
	for i, wt := range watches {
		resp[i] = watchToResponse(wt)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"watches": resp})
}

func (a *API) GetWatch(w http.ResponseWriter, r *http.Request) {
	watch, err := a.svc.GetWatch(r.Context(), chi.URLParam(r, "watch_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, watchToResponse(watch))
}

// CancelWatch stops polling. The backend job is not touched.
func (a *API) CancelWatch(w http.ResponseWriter, r *http.Request) {
	watch, err := a.svc.CancelWatch(r.Context(), chi.URLParam(r, "watch_id"))
	if err != nil {
		if core.CodeOf(err) == "" {
			a.log.Error("cancel watch failed", zap.Error(err))
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, watchToResponse(watch))
}

func watchToResponse(wt store.InfrawizWatch) WatchResponse {
	var logs []core.LogEntry
	if len(wt.Logs) > 0 {
		json.Unmarshal(wt.Logs, &logs)
	}
	if logs == nil {
		logs = []core.LogEntry{}
	}
	return WatchResponse{
		WatchID:     wt.WatchID,
		WorkspaceID: wt.WorkspaceID,
		Kind:        wt.Kind,
		JobID:       wt.JobID,
		Status:      wt.Status,
		JobStatus:   wt.JobStatus,
		Logs:        logs,
		Ticks:       wt.Ticks,
		Error:       wt.Error.String,
		CreatedAt:   formatTime(wt.CreatedAt),
		UpdatedAt:   formatTime(wt.UpdatedAt),
		EndedAt:     formatTime(wt.EndedAt),
	}
}

func formatTime(t pgtype.Timestamptz) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format("2006-01-02T15:04:05Z")
}

func textFromString(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
