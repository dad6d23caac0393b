package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lzjever/infrawiz/internal/core"
)

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 4)
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBackOff(noWait)}, opts...)
	return New(srv.URL, opts...)
}

func TestClient_SendsBearerToken(t *testing.T) {
	var auth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"plan":"pro","status":"active"}`))
	}), WithTokenSource(StaticToken("tok-123")))

	st, err := c.BillingStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", auth)
	assert.Equal(t, "pro", st.Plan)
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	var had bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, had = r.Header["Authorization"]
		w.Write([]byte(`{}`))
	}))
	_, err := c.BillingStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, had)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   core.ErrorCode
		msg    string
	}{
		{"unauthorized", 401, `{"error":"jwt expired"}`, core.ErrSessionExpired, core.MsgSessionExpired},
		{"server", 500, `{"error":"boom"}`, core.ErrServer, core.MsgServerError},
		{"bad request error field", 400, `{"error":"provider not supported"}`, core.ErrRequestFailed, "provider not supported"},
		{"msg field", 422, `{"msg":"plan required"}`, core.ErrRequestFailed, "plan required"},
		{"details string", 400, `{"details":"region missing"}`, core.ErrRequestFailed, "region missing"},
		{"details list", 400, `{"details":["a","b"]}`, core.ErrRequestFailed, "a; b"},
		{"no body", 403, ``, core.ErrRequestFailed, core.MsgGenericFailure},
		{"conflict", 409, `{"error":"revision 3 is stale"}`, core.ErrConflict, "revision 3 is stale"},
		{"not found", 404, `not json`, core.ErrNotFound, "Not found."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			_, err := c.CancelSubscription(context.Background())
			require.Error(t, err)
			var appErr *core.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, tc.msg, appErr.Message)
			assert.Equal(t, tc.status, appErr.Status)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, WithBackOff(noWait))
	_, err := c.GitHubStatus(context.Background())
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrUnreachable))
	assert.Equal(t, core.MsgUnreachable, core.UserMessage(err))
}

func TestClient_RetriesIdempotentReads(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"running","logs":[{"message":"init"}]}`))
	}))

	resp, err := c.ProvisionStatus(context.Background(), "17")
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusRunning, resp.Status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryServerErrorOrWrites(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.StartProvision(context.Background(), ProvisionRequest{WorkspaceID: "ws-1", Provider: "aws"})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	_, err = c.ProvisionStatus(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrServer))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_AnalyzeValidatesLocally(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	_, err := c.Analyze(context.Background(), AnalyzeRequest{Description: "hello"})
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrInvalidInput))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestClient_Analyze(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workflow/v2/analyze", r.URL.Path)
		var req AnalyzeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte(`{"workspace_id":"ws-9","status":"needs_clarification","questions":[{"id":"q1","question":"Which region?"}]}`))
	}))
	resp, err := c.Analyze(context.Background(), AnalyzeRequest{
		Description: "Build a scalable e-commerce backend with microservices handling fifty thousand concurrent users and PCI compliance",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws-9", resp.WorkspaceID)
	assert.True(t, resp.NeedsClarification())
}

func TestClient_JobStatusRoutesByKind(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"status":"success","logs":[]}`))
	}))
	ctx := context.Background()
	for _, k := range core.JobKinds {
		_, err := c.JobStatus(ctx, k, "42")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{
		"/api/workflow/deploy/42/status",
		"/api/workflow/deploy/42/status",
		"/api/deploy/42/status",
	}, paths)
}

func TestClient_StartJobRequiresID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"queued"}`))
	}))
	_, err := c.StartDestroy(context.Background(), ProvisionRequest{WorkspaceID: "ws-1"})
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrRequestFailed))
}

func TestClient_SaveStateSendsRevision(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var req SaveStateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.BaseRevision != 4 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.Write([]byte(`{"workspace":{"id":"ws-1","revision":5,"state_json":{"selectedProvider":"gcp"}}}`))
	}))
	ctx := context.Background()

	ws, err := c.SaveState(ctx, "ws-1", SaveStateRequest{Patch: core.StatePatch{"selectedProvider": "gcp"}, BaseRevision: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 5, ws.Revision)
	assert.Equal(t, "gcp", ws.State.SelectedProvider)

	_, err = c.SaveState(ctx, "ws-1", SaveStateRequest{Patch: core.StatePatch{"selectedProvider": "aws"}, BaseRevision: 2})
	assert.True(t, core.HasCode(err, core.ErrConflict))
}

func TestClient_ExportTerraformStreams(t *testing.T) {
	payload := bytes.Repeat([]byte("PK\x03\x04"), 1024)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ws-1", r.URL.Query().Get("workspace_id"))
		w.Header().Set("Content-Type", "application/zip")
		w.Write(payload)
	}))
	var buf bytes.Buffer
	n, err := c.ExportTerraform(context.Background(), "ws-1", &buf)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	assert.Equal(t, payload, buf.Bytes())
}

func TestClient_ConnectCloudRejectsUnknownProvider(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.ConnectCloud(context.Background(), "oracle", ConnectRequest{})
	assert.True(t, core.HasCode(err, core.ErrInvalidInput))
}

func TestFileTokenSource_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, SaveToken(path, "first"))

	ts, err := NewFileTokenSource(path, nil)
	require.NoError(t, err)
	defer ts.Close()

	tok, _ := ts.Token()
	assert.Equal(t, "first", tok)

	require.NoError(t, SaveToken(path, "second"))
	require.Eventually(t, func() bool {
		tok, _ := ts.Token()
		return tok == "second"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileTokenSource_MissingFile(t *testing.T) {
	ts, err := NewFileTokenSource(filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)
	defer ts.Close()
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.NoError(t, ts.Close())
}
