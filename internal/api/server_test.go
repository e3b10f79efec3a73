package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasha9954/photostudio-core/internal/adapter"
	"github.com/sasha9954/photostudio-core/internal/job"
	"github.com/sasha9954/photostudio-core/internal/service"
	"github.com/sasha9954/photostudio-core/internal/storage"
	"github.com/sasha9954/photostudio-core/internal/types"
	"github.com/sasha9954/photostudio-core/internal/worker"
)

type testServer struct {
	server *Server
	ledger *service.LedgerService
	store  *storage.SQLiteStore
	gate   chan struct{}
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("db down") }

func newTestServer(t *testing.T, cfg *ServerConfig) *testServer {
	t.Helper()
	store := storage.NewTestSQLiteStore(t)
	artifacts, err := storage.NewLocalArtifactStore(t.TempDir(), "http://studio.test")
	require.NoError(t, err)

	ts := &testServer{
		ledger: service.NewLedgerService(store, nil),
		store:  store,
		gate:   make(chan struct{}),
	}
	close(ts.gate)

	gen := adapter.GeneratorFunc(func(ctx context.Context, spec adapter.AssetSpec) adapter.Result {
		<-ts.gate
		res := adapter.Result{OK: true}
		for i := range spec.Shots {
			res.Artifacts = append(res.Artifacts, adapter.GeneratedArtifact{
				ID: fmt.Sprintf("shot-%d", i+1), MIMEType: "image/png", Data: []byte(fmt.Sprintf("img-%d", i)),
			})
		}
		return res
	})

	pool := worker.NewPool(2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	jobs := job.NewStore(store)
	locks := job.NewRunLock(store)
	runner, err := job.NewRunner(&job.RunnerConfig{
		Jobs:           jobs,
		Locks:          locks,
		Ledger:         ts.ledger,
		Generator:      gen,
		Artifacts:      artifacts,
		Pool:           pool,
		LockTTL:        time.Minute,
		CreditsPerUnit: 1,
		ResourceKeys:   []string{"TORSO", "LEGS", "FULL"},
	})
	require.NoError(t, err)

	if cfg == nil {
		cfg = &ServerConfig{}
	}
	ts.server = NewServer(cfg, &Services{
		Ledger: ts.ledger,
		Runner: runner,
		Jobs:   jobs,
		Locks:  locks,
		Health: store,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, account string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(b)
		}
		reader = bytes.NewReader([]byte(raw))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	assert.Equal(t, false, body["ok"])
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "error object expected: %v", body)
	return e["code"].(string)
}

func waitJobState(t *testing.T, ts *testServer, account, jobID string, want types.JobState) map[string]any {
	t.Helper()
	var job map[string]any
	require.Eventually(t, func() bool {
		_, body := ts.do(t, http.MethodGet, "/api/jobs/"+jobID, account, nil)
		job, _ = body["job"].(map[string]any)
		return job != nil && job["state"] == string(want)
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	ts.server.health = failingPinger{}
	w, body = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestAccountHeaderRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	w, body := ts.do(t, http.MethodGet, "/api/credits/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	w, _ = ts.do(t, http.MethodGet, "/api/credits/balance", "has space", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCredits_TopupSpendAndLedger(t *testing.T) {
	ts := newTestServer(t, nil)

	w, body := ts.do(t, http.MethodPost, "/api/credits/topup", "acct_a", TopupRequest{Amount: 100})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, float64(100), body["balance"])

	w, body = ts.do(t, http.MethodPost, "/api/credits/spend", "acct_a", SpendRequest{Amount: 5, Reason: "PRINT", Ref: "order-1"})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, float64(95), body["balance"])

	w, body = ts.do(t, http.MethodPost, "/api/credits/spend", "acct_a", SpendRequest{Amount: 1000})
	assert.Equal(t, http.StatusBadRequest, w.Code, "amount above the spend cap")
	assert.Equal(t, "INVALID_PARAMETER", errorCode(t, body))

	_, err := ts.ledger.Debit(context.Background(), "acct_a", 90, types.ReasonSpend, "")
	require.NoError(t, err)
	w, body = ts.do(t, http.MethodPost, "/api/credits/spend", "acct_a", SpendRequest{Amount: 10})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "INSUFFICIENT_CREDITS", errorCode(t, body))

	w, body = ts.do(t, http.MethodGet, "/api/credits/balance", "acct_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), body["balance"])

	w, body = ts.do(t, http.MethodGet, "/api/credits/ledger?limit=2", "acct_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := body["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "SPEND", rows[0].(map[string]any)["reason"])
	assert.Equal(t, "PRINT", rows[1].(map[string]any)["reason"])

	w, body = ts.do(t, http.MethodGet, "/api/credits/ledger?limit=abc", "acct_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["rows"].([]any), 3)
}

func TestCredits_TopupValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"zero", TopupRequest{Amount: 0}},
		{"negative", TopupRequest{Amount: -5}},
		{"over cap", TopupRequest{Amount: 100001}},
		{"malformed", "not json"},
		{"unknown field", `{"amount": 5, "bonus": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := ts.do(t, http.MethodPost, "/api/credits/topup", "acct_a", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_PARAMETER", errorCode(t, body))
		})
	}
}

func TestJobs_StartPollAndConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.gate = make(chan struct{})

	_, _ = ts.do(t, http.MethodPost, "/api/credits/topup", "acct_a", TopupRequest{Amount: 100})

	w, body := ts.do(t, http.MethodPost, "/api/jobs/full", "acct_a", StartJobRequest{Prompt: "studio", Units: 5})
	require.Equal(t, http.StatusAccepted, w.Code, body)
	jobID := body["jobId"].(string)
	assert.Equal(t, "queued", body["state"])
	assert.Equal(t, float64(5), body["cost"])

	w, body = ts.do(t, http.MethodPost, "/api/jobs/FULL", "acct_a", StartJobRequest{Units: 1})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_RUNNING", errorCode(t, body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, jobID, details["runningJobId"])
	assert.NotEmpty(t, details["jobId"])

	w, body = ts.do(t, http.MethodGet, "/api/locks/FULL", "acct_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	run := body["run"].(map[string]any)
	assert.Equal(t, true, run["running"])
	assert.Equal(t, jobID, run["jobId"])

	close(ts.gate)
	rec := waitJobState(t, ts, "acct_a", jobID, types.JobStateDone)
	assert.Equal(t, float64(100), rec["progress"])
	assert.Equal(t, float64(5), rec["spent"])
	assert.NotContains(t, rec, "accountId")

	_, body = ts.do(t, http.MethodGet, "/api/credits/balance", "acct_a", nil)
	assert.Equal(t, float64(95), body["balance"])

	results := rec["result"].(map[string]any)["results"].([]any)
	require.Len(t, results, 5)
	url := results[0].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "http://studio.test/static/assets/"), url)
}

func TestJobs_ForeignJobIsNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	_, _ = ts.do(t, http.MethodPost, "/api/credits/topup", "acct_a", TopupRequest{Amount: 10})

	w, body := ts.do(t, http.MethodPost, "/api/jobs/LEGS", "acct_a", StartJobRequest{Units: 1})
	require.Equal(t, http.StatusAccepted, w.Code, body)
	jobID := body["jobId"].(string)

	w, body = ts.do(t, http.MethodGet, "/api/jobs/"+jobID, "acct_b", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", errorCode(t, body))

	w, body = ts.do(t, http.MethodGet, "/api/jobs/job_doesnotexist", "acct_b", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", errorCode(t, body))
}

func TestJobs_RequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"no units", "/api/jobs/FULL", StartJobRequest{}},
		{"unknown key", "/api/jobs/HATS", StartJobRequest{Units: 1}},
		{"bad format", "/api/jobs/FULL", StartJobRequest{Units: 1, Format: "2:1"}},
		{"units mismatch", "/api/jobs/FULL", StartJobRequest{Units: 2, Shots: []adapter.ShotSpec{{Prompt: "a"}}}},
		{"too many units", "/api/jobs/FULL", StartJobRequest{Units: 51}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := ts.do(t, http.MethodPost, tt.path, "acct_a", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_PARAMETER", errorCode(t, body))
		})
	}
}

func TestJobs_InsufficientCreditsEndsInError(t *testing.T) {
	ts := newTestServer(t, nil)

	w, body := ts.do(t, http.MethodPost, "/api/jobs/TORSO", "acct_a", StartJobRequest{Units: 2})
	require.Equal(t, http.StatusAccepted, w.Code, body)

	rec := waitJobState(t, ts, "acct_a", body["jobId"].(string), types.JobStateError)
	assert.Equal(t, types.JobErrInsufficientFunds, rec["error"])
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, &ServerConfig{RequestsPerMinute: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		w, _ := ts.do(t, http.MethodGet, "/api/credits/balance", "acct_a", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, body := ts.do(t, http.MethodGet, "/api/credits/balance", "acct_a", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, body))

	// buckets are per account
	w, _ = ts.do(t, http.MethodGet, "/api/credits/balance", "acct_b", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDebugCauseOnlyWhenEnabled(t *testing.T) {
	for _, debug := range []bool{false, true} {
		t.Run(fmt.Sprintf("debug=%v", debug), func(t *testing.T) {
			ts := newTestServer(t, &ServerConfig{Debug: debug})
			require.NoError(t, ts.store.Close())

			w, body := ts.do(t, http.MethodGet, "/api/credits/balance", "acct_a", nil)
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, "DATABASE_ERROR", errorCode(t, body))
			details, _ := body["error"].(map[string]any)["details"].(map[string]any)
			_, hasDebug := details["debug"]
			assert.Equal(t, debug, hasDebug)
		})
	}
}
