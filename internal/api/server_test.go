package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/investigator/internal/audit"
	"github.com/sells-group/investigator/internal/auth"
	"github.com/sells-group/investigator/internal/catalog"
	"github.com/sells-group/investigator/internal/config"
	"github.com/sells-group/investigator/internal/investigate"
	"github.com/sells-group/investigator/internal/model"
	"github.com/sells-group/investigator/internal/notify"
	"github.com/sells-group/investigator/internal/registry"
	"github.com/sells-group/investigator/internal/rules"
	"github.com/sells-group/investigator/internal/store"
)

var refNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

type testEnv struct {
	srv  *httptest.Server
	orch *investigate.Orchestrator
	st   store.Store
}

func newTestEnv(t *testing.T, gate *auth.Gate, throttle config.ThrottleConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	_, err = st.ReplaceInvoices(ctx, []model.Invoice{
		{ID: "1", Number: "INV-1", TotalAmount: -10, TotalTax: 0, IssueDate: refNow.AddDate(0, 0, -3)},
		{ID: "2", Number: "INV-2", TotalAmount: 100, TotalTax: 80, IssueDate: refNow.AddDate(0, 0, -2)},
		{ID: "3", Number: "INV-3", TotalAmount: 100, TotalTax: 20, IssueDate: refNow.AddDate(0, 0, -1)},
	})
	require.NoError(t, err)

	engines := rules.Default()
	cat, err := catalog.Seed(ctx, st, catalog.Builtin(), engines)
	require.NoError(t, err)

	hub := notify.NewHub(16)
	reg := registry.New(st, cat, hub)
	orch := investigate.New(st, reg, engines, hub, investigate.WithClock(func() time.Time { return refNow }))
	t.Cleanup(orch.Wait)

	s := New(Deps{
		Registry:     reg,
		Orchestrator: orch,
		Auditor:      audit.New(st, 2),
		Hub:          hub,
		Gate:         gate,
		Throttle:     throttle,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, orch: orch, st: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func (e *testEnv) create(t *testing.T, body any) string {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/api/instances", body, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	return decode[map[string]string](t, raw)["id"]
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil, config.ThrottleConfig{})

	resp, raw := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	resp, raw = env.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "investigator_http_request_duration_seconds")
}

func TestListTypes(t *testing.T) {
	env := newTestEnv(t, nil, config.ThrottleConfig{})

	resp, raw := env.do(t, http.MethodGet, "/api/types", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	types := decode[[]model.InvestigatorType](t, raw)
	var codes []string
	for _, ty := range types {
		codes = append(codes, ty.Code)
	}
	assert.ElementsMatch(t, []string{"invoice", "waybill"}, codes)
}

func TestCreateInstance_Validation(t *testing.T) {
	env := newTestEnv(t, nil, config.ThrottleConfig{})
	env.create(t, map[string]any{"typeCode": "invoice", "customName": "tax watch"})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed", "{", http.StatusBadRequest, "bad_request"},
		{"missing type", map[string]any{"customName": "x"}, http.StatusBadRequest, "bad_request"},
		{"unknown type", map[string]any{"typeCode": "payroll"}, http.StatusUnprocessableEntity, "unknown_type"},
		{"bad config", map[string]any{"typeCode": "invoice", "configuration": map[string]any{"maxTaxRatio": -1}}, http.StatusUnprocessableEntity, "invalid_config"},
		{"duplicate", map[string]any{"typeCode": "invoice", "customName": "tax watch"}, http.StatusConflict, "duplicate_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := env.do(t, http.MethodPost, "/api/instances", tt.body, "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[errorBody](t, raw).Error)
		})
	}
}

func TestStartRunAndInspect(t *testing.T) {
	env := newTestEnv(t, nil, config.ThrottleConfig{})
	id := env.create(t, map[string]any{"typeCode": "invoice"})

	resp, raw := env.do(t, http.MethodPost, "/api/instances/"+id+"/start", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	started := decode[startResponse](t, raw)
	assert.Equal(t, id, started.InstanceID)
	assert.Equal(t, model.ExecutionStatusRunning, started.Status)

	env.orch.Wait()

	_, raw = env.do(t, http.MethodGet, "/api/instances/"+id+"/results?limit=10", nil, "")
	results := decode[[]model.Result](t, raw)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, started.ExecutionID, r.ExecutionID)
	}

	_, raw = env.do(t, http.MethodGet, "/api/instances/"+id+"/executions", nil, "")
	execs := decode[[]model.Execution](t, raw)
	require.Len(t, execs, 1)
	assert.Equal(t, model.ExecutionStatusCompleted, execs[0].Status)
	assert.Equal(t, 2, execs[0].ResultCount)

	_, raw = env.do(t, http.MethodGet, "/api/instances", nil, "")
	views := decode[[]model.InstanceView](t, raw)
	require.Len(t, views, 1)
	assert.Equal(t, "completed", views[0].Status)
	assert.Equal(t, 2, views[0].ResultCount)
	require.NotNil(t, views[0].LastExecutedAt)

	_, raw = env.do(t, http.MethodGet, "/api/summary", nil, "")
	sum := decode[model.Summary](t, raw)
	assert.Equal(t, model.Summary{TotalInstances: 1, ActiveInstances: 1, TotalExecutions: 1, TotalResults: 2}, sum)

	path := "/api/executions/" + jsonInt(started.ExecutionID)
	_, raw = env.do(t, http.MethodGet, path+"/verify", nil, "")
	check := decode[model.CountCheck](t, raw)
	assert.True(t, check.IsAccurate)
	assert.Equal(t, 2, check.ActualCount)

	_, raw = env.do(t, http.MethodPost, path+"/correct", nil, "")
	assert.JSONEq(t, `{"execution_id":`+jsonInt(started.ExecutionID)+`,"changed":false}`, string(raw))

	_, raw = env.do(t, http.MethodPost, "/api/executions/correct-all", nil, "")
	assert.JSONEq(t, `{"corrected":0}`, string(raw))
}

func TestStartRejections(t *testing.T) {
	env := newTestEnv(t, nil, config.ThrottleConfig{})
	id := env.create(t, map[string]any{"typeCode": "invoice"})

	resp, raw := env.do(t, http.MethodPost, "/api/instances/missing/start", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorBody](t, raw).Error)

	resp, _ = env.do(t, http.MethodPut, "/api/instances/"+id+"/active", map[string]bool{"active": false}, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw = env.do(t, http.MethodPost, "/api/instances/"+id+"/start", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "inactive", decode[errorBody](t, raw).Error)

	resp, _ = env.do(t, http.MethodPut, "/api/instances/"+id+"/active", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, raw = env.do(t, http.MethodGet, "/api/instances?active=true", nil, "")
	assert.Empty(t, decode[[]model.InstanceView](t, raw))
}

func TestDeleteInstance(t *testing.T) {
	env := newTestEnv(t, nil, config.ThrottleConfig{})
	id := env.create(t, map[string]any{"typeCode": "waybill"})

	resp, _ := env.do(t, http.MethodDelete, "/api/instances/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/instances/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/instances/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecutionEndpoints_BadInput(t *testing.T) {
	env := newTestEnv(t, nil, config.ThrottleConfig{})

	resp, _ := env.do(t, http.MethodGet, "/api/executions/abc/verify", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/executions/42/verify", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/instances/x/results?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthorization(t *testing.T) {
	gate := auth.NewGate("s3cret", "")
	env := newTestEnv(t, gate, config.ThrottleConfig{})

	viewer, err := gate.Sign("val", auth.RoleViewer, time.Hour)
	require.NoError(t, err)
	operator, err := gate.Sign("olga", auth.RoleOperator, time.Hour)
	require.NoError(t, err)

	resp, _ := env.do(t, http.MethodGet, "/api/summary", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp, _ = env.do(t, http.MethodGet, "/api/summary", nil, viewer)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/instances", map[string]any{"typeCode": "invoice"}, viewer)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := env.do(t, http.MethodPost, "/api/instances", map[string]any{"typeCode": "invoice"}, operator)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[map[string]string](t, raw)["id"]

	resp, _ = env.do(t, http.MethodDelete, "/api/instances/"+id, nil, operator)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/executions/correct-all", nil, operator)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestThrottle(t *testing.T) {
	env := newTestEnv(t, nil, config.ThrottleConfig{RequestsPerSec: 0.001, Burst: 2})

	for range 2 {
		resp, _ := env.do(t, http.MethodGet, "/api/summary", nil, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, raw := env.do(t, http.MethodGet, "/api/summary", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "throttled", decode[errorBody](t, raw).Error)

	resp, _ = env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health bypasses the throttle")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{eris.Wrap(model.ErrAlreadyRunning, "investigate: start"), http.StatusConflict, "already_running"},
		{eris.Wrap(model.ErrInUse, "registry: delete"), http.StatusConflict, "in_use"},
		{model.ErrExecutionRunning, http.StatusConflict, "execution_running"},
		{model.ErrNoEngine, http.StatusUnprocessableEntity, "no_engine"},
		{eris.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code)
	}
}

func TestClientThrottle_Evicts(t *testing.T) {
	th := newClientThrottle(1, 1)
	now := refNow
	th.now = func() time.Time { return now }

	assert.True(t, th.allow("a"))
	assert.False(t, th.allow("a"))

	now = now.Add(time.Hour)
	th.evict(now)
	assert.Empty(t, th.clients)
	assert.True(t, th.allow("a"))
}

func jsonInt(n int64) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}
