package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	simdomain "github.com/airgate-io/airgate/internal/sim/domain"
	"github.com/airgate-io/airgate/internal/tenantctx"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type fakeSimService struct {
	sim          simdomain.Sim
	err          error
	lastOrgID    snowflake.ID
	lastICCID    string
	transitions  []simdomain.TransitionRequest
	unblockCalls int

	lastUnblockCorrelation string
}

func (f *fakeSimService) Create(ctx context.Context, req simdomain.CreateSimRequest) (simdomain.Sim, error) {
	f.captureOrg(ctx)
	if f.err != nil {
		return simdomain.Sim{}, f.err
	}
	return f.sim, nil
}

func (f *fakeSimService) GetByID(ctx context.Context, id string) (simdomain.Sim, error) {
	f.captureOrg(ctx)
	if f.err != nil {
		return simdomain.Sim{}, f.err
	}
	return f.sim, nil
}

func (f *fakeSimService) GetByICCID(ctx context.Context, iccid string) (simdomain.Sim, error) {
	f.captureOrg(ctx)
	f.lastICCID = iccid
	if f.err != nil {
		return simdomain.Sim{}, f.err
	}
	return f.sim, nil
}

func (f *fakeSimService) List(ctx context.Context, req simdomain.ListSimRequest) (simdomain.ListSimResponse, error) {
	f.captureOrg(ctx)
	if f.err != nil {
		return simdomain.ListSimResponse{}, f.err
	}
	return simdomain.ListSimResponse{Sims: []simdomain.Sim{f.sim}}, nil
}

func (f *fakeSimService) Transition(ctx context.Context, req simdomain.TransitionRequest) (simdomain.Sim, error) {
	f.captureOrg(ctx)
	f.transitions = append(f.transitions, req)
	if f.err != nil {
		return simdomain.Sim{}, f.err
	}
	return f.sim, nil
}

func (f *fakeSimService) Unblock(ctx context.Context, simID, reason, correlationID string) (simdomain.Sim, error) {
	f.captureOrg(ctx)
	f.unblockCalls++
	f.lastUnblockCorrelation = correlationID
	if f.err != nil {
		return simdomain.Sim{}, f.err
	}
	return f.sim, nil
}

func (f *fakeSimService) captureOrg(ctx context.Context) {
	if orgID, ok := tenantctx.OrgIDFromContext(ctx); ok {
		f.lastOrgID = orgID
	}
}

type fakeUsageService struct {
	resp usagedomain.SubmitRecordResponse
	err  error
}

func (f *fakeUsageService) SubmitRecord(ctx context.Context, req usagedomain.SubmitRecordRequest) (usagedomain.SubmitRecordResponse, error) {
	if f.err != nil {
		return usagedomain.SubmitRecordResponse{}, f.err
	}
	return f.resp, nil
}

func (f *fakeUsageService) SubmitBatch(ctx context.Context, req usagedomain.SubmitBatchRequest) (usagedomain.SubmitBatchResponse, error) {
	if f.err != nil {
		return usagedomain.SubmitBatchResponse{}, f.err
	}
	return usagedomain.SubmitBatchResponse{}, nil
}

func (f *fakeUsageService) GetCycle(ctx context.Context, req usagedomain.GetCycleRequest) (usagedomain.UsageCycle, error) {
	if f.err != nil {
		return usagedomain.UsageCycle{}, f.err
	}
	return usagedomain.UsageCycle{}, nil
}

func (f *fakeUsageService) ListRecords(ctx context.Context, req usagedomain.ListRecordRequest) (usagedomain.ListRecordResponse, error) {
	if f.err != nil {
		return usagedomain.ListRecordResponse{}, f.err
	}
	return usagedomain.ListRecordResponse{}, nil
}

func newTestServer(simSvc *fakeSimService, usageSvc *fakeUsageService) *Server {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:   engine,
		simSvc:   simSvc,
		usageSvc: usageSvc,
	}
	srv.registerAPIRoutes()
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string, withOrg bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if withOrg {
		req.Header.Set("X-Org-ID", "7181876234901028864")
	}
	resp := httptest.NewRecorder()
	srv.engine.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestTenantContextRequiresOrgHeader(t *testing.T) {
	srv := newTestServer(&fakeSimService{}, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/sims", "", false)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Type != "unauthorized" {
		t.Fatalf("expected unauthorized payload, got %q", payload.Type)
	}
}

func TestTenantContextRejectsMalformedOrgHeader(t *testing.T) {
	simSvc := &fakeSimService{}
	srv := newTestServer(simSvc, &fakeUsageService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sims", nil)
	req.Header.Set("X-Org-ID", "not-a-snowflake")
	resp := httptest.NewRecorder()
	srv.engine.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if simSvc.lastOrgID != 0 {
		t.Fatal("expected sim service not to be reached")
	}
}

func TestTenantContextResolvesOrganization(t *testing.T) {
	simSvc := &fakeSimService{sim: simdomain.Sim{ID: snowflake.ID(11), State: simdomain.SimStateActive}}
	srv := newTestServer(simSvc, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/sims", "", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if simSvc.lastOrgID.String() != "7181876234901028864" {
		t.Fatalf("expected org id from header, got %s", simSvc.lastOrgID)
	}
}

func TestCreateSimReturns201(t *testing.T) {
	simSvc := &fakeSimService{sim: simdomain.Sim{ID: snowflake.ID(11), ICCID: "89014103211118510720", State: simdomain.SimStateProvisioned}}
	srv := newTestServer(simSvc, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/sims", `{"iccid":"89014103211118510720"}`, true)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestCreateSimDuplicateICCIDMapsToConflict(t *testing.T) {
	srv := newTestServer(&fakeSimService{err: simdomain.ErrDuplicateICCID}, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/sims", `{"iccid":"89014103211118510720"}`, true)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Type != "conflict" {
		t.Fatalf("expected conflict payload, got %q", payload.Type)
	}
}

func TestCreateSimRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(&fakeSimService{}, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/sims", `{"iccid":`, true)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Type != "validation_error" {
		t.Fatalf("expected validation_error payload, got %q", payload.Type)
	}
}

func TestGetSimNotFound(t *testing.T) {
	srv := newTestServer(&fakeSimService{err: simdomain.ErrSimNotFound}, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/sims/7181876234901028865", "", true)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Type != "not_found" {
		t.Fatalf("expected not_found payload, got %q", payload.Type)
	}
}

func TestListSimsICCIDFilterIsPointLookup(t *testing.T) {
	simSvc := &fakeSimService{sim: simdomain.Sim{ID: snowflake.ID(11), ICCID: "89014103211118510720"}}
	srv := newTestServer(simSvc, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/sims?iccid=89014103211118510720", "", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if simSvc.lastICCID != "89014103211118510720" {
		t.Fatalf("expected point lookup by iccid, got %q", simSvc.lastICCID)
	}
}

func TestTransitionEndpointsTargetStates(t *testing.T) {
	simSvc := &fakeSimService{sim: simdomain.Sim{ID: snowflake.ID(11), State: simdomain.SimStateActive}}
	srv := newTestServer(simSvc, &fakeUsageService{})

	paths := map[string]simdomain.SimState{
		"activate":  simdomain.SimStateActive,
		"suspend":   simdomain.SimStateSuspended,
		"block":     simdomain.SimStateBlocked,
		"terminate": simdomain.SimStateTerminated,
	}
	for suffix, want := range paths {
		resp := doJSON(t, srv, http.MethodPost, "/api/v1/sims/7181876234901028865/"+suffix, `{"reason":"ops"}`, true)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d (%s)", suffix, resp.Code, resp.Body.String())
		}
		last := simSvc.transitions[len(simSvc.transitions)-1]
		if last.Target != want {
			t.Fatalf("%s: expected target %s, got %s", suffix, want, last.Target)
		}
		if last.Reason != "ops" {
			t.Fatalf("%s: expected reason to pass through, got %q", suffix, last.Reason)
		}
	}
}

func TestTransitionConflictMapsTo409(t *testing.T) {
	srv := newTestServer(&fakeSimService{err: simdomain.ErrInvalidTransition}, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/sims/7181876234901028865/terminate", "", true)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Type != "invalid_transition" {
		t.Fatalf("expected invalid_transition payload, got %q", payload.Type)
	}
}

func TestUnblockNotBlockedMapsTo409(t *testing.T) {
	simSvc := &fakeSimService{err: simdomain.ErrSimNotBlocked}
	srv := newTestServer(simSvc, &fakeUsageService{})

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/sims/7181876234901028865/unblock", "", true)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if simSvc.unblockCalls != 1 {
		t.Fatalf("expected one unblock call, got %d", simSvc.unblockCalls)
	}
}

func TestTransitionBodyBindsCorrelationID(t *testing.T) {
	simSvc := &fakeSimService{sim: simdomain.Sim{ID: snowflake.ID(11), State: simdomain.SimStateSuspended}}
	srv := newTestServer(simSvc, &fakeUsageService{})

	body := `{"reason":"billing_hold","correlation_id":"req-7f3a"}`
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/sims/7181876234901028865/suspend", body, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	last := simSvc.transitions[len(simSvc.transitions)-1]
	if last.CorrelationID != "req-7f3a" {
		t.Fatalf("expected correlation id to pass through, got %q", last.CorrelationID)
	}

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/sims/7181876234901028865/unblock", `{"correlation_id":" req-9c21 "}`, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if simSvc.lastUnblockCorrelation != "req-9c21" {
		t.Fatalf("expected trimmed correlation id, got %q", simSvc.lastUnblockCorrelation)
	}
}

func TestSubmitUsageBatchReturns202(t *testing.T) {
	srv := newTestServer(&fakeSimService{}, &fakeUsageService{})

	body := `{"records":[{"iccid":"89014103211118510720","usage_type":"data","quantity":1,"occurred_at":"2026-03-14T10:00:00Z"}]}`
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/usage/records/batch", body, true)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestSubmitUsageRecordStatusByDuplicate(t *testing.T) {
	usageSvc := &fakeUsageService{resp: usagedomain.SubmitRecordResponse{
		Record: usagedomain.UsageRecord{ID: snowflake.ID(21), RecordID: "rec-1"},
	}}
	srv := newTestServer(&fakeSimService{}, usageSvc)

	body := `{"iccid":"89014103211118510720","usage_type":"data","quantity":1024,"occurred_at":"2026-03-14T10:00:00Z"}`
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/usage/records", body, true)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for fresh record, got %d (%s)", resp.Code, resp.Body.String())
	}

	usageSvc.resp.Duplicate = true
	resp = doJSON(t, srv, http.MethodPost, "/api/v1/usage/records", body, true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 for replay, got %d", resp.Code)
	}
}

func TestSubmitUsageRecordValidationMapsTo400(t *testing.T) {
	srv := newTestServer(&fakeSimService{}, &fakeUsageService{err: usagedomain.ErrInvalidICCID})

	body := `{"iccid":"bogus","usage_type":"data","quantity":1,"occurred_at":"2026-03-14T10:00:00Z"}`
	resp := doJSON(t, srv, http.MethodPost, "/api/v1/usage/records", body, true)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	payload := decodeError(t, resp)
	if payload.Type != "validation_error" {
		t.Fatalf("expected validation_error payload, got %q", payload.Type)
	}
	if len(payload.Errors) != 1 || payload.Errors[0].Code != "invalid_iccid" || payload.Errors[0].Field != "iccid" {
		t.Fatalf("unexpected validation details: %+v", payload.Errors)
	}
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"org required", ErrOrgRequired, http.StatusUnauthorized, "unauthorized"},
		{"usage org", usagedomain.ErrInvalidOrganization, http.StatusUnauthorized, "unauthorized"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"service unavailable", ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"batch too large", usagedomain.ErrBatchTooLarge, http.StatusBadRequest, "validation_error"},
		{"cycle not found", usagedomain.ErrCycleNotFound, http.StatusNotFound, "not_found"},
		{"unknown", context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, payload := mapError(tc.err)
		if status != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, status)
		}
		if payload.Type != tc.typ {
			t.Fatalf("%s: expected payload type %q, got %q", tc.name, tc.typ, payload.Type)
		}
	}
}
