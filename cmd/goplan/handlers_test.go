package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brunobiangulo/goplan"
	"github.com/brunobiangulo/goplan/graph"
	"github.com/brunobiangulo/goplan/ident"
	"github.com/brunobiangulo/goplan/model"
	"github.com/brunobiangulo/goplan/orchestrator"
	"github.com/brunobiangulo/goplan/store"
)

// fakeEngine serves one plan, "p1", and records the calls it gets.
type fakeEngine struct {
	calls   []string
	editErr error
	gen     *goplan.Generation
	genErr  error
}

func (f *fakeEngine) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeEngine) known(id string) error {
	if id != "p1" {
		return fmt.Errorf("%w: %s", goplan.ErrPlanNotFound, id)
	}
	return nil
}

func (f *fakeEngine) Import(_ context.Context, data []byte) (*store.Plan, error) {
	if !json.Valid(data) {
		return nil, goplan.ErrInvalidPlan
	}
	f.record("import")
	return &store.Plan{ID: "p1", Document: &model.Plan{}}, nil
}

func (f *fakeEngine) Plan(_ context.Context, id string) (*store.Plan, error) {
	if err := f.known(id); err != nil {
		return nil, err
	}
	return &store.Plan{ID: id, Title: "Fractions", Document: &model.Plan{}}, nil
}

func (f *fakeEngine) ListPlans(context.Context) ([]store.PlanSummary, error) {
	return []store.PlanSummary{{ID: "p1", Title: "Fractions"}}, nil
}

func (f *fakeEngine) DeletePlan(_ context.Context, id string) error {
	f.record("delete-plan %s", id)
	return f.known(id)
}

func (f *fakeEngine) AddNode(_ context.Context, planID, parentID string, level ident.Level) (string, error) {
	if err := f.known(planID); err != nil {
		return "", err
	}
	f.record("add %s %s", parentID, level)
	return parentID + "-A1", f.editErr
}

func (f *fakeEngine) UpdateNode(_ context.Context, planID, nodeID string, patch graph.Patch) error {
	if err := f.known(planID); err != nil {
		return err
	}
	name := ""
	if patch.Name != nil {
		name = *patch.Name
	}
	f.record("update %s name=%s", nodeID, name)
	return f.editErr
}

func (f *fakeEngine) DeleteNode(_ context.Context, planID, nodeID string) error {
	if err := f.known(planID); err != nil {
		return err
	}
	f.record("delete %s", nodeID)
	return f.editErr
}

func (f *fakeEngine) SetPrerequisite(_ context.Context, planID, nodeID string, prereqs ...string) error {
	if err := f.known(planID); err != nil {
		return err
	}
	f.record("link %s %v", nodeID, prereqs)
	return f.editErr
}

func (f *fakeEngine) Node(_ context.Context, planID, nodeID string) (graph.Node, error) {
	if err := f.known(planID); err != nil {
		return graph.Node{}, err
	}
	if nodeID != "SEQ1-P1" {
		return graph.Node{}, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, nodeID)
	}
	return graph.Node{Level: ident.LevelPhase, Phase: &model.Phase{ID: nodeID, Name: "Intro"}}, nil
}

func (f *fakeEngine) ChainSiblings(_ context.Context, planID, parentID string) error {
	if err := f.known(planID); err != nil {
		return err
	}
	f.record("chain %q", parentID)
	return f.editErr
}

func (f *fakeEngine) DeleteActor(_ context.Context, planID, actorID string) error {
	if err := f.known(planID); err != nil {
		return err
	}
	f.record("delete-actor %s", actorID)
	return f.editErr
}

func (f *fakeEngine) DeleteEnvironment(_ context.Context, planID, envID string) error {
	if err := f.known(planID); err != nil {
		return err
	}
	f.record("delete-environment %s", envID)
	return f.editErr
}

func (f *fakeEngine) Generate(_ context.Context, planID string, req goplan.GenerateRequest) (*goplan.Generation, error) {
	if err := f.known(planID); err != nil {
		return nil, err
	}
	f.record("generate %s %v", req.Intent, req.References)
	return f.gen, f.genErr
}

func (f *fakeEngine) Runs(_ context.Context, planID string) ([]store.Run, error) {
	if err := f.known(planID); err != nil {
		return nil, err
	}
	return []store.Run{{ID: "r1", PlanID: planID, State: "completed"}}, nil
}

func (f *fakeEngine) Store() *store.Store { return nil }
func (f *fakeEngine) Close() error        { return nil }

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCall   string
	}{
		{"create", "POST", "/plans", `{"metadata": {}}`, http.StatusCreated, "import"},
		{"create invalid", "POST", "/plans", `{`, http.StatusBadRequest, ""},
		{"list", "GET", "/plans", "", http.StatusOK, ""},
		{"get", "GET", "/plans/p1", "", http.StatusOK, ""},
		{"get unknown", "GET", "/plans/p2", "", http.StatusNotFound, ""},
		{"delete plan", "DELETE", "/plans/p1", "", http.StatusOK, "delete-plan p1"},
		{"add node", "POST", "/plans/p1/nodes", `{"parent_id": "SEQ1-P1", "level": "activity"}`, http.StatusCreated, "add SEQ1-P1 activity"},
		{"add bad level", "POST", "/plans/p1/nodes", `{"parent_id": "SEQ1", "level": "chapter"}`, http.StatusBadRequest, ""},
		{"update node", "PATCH", "/plans/p1/nodes/SEQ1-P1-A1", `{"name": "Warm-up"}`, http.StatusOK, "update SEQ1-P1-A1 name=Warm-up"},
		{"delete node", "DELETE", "/plans/p1/nodes/SEQ1", "", http.StatusOK, "delete SEQ1"},
		{"link", "PUT", "/plans/p1/nodes/SEQ2/prerequisite", `{"prerequisites": ["SEQ1"]}`, http.StatusOK, "link SEQ2 [SEQ1]"},
		{"clear link", "PUT", "/plans/p1/nodes/SEQ2/prerequisite", `{"prerequisites": []}`, http.StatusOK, "link SEQ2 []"},
		{"get node", "GET", "/plans/p1/nodes/SEQ1-P1", "", http.StatusOK, ""},
		{"get unknown node", "GET", "/plans/p1/nodes/SEQ9", "", http.StatusNotFound, ""},
		{"chain", "POST", "/plans/p1/chain", `{"parent_id": "SEQ1"}`, http.StatusOK, `chain "SEQ1"`},
		{"chain sequences", "POST", "/plans/p1/chain", `{}`, http.StatusOK, `chain ""`},
		{"delete actor", "DELETE", "/plans/p1/actors/A2", "", http.StatusOK, "delete-actor A2"},
		{"delete environment", "DELETE", "/plans/p1/environments/ENV1", "", http.StatusOK, "delete-environment ENV1"},
		{"generate with reference", "POST", "/plans/p1/generate", `{"intent": "x", "references": ["goals/halves.md"]}`, http.StatusOK, "generate x [goals/halves.md]"},
		{"generate parent reference", "POST", "/plans/p1/generate", `{"intent": "x", "references": ["../etc/passwd.txt"]}`, http.StatusForbidden, ""},
		{"generate absolute reference", "POST", "/plans/p1/generate", `{"intent": "x", "references": ["/etc/hosts.txt"]}`, http.StatusForbidden, ""},
		{"runs", "GET", "/plans/p1/runs", "", http.StatusOK, ""},
		{"runs unknown", "GET", "/plans/zz/runs", "", http.StatusNotFound, ""},
		{"health", "GET", "/health", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeEngine{gen: &goplan.Generation{RunID: "r1", Result: &orchestrator.Result{
				State: orchestrator.StateCompleted, Plan: &model.Plan{},
			}}}
			rec := do(t, newServer(f, "", ""), tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantCall != "" && (len(f.calls) != 1 || f.calls[0] != tt.wantCall) {
				t.Errorf("calls = %q, want %q", f.calls, tt.wantCall)
			}
			if tt.wantStatus >= 400 && len(f.calls) > 0 && strings.HasPrefix(f.calls[0], "generate") {
				t.Errorf("rejected request reached the engine: %q", f.calls)
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&graph.InvalidLinkError{ID: "SEQ1", Target: "SEQ1", Reason: "self"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: SEQ9", graph.ErrNodeNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: role under phase", graph.ErrLevelMismatch), http.StatusBadRequest},
		{fmt.Errorf("%w: actor A9", graph.ErrUnknownReference), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := &fakeEngine{editErr: tt.err}
			rec := do(t, newServer(f, "", ""), "PUT", "/plans/p1/nodes/SEQ1/prerequisite", `{"prerequisites": ["SEQ1"]}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "disk full") {
				t.Error("internal error leaked to the client")
			}
		})
	}
}

func TestGenerateResponses(t *testing.T) {
	completed := &goplan.Generation{RunID: "r1", Result: &orchestrator.Result{
		State: orchestrator.StateCompleted, Plan: &model.Plan{},
	}}
	runErr := &orchestrator.PhaseError{Phase: orchestrator.PhaseDraft, Err: errors.New("unrecoverable format")}
	aborted := &goplan.Generation{RunID: "r2", Result: &orchestrator.Result{
		State: orchestrator.StateAborted, Phase: orchestrator.PhaseDraft, Plan: &model.Plan{}, Err: runErr,
	}}

	tests := []struct {
		name       string
		gen        *goplan.Generation
		err        error
		wantStatus int
		wantState  string
	}{
		{"completed", completed, nil, http.StatusOK, "completed"},
		{"aborted", aborted, fmt.Errorf("%w: %w", goplan.ErrGenerationFailed, runErr), http.StatusBadGateway, "aborted"},
		{"bad reference", nil, fmt.Errorf("%w: x.pptx", goplan.ErrUnsupportedFormat), http.StatusBadRequest, ""},
		{"denied reference", nil, fmt.Errorf("%w: no reference directory configured", goplan.ErrReferenceDenied), http.StatusForbidden, ""},
		{"plan changed", completed, fmt.Errorf("%w: p1", goplan.ErrPlanChanged), http.StatusConflict, "completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeEngine{gen: tt.gen, genErr: tt.err}
			rec := do(t, newServer(f, "", ""), "POST", "/plans/p1/generate", `{"intent": "halves"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantState == "" {
				return
			}
			var body struct {
				RunID string `json:"run_id"`
				State string `json:"state"`
				Error string `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.State != tt.wantState || body.RunID != tt.gen.RunID {
				t.Errorf("body = %+v", body)
			}
			if tt.gen.Err != nil && !strings.Contains(body.Error, "unrecoverable format") {
				t.Errorf("error = %q", body.Error)
			}
			if errors.Is(tt.err, goplan.ErrPlanChanged) && !strings.Contains(body.Error, "changed") {
				t.Errorf("error = %q", body.Error)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := newServer(&fakeEngine{}, "secret", "")

	if rec := do(t, h, "GET", "/plans", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/plans", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/plans", "", "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/plans", "", "Authorization", "Bearer secret-but-longer"); rec.Code != http.StatusUnauthorized {
		t.Errorf("token with matching prefix: status = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/plans", "", "Authorization", "secret"); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing scheme: status = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d", rec.Code)
	}
}

func TestCORSOrigins(t *testing.T) {
	h := newServer(&fakeEngine{}, "", "https://a.example.org, https://b.example.org")
	tests := []struct {
		origin string
		want   string
	}{
		{"https://b.example.org", "https://b.example.org"},
		{"https://evil.example.org", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			var header []string
			if tt.origin != "" {
				header = []string{"Origin", tt.origin}
			}
			rec := do(t, h, "GET", "/health", "", header...)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("allow origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	h := newServer(&fakeEngine{}, "", "")
	if rec := do(t, h, "GET", "/plans/p1", ""); rec.Header().Get(requestIDHeader) == "" {
		t.Error("no request id assigned")
	}
	rec := do(t, h, "GET", "/plans/p1", "", requestIDHeader, "abc-123")
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want the caller's", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newServer(&fakeEngine{}, "secret", "https://app.example.org")
	rec := do(t, h, "OPTIONS", "/plans/p1/nodes/SEQ1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PATCH") {
		t.Errorf("allowed methods = %q", got)
	}
}

type panicEngine struct{ fakeEngine }

func (panicEngine) ListPlans(context.Context) ([]store.PlanSummary, error) {
	panic("boom")
}

func TestRecoveryMiddleware(t *testing.T) {
	rec := do(t, newServer(&panicEngine{}, "", ""), "GET", "/plans", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}
