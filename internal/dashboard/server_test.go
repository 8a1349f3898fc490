package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/engine"
	"github.com/loomworks/loom/pkg/gate"
	"github.com/loomworks/loom/pkg/loop"
	"github.com/loomworks/loom/pkg/memory"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine, string) {
	t.Helper()
	cat, err := catalog.New([]catalog.SkillDescriptor{
		{Name: "champion-scoring", Version: "1.0.0", Description: "score", Phase: catalog.PhaseAssess, Category: catalog.CategoryAnalysis},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	loops := loop.NewStore()
	tpl := &loop.Template{
		ID:      "enterprise-sales",
		Version: "1.0.0",
		Phases: []loop.PhaseSpec{
			{
				Phase:  catalog.PhaseAssess,
				Skills: []string{"champion-scoring"},
				Gate:   &loop.GateSpec{Kind: gate.KindHuman, Approver: "sales-lead"},
			},
		},
	}
	if err := loops.Add(tpl, cat); err != nil {
		t.Fatalf("add template: %v", err)
	}

	runner := engine.RunnerFunc(func(_ context.Context, _ catalog.SkillDescriptor, _ *memory.View) (map[string]any, error) {
		return map[string]any{"championStrength": 80}, nil
	})
	eng, err := engine.New(cat, loops, engine.Options{Runner: runner})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	v, err := eng.Start(context.Background(), engine.StartRequest{LoopID: "enterprise-sales", Project: "acme"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitBlocked(t, eng, v.ID)
	return New(":0", eng), eng, v.ID
}

func waitBlocked(t *testing.T, eng *engine.Engine, runID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		v, err := eng.Get(runID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v.Status == engine.StatusBlocked {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never blocked on its gate", runID)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec, decoded
}

func TestExecutionEndpoints(t *testing.T) {
	srv, _, runID := newTestServer(t)
	handler := srv.Handler()

	rec, body := doJSON(t, handler, http.MethodGet, "/v1/executions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	executions := body["executions"].([]any)
	if len(executions) != 1 {
		t.Fatalf("expected one execution, got %d", len(executions))
	}
	summary := executions[0].(map[string]any)
	if summary["loopId"] != "enterprise-sales" || summary["status"] != "blocked" {
		t.Fatalf("unexpected summary: %v", summary)
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/v1/executions/"+runID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	progress := body["progress"].(map[string]any)
	if progress["skillsCompleted"].(float64) != 1 {
		t.Fatalf("unexpected progress: %v", progress)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/v1/executions/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGateDecisionEndpoint(t *testing.T) {
	srv, eng, runID := newTestServer(t)
	handler := srv.Handler()

	_, body := doJSON(t, handler, http.MethodGet, "/v1/gates", "")
	pending := body["pending"].([]any)
	if len(pending) != 1 {
		t.Fatalf("expected one pending gate, got %d", len(pending))
	}
	gateID := pending[0].(map[string]any)["id"].(string)
	gatePath := "/v1/gates/" + url.PathEscape(gateID) + "/decision"

	decision := `{"decision": "PASS", "rationale": "champion confirmed", "approver": "sales-lead"}`
	rec, res := doJSON(t, handler, http.MethodPost, gatePath, decision)
	if rec.Code != http.StatusOK || res["outcome"] != "PASS" {
		t.Fatalf("decision failed: %d %v", rec.Code, res)
	}

	// Replay is idempotent.
	rec, _ = doJSON(t, handler, http.MethodPost, gatePath, decision)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status %d", rec.Code)
	}
	// A conflicting verdict is rejected.
	conflict := `{"decision": "FAIL", "approver": "sales-lead"}`
	rec, _ = doJSON(t, handler, http.MethodPost, gatePath, conflict)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 conflict, got %d", rec.Code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := eng.Get(runID); v.Status == engine.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/v1/executions/"+runID+"/gates", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("gate log status %d", rec.Code)
	}
	if gates := body["gates"].([]any); len(gates) < 1 {
		t.Fatalf("expected gate log entries, got %v", gates)
	}
}
