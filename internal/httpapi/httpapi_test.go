package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/foreman/internal/agent"
	"github.com/opsdeck/foreman/internal/approval"
	"github.com/opsdeck/foreman/internal/brief"
	"github.com/opsdeck/foreman/internal/bus"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/executor"
	"github.com/opsdeck/foreman/internal/lineage"
	"github.com/opsdeck/foreman/internal/orchestrator"
	"github.com/opsdeck/foreman/internal/planner"
	"github.com/opsdeck/foreman/internal/repository"
	"github.com/opsdeck/foreman/internal/ruleset"
	"github.com/opsdeck/foreman/internal/scheduler"
)

func newTestServer(t *testing.T) (*Server, *bus.Bus, func()) {
	t.Helper()
	root := t.TempDir()
	b := bus.New()
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := repository.NewMemory()
	rules := ruleset.Default()

	registry := agent.NewRegistry(agent.DefaultRoster())

	lin := lineage.New(repo, b, c)
	exec := executor.New(b, c, lin)
	briefs := brief.New(c, registry)
	pl := planner.New(rules, registry)

	var orch *orchestrator.Orchestrator
	sched := scheduler.New(b, c, exec, root, func(workflowID string) {
		orch.OnTaskProgress(workflowID)
	})
	gate := approval.New(repo, b, c, rules)
	log := zap.NewNop().Sugar()
	orch = orchestrator.New(log, repo, b, c, briefs, pl, sched, lin, gate)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	srv := New(log, orch, briefs, lin, b, nil, root)
	return srv, b, cancel
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeDirectiveThenCreateWorkflow(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/directives", analyzeDirectiveRequest{
		Directive: "Build a simple generic prototype",
		Submitter: "alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("analyze: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var brief map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &brief); err != nil {
		t.Fatalf("decode brief: %v", err)
	}
	briefID, _ := brief["id"].(string)
	if briefID == "" {
		t.Fatalf("brief response missing id: %v", brief)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/workflows", createWorkflowRequest{
		Directive: "Build a simple generic prototype",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workflow: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCreateWorkflowRejectsEmptyInput(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/workflows", createWorkflowRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetUnknownWorkflowReturns400(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/workflows/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCancelWorkflowRequiresReason(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/workflows", createWorkflowRequest{Directive: "Build a dashboard for metrics"})
	var wf map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &wf)
	id, _ := wf["id"].(string)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/workflows/"+id+"/cancel", cancelWorkflowRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/workflows/"+id+"/cancel", cancelWorkflowRequest{Reason: "no longer needed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
