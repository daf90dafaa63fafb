package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/graphport/graphport/internal/api/handlers"
	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/infrastructure/graph"
)

type fakeQuerier struct {
	statuses []graph.InstanceStatus
	count    int64
	err      error
}

func (f *fakeQuerier) Health(context.Context) ([]graph.InstanceStatus, error) {
	return f.statuses, f.err
}

func (f *fakeQuerier) Count(context.Context) (int64, error) {
	return f.count, f.err
}

func testServer(t *testing.T, querier handlers.HealthQuerier) (*Server, *job.Store) {
	t.Helper()
	store, err := job.NewStore(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	srv := NewServer(Config{Host: "localhost", Port: 0, Version: "test"}, store, nil, querier)
	return srv, store
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "healthy" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestListJobs(t *testing.T) {
	srv, store := testServer(t, nil)

	j := job.New([]job.SourceFile{{Path: "/exports/data.json", Kind: "data"}}, 100)
	if err := store.Save(j); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Jobs  []*job.Job `json:"jobs"`
		Count int        `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 1 || len(body.Jobs) != 1 || body.Jobs[0].ID != j.ID {
		t.Errorf("body = %+v", body)
	}
}

func TestGetJob(t *testing.T) {
	srv, store := testServer(t, nil)

	j := job.New([]job.SourceFile{{Path: "/exports/data.json", Kind: "data"}}, 100)
	if err := store.Save(j); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/"+j.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/jobs/no-such-job")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status for missing job = %d, want 404", rec.Code)
	}
}

func TestJobProgress(t *testing.T) {
	srv, store := testServer(t, nil)

	j := job.New([]job.SourceFile{{Path: "/exports/data.json", Kind: "data"}}, 100)
	j.Progress().SetTotals(500, 5)
	j.Progress().AddWritten(100)
	if err := store.Save(j); err != nil {
		t.Fatalf("Save() = %v", err)
	}
	// The live registry wins over the stored snapshot.
	srv.Registry().Register(j)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/jobs/"+j.ID+"/progress")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var p job.Progress
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.RecordsWritten != 100 || p.RecordsTotal != 500 {
		t.Errorf("progress = %+v", p)
	}
}

func TestDeleteJob(t *testing.T) {
	srv, store := testServer(t, nil)

	j := job.New([]job.SourceFile{{Path: "/exports/data.json", Kind: "data"}}, 100)
	if err := store.Save(j); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/jobs/"+j.ID)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, err := store.Get(j.ID); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("job should be gone, Get() = %v", err)
	}
}

func TestDeleteRunningJobRejected(t *testing.T) {
	srv, store := testServer(t, nil)

	j := job.New([]job.SourceFile{{Path: "/exports/data.json", Kind: "data"}}, 100)
	if err := store.Save(j); err != nil {
		t.Fatalf("Save() = %v", err)
	}
	srv.Registry().Register(j)

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/jobs/"+j.ID)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a running job", rec.Code)
	}
}

func TestTargetHealth(t *testing.T) {
	querier := &fakeQuerier{statuses: []graph.InstanceStatus{
		{Instance: "alpha-0", Status: "healthy"},
		{Instance: "alpha-1", Status: "healthy"},
	}}
	srv, _ := testServer(t, querier)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/target/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Healthy   bool                   `json:"healthy"`
		Instances []graph.InstanceStatus `json:"instances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.Healthy || len(body.Instances) != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestTargetHealthDegraded(t *testing.T) {
	querier := &fakeQuerier{statuses: []graph.InstanceStatus{
		{Instance: "alpha-0", Status: "healthy"},
		{Instance: "alpha-1", Status: "unhealthy"},
	}}
	srv, _ := testServer(t, querier)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/target/health")
	var body struct {
		Healthy bool `json:"healthy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Healthy {
		t.Error("one unhealthy instance should mark the target unhealthy")
	}
}

func TestTargetRoutesWithoutTarget(t *testing.T) {
	srv, _ := testServer(t, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/target/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without a configured target", rec.Code)
	}
}

func TestTargetHealthUpstreamError(t *testing.T) {
	srv, _ := testServer(t, &fakeQuerier{err: errors.New("connection refused")})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/target/health")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 when the target query fails", rec.Code)
	}
}

func TestTargetCount(t *testing.T) {
	srv, _ := testServer(t, &fakeQuerier{count: 42})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/target/count")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 42 {
		t.Errorf("count = %d, want 42", body.Count)
	}
}
