package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/graphport/graphport/internal/domain/target"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tgt, err := target.New(srv.URL, 0, "")
	if err != nil {
		t.Fatalf("target.New() = %v", err)
	}
	return NewClient(tgt, WithAuthToken("test-token"))
}

func TestMutate(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string][]json.RawMessage

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotToken = r.Header.Get("X-Auth-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(MutateResult{Written: 2})
	}))

	records := []json.RawMessage{
		json.RawMessage(`{"name":"a"}`),
		json.RawMessage(`{"name":"b"}`),
	}
	result, err := client.Mutate(context.Background(), records)
	if err != nil {
		t.Fatalf("Mutate() = %v", err)
	}
	if result.Written != 2 {
		t.Errorf("Written = %d, want 2", result.Written)
	}
	if gotPath != "/mutate?commitNow=true" {
		t.Errorf("path = %q", gotPath)
	}
	if gotToken != "test-token" {
		t.Errorf("X-Auth-Token = %q", gotToken)
	}
	if len(gotBody["set"]) != 2 {
		t.Errorf("request body set = %v", gotBody["set"])
	}
}

func TestMutateServerErrors(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(MutateResult{Written: 1, Errors: []string{"uid clash"}})
	}))

	_, err := client.Mutate(context.Background(), []json.RawMessage{json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("Mutate() should surface server-reported errors")
	}
	if IsTransient(err) {
		t.Error("server-reported data errors are not transient")
	}
}

func TestStatusCodeClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))

			_, err := client.Mutate(context.Background(), []json.RawMessage{json.RawMessage(`{}`)})
			if err == nil {
				t.Fatal("Mutate() should fail")
			}
			if got := IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, got, tt.wantTransient)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `[
			{"instance":"alpha-0","status":"healthy","version":"v23.1","uptime":120},
			{"instance":"alpha-1","status":"unhealthy","version":"v23.1","uptime":3}
		]`)
	}))

	statuses, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if !statuses[0].Healthy() {
		t.Error("alpha-0 should be healthy")
	}
	if statuses[1].Healthy() {
		t.Error("alpha-1 should not be healthy")
	}
}

func TestCount(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":{"total":[{"count":150000}]}}`)
	}))

	count, err := client.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 150000 {
		t.Errorf("Count() = %d, want 150000", count)
	}
}

func TestCountEmptyResult(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"total":[]}}`)
	}))

	count, err := client.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}
}

func TestSample(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"sample":[{"uid":"0x1","name":"a"},{"uid":"0x2","name":"b"}]}}`)
	}))

	sample, err := client.Sample(context.Background(), 10)
	if err != nil {
		t.Fatalf("Sample() = %v", err)
	}
	if len(sample) != 2 {
		t.Fatalf("got %d records, want 2", len(sample))
	}
	if sample[0]["name"] != "a" {
		t.Errorf("sample[0] = %v", sample[0])
	}
}

func TestAlter(t *testing.T) {
	var gotSchema []byte
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/alter" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotSchema, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{}`)
	}))

	schema := []byte("name: string @index(term) .\n")
	if err := client.Alter(context.Background(), schema); err != nil {
		t.Fatalf("Alter() = %v", err)
	}
	if string(gotSchema) != string(schema) {
		t.Errorf("schema sent = %q", gotSchema)
	}
}
