package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/graphport/graphport/internal/domain/job"
)

func writeDataFile(t *testing.T, dir, name string, records int) string {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < records; i++ {
		fmt.Fprintf(&sb, "{\"name\":\"record-%d\"}\n", i)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) = %v", name, err)
	}
	return path
}

func sourceFor(t *testing.T, batchSize int, dataFiles ...string) *Source {
	t.Helper()
	var sources []job.SourceFile
	for _, f := range dataFiles {
		sources = append(sources, job.SourceFile{Path: f, Kind: "data"})
	}
	j := job.New(sources, batchSize)
	src, err := NewSource(j)
	if err != nil {
		t.Fatalf("NewSource() = %v", err)
	}
	return src
}

func TestStreamBatching(t *testing.T) {
	dir := t.TempDir()
	data := writeDataFile(t, dir, "data.json", 500)
	src := sourceFor(t, 100, data)

	records, err := src.CountRecords()
	if err != nil {
		t.Fatalf("CountRecords() = %v", err)
	}
	if records != 500 {
		t.Errorf("CountRecords() = %d, want 500", records)
	}

	batches, err := src.BatchCount()
	if err != nil {
		t.Fatalf("BatchCount() = %v", err)
	}
	if batches != 5 {
		t.Errorf("BatchCount() = %d, want 5", batches)
	}

	var got []Batch
	err = src.Stream(context.Background(), func(b Batch) error {
		got = append(got, b)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("streamed %d batches, want 5", len(got))
	}
	for i, b := range got {
		if b.Index != i {
			t.Errorf("batch %d has index %d", i, b.Index)
		}
		if b.Size() != 100 {
			t.Errorf("batch %d has %d records, want 100", i, b.Size())
		}
	}
}

func TestStreamSpansFileBoundaries(t *testing.T) {
	dir := t.TempDir()
	a := writeDataFile(t, dir, "a.json", 150)
	b := writeDataFile(t, dir, "b.json", 75)
	src := sourceFor(t, 100, a, b)

	var sizes []int64
	err := src.Stream(context.Background(), func(b Batch) error {
		sizes = append(sizes, b.Size())
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() = %v", err)
	}

	// 225 records at batch size 100: two full batches plus a 25-record tail.
	want := []int64{100, 100, 25}
	if len(sizes) != len(want) {
		t.Fatalf("sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestStreamSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	content := "{\"a\":1}\n\n  \n{\"b\":2}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	src := sourceFor(t, 10, path)

	records, err := src.CountRecords()
	if err != nil {
		t.Fatalf("CountRecords() = %v", err)
	}
	if records != 2 {
		t.Errorf("CountRecords() = %d, want 2", records)
	}
}

func TestStreamRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := os.WriteFile(path, []byte("{\"ok\":1}\nnot json\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	src := sourceFor(t, 10, path)

	err := src.Stream(context.Background(), func(Batch) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("Stream() = %v, want invalid JSON error with position", err)
	}
	if err != nil && !strings.Contains(err.Error(), ":2") {
		t.Errorf("Stream() = %v, want the line number in the error", err)
	}
}

func TestSchemaConcatenation(t *testing.T) {
	dir := t.TempDir()
	s1 := filepath.Join(dir, "one.rdf")
	s2 := filepath.Join(dir, "two.rdf")
	if err := os.WriteFile(s1, []byte("name: string ."), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	if err := os.WriteFile(s2, []byte("age: int .\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}

	j := job.New([]job.SourceFile{
		{Path: s1, Kind: "schema"},
		{Path: s2, Kind: "schema"},
	}, 100)
	src, err := NewSource(j)
	if err != nil {
		t.Fatalf("NewSource() = %v", err)
	}

	schema, err := src.Schema()
	if err != nil {
		t.Fatalf("Schema() = %v", err)
	}
	want := "name: string .\nage: int .\n"
	if string(schema) != want {
		t.Errorf("Schema() = %q, want %q", schema, want)
	}
}

func TestNewSourceRejectsBadBatchSize(t *testing.T) {
	j := job.New([]job.SourceFile{{Path: "/x", Kind: "data"}}, 0)
	if _, err := NewSource(j); err == nil {
		t.Error("NewSource() should reject batch size 0")
	}
}
