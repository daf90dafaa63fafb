// Package migrate implements the migration runner: schema application
// followed by concurrent, retried bulk record writes.
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/graphport/graphport/internal/domain/job"
)

// Batch is a bounded group of records submitted as one write operation.
type Batch struct {
	Index   int
	Records []json.RawMessage
}

// Size returns the number of records in the batch.
func (b Batch) Size() int64 {
	return int64(len(b.Records))
}

// Source reads migration input: one schema document plus line-delimited JSON
// record files, yielded as fixed-size batches in file order.
type Source struct {
	schema    []job.SourceFile
	data      []job.SourceFile
	batchSize int
}

// NewSource builds a source from the job's file references.
func NewSource(j *job.Job) (*Source, error) {
	if j.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", j.BatchSize)
	}
	return &Source{
		schema:    j.SchemaSources(),
		data:      j.DataSources(),
		batchSize: j.BatchSize,
	}, nil
}

// Schema reads and concatenates the schema documents in input order.
func (s *Source) Schema() ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range s.schema {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", f.Path, err)
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// CountRecords scans the data files and returns the total record count,
// used for progress totals before streaming begins.
func (s *Source) CountRecords() (int64, error) {
	var total int64
	for _, f := range s.data {
		n, err := countLines(f.Path)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// BatchCount returns the number of batches the data files produce.
func (s *Source) BatchCount() (int, error) {
	total, err := s.CountRecords()
	if err != nil {
		return 0, err
	}
	return int((total + int64(s.batchSize) - 1) / int64(s.batchSize)), nil
}

// Stream reads the data files and invokes fn for each batch. Batches span
// file boundaries so every batch except the last holds exactly batchSize
// records. Streaming stops at the first fn error or context cancellation.
func (s *Source) Stream(ctx context.Context, fn func(Batch) error) error {
	var (
		records []json.RawMessage
		index   int
	)

	flush := func() error {
		if len(records) == 0 {
			return nil
		}
		b := Batch{Index: index, Records: records}
		records = nil
		index++
		return fn(b)
	}

	for _, f := range s.data {
		if err := s.streamFile(ctx, f.Path, &records, flush); err != nil {
			return err
		}
	}
	return flush()
}

func (s *Source) streamFile(ctx context.Context, path string, records *[]json.RawMessage, flush func() error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open data file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return fmt.Errorf("%s:%d: invalid JSON record", path, line)
		}

		*records = append(*records, json.RawMessage(append([]byte(nil), raw...)))
		if len(*records) == s.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read data file %s: %w", path, err)
	}
	return nil
}

func countLines(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open data file %s: %w", path, err)
	}
	defer file.Close()

	var n int64
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read data file %s: %w", path, err)
	}
	return n, nil
}
