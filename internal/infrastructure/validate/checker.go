// Package validate implements the post-migration validation checker.
package validate

import (
	"context"
	"fmt"

	"github.com/graphport/graphport/internal/domain/validation"
	"github.com/graphport/graphport/internal/pkg/logger"
)

// GraphReader is the slice of the graph client the checker needs.
type GraphReader interface {
	Count(ctx context.Context) (int64, error)
	Sample(ctx context.Context, n int) ([]map[string]any, error)
}

// Checker issues read-only queries against the target and compares the
// results with the expected values. It never mutates target state.
type Checker struct {
	reader         GraphReader
	sampleSize     int
	requiredFields []string
}

// NewChecker creates a checker. sampleSize records are fetched for the
// field checks; requiredFields may be empty to skip them.
func NewChecker(reader GraphReader, sampleSize int, requiredFields []string) *Checker {
	if sampleSize < 1 {
		sampleSize = 10
	}
	return &Checker{
		reader:         reader,
		sampleSize:     sampleSize,
		requiredFields: requiredFields,
	}
}

// Check runs the count and sample queries and produces a report. A non-nil
// error means validation itself could not run; a failing report means it ran
// and found mismatches.
func (c *Checker) Check(ctx context.Context, jobID string, expected int64) (*validation.Report, error) {
	report := validation.NewReport(jobID)

	observed, err := c.reader.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count query for job %s: %w", jobID, err)
	}
	report.AddCount(expected, observed)

	if len(c.requiredFields) > 0 {
		sample, err := c.reader.Sample(ctx, c.sampleSize)
		if err != nil {
			return nil, fmt.Errorf("sample query for job %s: %w", jobID, err)
		}
		c.checkSample(report, sample)
	}

	logger.WithJob(jobID).Info("validation complete",
		"pass", report.Pass, "checks", len(report.Checks))
	return report, nil
}

func (c *Checker) checkSample(report *validation.Report, sample []map[string]any) {
	if len(sample) == 0 {
		report.Add(validation.Check{
			Name:     "sample_records",
			Expected: fmt.Sprintf("up to %d records", c.sampleSize),
			Observed: "0 records",
			Pass:     false,
			Detail:   "sample query returned no records",
		})
		return
	}

	for _, field := range c.requiredFields {
		missing := 0
		for _, record := range sample {
			if v, ok := record[field]; !ok || v == nil {
				missing++
			}
		}
		report.Add(validation.Check{
			Name:     "required_field:" + field,
			Expected: fmt.Sprintf("present in %d sampled records", len(sample)),
			Observed: fmt.Sprintf("missing in %d", missing),
			Pass:     missing == 0,
		})
	}
}
