package workqueue

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// TypeReport holds funnel counts for one work type. Every started item once
// was new and every finished or deleted item counts as started.
type TypeReport struct {
	Type         string `json:"type"`
	NewCount     int64  `json:"new_count"`
	StartCount   int64  `json:"start_count"`
	SuccessCount int64  `json:"success_count"`
	ErrorCount   int64  `json:"error_count"`
	DeleteCount  int64  `json:"delete_count"`
}

// GetReport aggregates work per type, sorted by type.
func (q *Queue) GetReport(ctx context.Context, filter ReportFilter) ([]TypeReport, error) {
	counts, err := q.repo.ReportCounts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build report: %w", err)
	}
	return BuildReport(counts), nil
}

// BuildReport folds per-status counts into funnel reports:
// StartCount = ALLOCATED + SUCCESS + FAILED + DELETED and NewCount = NEW + StartCount.
func BuildReport(counts []StatusCount) []TypeReport {
	byType := make(map[string]*TypeReport)
	for _, c := range counts {
		r, ok := byType[c.Type]
		if !ok {
			r = &TypeReport{Type: c.Type}
			byType[c.Type] = r
		}
		switch c.Status {
		case StatusNew:
			r.NewCount += c.Count
		case StatusAllocated:
			r.StartCount += c.Count
		case StatusSuccess:
			r.SuccessCount += c.Count
		case StatusFailed:
			r.ErrorCount += c.Count
		case StatusDeleted:
			r.DeleteCount += c.Count
		}
	}

	out := make([]TypeReport, 0, len(byType))
	for _, r := range byType {
		r.StartCount += r.SuccessCount + r.ErrorCount + r.DeleteCount
		r.NewCount += r.StartCount
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b TypeReport) int { return strings.Compare(a.Type, b.Type) })
	return out
}
