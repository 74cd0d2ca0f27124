// Package store provides audit log persistence interfaces and
// implementations.
package store

import (
	"context"
	"time"

	"epl-engine/internal/models"
)

// AuditLog defines the append-only decision audit store. Records are
// keyed by candidate ID; a replayed candidate never produces a second
// record.
type AuditLog interface {
	Append(ctx context.Context, result *models.EPLDecisionResult) error
	GetByCandidateID(ctx context.Context, candidateID string) (*models.EPLDecisionResult, error)
	List(ctx context.Context, filter DecisionFilter) ([]models.EPLDecisionResult, error)
	Stats(ctx context.Context, from, to time.Time) (*DecisionStats, error)
	Close() error
}

// DecisionFilter represents filters for querying decision records.
type DecisionFilter struct {
	Symbol    string
	Decision  models.EPLDecision
	Priority  models.PriorityClass
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// DecisionStats aggregates audit records over a date range.
type DecisionStats struct {
	Total         int
	ByDecision    map[models.EPLDecision]int
	ByIgnoreCode  map[models.IgnoreReason]int
	ByPriority    map[models.PriorityClass]int
	AvgScore      float64
	AvgConfidence float64
	AvgLatency    time.Duration
}
