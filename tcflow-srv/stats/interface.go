// Package stats records classification outcomes for later analysis. The
// Collector interface has a no-op, a SQLite and a PostgreSQL
// implementation, selected by configuration through the factory.
package stats

import (
	"context"
	"time"
)

// DecisionRecord is one finalised flow classification.
type DecisionRecord struct {
	Protocol      string
	IPA           string
	IPB           string
	PortA         uint16
	PortB         uint16
	Samples       int
	MaxPacketSize int
	MinInterval   float64
	MaxInterval   float64
	Ratio         float64
	QoSTag        string
	DecidedAt     time.Time
}

// OverviewStats summarises recorded activity for operational checks.
type OverviewStats struct {
	TotalPackets     int64
	MatchedPackets   int64
	TotalDecisions   int64
	LowPriorityFlows int64
}

// Collector defines the interface for recording classification statistics.
type Collector interface {
	// RecordPacket counts a processed packet-in event.
	RecordPacket(ctx context.Context, matched bool) error

	// RecordDecision stores a finalised flow classification.
	RecordDecision(ctx context.Context, rec DecisionRecord) error

	// GetOverviewStats returns aggregate counters.
	GetOverviewStats(ctx context.Context) (*OverviewStats, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}
