package stats

import (
	"context"
)

// DummyCollector is a no-op implementation of Collector.
// It does nothing and is used when statistics collection is disabled.
type DummyCollector struct{}

// NewDummyCollector creates a new dummy collector
func NewDummyCollector() *DummyCollector {
	return &DummyCollector{}
}

// RecordPacket counts a processed packet (no-op)
func (d *DummyCollector) RecordPacket(ctx context.Context, matched bool) error {
	return nil
}

// RecordDecision stores a flow decision (no-op)
func (d *DummyCollector) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	return nil
}

// GetOverviewStats returns empty stats for dummy collector
func (d *DummyCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	return &OverviewStats{}, nil
}

// HealthCheck always returns healthy for dummy collector
func (d *DummyCollector) HealthCheck(ctx context.Context) error {
	return nil
}

// Close does nothing for dummy collector
func (d *DummyCollector) Close() error {
	return nil
}
