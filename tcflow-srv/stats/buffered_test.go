package stats

import (
	"context"
	"sync"
	"testing"
	"time"
)

// mockCollector records calls so buffering behaviour can be asserted.
type mockCollector struct {
	mu            sync.Mutex
	batchTotal    int64
	batchMatched  int64
	batchCalls    int
	packetCalls   int
	decisions     []DecisionRecord
	healthChecked bool
	closed        bool
}

func (m *mockCollector) RecordPacket(ctx context.Context, matched bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetCalls++
	return nil
}

func (m *mockCollector) RecordPacketBatch(ctx context.Context, total, matched int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	m.batchTotal += total
	m.batchMatched += matched
	return nil
}

func (m *mockCollector) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, rec)
	return nil
}

func (m *mockCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &OverviewStats{
		TotalPackets:   m.batchTotal,
		MatchedPackets: m.batchMatched,
	}, nil
}

func (m *mockCollector) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthChecked = true
	return nil
}

func (m *mockCollector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestBufferedCollectorBatchesPackets(t *testing.T) {
	backend := &mockCollector{}
	// Long flush interval so only the explicit flush below writes through.
	buffered := NewBufferedCollector(backend, time.Hour)
	defer buffered.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := buffered.RecordPacket(ctx, i < 3); err != nil {
			t.Fatalf("RecordPacket failed: %v", err)
		}
	}

	// Nothing hit the backend yet.
	backend.mu.Lock()
	calls := backend.batchCalls
	backend.mu.Unlock()
	if calls != 0 {
		t.Errorf("backend saw %d batch writes before flush", calls)
	}

	overview, err := buffered.GetOverviewStats(ctx)
	if err != nil {
		t.Fatalf("GetOverviewStats failed: %v", err)
	}
	if overview.TotalPackets != 10 || overview.MatchedPackets != 3 {
		t.Errorf("overview = %+v, want 10 total / 3 matched", overview)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.batchCalls != 1 {
		t.Errorf("backend saw %d batch writes, want 1", backend.batchCalls)
	}
	if backend.packetCalls != 0 {
		t.Errorf("backend saw %d per-packet writes, want batched path only", backend.packetCalls)
	}
}

func TestBufferedCollectorDecisionPassThrough(t *testing.T) {
	backend := &mockCollector{}
	buffered := NewBufferedCollector(backend, time.Hour)
	defer buffered.Close()

	rec := DecisionRecord{Protocol: "tcp", QoSTag: "QoS_treatment=low_priority"}
	if err := buffered.RecordDecision(context.Background(), rec); err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.decisions) != 1 || backend.decisions[0].Protocol != "tcp" {
		t.Errorf("backend decisions = %+v", backend.decisions)
	}
}

func TestBufferedCollectorCloseFlushes(t *testing.T) {
	backend := &mockCollector{}
	buffered := NewBufferedCollector(backend, time.Hour)

	buffered.RecordPacket(context.Background(), true)
	buffered.RecordPacket(context.Background(), false)

	if err := buffered.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close again is safe.
	if err := buffered.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.batchTotal != 2 || backend.batchMatched != 1 {
		t.Errorf("flushed counters = %d/%d, want 2/1", backend.batchTotal, backend.batchMatched)
	}
	if !backend.closed {
		t.Error("backend was not closed")
	}
}

func TestBufferedCollectorHealthCheckDelegates(t *testing.T) {
	backend := &mockCollector{}
	buffered := NewBufferedCollector(backend, time.Hour)
	defer buffered.Close()

	if err := buffered.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if !backend.healthChecked {
		t.Error("health check did not reach the backend")
	}
}
