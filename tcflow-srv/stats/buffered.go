package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
)

// BufferedCollector wraps a Collector and batches the per-packet counters
// so the hot path never touches the database. Packet counts accumulate in
// atomics and are flushed on an interval and on Close; decisions are rare
// (one per finalised flow) and pass straight through.
type BufferedCollector struct {
	backend Collector

	total   atomic.Int64
	matched atomic.Int64

	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewBufferedCollector wraps backend with counter batching at the given
// flush interval.
func NewBufferedCollector(backend Collector, flushInterval time.Duration) *BufferedCollector {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	b := &BufferedCollector{
		backend:       backend,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go b.flushLoop()
	return b
}

func (b *BufferedCollector) flushLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stop:
			b.flush()
			return
		}
	}
}

// PacketBatchRecorder is an optional extension backends implement to accept
// accumulated packet counters in one write.
type PacketBatchRecorder interface {
	RecordPacketBatch(ctx context.Context, total, matched int64) error
}

// flush pushes the accumulated packet counters to the backend.
func (b *BufferedCollector) flush() {
	total := b.total.Swap(0)
	matched := b.matched.Swap(0)
	if total == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if batcher, ok := b.backend.(PacketBatchRecorder); ok {
		if err := batcher.RecordPacketBatch(ctx, total, matched); err != nil {
			logger.Error("stats: failed to flush packet counters: %v", err)
		}
		return
	}
	for i := int64(0); i < total; i++ {
		if err := b.backend.RecordPacket(ctx, i < matched); err != nil {
			logger.Error("stats: failed to flush packet counters: %v", err)
			return
		}
	}
}

// RecordPacket accumulates the packet in memory.
func (b *BufferedCollector) RecordPacket(ctx context.Context, matched bool) error {
	b.total.Add(1)
	if matched {
		b.matched.Add(1)
	}
	return nil
}

// RecordDecision passes the decision straight through to the backend.
func (b *BufferedCollector) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	return b.backend.RecordDecision(ctx, rec)
}

// GetOverviewStats flushes pending counters first so the view is current.
func (b *BufferedCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	b.flush()
	return b.backend.GetOverviewStats(ctx)
}

// HealthCheck delegates to the backend.
func (b *BufferedCollector) HealthCheck(ctx context.Context) error {
	return b.backend.HealthCheck(ctx)
}

// Close flushes pending counters and closes the backend.
func (b *BufferedCollector) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
	return b.backend.Close()
}
