package stats

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
)

// PostgreSQLCollector implements Collector using PostgreSQL as the backend
type PostgreSQLCollector struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flow_decisions (
	id BIGSERIAL PRIMARY KEY,
	protocol TEXT NOT NULL,
	ip_a TEXT NOT NULL,
	ip_b TEXT NOT NULL,
	port_a INTEGER NOT NULL,
	port_b INTEGER NOT NULL,
	samples INTEGER NOT NULL,
	max_packet_size INTEGER NOT NULL,
	min_interval DOUBLE PRECISION NOT NULL,
	max_interval DOUBLE PRECISION NOT NULL,
	ratio DOUBLE PRECISION NOT NULL,
	qos_tag TEXT NOT NULL,
	decided_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flow_decisions_decided_at ON flow_decisions(decided_at);
CREATE TABLE IF NOT EXISTS packet_counters (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total BIGINT NOT NULL DEFAULT 0,
	matched BIGINT NOT NULL DEFAULT 0
);
INSERT INTO packet_counters (id, total, matched) VALUES (1, 0, 0)
	ON CONFLICT (id) DO NOTHING;
`

// NewPostgreSQLCollector creates a new PostgreSQL-based statistics collector
func NewPostgreSQLCollector(dsn string) (*PostgreSQLCollector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("Initialized stats collector postgres")

	return &PostgreSQLCollector{db: db}, nil
}

// RecordPacket counts a processed packet-in event
func (p *PostgreSQLCollector) RecordPacket(ctx context.Context, matched bool) error {
	matchedDelta := 0
	if matched {
		matchedDelta = 1
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE packet_counters SET total = total + 1, matched = matched + $1 WHERE id = 1`,
		matchedDelta)
	if err != nil {
		return fmt.Errorf("failed to record packet: %w", err)
	}
	return nil
}

// RecordPacketBatch adds accumulated packet counters in one write
func (p *PostgreSQLCollector) RecordPacketBatch(ctx context.Context, total, matched int64) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE packet_counters SET total = total + $1, matched = matched + $2 WHERE id = 1`,
		total, matched)
	if err != nil {
		return fmt.Errorf("failed to record packet batch: %w", err)
	}
	return nil
}

// RecordDecision stores a finalised flow classification
func (p *PostgreSQLCollector) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO flow_decisions (protocol, ip_a, ip_b, port_a, port_b, samples,
			max_packet_size, min_interval, max_interval, ratio, qos_tag, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.Protocol, rec.IPA, rec.IPB, rec.PortA, rec.PortB, rec.Samples,
		rec.MaxPacketSize, rec.MinInterval, rec.MaxInterval, rec.Ratio,
		rec.QoSTag, rec.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// GetOverviewStats returns aggregate counters
func (p *PostgreSQLCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	overview := &OverviewStats{}

	err := p.db.QueryRowContext(ctx,
		`SELECT total, matched FROM packet_counters WHERE id = 1`).
		Scan(&overview.TotalPackets, &overview.MatchedPackets)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query packet counters: %w", err)
	}

	err = p.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COUNT(CASE WHEN qos_tag LIKE '%low_priority%' THEN 1 END)
		 FROM flow_decisions`).
		Scan(&overview.TotalDecisions, &overview.LowPriorityFlows)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow decisions: %w", err)
	}

	return overview, nil
}

// HealthCheck verifies the database is reachable
func (p *PostgreSQLCollector) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgreSQLCollector) Close() error {
	return p.db.Close()
}
