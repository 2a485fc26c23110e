package stats

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
)

// SQLiteCollector implements Collector using SQLite as the backend
type SQLiteCollector struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flow_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	protocol TEXT NOT NULL,
	ip_a TEXT NOT NULL,
	ip_b TEXT NOT NULL,
	port_a INTEGER NOT NULL,
	port_b INTEGER NOT NULL,
	samples INTEGER NOT NULL,
	max_packet_size INTEGER NOT NULL,
	min_interval REAL NOT NULL,
	max_interval REAL NOT NULL,
	ratio REAL NOT NULL,
	qos_tag TEXT NOT NULL,
	decided_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flow_decisions_decided_at ON flow_decisions(decided_at);
CREATE TABLE IF NOT EXISTS packet_counters (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total INTEGER NOT NULL DEFAULT 0,
	matched INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO packet_counters (id, total, matched) VALUES (1, 0, 0);
`

// NewSQLiteCollector creates a new SQLite-based statistics collector
func NewSQLiteCollector(dbPath string) (*SQLiteCollector, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("Initialized stats collector sqlite")

	return &SQLiteCollector{db: db}, nil
}

// RecordPacket counts a processed packet-in event
func (s *SQLiteCollector) RecordPacket(ctx context.Context, matched bool) error {
	matchedDelta := 0
	if matched {
		matchedDelta = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE packet_counters SET total = total + 1, matched = matched + ? WHERE id = 1`,
		matchedDelta)
	if err != nil {
		return fmt.Errorf("failed to record packet: %w", err)
	}
	return nil
}

// RecordPacketBatch adds accumulated packet counters in one write
func (s *SQLiteCollector) RecordPacketBatch(ctx context.Context, total, matched int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE packet_counters SET total = total + ?, matched = matched + ? WHERE id = 1`,
		total, matched)
	if err != nil {
		return fmt.Errorf("failed to record packet batch: %w", err)
	}
	return nil
}

// RecordDecision stores a finalised flow classification
func (s *SQLiteCollector) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flow_decisions (protocol, ip_a, ip_b, port_a, port_b, samples,
			max_packet_size, min_interval, max_interval, ratio, qos_tag, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Protocol, rec.IPA, rec.IPB, rec.PortA, rec.PortB, rec.Samples,
		rec.MaxPacketSize, rec.MinInterval, rec.MaxInterval, rec.Ratio,
		rec.QoSTag, rec.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// GetOverviewStats returns aggregate counters
func (s *SQLiteCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	overview := &OverviewStats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT total, matched FROM packet_counters WHERE id = 1`).
		Scan(&overview.TotalPackets, &overview.MatchedPackets)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query packet counters: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
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
func (s *SQLiteCollector) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteCollector) Close() error {
	return s.db.Close()
}
