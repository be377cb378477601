package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/alerts"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
)

// schemaSQL is compiled into the binary so schema init works in images that
// do not ship the source tree.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore archives reports and alerts in PostgreSQL. It implements
// ReportStore and alerts.Sink.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// Connect initializes the connection pool and checks connectivity.
func Connect(ctx context.Context, connStr string, timeout time.Duration, log *logger.Logger) (*PostgresStore, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	l := logger.OrNop(log).WithComponent("postgres")
	l.Info("connected to PostgreSQL report archive")
	return &PostgresStore{pool: pool, log: l}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.log.Info("report archive schema initialized")
	return nil
}

// SaveReport upserts a report by id.
func (s *PostgresStore) SaveReport(ctx context.Context, r Report) error {
	const sql = `
		INSERT INTO analysis_reports (id, kind, entity_id, risk_score, risk_level, policy, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			payload = EXCLUDED.payload,
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level;
	`
	_, err := s.pool.Exec(ctx, sql, r.ID, r.Kind, r.EntityID, r.RiskScore, r.RiskLevel, r.Policy, []byte(r.Payload), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	return nil
}

// GetReport loads one report.
func (s *PostgresStore) GetReport(ctx context.Context, id string) (Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Report{}, ErrReportNotFound
	}
	const sql = `
		SELECT id::text, kind, entity_id, risk_score, risk_level, policy, payload, created_at
		FROM analysis_reports WHERE id = $1
	`
	r, err := scanReport(s.pool.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Report{}, ErrReportNotFound
	}
	if err != nil {
		return Report{}, fmt.Errorf("load report %s: %w", id, err)
	}
	return r, nil
}

// ListReports returns the newest reports, optionally for one entity.
func (s *PostgresStore) ListReports(ctx context.Context, entityID string, limit int) ([]Report, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const sql = `
		SELECT id::text, kind, entity_id, risk_score, risk_level, policy, payload, created_at
		FROM analysis_reports
		WHERE $1 = '' OR entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, sql, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

func scanReport(row pgx.Row) (Report, error) {
	var r Report
	var payload []byte
	if err := row.Scan(&r.ID, &r.Kind, &r.EntityID, &r.RiskScore, &r.RiskLevel, &r.Policy, &payload, &r.CreatedAt); err != nil {
		return Report{}, err
	}
	r.Payload = json.RawMessage(payload)
	return r, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

// Publish archives an alert. It makes the store usable as an alert sink.
func (s *PostgresStore) Publish(ctx context.Context, a alerts.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	const sql = `
		INSERT INTO alerts (id, severity, alert_type, entity_id, title, payload, raised_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, sql, a.ID, a.Severity, a.AlertType, a.EntityID, a.Title, payload, a.Timestamp); err != nil {
		s.log.Warn("failed to archive alert", zap.String("alert", a.ID), zap.Error(err))
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}
