package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRecord is the trail entry written for every gate decision.
type AuditRecord struct {
	ID         uuid.UUID
	At         time.Time
	Path       string
	Method     string
	UserID     string
	Roles      []string
	Required   []string
	RequireAll bool
	Allowed    bool
	Outcome    Outcome
	Reason     string
}

// AuditSink persists audit records.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// LogSink writes audit records as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements AuditSink.
func (s *LogSink) Record(ctx context.Context, rec AuditRecord) error {
	level := slog.LevelInfo
	if !rec.Allowed {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "gate decision",
		slog.String("audit_id", rec.ID.String()),
		slog.String("path", rec.Path),
		slog.String("method", rec.Method),
		slog.String("user_id", rec.UserID),
		slog.Any("roles", rec.Roles),
		slog.Any("required", rec.Required),
		slog.Bool("require_all", rec.RequireAll),
		slog.Bool("allowed", rec.Allowed),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("reason", rec.Reason),
	)
	return nil
}

// PGAuditSink stores audit records in the authz_audit table.
type PGAuditSink struct {
	pool *pgxpool.Pool
}

// NewPGAuditSink returns a new PGAuditSink.
func NewPGAuditSink(pool *pgxpool.Pool) *PGAuditSink {
	return &PGAuditSink{pool: pool}
}

// Record implements AuditSink.
func (s *PGAuditSink) Record(ctx context.Context, rec AuditRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("gate: audit pool not initialised")
	}
	var userID *string
	if rec.UserID != "" {
		userID = &rec.UserID
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO authz_audit (id, occurred_at, path, method, user_id, roles, required, require_all, allowed, outcome, reason)
VALUES ($1, $2, $3, $4, $5::uuid, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.At, rec.Path, rec.Method, userID, rec.Roles, rec.Required, rec.RequireAll, rec.Allowed, string(rec.Outcome), rec.Reason)
	return err
}

// MultiSink fans a record out to several sinks, returning the joined errors.
type MultiSink []AuditSink

// Record implements AuditSink.
func (m MultiSink) Record(ctx context.Context, rec AuditRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
