// Package memory persists processed commands and policy audit entries in
// SQLite.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"deskpilot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ExecutionStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.ExecutionStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) RecordExecution(ctx context.Context, exec domain.Execution) error {
	rec := domain.NewExecutionRecord(exec)

	params, err := marshalOptional(rec.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	data, err := marshalOptional(rec.Data)
	if err != nil {
		return fmt.Errorf("encode result data: %w", err)
	}
	suggestions, err := marshalOptional(rec.Suggestions)
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions
		 (id, source, command, intent, action, tool_name, confidence, parameters,
		  success, message, error, data, suggestions, execution_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Source, rec.Command, rec.Intent, rec.Action, rec.ToolName, rec.Confidence, params,
		rec.Success, rec.Message, rec.Error, data, suggestions, rec.ExecutionTime, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record execution %s: %w", rec.ID, err)
	}
	return nil
}

// RecentExecutions returns up to limit executions, newest first.
func (s *SQLiteStore) RecentExecutions(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, command, intent, action, tool_name, confidence, parameters,
		        success, message, error, data, suggestions, execution_time, created_at
		 FROM executions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ExecutionRecord
	for rows.Next() {
		var r domain.ExecutionRecord
		var toolName, message, errText, params, data, suggestions sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &r.Command, &r.Intent, &r.Action, &toolName,
			&r.Confidence, &params, &r.Success, &message, &errText, &data, &suggestions,
			&r.ExecutionTime, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ToolName = toolName.String
		r.Message = message.String
		r.Error = errText.String
		if err := unmarshalOptional(params, &r.Parameters); err != nil {
			s.logger.Warn("bad stored parameters", "execution", r.ID, "err", err)
		}
		if err := unmarshalOptional(data, &r.Data); err != nil {
			s.logger.Warn("bad stored result data", "execution", r.ID, "err", err)
		}
		if err := unmarshalOptional(suggestions, &r.Suggestions); err != nil {
			s.logger.Warn("bad stored suggestions", "execution", r.ID, "err", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Stats returns the number of stored executions and how many succeeded.
func (s *SQLiteStore) Stats(ctx context.Context) (total, succeeded int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM executions`,
	).Scan(&total, &succeeded)
	return total, succeeded, err
}

// Prune deletes executions and audit entries older than retention.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, cutoff); err != nil {
		return n, fmt.Errorf("prune audit log: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, tool_name, command, result, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Action, entry.ToolName, entry.Command, entry.Result, entry.Details, time.Now().UTC(),
	)
	return err
}

// AuditEntries returns up to limit audit entries, newest first.
func (s *SQLiteStore) AuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, tool_name, command, result, details
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var toolName, command, result, details sql.NullString
		if err := rows.Scan(&e.Action, &toolName, &command, &result, &details); err != nil {
			return nil, err
		}
		e.ToolName = toolName.String
		e.Command = command.String
		e.Result = result.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalOptional(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalOptional(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}
