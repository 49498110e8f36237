package store

import (
	"context"
	"database/sql"
)

// RequestLogRow is one append-only request log entry.
type RequestLogRow struct {
	ID        string
	Method    string
	Path      string
	Model     string
	Status    int
	Duration  int64
	IP        string
	CreatedAt int64 // unix millis
}

// SyncLogRow is one append-only sync log entry.
type SyncLogRow struct {
	ID           string
	ProviderID   string
	ProviderName string
	Model        string
	Result       string // "success" or "failure"
	Message      string
	CreatedAt    int64
}

// InsertLogBatch performs both multi-row inserts in one transaction,
// matching the log batcher's periodic flush behavior.
func (s *Store) InsertLogBatch(ctx context.Context, requests []RequestLogRow, syncs []SyncLogRow) error {
	if len(requests) == 0 && len(syncs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if len(requests) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO request_logs (id, method, path, model, status, duration, ip, createdAt)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range requests {
			if _, err := stmt.ExecContext(ctx, r.ID, r.Method, r.Path, r.Model, r.Status, r.Duration, r.IP, r.CreatedAt); err != nil {
				return err
			}
		}
	}

	if len(syncs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sync_logs (id, providerId, providerName, model, result, message, createdAt)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range syncs {
			if _, err := stmt.ExecContext(ctx, r.ID, r.ProviderID, r.ProviderName, r.Model, r.Result, r.Message, r.CreatedAt); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// LogFilter narrows a request/sync log listing for the admin API.
type LogFilter struct {
	Method       string
	Path         string
	Model        string
	Status       *int
	ProviderName string
	Result       string
	Limit        int
	Offset       int
}

// ListRequestLogs returns request logs newest-first, honoring filter.
func (s *Store) ListRequestLogs(ctx context.Context, f LogFilter) ([]RequestLogRow, error) {
	query := `SELECT id, method, path, model, status, duration, ip, createdAt FROM request_logs WHERE 1=1`
	var args []any
	if f.Method != "" {
		query += ` AND method = ?`
		args = append(args, f.Method)
	}
	if f.Path != "" {
		query += ` AND path LIKE ?`
		args = append(args, "%"+f.Path+"%")
	}
	if f.Model != "" {
		query += ` AND model = ?`
		args = append(args, f.Model)
	}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, *f.Status)
	}
	query += ` ORDER BY createdAt DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RequestLogRow
	for rows.Next() {
		var r RequestLogRow
		var model sql.NullString
		var ip sql.NullString
		if err := rows.Scan(&r.ID, &r.Method, &r.Path, &model, &r.Status, &r.Duration, &ip, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Model = model.String
		r.IP = ip.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSyncLogs returns sync logs newest-first, honoring filter.
func (s *Store) ListSyncLogs(ctx context.Context, f LogFilter) ([]SyncLogRow, error) {
	query := `SELECT id, providerId, providerName, model, result, message, createdAt FROM sync_logs WHERE 1=1`
	var args []any
	if f.ProviderName != "" {
		query += ` AND providerName LIKE ?`
		args = append(args, "%"+f.ProviderName+"%")
	}
	if f.Model != "" {
		query += ` AND model = ?`
		args = append(args, f.Model)
	}
	if f.Result != "" {
		query += ` AND result = ?`
		args = append(args, f.Result)
	}
	query += ` ORDER BY createdAt DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncLogRow
	for rows.Next() {
		var r SyncLogRow
		var message sql.NullString
		if err := rows.Scan(&r.ID, &r.ProviderID, &r.ProviderName, &r.Model, &r.Result, &message, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Message = message.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRequestLogs returns the total number of request log rows.
func (s *Store) CountRequestLogs(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs`).Scan(&n)
	return n, err
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}
