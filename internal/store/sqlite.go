package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/collector/internal/event"
	"github.com/ongoingai/collector/migrations"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// SQLiteIndex mirrors samples into a local SQLite database.
type SQLiteIndex struct {
	Path string
	db   *sql.DB
	// SQLite allows one writer at a time.
	writeMu sync.Mutex
}

func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	index := &SQLiteIndex{Path: path, db: db}
	if err := index.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return index, nil
}

func (s *SQLiteIndex) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IndexSamples inserts the batch in one transaction.
func (s *SQLiteIndex) IndexSamples(ctx context.Context, folder string, samples []event.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]sampleRow, 0, len(samples))
	for _, sample := range samples {
		row, err := newSampleRow(folder, sample)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sqlite batch transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO samples (
    data_folder,
    tag,
    model,
    provider,
    url,
    location_file,
    location_line,
    start_time_ms,
    end_time_ms,
    duration_ms,
    input_tokens,
    output_tokens,
    total_tokens,
    sample_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare sqlite sample insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx,
				row.DataFolder,
				row.Tag,
				row.Model,
				row.Provider,
				row.URL,
				row.LocationFile,
				row.LocationLine,
				row.StartTimeMS,
				row.EndTimeMS,
				row.DurationMS,
				row.InputTokens,
				row.OutputTokens,
				row.TotalTokens,
				row.SampleJSON,
			); err != nil {
				return fmt.Errorf("insert sample: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("index %d samples: %w", len(rows), err)
	}
	return nil
}

func (s *SQLiteIndex) ListSamples(ctx context.Context, filter SampleFilter) ([]IndexedSample, error) {
	where, args := buildSampleWhere(filter, func(int) string { return "?" })
	args = append(args, filter.limit())
	query := `SELECT ` + sampleSelectColumns + ` FROM samples` + where + ` ORDER BY start_time_ms ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sqlite samples: %w", err)
	}
	defer rows.Close()

	var out []IndexedSample
	for rows.Next() {
		item, err := scanIndexedSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sqlite samples: %w", err)
	}
	return out, nil
}

func (s *SQLiteIndex) ModelStats(ctx context.Context, filter SampleFilter) ([]ModelStats, error) {
	where, args := buildSampleWhere(filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, modelStatsQuery(where), args...)
	if err != nil {
		return nil, fmt.Errorf("query sqlite model stats: %w", err)
	}
	defer rows.Close()
	return scanModelStats(rows)
}

// buildSampleWhere renders filter conditions; placeholder maps a 1-based
// argument position to the driver's bind syntax.
func buildSampleWhere(filter SampleFilter, placeholder func(int) string) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	add := func(column, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, column+" = "+placeholder(len(args)))
	}
	add("data_folder", filter.DataFolder)
	add("tag", filter.Tag)
	add("model", filter.Model)
	add("provider", filter.Provider)
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// retrySQLiteBusy retries transient lock contention, such as another
// process holding the database.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		err   error
		timer *time.Timer
	)
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	defer stopTimer()

	for retries := 0; ; retries++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			stopTimer()
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}
