package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ongoingai/collector/internal/event"
	"github.com/ongoingai/collector/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresIndex mirrors samples into a shared Postgres database.
type PostgresIndex struct {
	DSN string
	db  *sql.DB
}

func NewPostgresIndex(dsn string) (*PostgresIndex, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	index := &PostgresIndex{DSN: dsn, db: db}
	if err := index.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	return index, nil
}

func (s *PostgresIndex) configure() error {
	s.db.SetMaxOpenConns(4)
	s.db.SetMaxIdleConns(2)
	s.db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *PostgresIndex) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresIndex) IndexSamples(ctx context.Context, folder string, samples []event.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin postgres batch transaction: %w", err)
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
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
	if err != nil {
		return fmt.Errorf("prepare postgres sample insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		row, err := newSampleRow(folder, sample)
		if err != nil {
			return err
		}
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
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit postgres samples: %w", err)
	}
	return nil
}

func (s *PostgresIndex) ListSamples(ctx context.Context, filter SampleFilter) ([]IndexedSample, error) {
	where, args := buildSampleWhere(filter, func(n int) string { return "$" + strconv.Itoa(n) })
	args = append(args, filter.limit())
	query := `SELECT ` + sampleSelectColumns + ` FROM samples` + where +
		` ORDER BY start_time_ms ASC, id ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query postgres samples: %w", err)
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
		return nil, fmt.Errorf("iterate postgres samples: %w", err)
	}
	return out, nil
}

func (s *PostgresIndex) ModelStats(ctx context.Context, filter SampleFilter) ([]ModelStats, error) {
	where, args := buildSampleWhere(filter, func(n int) string { return "$" + strconv.Itoa(n) })
	rows, err := s.db.QueryContext(ctx, modelStatsQuery(where), args...)
	if err != nil {
		return nil, fmt.Errorf("query postgres model stats: %w", err)
	}
	defer rows.Close()
	return scanModelStats(rows)
}
