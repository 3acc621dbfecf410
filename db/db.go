package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/curatelab/curator/models"
)

// ErrNotFound is returned when an update targets a missing record
var ErrNotFound = errors.New("record not found")

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const contentTable = "content_records"

var recordColumns = []string{
	"id", "owner", "url", "title", "summary", "quality_score", "is_qualified",
	"analysis", "submission_id", "content_type", "source", "created_at", "updated_at",
}

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// New creates a new database connection and applies pending migrations
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing connection without migrating it
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// FindByOwnerURLs returns the owner's records stored under any of urls
func (db *DB) FindByOwnerURLs(ctx context.Context, owner string, urls []string) ([]*models.ContentRecord, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	query, args, err := psql.Select(recordColumns...).
		From(contentTable).
		Where(sq.Eq{"owner": owner, "url": urls}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// UpsertRecord inserts rec or, when (owner, url) already exists, overwrites the
// analysis fields of the existing row. The returned bool is true for an insert.
// rec.ID and rec.CreatedAt are replaced with the stored values.
func (db *DB) UpsertRecord(ctx context.Context, rec *models.ContentRecord) (bool, error) {
	analysis, err := marshalAnalysis(rec.Analysis)
	if err != nil {
		return false, err
	}

	query, args, err := psql.Insert(contentTable).
		Columns(recordColumns...).
		Values(rec.ID, rec.Owner, rec.URL, rec.Title, rec.Summary, rec.QualityScore, rec.IsQualified,
			analysis, nullString(rec.SubmissionID), rec.ContentType, rec.Source, rec.CreatedAt, rec.UpdatedAt).
		Suffix(`ON CONFLICT (owner, url) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			quality_score = EXCLUDED.quality_score,
			is_qualified = EXCLUDED.is_qualified,
			analysis = EXCLUDED.analysis,
			submission_id = EXCLUDED.submission_id,
			content_type = EXCLUDED.content_type,
			updated_at = EXCLUDED.updated_at
		RETURNING id, source, created_at, (xmax = 0) AS inserted`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	var inserted bool
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&rec.ID, &rec.Source, &rec.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert record: %w", err)
	}
	return inserted, nil
}

// UpdateByID overwrites a record in place, including its URL
func (db *DB) UpdateByID(ctx context.Context, rec *models.ContentRecord) error {
	analysis, err := marshalAnalysis(rec.Analysis)
	if err != nil {
		return err
	}

	query, args, err := psql.Update(contentTable).
		Set("url", rec.URL).
		Set("title", rec.Title).
		Set("summary", rec.Summary).
		Set("quality_score", rec.QualityScore).
		Set("is_qualified", rec.IsQualified).
		Set("analysis", analysis).
		Set("submission_id", nullString(rec.SubmissionID)).
		Set("content_type", rec.ContentType).
		Set("updated_at", rec.UpdatedAt).
		Where(sq.Eq{"id": rec.ID, "owner": rec.Owner}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertIfAbsent inserts rec unless (owner, url) is already taken. It
// reports whether the row was inserted.
func (db *DB) InsertIfAbsent(ctx context.Context, rec *models.ContentRecord) (bool, error) {
	analysis, err := marshalAnalysis(rec.Analysis)
	if err != nil {
		return false, err
	}

	query, args, err := psql.Insert(contentTable).
		Columns(recordColumns...).
		Values(rec.ID, rec.Owner, rec.URL, rec.Title, rec.Summary, rec.QualityScore, rec.IsQualified,
			analysis, nullString(rec.SubmissionID), rec.ContentType, rec.Source, rec.CreatedAt, rec.UpdatedAt).
		Suffix("ON CONFLICT (owner, url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListURLs returns every URL stored for owner
func (db *DB) ListURLs(ctx context.Context, owner string) ([]string, error) {
	query, args, err := psql.Select("url").
		From(contentTable).
		Where(sq.Eq{"owner": owner}).
		OrderBy("url").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}
	defer rows.Close()

	urls := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// ListByOwner returns one page of the owner's records, newest first, and the
// total number of records matching the filter
func (db *DB) ListByOwner(ctx context.Context, owner string, filter models.ContentFilter) ([]*models.ContentRecord, int, error) {
	where := sq.And{sq.Eq{"owner": owner}}
	if filter.ContentType != "" {
		where = append(where, sq.Eq{"content_type": filter.ContentType})
	}
	if filter.MinScore != nil {
		where = append(where, sq.GtOrEq{"quality_score": *filter.MinScore})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From(contentTable).Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	sel := psql.Select(recordColumns...).
		From(contentTable).
		Where(where).
		OrderBy("created_at DESC", "id")
	if filter.Limit > 0 {
		sel = sel.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		sel = sel.Offset(uint64(filter.Offset))
	}

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Stats aggregates the owner's records per content type. Qualified counts
// use threshold, so they follow the owner's current setting.
func (db *DB) Stats(ctx context.Context, owner string, threshold int) ([]models.TypeStats, error) {
	query, args, err := psql.Select("content_type", "COUNT(*)", "COALESCE(AVG(quality_score), 0)").
		Column(sq.Expr("COUNT(*) FILTER (WHERE quality_score >= ?)", threshold)).
		From(contentTable).
		Where(sq.Eq{"owner": owner}).
		GroupBy("content_type").
		OrderBy("COUNT(*) DESC", "content_type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := []models.TypeStats{}
	for rows.Next() {
		var s models.TypeStats
		if err := rows.Scan(&s.ContentType, &s.Count, &s.AverageScore, &s.Qualified); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Count returns the total number of stored records
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+contentTable).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// GetThreshold returns the owner's stored threshold. The bool is false when
// the owner never set one.
func (db *DB) GetThreshold(ctx context.Context, owner string) (int, bool, error) {
	var value int
	err := db.conn.QueryRowContext(ctx,
		"SELECT threshold FROM threshold_settings WHERE owner = $1", owner,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get threshold: %w", err)
	}
	return value, true, nil
}

// SetThreshold stores the owner's threshold
func (db *DB) SetThreshold(ctx context.Context, owner string, value int) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO threshold_settings (owner, threshold, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner) DO UPDATE SET
			threshold = EXCLUDED.threshold,
			updated_at = EXCLUDED.updated_at
	`, owner, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set threshold: %w", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]*models.ContentRecord, error) {
	var records []*models.ContentRecord
	for rows.Next() {
		var (
			rec          models.ContentRecord
			analysis     []byte
			submissionID sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.Owner, &rec.URL, &rec.Title, &rec.Summary, &rec.QualityScore, &rec.IsQualified,
			&analysis, &submissionID, &rec.ContentType, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if len(analysis) > 0 {
			rec.Analysis = &models.Analysis{}
			if err := json.Unmarshal(analysis, rec.Analysis); err != nil {
				return nil, fmt.Errorf("failed to unmarshal analysis for %s: %w", rec.ID, err)
			}
		}
		rec.SubmissionID = submissionID.String
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// marshalAnalysis encodes the analysis column; nil stays NULL
func marshalAnalysis(a *models.Analysis) (interface{}, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
