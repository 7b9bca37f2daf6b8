package table

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // sqlite driver
)

const sourcesTable = "sources"

// startedAtLayout has a fixed width so that start times sort as text.
const startedAtLayout = "2006-01-02T15:04:05.000000000Z"

// OpenSQLite opens the catalog database and creates the run table.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL
	)`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "unable to create runs table")
	}
	return db, nil
}

// SQLiteWriter persists source records of one run.
type SQLiteWriter struct {
	mu     sync.Mutex
	db     *sql.DB
	schema *Schema
	runID  string
	insert *sql.Stmt
}

// NewSQLiteWriter registers runID and creates the sources table for schema.
func NewSQLiteWriter(ctx context.Context, db *sql.DB, schema *Schema, runID string) (*SQLiteWriter, error) {
	columns := []string{
		"run_id TEXT NOT NULL",
		"id INTEGER NOT NULL",
		"centroid_x REAL",
		"centroid_y REAL",
	}
	for _, f := range schema.fields {
		columns = append(columns, fmt.Sprintf("%s %s", f.Name, f.Type.sqlType()))
	}
	columns = append(columns, "PRIMARY KEY (run_id, id)")

	_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", sourcesTable, strings.Join(columns, ",\n\t")))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create sources table")
	}
	_, err = db.ExecContext(ctx, `INSERT INTO runs (run_id, started_at) VALUES (?, ?)`, runID, time.Now().UTC().Format(startedAtLayout))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to register run %s", runID)
	}

	names := []string{"run_id", "id", "centroid_x", "centroid_y"}
	for _, f := range schema.fields {
		names = append(names, f.Name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	insert, err := db.PrepareContext(ctx, fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		sourcesTable, strings.Join(names, ", "), placeholders))
	if err != nil {
		return nil, errors.Wrap(err, "unable to prepare insert")
	}
	return &SQLiteWriter{db: db, schema: schema, runID: runID, insert: insert}, nil
}

// Write stores the source's record. NaN floats are stored as NULL.
func (w *SQLiteWriter) Write(ctx context.Context, src *SourceRecord) error {
	if src.Record == nil || src.Record.schema != w.schema {
		return errors.Errorf("source %d: record does not use the writer schema", src.ID)
	}
	args := []any{w.runID, src.ID, nullable(src.Centroid.X), nullable(src.Centroid.Y)}
	for _, f := range w.schema.fields {
		k := Key{index: w.schema.index[f.Name], field: f}
		v := src.Record.Get(k)
		if f.Type == Float {
			args = append(args, nullable(v))
			continue
		}
		args = append(args, int64(v))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.insert.ExecContext(ctx, args...); err != nil {
		return errors.Wrapf(err, "unable to write source %d", src.ID)
	}
	return nil
}

func (w *SQLiteWriter) Close() error {
	return w.insert.Close()
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// LatestRun returns the most recently started run.
func LatestRun(ctx context.Context, db *sql.DB) (string, error) {
	var runID string
	err := db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&runID)
	if err != nil {
		return "", errors.Wrap(err, "unable to find latest run")
	}
	return runID, nil
}

// LoadRecords reads the records of runID, keyed by source id. Only the
// fields of schema are read; NULL floats come back as NaN.
func LoadRecords(ctx context.Context, db *sql.DB, schema *Schema, runID string) (map[int64]*Record, error) {
	names := []string{"id"}
	for _, f := range schema.fields {
		names = append(names, f.Name)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE run_id = ?", strings.Join(names, ", "), sourcesTable), runID)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to query run %s", runID)
	}
	defer rows.Close()

	out := make(map[int64]*Record)
	for rows.Next() {
		var id int64
		values := make([]sql.NullFloat64, len(schema.fields))
		dest := []any{&id}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "unable to scan record")
		}
		rec := schema.NewRecord()
		for i, v := range values {
			if v.Valid {
				rec.values[i] = v.Float64
			}
		}
		out[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read records")
	}
	return out, nil
}
