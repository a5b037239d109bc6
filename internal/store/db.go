package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrUnavailable is returned when no open store handle exists.
var ErrUnavailable = errors.New("store: database not available")

// Sink is the write side consumed by the sampling engine.
type Sink interface {
	Insert(ctx context.Context, r Record) error
}

const schema = `
CREATE TABLE IF NOT EXISTS appData (
	timestamp   INTEGER PRIMARY KEY NOT NULL,
	temperature INTEGER NOT NULL,
	humidity    INTEGER,
	latitude    INTEGER NOT NULL,
	longitude   INTEGER NOT NULL,
	altitude    INTEGER,
	accuracy    INTEGER,
	speed       INTEGER
);`

// DB is an open sample database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One writer; WAL lets readers proceed.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	slog.Info("[STORE] database ready", "path", path)
	return &DB{db: db, path: path}, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

func (d *DB) Close() error {
	return d.db.Close()
}

// Insert writes r. A duplicate timestamp is an error.
func (d *DB) Insert(ctx context.Context, r Record) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO appData (timestamp, temperature, humidity, latitude, longitude, altitude, accuracy, speed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.Temperature, r.Humidity, r.Latitude, r.Longitude, r.Altitude, r.Accuracy, r.Speed)
	if err != nil {
		return fmt.Errorf("store: insert %d: %w", r.Timestamp, err)
	}
	return nil
}

// SelectAll returns every record ordered by timestamp.
func (d *DB) SelectAll(ctx context.Context) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT timestamp, temperature, COALESCE(humidity, 0), latitude, longitude,
		        COALESCE(altitude, 0), COALESCE(accuracy, 0), COALESCE(speed, 0)
		 FROM appData ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("store: select: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Timestamp, &r.Temperature, &r.Humidity, &r.Latitude, &r.Longitude,
			&r.Altitude, &r.Accuracy, &r.Speed); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM appData`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// DeleteAll removes every record and returns how many were deleted.
func (d *DB) DeleteAll(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM appData`)
	if err != nil {
		return 0, fmt.Errorf("store: delete all: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Info("[STORE] cleared all records", "rows", n)
	return n, nil
}

// EnsureExportColumns adds the jobcode and rownumber columns when missing,
// stamps every row with jobcode and numbers rows from 1 in timestamp order.
// timestamp is the rowid alias, so numbering cannot be derived from rowid.
func (d *DB) EnsureExportColumns(ctx context.Context, jobcode string) error {
	cols, err := d.columns(ctx)
	if err != nil {
		return err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if !cols["jobcode"] {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE appData ADD COLUMN jobcode TEXT`); err != nil {
			return fmt.Errorf("store: add jobcode column: %w", err)
		}
	}
	if !cols["rownumber"] {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE appData ADD COLUMN rownumber INTEGER`); err != nil {
			return fmt.Errorf("store: add rownumber column: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE appData SET jobcode = ?`, jobcode); err != nil {
		return fmt.Errorf("store: set jobcode: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE appData SET rownumber = (SELECT COUNT(*) FROM appData AS b WHERE b.timestamp <= appData.timestamp)`); err != nil {
		return fmt.Errorf("store: set rownumber: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// SelectExport returns every record with its export columns, ordered by
// timestamp. EnsureExportColumns must have run first.
func (d *DB) SelectExport(ctx context.Context) ([]ExportRow, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT COALESCE(rownumber, 0), COALESCE(jobcode, ''), timestamp, temperature,
		        COALESCE(humidity, 0), latitude, longitude, COALESCE(altitude, 0),
		        COALESCE(accuracy, 0), COALESCE(speed, 0)
		 FROM appData ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("store: select export: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		if err := rows.Scan(&r.RowNumber, &r.Jobcode, &r.Timestamp, &r.Temperature, &r.Humidity,
			&r.Latitude, &r.Longitude, &r.Altitude, &r.Accuracy, &r.Speed); err != nil {
			return nil, fmt.Errorf("store: scan export: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('appData')`)
	if err != nil {
		return nil, fmt.Errorf("store: table info: %w", err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan table info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

var _ Sink = (*DB)(nil)
