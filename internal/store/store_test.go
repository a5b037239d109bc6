package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/questsci/questlog/internal/location"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "questlog.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewRecordScaling(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)
	fix := location.Fix{Latitude: 37.8715123, Longitude: -122.2730456, Altitude: 52.34, Accuracy: 4.999, Speed: 1.234}

	r := NewRecord(ts, 21.5, fix)
	want := Record{
		Timestamp:   1_700_000_000_123,
		Temperature: 2150,
		Latitude:    378715123,
		Longitude:   -1222730456,
		Altitude:    5234,
		Accuracy:    500,
		Speed:       123,
	}
	if r != want {
		t.Errorf("NewRecord() = %+v, want %+v", r, want)
	}
}

func TestNewRecordRounding(t *testing.T) {
	tests := []struct {
		temp float64
		want int64
	}{
		{21.5, 2150},
		{21.556, 2156},
		{-3.125, -313},
		{0, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		if got := NewRecord(time.Now(), tt.temp, location.Fix{}).Temperature; got != tt.want {
			t.Errorf("NewRecord(%v).Temperature = %d, want %d", tt.temp, got, tt.want)
		}
	}
}

func TestInsertSelectOrdered(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, ts := range []int64{3000, 1000, 2000} {
		if err := db.Insert(ctx, Record{Timestamp: ts, Temperature: ts / 10}); err != nil {
			t.Fatalf("Insert(%d) error = %v", ts, err)
		}
	}
	got, err := db.SelectAll(ctx)
	if err != nil {
		t.Fatalf("SelectAll() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("SelectAll() returned %d rows, want 3", len(got))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if got[i].Timestamp != want {
			t.Errorf("row %d timestamp = %d, want %d", i, got[i].Timestamp, want)
		}
	}
	if n, _ := db.Count(ctx); n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestInsertDuplicateTimestamp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.Insert(ctx, Record{Timestamp: 1}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := db.Insert(ctx, Record{Timestamp: 1}); err == nil {
		t.Error("second Insert() with the same timestamp should fail")
	}
}

func TestDeleteAll(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for ts := int64(1); ts <= 4; ts++ {
		_ = db.Insert(ctx, Record{Timestamp: ts})
	}
	n, err := db.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if n != 4 {
		t.Errorf("DeleteAll() = %d, want 4", n)
	}
	if rows, _ := db.SelectAll(ctx); len(rows) != 0 {
		t.Errorf("SelectAll() after DeleteAll returned %d rows", len(rows))
	}
}

func TestEnsureExportColumns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for _, ts := range []int64{10, 20, 30} {
		_ = db.Insert(ctx, Record{Timestamp: ts})
	}

	// Running twice exercises the already-migrated path.
	for i := 0; i < 2; i++ {
		if err := db.EnsureExportColumns(ctx, "river-survey"); err != nil {
			t.Fatalf("EnsureExportColumns() pass %d error = %v", i, err)
		}
	}

	rows, err := db.SelectExport(ctx)
	if err != nil {
		t.Fatalf("SelectExport() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("SelectExport() returned %d rows, want 3", len(rows))
	}
	for i, r := range rows {
		if r.RowNumber != int64(i+1) {
			t.Errorf("row %d RowNumber = %d, want %d", i, r.RowNumber, i+1)
		}
		if r.Jobcode != "river-survey" {
			t.Errorf("row %d Jobcode = %q, want %q", i, r.Jobcode, "river-survey")
		}
	}
}

func TestCacheOpenIsIdempotent(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "questlog.db"))
	t.Cleanup(func() { c.Close() })

	if c.Current() != nil {
		t.Fatal("Current() before Open should be nil")
	}
	a, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, _ := c.Open(context.Background())
	if a != b {
		t.Error("second Open() returned a different handle")
	}
	if c.Current() != a {
		t.Error("Current() should return the open handle")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "questlog.db"))
	t.Cleanup(func() { c.Close() })

	first, _ := c.Open(context.Background())
	_ = first.Insert(context.Background(), Record{Timestamp: 1})

	c.Invalidate()
	c.Invalidate()
	if c.Current() != nil {
		t.Fatal("Current() after Invalidate should be nil")
	}

	second, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if second == first {
		t.Error("Open() after Invalidate returned the stale handle")
	}
	if n, _ := second.Count(context.Background()); n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
}

func TestCacheOpenError(t *testing.T) {
	boom := errors.New("disk on fire")
	c := &Cache{path: "x", open: func(context.Context, string) (*DB, error) { return nil, boom }}
	if _, err := c.Open(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Open() error = %v, want %v", err, boom)
	}
	if c.Current() != nil {
		t.Error("failed Open() must not leave a handle behind")
	}
}
