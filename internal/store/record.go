// Package store persists joined temperature/location samples in SQLite.
package store

import (
	"math"
	"time"

	"github.com/questsci/questlog/internal/location"
)

// Fixed-point scales applied before storage.
const (
	TemperatureScale = 100        // degrees C
	CoordinateScale  = 10_000_000 // degrees
	MeterScale       = 100        // altitude and accuracy in meters
	SpeedScale       = 100        // meters per second
)

// Record is one stored sample. Every measurement is a fixed-point integer;
// conversion back to real units happens at export time.
type Record struct {
	Timestamp   int64 // unix milliseconds, primary key
	Temperature int64
	Humidity    int64 // not measured, always 0
	Latitude    int64
	Longitude   int64
	Altitude    int64
	Accuracy    int64
	Speed       int64
}

// NewRecord scales a reading and fix into a Record. NaN and infinite
// measurements are stored as 0.
func NewRecord(ts time.Time, tempC float64, fix location.Fix) Record {
	return Record{
		Timestamp:   ts.UnixMilli(),
		Temperature: scale(tempC, TemperatureScale),
		Latitude:    scale(fix.Latitude, CoordinateScale),
		Longitude:   scale(fix.Longitude, CoordinateScale),
		Altitude:    scale(fix.Altitude, MeterScale),
		Accuracy:    scale(fix.Accuracy, MeterScale),
		Speed:       scale(fix.Speed, SpeedScale),
	}
}

func scale(v float64, factor float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(math.Round(v * factor))
}

// ExportRow is a stored record plus the columns added for export.
type ExportRow struct {
	Record
	RowNumber int64
	Jobcode   string
}
