// Package export turns the sample store into CSV and ships it to disk, the
// clipboard, or cloud storage.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/questsci/questlog/internal/store"
)

// Header is the first CSV line.
var Header = []string{
	"rownumber", "jobcode", "Timestamp", "Local Date", "Local Time",
	"Temperature (°C)", "Humidity (%)", "Latitude", "Longitude",
	"Altitude (m)", "Accuracy (m)", "Speed (MPH)",
}

const mpsToMPH = 2.23694

// WriteCSV writes rows with Header. Fixed-point columns are converted back
// to real units; dates and times are rendered in loc (time.Local when nil).
func WriteCSV(w io.Writer, rows []store.ExportRow, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(formatRow(r, loc)); err != nil {
			return fmt.Errorf("export: write row %d: %w", r.Timestamp, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func formatRow(r store.ExportRow, loc *time.Location) []string {
	ts := time.UnixMilli(r.Timestamp).In(loc)
	rownumber := ""
	if r.RowNumber > 0 {
		rownumber = strconv.FormatInt(r.RowNumber, 10)
	}
	return []string{
		rownumber,
		r.Jobcode,
		strconv.FormatInt(r.Timestamp, 10),
		ts.Format("1/2/2006"),
		ts.Format("15:04:05"),
		fixed(float64(r.Temperature)/store.TemperatureScale, 2),
		fixed(float64(r.Humidity), 1),
		fixed(float64(r.Latitude)/store.CoordinateScale, 6),
		fixed(float64(r.Longitude)/store.CoordinateScale, 6),
		fixed(float64(r.Altitude)/store.MeterScale, 2),
		fixed(float64(r.Accuracy)/store.MeterScale, 2),
		fixed(float64(r.Speed)/store.SpeedScale*mpsToMPH, 2),
	}
}

func fixed(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
