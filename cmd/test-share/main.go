// Command test-share is a manual check of CSV sharing. It renders a small
// sample export and hands it to the chosen share method.
//
// Usage:
//
//	go run ./cmd/test-share [--method clipboard|mail|none] [--to address]
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/questsci/questlog/internal/export"
	"github.com/questsci/questlog/internal/location"
	"github.com/questsci/questlog/internal/share"
	"github.com/questsci/questlog/internal/store"
)

func main() {
	method := flag.String("method", "clipboard", "share method: clipboard, mail or none")
	to := flag.String("to", "", "mail recipient")
	flag.Parse()

	fix := location.Fix{Latitude: 37.8715, Longitude: -122.273, Altitude: 52, Accuracy: 5}
	now := time.Now()
	rows := []store.ExportRow{
		{Record: store.NewRecord(now, 21.5, fix), RowNumber: 1, Jobcode: "test-share"},
		{Record: store.NewRecord(now.Add(time.Second), 21.6, fix), RowNumber: 2, Jobcode: "test-share"},
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, rows, time.Local); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	path := filepath.Join(os.TempDir(), "test-share.csv")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	sharer := share.New(share.Options{Method: *method, Email: *to, Jobcode: "test-share"})
	if err := sharer.Share(path, buf.Bytes()); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Shared %d bytes using %q.\n", buf.Len(), *method)
	if *method == "clipboard" {
		fmt.Println("Paste into an editor to check the CSV.")
	}
}
