// Command test-hotkey is a manual check of the start/stop toggle.
// Run it, press the combo a few times, then Ctrl+C.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--keys ctrl,shift,s] [--fail-after 0]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/questsci/questlog/internal/hotkey"
)

func main() {
	keys := flag.String("keys", "ctrl,shift,s", "comma separated gohook key names")
	failAfter := flag.Duration("fail-after", 0, "pretend sampling stops on its own after this long")
	flag.Parse()

	combo := strings.Split(*keys, ",")
	fmt.Printf("Listening for %s...\n", strings.Join(combo, "+"))
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(combo)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventStart:
				fmt.Println(">>> START sampling")
				if *failAfter > 0 {
					// The next press must start again, not stop.
					time.AfterFunc(*failAfter, func() {
						fmt.Println("--- session ended without a keypress")
						listener.SetActive(false)
					})
				}
			case hotkey.EventStop:
				fmt.Println("<<< STOP sampling")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	listener.Start()
	fmt.Println("Done.")
}
