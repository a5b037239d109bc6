package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/questsci/questlog/internal/ble"
	"github.com/questsci/questlog/internal/capability"
	"github.com/questsci/questlog/internal/config"
	"github.com/questsci/questlog/internal/console"
	"github.com/questsci/questlog/internal/export"
	"github.com/questsci/questlog/internal/hotkey"
	"github.com/questsci/questlog/internal/session"
	"github.com/questsci/questlog/internal/share"
	"github.com/questsci/questlog/internal/store"
)

const usage = `usage: questlog [-config path] <command> [flags]

commands:
  init     write the default config file
  pair     scan for a sensor and remember it
  run      sample the paired sensor (hotkey toggles start/stop)
  status   show the paired sensor and stored record count
  export   write all records as CSV
  upload   export, then upload the CSV
  clear    delete all stored records
`

// app holds what every command needs.
type app struct {
	cfg      *config.Config
	caps     capability.Set
	identity ble.IdentityStore
	cache    *store.Cache
	out      *console.Console
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/questlog/config.yaml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "init" {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	setupLogging(cfg.LogLevel)

	a := &app{
		cfg:      cfg,
		caps:     capability.FromConfig(cfg),
		identity: capability.IdentityStore(cfg),
		cache:    store.NewCache(cfg.DatabasePath()),
		out:      console.New(os.Stdout),
	}
	defer a.cache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "pair":
		err = a.pair(ctx)
	case "run":
		err = a.run(ctx, args)
	case "status":
		err = a.status(ctx)
	case "export":
		err = a.export(ctx, args)
	case "upload":
		err = a.upload(ctx, args)
	case "clear":
		err = a.clear(ctx, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		a.cache.Close()
		log.Fatalf("%s: %v", cmd, err)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func (a *app) newSession() *session.Session {
	return a.caps.NewSession(a.cfg, a.identity, session.CacheStore(a.cache), a.out)
}

// printBanner displays the startup configuration summary.
func (a *app) printBanner(sensor string) {
	mode := "hardware"
	if a.caps.Simulated {
		mode = "simulation"
	}
	if sensor == "" {
		sensor = "(not paired)"
	}
	a.out.Title("questlog")
	a.out.Field("Mode:", mode)
	a.out.Field("Sensor:", sensor)
	a.out.Field("Interval:", a.cfg.Sampling.Interval.String())
	a.out.Field("Location:", a.cfg.Location.Mode)
	a.out.Field("Hotkey:", strings.Join(a.cfg.Hotkey.Keys, "+"))
	a.out.Field("Database:", a.cfg.DatabasePath())
}

func (a *app) pair(ctx context.Context) error {
	name, err := a.newSession().Pair(ctx)
	if err != nil {
		return err
	}
	a.out.Success("Paired with " + name)
	return nil
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	autoStart := fs.Bool("start", false, "start sampling immediately")
	noHotkey := fs.Bool("no-hotkey", false, "disable the global hotkey (implies -start)")
	fs.Parse(args)

	sensor, _ := a.identity.Get(ble.PairedSensorKey)
	a.printBanner(sensor)

	s := a.newSession()
	defer s.Stop()

	events, cancelEvents := s.Subscribe()
	defer cancelEvents()

	var toggles <-chan hotkey.Event
	var listener *hotkey.Listener
	if !*noHotkey {
		listener = hotkey.NewListener(a.cfg.Hotkey.Keys)
		go listener.Start()
		defer listener.Stop()
		toggles = listener.Events()
		log.Printf("Press %s to start or stop sampling. Ctrl+C to quit.", strings.Join(a.cfg.Hotkey.Keys, "+"))
	}

	// Start runs in its own goroutine so Stop from the hotkey can cancel it.
	start := func() {
		go func() {
			if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("[MAIN] start failed", "error", err)
			}
		}()
	}
	if *autoStart || *noHotkey {
		start()
	}

	var last session.Snapshot
	for {
		select {
		case ev, ok := <-toggles:
			if !ok {
				toggles = nil
				continue
			}
			switch ev.Type {
			case hotkey.EventStart:
				start()
			case hotkey.EventStop:
				s.Stop()
			}

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if listener != nil {
				listener.SetActive(ev.Snapshot.Phase != session.PhaseIdle)
			}
			if changed(last, ev.Snapshot) {
				a.out.Event(ev)
			}
			last = ev.Snapshot

		case <-ctx.Done():
			log.Println("Shutting down...")
			s.Stop()
			log.Println("Goodbye!")
			// Exit directly to avoid gohook's C cleanup crash.
			a.cache.Close()
			os.Exit(0)
		}
	}
}

// changed reports whether a snapshot is worth printing. Ack toggles are
// skipped and sample counts are reported every ten writes.
func changed(prev, next session.Snapshot) bool {
	if prev.Phase != next.Phase || prev.Connected != next.Connected ||
		prev.Scanning != next.Scanning || prev.LastError != next.LastError {
		return true
	}
	return next.Count != prev.Count && next.Count%10 == 0
}

func (a *app) status(ctx context.Context) error {
	sensor, err := a.identity.Get(ble.PairedSensorKey)
	if err != nil {
		return err
	}
	a.printBanner(sensor)

	db, err := a.cache.Open(ctx)
	if err != nil {
		return err
	}
	n, err := db.Count(ctx)
	if err != nil {
		return err
	}
	a.out.Field("Records:", fmt.Sprint(n))
	return nil
}

func (a *app) exporter(args []string, name string) *export.Exporter {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	jobcode := fs.String("jobcode", a.cfg.Export.Jobcode, "campaign code stamped on every row")
	dir := fs.String("dir", filepath.Join(a.cfg.DataDir, "exports"), "output directory")
	fs.Parse(args)

	if *jobcode == "" {
		*jobcode = export.Jobcode(a.cfg.Export.DeviceName, time.Now())
	}
	return &export.Exporter{
		Open: func(ctx context.Context) (export.Source, error) {
			db, err := a.cache.Open(ctx)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		// Every command runs in its own process, so a live `run` is only
		// visible through the sampling lock.
		Sampling: a.caps.SamplingElsewhere,
		Dir:      *dir,
		Jobcode:  *jobcode,
		Location: time.Local,
	}
}

func (a *app) export(ctx context.Context, args []string) error {
	ex := a.exporter(args, "export")
	res, err := ex.Export(ctx)
	if err != nil {
		return err
	}
	a.out.Success(fmt.Sprintf("Exported %d rows to %s", res.Rows, res.Path))

	sharer := share.New(share.Options{
		Method:  a.cfg.Export.Share,
		Email:   a.cfg.Export.Email,
		Jobcode: ex.Jobcode,
	})
	if err := sharer.Share(res.Path, res.CSV); err != nil {
		a.out.Notify(session.Notice{Severity: session.SeverityWarning, Message: "Share failed: " + err.Error()})
	}
	return nil
}

func (a *app) upload(ctx context.Context, args []string) error {
	res, err := a.exporter(args, "upload").Export(ctx)
	if err != nil {
		return err
	}
	u := &export.Uploader{
		PresignURL: a.cfg.Export.PresignURL,
		Bucket:     a.cfg.Export.Bucket,
		Simulation: a.caps.Simulated,
	}
	url, err := u.UploadExport(ctx, res, a.cfg.Export.DeviceName, a.cfg.Export.KeepLocal)
	if err != nil {
		return err
	}
	a.out.Success(fmt.Sprintf("Uploaded %d rows to %s", res.Rows, url))
	return nil
}

func (a *app) clear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	fs.Parse(args)

	if !*yes && !confirm("Delete all stored records? This cannot be undone. [y/N] ") {
		log.Println("Cancelled")
		return nil
	}
	n, err := a.newSession().ClearAll(ctx)
	if err != nil {
		return err
	}
	a.out.Success(fmt.Sprintf("Deleted %d records", n))
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
