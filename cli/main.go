package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/tobyv/tokentrail/cli/internal/aggregator"
	"github.com/tobyv/tokentrail/cli/internal/config"
	"github.com/tobyv/tokentrail/cli/internal/output"
	"github.com/tobyv/tokentrail/cli/internal/sync"
	"github.com/tobyv/tokentrail/internal/ledger"
	"github.com/tobyv/tokentrail/internal/model"
	"github.com/tobyv/tokentrail/internal/optimizer"
	"github.com/tobyv/tokentrail/internal/pricing"
	"github.com/tobyv/tokentrail/internal/report"
	"github.com/tobyv/tokentrail/internal/store"
)

const version = "0.1.0"

func main() {
	// Detect subcommand first
	command := "report"
	args := os.Args[1:]

	var filteredArgs []string
	for i, arg := range args {
		switch arg {
		case "report", "hints", "models", "sync", "config", "reset":
			command = arg
			// Keep remaining args for flag parsing
			filteredArgs = append(args[:i], args[i+1:]...)
		}
		if command != "report" || arg == "report" {
			break
		}
	}
	if filteredArgs == nil {
		filteredArgs = args
	}

	switch command {
	case "report":
		runReport(filteredArgs)
	case "hints":
		runHints(filteredArgs)
	case "models":
		runModels()
	case "sync":
		runSync(filteredArgs)
	case "config":
		runConfig(filteredArgs)
	case "reset":
		runReset(filteredArgs)
	}
}

// openStore opens the configured local event store.
func openStore(cfg *config.Config) (ledger.Store, error) {
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	if cfg.Backend == config.BackendJSONL {
		return store.OpenJSONL(path)
	}
	return store.OpenSQLite(path)
}

// loadEvents reads all recorded events from the local store.
func loadEvents(cfg *config.Config) ([]model.UsageEvent, error) {
	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.LoadAll()
}

func summarize(events []model.UsageEvent) model.Summary {
	l := ledger.New()
	for _, e := range events {
		e.Sequence = 0 // reassigned on insert
		l.Record(e)
	}
	return l.Summary()
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)

	var (
		since     string
		until     string
		timezone  string
		by        string
		htmlPath  string
		jsonOut   bool
		breakdown bool
		compact   bool
		showHelp  bool
		showVer   bool
	)

	fs.StringVar(&since, "since", "", "Start date filter (YYYYMMDD)")
	fs.StringVar(&until, "until", "", "End date filter (YYYYMMDD)")
	fs.StringVar(&timezone, "timezone", "", "Timezone for date grouping (e.g., America/New_York)")
	fs.StringVar(&by, "by", "", "Group as a table by: day, function, model")
	fs.StringVar(&htmlPath, "html", "", "Write an HTML report to the given path")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	fs.BoolVar(&breakdown, "breakdown", false, "Show per-model breakdown under tables")
	fs.BoolVar(&compact, "compact", false, "Force compact table output")
	fs.BoolVar(&compact, "c", false, "Force compact table output")
	fs.BoolVar(&showHelp, "help", false, "Show help")
	fs.BoolVar(&showHelp, "h", false, "Show help")
	fs.BoolVar(&showVer, "version", false, "Show version")
	fs.BoolVar(&showVer, "v", false, "Show version")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `tokentrail - LLM call-cost tracking and attribution

Usage: tokentrail [command] [options]

Commands:
  report    Show cost report from recorded usage (default)
  hints     Show cost-optimization hints
  models    List known models and their prices
  sync      Sync usage data to server
  config    Configure storage and sync settings
  reset     Clear the local event store

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  tokentrail                          Show cost report
  tokentrail report --by function
  tokentrail report --since 20260801 --by day
  tokentrail report --html report.html
  tokentrail report --json
  tokentrail hints
  tokentrail config --server https://example.com --api-key <key>
  tokentrail sync
`)
	}

	fs.Parse(args)

	if showVer {
		fmt.Printf("tokentrail version %s\n", version)
		return
	}

	if showHelp {
		fs.Usage()
		return
	}

	var opts aggregator.Options

	if since != "" {
		t, err := time.Parse("20060102", since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid --since date format. Use YYYYMMDD.\n")
			os.Exit(1)
		}
		opts.Since = t
	}

	if until != "" {
		t, err := time.Parse("20060102", until)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid --until date format. Use YYYYMMDD.\n")
			os.Exit(1)
		}
		// Include the entire day
		opts.Until = t.Add(24*time.Hour - time.Second)
	}

	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid timezone: %s\n", timezone)
			os.Exit(1)
		}
		opts.Timezone = loc
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	events, err := loadEvents(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading usage data: %v\n", err)
		os.Exit(1)
	}

	events = aggregator.FilterEvents(events, opts)

	if htmlPath != "" {
		if err := report.WriteHTML(summarize(events), htmlPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing HTML report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("HTML report written to %s\n", htmlPath)
		return
	}

	if by == "" && !jsonOut {
		fmt.Print(report.Text(summarize(events)))
		return
	}

	var results []aggregator.Aggregate
	var title string

	switch by {
	case "day", "":
		results = aggregator.ByDay(events, opts)
		title = "Date"
	case "function":
		results = aggregator.ByFunction(events, opts)
		title = "Function"
	case "model":
		results = aggregator.ByModel(events, opts)
		title = "Model"
	default:
		fmt.Fprintf(os.Stderr, "Unknown grouping: %s (want day, function or model)\n", by)
		fs.Usage()
		os.Exit(1)
	}

	tableOpts := output.TableOptions{ForceCompact: compact}

	if jsonOut {
		output.PrintJSON(results)
	} else if breakdown {
		output.PrintTableWithBreakdownOpts(results, title, tableOpts)
	} else {
		output.PrintTableWithOptions(results, title, true, tableOpts)
	}
}

func runHints(args []string) {
	fs := flag.NewFlagSet("hints", flag.ExitOnError)
	var callsPerMinute float64
	fs.Float64Var(&callsPerMinute, "calls-per-minute", optimizer.DefaultCallsPerMinute,
		"Assumed call rate for monthly savings projections")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	events, err := loadEvents(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading usage data: %v\n", err)
		os.Exit(1)
	}

	hints := optimizer.Hints(events, callsPerMinute)
	if len(hints) == 0 {
		fmt.Println("No optimization hints. Usage looks reasonable.")
		return
	}
	fmt.Print(optimizer.Render(hints))
}

func runModels() {
	fmt.Println()
	fmt.Printf("%-32s  %14s  %14s\n", "Model", "Input $/1M", "Output $/1M")
	for _, name := range pricing.Models() {
		p, _ := pricing.Lookup(name)
		fmt.Printf("%-32s  %14.2f  %14.2f\n", name, p.InputPerMillion, p.OutputPerMillion)
	}
	fmt.Println()
}

func runReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	var yes bool
	fs.BoolVar(&yes, "yes", false, "Skip confirmation")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	path, err := cfg.StorePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving store path: %v\n", err)
		os.Exit(1)
	}

	if !yes {
		fmt.Printf("This will delete all recorded usage in %s. Continue? [y/N] ", path)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	if cfg.Backend == config.BackendJSONL {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error clearing store: %v\n", err)
			os.Exit(1)
		}
	} else {
		s, err := store.OpenSQLite(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()
		if err := s.Purge(); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing store: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("Local event store cleared.")
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	var (
		server  string
		apiKey  string
		dataDir string
		backend string
		show    bool
	)
	fs.StringVar(&server, "server", "", "Server URL")
	fs.StringVar(&apiKey, "api-key", "", "API key for authentication")
	fs.StringVar(&dataDir, "data-dir", "", "Directory for the local event store")
	fs.StringVar(&backend, "backend", "", "Storage backend: sqlite or jsonl")
	fs.BoolVar(&show, "show", false, "Show current configuration")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: tokentrail config [options]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  tokentrail config --server https://example.com --api-key tt_xxx
  tokentrail config --backend jsonl
  tokentrail config --show
`)
	}

	fs.Parse(args)

	if show {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if cfg.Server == "" && cfg.DataDir == "" && cfg.Backend == "" {
			fmt.Println("No configuration found. Run 'tokentrail config --server <url> --api-key <key>' to configure.")
			return
		}
		if cfg.Server != "" {
			fmt.Printf("Server: %s\n", cfg.Server)
		}
		if len(cfg.APIKey) > 14 {
			fmt.Printf("API Key: %s...%s\n", cfg.APIKey[:10], cfg.APIKey[len(cfg.APIKey)-4:])
		}
		if cfg.ClientID != "" {
			fmt.Printf("Client ID: %s\n", cfg.ClientID)
		}
		if dir, err := cfg.DataDirOrDefault(); err == nil {
			fmt.Printf("Data dir: %s\n", dir)
		}
		if cfg.Backend != "" {
			fmt.Printf("Backend: %s\n", cfg.Backend)
		}
		return
	}

	if server == "" && apiKey == "" && dataDir == "" && backend == "" {
		fs.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}

	if server != "" {
		cfg.Server = server
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backend != "" {
		if backend != config.BackendSQLite && backend != config.BackendJSONL {
			fmt.Fprintf(os.Stderr, "Error: invalid backend %q (want sqlite or jsonl)\n", backend)
			os.Exit(1)
		}
		cfg.Backend = backend
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration saved.")
}

// syncService implements service.Interface for background syncing
type syncService struct {
	interval time.Duration
	stop     chan struct{}
	logger   service.Logger
}

func (s *syncService) Start(svc service.Service) error {
	s.stop = make(chan struct{})
	go s.run()
	return nil
}

func (s *syncService) Stop(svc service.Service) error {
	close(s.stop)
	return nil
}

func (s *syncService) run() {
	cfg, err := config.Load()
	if err != nil || cfg.Server == "" || cfg.APIKey == "" {
		if s.logger != nil {
			s.logger.Error("Not configured. Run 'tokentrail config' first.")
		}
		return
	}

	client := sync.NewClient(cfg)

	// Sync immediately on start
	s.doSync(cfg, client)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.doSync(cfg, client)
		case <-s.stop:
			return
		}
	}
}

func (s *syncService) doSync(cfg *config.Config, client *sync.Client) {
	lastSync, _ := client.GetSyncStatus()

	events, err := loadEvents(cfg)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("Error reading usage data: %v", err)
		}
		return
	}

	var toSync []model.UsageEvent
	for _, e := range events {
		if lastSync == nil || e.Timestamp.After(*lastSync) {
			toSync = append(toSync, e)
		}
	}

	if len(toSync) == 0 {
		return
	}

	inserted, err := client.Sync(toSync)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("Error syncing: %v", err)
		}
		return
	}

	if s.logger != nil {
		s.logger.Infof("Synced %d events", inserted)
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	var (
		dryRun   bool
		interval time.Duration
	)
	fs.BoolVar(&dryRun, "dry-run", false, "Show what would be synced without sending")
	fs.DurationVar(&interval, "interval", time.Hour, "Sync interval for service mode (e.g., 1h, 30m)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: tokentrail sync [command] [options]

Commands:
  (none)      Sync once
  install     Install as a background service
  start       Start the background service
  stop        Stop the background service
  uninstall   Remove the background service
  status      Show service status

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  tokentrail sync                       Sync once
  tokentrail sync install               Install service (syncs every hour)
  tokentrail sync install --interval 30m
  tokentrail sync start                 Start the service
  tokentrail sync stop                  Stop the service
`)
	}

	// Check for service commands before parsing flags
	var svcCommand string
	if len(args) > 0 {
		switch args[0] {
		case "install", "start", "stop", "uninstall", "status", "run":
			svcCommand = args[0]
			args = args[1:]
		}
	}

	fs.Parse(args)

	svcConfig := &service.Config{
		Name:        "tokentrail-sync",
		DisplayName: "tokentrail Sync Service",
		Description: "Automatically syncs LLM usage data to server",
		Arguments:   []string{"sync", "run", fmt.Sprintf("--interval=%s", interval)},
	}

	svc := &syncService{interval: interval}
	s, err := service.New(svc, svcConfig)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	switch svcCommand {
	case "install":
		cfg, err := config.Load()
		if err != nil || cfg.Server == "" || cfg.APIKey == "" {
			fmt.Fprintf(os.Stderr, "Error: Not configured. Run 'tokentrail config --server <url> --api-key <key>' first.\n")
			os.Exit(1)
		}
		if err := s.Install(); err != nil {
			log.Fatalf("Failed to install service: %v", err)
		}
		if err := s.Start(); err != nil {
			log.Fatalf("Service installed but failed to start: %v", err)
		}
		fmt.Printf("Service installed and started.\n")
		fmt.Printf("Sync interval: %s\n", interval)
		return

	case "start":
		if err := s.Start(); err != nil {
			log.Fatalf("Failed to start service: %v", err)
		}
		fmt.Println("Service started.")
		return

	case "stop":
		if err := s.Stop(); err != nil {
			log.Fatalf("Failed to stop service: %v", err)
		}
		fmt.Println("Service stopped.")
		return

	case "uninstall":
		s.Stop() // ignore error
		if err := s.Uninstall(); err != nil {
			log.Fatalf("Failed to uninstall service: %v", err)
		}
		fmt.Println("Service uninstalled.")
		return

	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
		} else {
			switch status {
			case service.StatusRunning:
				fmt.Println("Service status: running")
			case service.StatusStopped:
				fmt.Println("Service status: stopped")
			default:
				fmt.Println("Service status: unknown")
			}
		}
		return

	case "": // No service command - do a one-time sync
		cfg, err := config.Load()
		if err != nil || cfg.Server == "" || cfg.APIKey == "" {
			fmt.Fprintf(os.Stderr, "Error: Not configured. Run 'tokentrail config --server <url> --api-key <key>' first.\n")
			os.Exit(1)
		}

		client := sync.NewClient(cfg)
		doSyncOnce(cfg, client, dryRun)
		return

	default:
		// Running as service (internal command)
		logger, err := s.Logger(nil)
		if err == nil {
			svc.logger = logger
		}
		if err := s.Run(); err != nil && logger != nil {
			logger.Error(err)
		}
	}
}

func doSyncOnce(cfg *config.Config, client *sync.Client, dryRun bool) {
	lastSync, err := client.GetSyncStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not get sync status: %v\n", err)
	}

	events, err := loadEvents(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading usage data: %v\n", err)
		os.Exit(1)
	}

	var toSync []model.UsageEvent
	for _, e := range events {
		if lastSync == nil || e.Timestamp.After(*lastSync) {
			toSync = append(toSync, e)
		}
	}

	if len(toSync) == 0 {
		fmt.Println("No new events to sync.")
		return
	}

	fmt.Printf("Found %d new events to sync.\n", len(toSync))

	if dryRun {
		fmt.Println("Dry run - no data sent.")
		return
	}

	inserted, err := client.Sync(toSync)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error syncing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sync complete. %d events inserted.\n", inserted)
}
