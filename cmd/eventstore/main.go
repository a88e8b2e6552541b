// Package main implements the eventstore binary: a gRPC query server plus
// commands to load and query events from the command line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/arkilian/eventstore/internal/app"
	"github.com/arkilian/eventstore/internal/config"
	"github.com/arkilian/eventstore/internal/loader"
	"github.com/joho/godotenv"
)

var (
	version = "dev"
	commit  = "unknown"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	configFile  string
	envFile     string
	dataDir     string
	backendType string
	backendAddr string
	grpcAddr    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&c.envFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	fs.StringVar(&c.dataDir, "data-dir", "", "Base directory for all data files")
	fs.StringVar(&c.backendType, "backend", "", "Query backend: partitioned, remote")
	fs.StringVar(&c.backendAddr, "backend-addr", "", "Query server address (remote backend)")
	fs.StringVar(&c.grpcAddr, "grpc-addr", "", "gRPC server address (serve)")
}

func usage() {
	fmt.Fprintf(os.Stderr, "eventstore - event query layer over partitioned storage\n\n")
	fmt.Fprintf(os.Stderr, "Usage: eventstore <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve        Run the gRPC query server\n")
	fmt.Fprintf(os.Stderr, "  get-event    Fetch one event by project and id\n")
	fmt.Fprintf(os.Stderr, "  get-events   Query events with a filter\n")
	fmt.Fprintf(os.Stderr, "  load         Load NDJSON events into partitions\n")
	fmt.Fprintf(os.Stderr, "  reconcile    Compare the manifest with storage\n")
	fmt.Fprintf(os.Stderr, "  version      Show version information\n")
	fmt.Fprintf(os.Stderr, "\nRun 'eventstore <command> -h' for command options.\n")
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  EVENTSTORE_DATA_DIR       Base directory for data files\n")
	fmt.Fprintf(os.Stderr, "  EVENTSTORE_BACKEND_TYPE   Query backend (partitioned, remote)\n")
	fmt.Fprintf(os.Stderr, "  EVENTSTORE_BACKEND_ADDR   Query server address\n")
	fmt.Fprintf(os.Stderr, "  EVENTSTORE_GRPC_ADDR      gRPC server address\n")
	fmt.Fprintf(os.Stderr, "  EVENTSTORE_STORAGE_TYPE   Storage type (local, s3)\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "get-event":
		err = runGetEvent(args)
	case "get-events":
		err = runGetEvents(args)
	case "load":
		err = runLoad(args)
	case "reconcile":
		err = runReconcile(args)
	case "version", "-version", "--version":
		fmt.Printf("eventstore version %s (commit: %s)\n", version, commit)
		return
	case "help", "-h", "-help", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(c *commonFlags) (*config.Config, error) {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	var cfg *config.Config
	var err error
	if c.configFile != "" {
		cfg, err = config.LoadFromFile(c.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Command line flags take precedence.
	if c.dataDir != "" {
		cfg.DataDir = c.dataDir
	}
	if c.backendType != "" {
		cfg.Backend.Type = config.BackendType(c.backendType)
	}
	if c.backendAddr != "" {
		cfg.Backend.Addr = c.backendAddr
	}
	if c.grpcAddr != "" {
		cfg.GRPC.Addr = c.grpcAddr
	}
	return cfg, nil
}

func openApp(c *commonFlags) (*app.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Parse(args)

	cfg, err := loadConfig(&common)
	if err != nil {
		return err
	}
	if cfg.Backend.Type != config.BackendPartitioned {
		return fmt.Errorf("serve requires the partitioned backend, got %s", cfg.Backend.Type)
	}
	printBanner(cfg)

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := a.Serve(ctx); err != nil {
		a.Close()
		return err
	}
	if err := a.WaitForShutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	log.Printf("eventstore stopped")
	return nil
}

func runGetEvent(args []string) error {
	fs := flag.NewFlagSet("get-event", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	projectID := fs.Int64("project", 0, "Project id")
	eventID := fs.String("id", "", "Event id (32 hex characters)")
	fs.Parse(args)

	a, err := openApp(&common)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		return err
	}
	event, err := a.EventStore().GetEventByID(ctx, *projectID, *eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("event %s not found in project %d", *eventID, *projectID)
	}
	return printJSON(event)
}

func runGetEvents(args []string) error {
	fs := flag.NewFlagSet("get-events", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var qf queryFlags
	qf.register(fs)
	fs.Parse(args)

	spec, err := qf.spec()
	if err != nil {
		return err
	}

	a, err := openApp(&common)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		return err
	}
	store := a.EventStore()

	switch {
	case qf.page:
		page, err := store.GetEventsPage(ctx, spec)
		if err != nil {
			return err
		}
		return printJSON(page)
	case qf.unfetched:
		events, err := store.GetUnfetchedEvents(ctx, spec)
		if err != nil {
			return err
		}
		return printJSON(events)
	default:
		events, err := store.GetEvents(ctx, spec)
		if err != nil {
			return err
		}
		return printJSON(events)
	}
}

func runLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	file := fs.String("file", "-", "NDJSON file of events, - for stdin")
	fs.Parse(args)

	a, err := openApp(&common)
	if err != nil {
		return err
	}
	defer a.Close()

	in := os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	events, err := loader.ReadNDJSON(in)
	if err != nil {
		return err
	}

	ctx := context.Background()
	l, err := a.Loader(ctx)
	if err != nil {
		return err
	}
	report, err := l.Load(ctx, events)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d events into %d partitions", report.Events, len(report.Partitions))
	return nil
}

func runReconcile(args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	register := fs.Bool("register-orphans", false, "Register orphaned partitions from their sidecars")
	fs.Parse(args)

	a, err := openApp(&common)
	if err != nil {
		return err
	}
	defer a.Close()

	report, registered, err := a.Reconcile(context.Background(), *register)
	if err != nil {
		return err
	}
	log.Printf("Reconciliation: %d manifest entries, %d storage objects, %d dangling, %d orphaned, %d registered",
		report.TotalManifestEntries, report.TotalStorageObjects,
		len(report.DanglingEntries), len(report.OrphanedObjects), registered)
	return printJSON(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("eventstore %s (commit: %s)", version, commit)
	log.Printf("Configuration:")
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Backend:  %s", cfg.Backend.Type)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	log.Printf("  gRPC:     %s", cfg.GRPC.Addr)
	log.Printf("  Concurrency: %d, Limits: %d/%d, Timeout: %v",
		cfg.Query.Concurrency, cfg.Query.DefaultLimit, cfg.Query.MaxLimit, cfg.Query.Timeout)
}
