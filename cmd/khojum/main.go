package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"khojum/internal/capture"
	"khojum/internal/catalog"
	"khojum/internal/client"
	"khojum/internal/config"
	"khojum/internal/datetime"
	"khojum/internal/filter"
	"khojum/internal/ics"
	appLog "khojum/internal/log"
	"khojum/internal/prefs"
	"khojum/internal/store"
	"khojum/internal/view"
	"khojum/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values shared by every subcommand plus the
// ones only some of them read.
type flagConfig struct {
	command    string
	configPath string
	listen     string

	// watch and snapshot
	url     string
	variant string

	// snapshot
	out      string
	width    int
	height   int
	fullPage bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Error("failed to write default config; continuing with defaults", err, "config_path", flags.configPath)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.SetFile(conf.LogFile)
	appLog.Info("khojum starting", "version", version, "command", flags.command)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch flags.command {
	case "serve":
		err = runServe(ctx, conf)
	case "watch":
		err = runWatch(ctx, conf, flags)
	case "snapshot":
		err = runSnapshot(ctx, conf, flags)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("khojum exiting with error", err, "command", flags.command)
		os.Exit(1)
	}
	appLog.Info("khojum exiting")
}

func parseFlags(args []string) (flagConfig, error) {
	cfg := flagConfig{command: "serve"}
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cfg.command, args = args[0], args[1:]
	}
	switch cfg.command {
	case "serve", "watch", "snapshot":
	default:
		return cfg, fmt.Errorf("unknown command %q (want serve, watch or snapshot)", cfg.command)
	}

	fs := flag.NewFlagSet("khojum "+cfg.command, flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	if cfg.command != "serve" {
		fs.StringVar(&cfg.url, "url", "", "Site URL (default: http://<listen>/)")
		fs.StringVar(&cfg.variant, "variant", "events", "Page variant: events, deals or experiences")
	}
	if cfg.command == "snapshot" {
		fs.StringVar(&cfg.out, "out", "preview.png", "Where to write the PNG")
		fs.IntVar(&cfg.width, "width", capture.DefaultWidth, "Viewport width in pixels")
		fs.IntVar(&cfg.height, "height", capture.DefaultHeight, "Viewport height in pixels")
		fs.BoolVar(&cfg.fullPage, "full", false, "Capture the whole page instead of the viewport")
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func siteURL(conf *config.Config, flags flagConfig) string {
	if flags.url != "" {
		return flags.url
	}
	return "http://" + conf.Listen + "/"
}

func newEngine(conf *config.Config) (*filter.Engine, *time.Location) {
	loc, err := conf.Location()
	if err != nil {
		appLog.Error("unknown timezone; using local time", err, "timezone", conf.Timezone)
	}
	return filter.NewEngine(datetime.NewParser(loc), time.Now), loc
}

func runServe(ctx context.Context, conf *config.Config) error {
	engine, loc := newEngine(conf)

	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, src := range conf.ICS {
		sources = append(sources, ics.Source{ID: src.ID, URL: src.URL, Category: src.Category})
	}

	cat := catalog.New(catalog.Options{
		Events: store.EventsFile{Path: conf.EventsFile},
		Importer: &ics.Importer{
			Fetcher:  ics.NewFetcher(conf.CacheDir, 20*time.Second),
			Location: loc,
			Horizon:  time.Duration(conf.HorizonDays) * 24 * time.Hour,
			Backfill: 24 * time.Hour,
		},
		Sources:  sources,
		Engine:   engine,
		MaxDots:  conf.MaxCalendarDots,
		Location: loc,
	})
	if err := cat.Load(ctx); err != nil {
		// The API answers 500 until a later reload succeeds.
		appLog.Error("initial catalog load failed", err, "events_file", conf.EventsFile)
	}
	if err := cat.Start(ctx, conf.RefreshCron); err != nil {
		return fmt.Errorf("schedule catalog refresh: %w", err)
	}
	defer cat.Stop()

	listings := store.NewListings(conf.ListingsFile)
	if err := listings.Init(); err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"events_file", conf.EventsFile,
		"listings_file", conf.ListingsFile,
		"ics_count", len(conf.ICS),
	)

	return web.NewServer(conf, cat, listings, engine).Run(ctx)
}

func runWatch(ctx context.Context, conf *config.Config, flags flagConfig) error {
	variant, ok := filter.VariantByName(flags.variant)
	if !ok {
		return fmt.Errorf("unknown variant %q", flags.variant)
	}
	engine, loc := newEngine(conf)

	ctl := view.New(
		client.New(siteURL(conf, flags), 15*time.Second),
		engine,
		prefs.NewStore(conf.PrefsPath),
		os.Stdout,
		view.Options{
			Variant:  variant,
			Duration: conf.EstimatedDuration,
			SoonDays: conf.ExpiringSoonDays,
			Location: loc,
		},
	)
	defer ctl.Close()

	if err := ctl.Scheduler().Start(); err != nil {
		return err
	}
	// A failed first load is shown as a banner; "reload" retries.
	_ = ctl.Load(ctx)
	return ctl.Run(ctx, os.Stdin)
}

func runSnapshot(ctx context.Context, conf *config.Config, flags flagConfig) error {
	_, err := capture.CapturePagePNG(ctx, capture.Options{
		URL:        siteURL(conf, flags),
		OutputPath: flags.out,
		Width:      flags.width,
		Height:     flags.height,
		FullPage:   flags.fullPage,
	})
	return err
}
