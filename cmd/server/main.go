package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/api"
	"github.com/0xPuncker/flow-scheduler/internal/config"
	"github.com/0xPuncker/flow-scheduler/internal/cron"
	"github.com/0xPuncker/flow-scheduler/internal/dispatch"
	"github.com/0xPuncker/flow-scheduler/internal/poller"
	"github.com/0xPuncker/flow-scheduler/internal/store"
	"github.com/0xPuncker/flow-scheduler/pkg/types"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dimiro1/banner"
	"github.com/joho/godotenv"
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const bannerText = `
{{ .Title "Flow Scheduler" "" 0 }}
{{ .AnsiBackground.BrightBlue }}{{ .AnsiColor.White }}
{{ .AnsiReset }}
`

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
		}
	}

	banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))

	configPath := flag.String("config", "config/config.json", "path to config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05-07:00",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	location, err := cfg.Location()
	if err != nil {
		logger.Fatalf("Failed to load scheduler timezone: %v", err)
	}

	jobStore, err := store.Open(cfg.Store, logger)
	if err != nil {
		logger.Fatalf("Failed to open job store: %v", err)
	}
	defer jobStore.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := cron.NewRegistry(
		cron.NewCronClock(location, logger),
		logger,
		cron.WithHistory(cron.NewRunHistory(config.Duration(cfg.Scheduler.HistoryTTL, 24*time.Hour))),
		cron.WithMetrics(cron.NewMetrics(promRegistry)),
	)
	scheduler := cron.NewScheduler(jobStore, registry, logger)

	dispatcher := dispatch.New(cfg.Dispatch, logger)
	for _, engine := range types.KnownEngines() {
		if !dispatcher.Configured(engine) {
			logger.Warnf("No base URL configured for %s, its jobs will fail to trigger", dispatch.DisplayName(engine))
		}
	}

	armed, err := scheduler.InitializeJobs(dispatcher.Trigger)
	if err != nil {
		logger.Fatalf("Failed to initialize jobs: %v", err)
	}
	logger.Infof("Restored %d scheduled jobs", armed)

	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := poller.New(scheduler, logger, config.Duration(cfg.Scheduler.ResyncInterval, 30*time.Second))
	p.Start(ctx)

	handler := api.NewHandler(scheduler, dispatcher.Trigger, promRegistry, logger)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debugf("Failed to notify systemd: %v", err)
	}
	logger.Infof("Server started on port %s - Press Ctrl+C to stop.", cfg.Server.Port)

	if err := api.StartServer(ctx, handler, cfg.Server); err != nil {
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down server...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	p.Stop()
	scheduler.Close()

	logger.Info("Server stopped")
}
