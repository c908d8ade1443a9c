package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/attlog"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/config"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/forward"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/httpapi"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/protocol"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/realtime"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/roster"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/state"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/store"
)

func main() {
	cfgPath := "settings.json"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	st, err := state.Open(cfg.StatePath)
	if err != nil {
		slog.Error("state open failed", "path", cfg.StatePath, "error", err)
		os.Exit(1)
	}

	journal := attlog.NewJournal(cfg.JournalPath)
	normalizer := attlog.NewNormalizer(journal)
	if err := normalizer.Rehydrate(); err != nil {
		slog.Error("duplicate filter rehydrate failed", "path", cfg.JournalPath, "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		slog.Error("db connect failed", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.TrimSpace(cfg.MQTTBrokerURL) != "" {
		rt, err := realtime.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID)
		if err != nil {
			// Realtime events are advisory; the pipeline runs without them.
			slog.Warn("mqtt connect failed, realtime events disabled", "error", err)
		} else {
			defer rt.Close()
			normalizer.Publisher = rt
		}
	}

	client := forward.New(cfg.Remote.BaseURL, cfg.Remote.AppID, cfg.Remote.Token)

	loader := &store.Loader{Journal: journal, State: st, Repo: repo, Interval: time.Duration(cfg.LoaderIntervalSec) * time.Second}
	go loader.Run(ctx)

	syncer := &forward.Syncer{Repo: repo, Client: client, Interval: time.Duration(cfg.SyncIntervalSec) * time.Second}
	go syncer.Run(ctx)

	refresher := &roster.Refresher{Client: client, Repo: repo}
	go refresher.Refresh(ctx)

	commander := protocol.NewCommander(st, cfg.Command.Template, cfg.Command.TZOffsetMinutes)
	retention := &attlog.Retention{Journal: journal, State: st, Window: time.Duration(cfg.RetentionDays) * 24 * time.Hour}

	cr := cron.New(cron.WithSeconds())
	if _, err := cr.AddFunc(cfg.Command.RearmSchedule, commander.Rearm); err != nil {
		slog.Error("invalid rearm schedule", "spec", cfg.Command.RearmSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := cr.AddFunc(cfg.RetentionSchedule, func() {
		if n, err := retention.Sweep(); err != nil {
			slog.Error("retention sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("retention sweep finished", "dropped", n)
		}
	}); err != nil {
		slog.Error("invalid retention schedule", "spec", cfg.RetentionSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := cr.AddFunc(cfg.RosterSchedule, func() { refresher.Refresh(ctx) }); err != nil {
		slog.Error("invalid roster schedule", "spec", cfg.RosterSchedule, "error", err)
		os.Exit(1)
	}
	cr.Start()
	defer cr.Stop()

	for _, dev := range cfg.Devices {
		l := &protocol.Listener{
			Host:    cfg.ListenHost,
			Device:  dev,
			Handler: &protocol.Handler{Device: dev, Commander: commander, Normalizer: normalizer},
		}
		go func(l *protocol.Listener) {
			// One dead endpoint must not take the others down.
			if err := l.Run(ctx); err != nil {
				slog.Error("device endpoint failed", "serial", l.Device.Serial, "port", l.Device.Port, "error", err)
			}
		}(l)
	}

	api := httpapi.New(repo, st, journal, normalizer, commander)
	httpSrv := &http.Server{Addr: cfg.OpsAddr, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("ops api listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
