// pedometerd - Step counting daemon.
//
// pedometerd reads the hardware step counter, converts its raw
// monotonic readings into per-interval step deltas, and persists them
// for querying through pedoctl.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pedometerd/internal/boot"
	"pedometerd/internal/config"
	"pedometerd/internal/engine"
	"pedometerd/internal/ipc"
	"pedometerd/internal/logging"
	"pedometerd/internal/metrics"
	"pedometerd/internal/processor"
	"pedometerd/internal/records"
	"pedometerd/internal/sensor"
	"pedometerd/internal/state"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (TOML or YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pedometerd %s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pedometerd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(&logging.Config{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Component:  "pedometerd",
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logging.SetDefault(log)
	defer log.Close()

	log.Info("starting", "version", version,
		"state", cfg.Storage.StatePath, "records", cfg.Storage.RecordsPath)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.StatePath), 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store, err := state.Open(cfg.Storage.StatePath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	mtr := metrics.New()

	rec, err := records.Open(cfg.Storage.RecordsPath, records.Options{
		Retention:     cfg.Retention.Window(),
		CleanupEvery:  cfg.Retention.CleanupEvery,
		Probabilistic: cfg.Retention.Probabilistic,
	}, log.WithComponent("records").Logger)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer rec.Close()

	if configPath != "" {
		loader.OnChange(func(next *config.Config) {
			rec.SetOptions(records.Options{
				Retention:     next.Retention.Window(),
				CleanupEvery:  next.Retention.CleanupEvery,
				Probabilistic: next.Retention.Probabilistic,
			})
			log.Info("config reloaded",
				"note", "storage and sensor changes take effect on restart")
		})
		if err := loader.Watch(); err != nil {
			log.Warn("config watch unavailable", "error", err)
		}
		defer loader.Close()
	}

	src := newSource(cfg, log)
	proc := processor.New(store, log.WithComponent("processor").Logger)
	mgr := sensor.NewManager(proc, rec, src, mtr, log.WithComponent("sensor").Logger)
	detector := boot.NewDetector(store, log.WithComponent("boot").Logger)
	eng := engine.New(store, proc, mgr, rec, detector, log.WithComponent("engine").Logger)

	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mtr.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			log.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	srv := ipc.NewServer(eng, cfg.IPC.SocketPath, log.WithComponent("ipc").Logger)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("bind control socket: %w", err)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("control socket failed", "error", err)
		}
	}()
	log.Info("control socket ready", "path", cfg.IPC.SocketPath)

	if cfg.Sensor.AutoStart {
		session, err := eng.StartTracking(ctx)
		if err != nil {
			log.Warn("auto-start failed", "error", err)
		} else {
			log.Info("tracking started", "session", session)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	if eng.IsTracking() {
		if err := eng.StopTracking(ctx); err != nil {
			log.Warn("stop tracking on shutdown", "error", err)
		}
	}
	if err := srv.Close(); err != nil {
		log.Warn("close control socket", "error", err)
	}
	if metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		metricsSrv.Shutdown(shutCtx)
		cancel()
	}

	return nil
}

func newSource(cfg *config.Config, log *logging.Logger) sensor.Source {
	if cfg.Sensor.Source == "simulated" {
		log.Warn("using simulated step source")
		return sensor.NewSimulated()
	}
	return sensor.NewPlatformSource(sensor.PlatformConfig{
		BusName:    cfg.Sensor.BusName,
		ObjectPath: cfg.Sensor.ObjectPath,
		Interface:  cfg.Sensor.Interface,
		Property:   cfg.Sensor.Property,
	}, log.WithComponent("dbus").Logger)
}
