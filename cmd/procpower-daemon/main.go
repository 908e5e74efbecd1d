package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/cptspacemanspiff/procpower/internal/collector"
	"github.com/cptspacemanspiff/procpower/internal/config"
	dbussvc "github.com/cptspacemanspiff/procpower/internal/dbus"
	"github.com/cptspacemanspiff/procpower/internal/driver"
	"github.com/cptspacemanspiff/procpower/internal/export"
	"github.com/cptspacemanspiff/procpower/internal/logging"
	"github.com/cptspacemanspiff/procpower/internal/metrics"
	"github.com/cptspacemanspiff/procpower/internal/power"
	"github.com/cptspacemanspiff/procpower/internal/storage"
	"github.com/cptspacemanspiff/procpower/internal/stream"
)

const defaultConfigPath = "/etc/procpower/config.toml"

func main() {
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: sampler,telemetry,driver,storage,stream,export (or 'all')")
	configPath := flag.String("config", defaultConfigPath, "TOML or YAML config file; a missing default file means built-in defaults")
	resetDB := flag.Bool("reset-db", false, "delete the database and start fresh")
	writeCfg := flag.String("write-config", "", "write the effective config to this path (TOML, or YAML for .yaml/.yml) and exit")
	flag.Parse()

	logger := logging.New(os.Stderr, *verbose, *logFlag)

	cfg, err := loadConfig(*configPath, *configPath == defaultConfigPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	if *writeCfg != "" {
		if err := writeConfig(*writeCfg, cfg); err != nil {
			logger.Error("write config", "path", *writeCfg, "err", err)
			os.Exit(1)
		}
		logger.Info("config written", "path", *writeCfg)
		return
	}

	dbPath := cfg.Storage.DBPath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}

	if *resetDB {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				logger.Error("delete database", "err", err)
				os.Exit(1)
			}
		}
		logger.Info("database deleted", "path", dbPath)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon stopped", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads path. When optional is set a missing file yields the
// built-in defaults.
func loadConfig(path string, optional bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if optional && errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return nil, err
}

// writeConfig saves the effective config atomically.
func writeConfig(path string, cfg *config.Config) error {
	return config.Save(path, cfg)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := dbussvc.NewService(store)
	if conn, err := svc.Export(); err != nil {
		logger.Warn("D-Bus service unavailable", "err", err)
	} else {
		defer conn.Close()
		logger.Info("D-Bus service registered", "name", "io.github.cptspacemanspiff.ProcPower")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageLog := logging.Topic(logger, logging.TopicStorage)
	telemetryLog := logging.Topic(logger, logging.TopicTelemetry)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	hub := stream.NewHub(logging.Topic(logger, logging.TopicStream))
	go hub.Run(ctx)

	sinkFailed := func(sink string, err error) {
		m.RecordSinkError(sink, err)
		logger.Warn("sink write failed", "sink", sink, "err", err)
	}
	sinks := []driver.Sink{
		driver.BestEffort("storage", store, sinkFailed),
		driver.BestEffort("metrics", m, sinkFailed),
		driver.BestEffort("stream", hub, sinkFailed),
	}

	es := cfg.Export.Elasticsearch
	if es.Enabled {
		exp, err := export.NewElasticsearch(export.ElasticsearchConfig{
			Addresses: es.Addresses,
			Index:     es.Index,
		}, logging.Topic(logger, logging.TopicExport))
		if err != nil {
			return err
		}
		sinks = append(sinks, driver.BestEffort("elasticsearch", exp, sinkFailed))
		logger.Info("elasticsearch export enabled", "index", es.Index)
	}

	sampler := collector.NewProcessSampler(logging.Topic(logger, logging.TopicSampler))
	telemetry := collector.NewTelemetryReader(cfg.Telemetry.CollectorConfig(), telemetryLog)
	for id, s := range telemetry.ReadAllCores() {
		telemetryLog.Info("core telemetry", "core", id, "voltage_v", s.VoltageV, "freq_hz", s.FreqHz, "temperature_c", s.TemperatureC)
	}
	composer := power.NewComposer(sampler, telemetry, power.NewModel(cfg.Model), cfg.Sampling.CoreID, cfg.Sampling.SampleDelay())

	d := driver.New(composer, driver.Sinks(sinks...), driver.Config{
		Interval: cfg.Sampling.Interval(),
	}, logging.Topic(logger, logging.TopicDriver))
	d.OnCycle = m.ObserveCycle

	if addr := cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           newMux(hub, m, d),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", "addr", addr, "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("http server listening", "addr", addr)
	}

	retention := time.Duration(cfg.Cleanup.RetentionDays) * 24 * time.Hour
	cleanupInterval := time.Duration(cfg.Cleanup.IntervalHours) * time.Hour
	runCleanup(store, retention, time.Now(), storageLog)

	sleepMon, err := collector.NewSleepMonitor(logger)
	var wakeCh <-chan struct{}
	if err != nil {
		logger.Warn("sleep monitor unavailable", "err", err)
	} else {
		wakeCh = sleepMon.Wake()
		defer sleepMon.Close()
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCleanup(store, retention, time.Now(), storageLog)
			case <-wakeCh:
				tel := telemetry.Read(cfg.Sampling.CoreID)
				logger.Info("resumed from sleep",
					"voltage_v", tel.VoltageV,
					"freq_hz", tel.FreqHz,
					"temperature_c", tel.TemperatureC)
				runCleanup(store, retention, time.Now(), storageLog)
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("procpower-daemon started", "interval", cfg.Sampling.Interval(), "core", cfg.Sampling.CoreID)
	if err := d.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutting down", "cycles", d.Cycles(), "skipped", d.Skipped())
	return nil
}

// runCleanup deletes records older than retention.
func runCleanup(store *storage.DB, retention time.Duration, now time.Time, logger *slog.Logger) {
	cutoff := now.Add(-retention).UnixMilli()
	deleted, err := store.DeleteOlderThan(cutoff)
	if err != nil {
		logger.Error("retention cleanup", "err", err)
		return
	}
	logger.Info("retention cleanup", "deleted", deleted, "cutoff_ms", cutoff)
}

type healthResponse struct {
	Status  string `json:"status"`
	Driver  string `json:"driver"`
	Cycles  int    `json:"cycles"`
	Skipped int    `json:"skipped"`
	Clients int    `json:"clients"`
	Cores   int    `json:"cores"`
}

var cpuCounts = cpu.Counts

func newMux(hub *stream.Hub, m *metrics.Metrics, d *driver.Driver) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws/power", hub)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		cores, _ := cpuCounts(true)
		resp := healthResponse{
			Status:  "ok",
			Driver:  d.State().String(),
			Cycles:  d.Cycles(),
			Skipped: d.Skipped(),
			Clients: hub.ClientCount(),
			Cores:   cores,
		}
		w.Header().Set("Content-Type", "application/json")
		if d.State() == driver.Failed {
			resp.Status = "failed"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}
