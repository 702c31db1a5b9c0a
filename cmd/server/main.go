package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nshruti113/traffic-sentinel/internal/action"
	"github.com/nshruti113/traffic-sentinel/internal/alerts"
	"github.com/nshruti113/traffic-sentinel/internal/analyzer"
	"github.com/nshruti113/traffic-sentinel/internal/api"
	"github.com/nshruti113/traffic-sentinel/internal/collector"
	"github.com/nshruti113/traffic-sentinel/internal/config"
	"github.com/nshruti113/traffic-sentinel/internal/detection"
	"github.com/nshruti113/traffic-sentinel/internal/logging"
	"github.com/nshruti113/traffic-sentinel/internal/response"
	"github.com/nshruti113/traffic-sentinel/internal/sentinel"
	"github.com/nshruti113/traffic-sentinel/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	col := collector.New(collector.Config{
		Window:            cfg.Collector.Window,
		HistorySize:       cfg.Collector.HistorySize,
		ConnectionTimeout: cfg.Collector.ConnectionTimeout,
	})
	an := analyzer.New(col)
	det := detection.NewDetector(col, an, detectorConfig(cfg))

	executor, closeExecutor := buildExecutor(cfg.Response)
	defer closeExecutor()

	hub := alerts.NewHub()
	alerters := alerts.Multi{hub}
	if cfg.Response.WebhookURL != "" {
		alerters = append(alerters, alerts.NewWebhook(cfg.Response.WebhookURL))
	}

	engineOpts := []response.Option{}
	sentinelOpts := []sentinel.Option{sentinel.WithBroadcaster(hub)}
	var threats api.ThreatHistory

	if cfg.Redis.Addr != "" {
		store, err := storage.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer store.Close()

		alerters = append(alerters, alerts.NewRedisAlerter(store))
		engineOpts = append(engineOpts, response.WithStore(store))
		sentinelOpts = append(sentinelOpts, sentinel.WithStore(store))
		threats = store
		log.WithField("addr", cfg.Redis.Addr).Info("Connected to Redis")
	}
	engineOpts = append(engineOpts, response.WithAlerter(alerters))

	engine, err := response.NewEngine(executor, response.Config{
		StrikeThreshold:     cfg.Response.StrikeThreshold,
		Whitelist:           cfg.Response.Whitelist,
		RateLimitPPS:        cfg.Response.RateLimitPPS,
		ThrottleBytesPerSec: cfg.Response.ThrottleBytesPerSec,
	}, engineOpts...)
	if err != nil {
		return err
	}

	if sim, ok := executor.(*action.SimulatedExecutor); ok {
		sentinelOpts = append(sentinelOpts, sentinel.WithAdmitter(sim))
	}

	ts := sentinel.NewTrafficSentinel(col, an, det, sentinel.NewResponseSentinel(engine), sentinel.Config{
		Interval:           cfg.Collector.AnalysisInterval,
		MinBaselineSamples: cfg.Collector.MinBaselineSamples,
	}, sentinelOpts...)

	col.Metrics().Register(reg)
	det.Metrics().Register(reg)
	engine.Metrics().Register(reg)

	if cfg.Collector.PacketFile != "" {
		go func() {
			if err := followPackets(ctx, cfg.Collector.PacketFile, ts); err != nil {
				log.WithError(err).Error("Packet file reader stopped")
			}
		}()
	}

	go ts.Run(ctx)

	handler := api.NewServer(api.Deps{
		Collector: col,
		Analyzer:  an,
		Detector:  det,
		Engine:    engine,
		Executor:  executor,
		Sentinel:  ts,
		Hub:       hub,
		Gatherer:  reg,
		Threats:   threats,
	}).Handler()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr": cfg.Server.Addr,
			"mode": executor.Mode(),
		}).Info("Traffic sentinel listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func detectorConfig(cfg *config.Config) detection.Config {
	d := detection.DefaultConfig()
	d.DDoSPacketsPerSecond = cfg.Detection.DDoSPacketsPerSecond
	d.DDoSConnectionsPerMinute = cfg.Detection.DDoSConnectionsPerMinute
	d.PortScanThreshold = cfg.Detection.PortScanThreshold
	d.PortScanWindow = cfg.Detection.PortScanWindow
	d.ExfiltrationBytesPerSecond = cfg.Detection.ExfiltrationBytesPerSecond
	d.ExfiltrationMinDuration = cfg.Detection.ExfiltrationMinDuration
	d.SuspiciousPortThreshold = cfg.Detection.SuspiciousPortThreshold
	d.OffHoursStart = cfg.Detection.OffHoursStart
	d.OffHoursEnd = cfg.Detection.OffHoursEnd
	return d
}

// buildExecutor only touches the kernel and docker when neither dry-run
// nor simulation is on. Missing backends are logged and left nil.
func buildExecutor(cfg config.ResponseConfig) (action.Executor, func()) {
	opts := action.Options{DryRun: cfg.DryRun, Simulation: cfg.Simulation}
	closer := func() {}

	if !cfg.DryRun && !cfg.Simulation {
		if routes, err := action.NewNetlinkRoutes(); err != nil {
			log.WithError(err).Warn("Blackhole routes unavailable")
		} else {
			opts.Routes = routes
		}

		if containers, err := action.NewDockerContainers(); err != nil {
			log.WithError(err).Warn("Docker unavailable")
		} else {
			opts.Containers = containers
			closer = func() { containers.Close() }
		}
	}

	executor := action.New(opts)
	log.WithField("mode", executor.Mode()).Info("Response executor ready")
	return executor, closer
}
