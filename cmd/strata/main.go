package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/drift"
	"github.com/stratahq/strata/forecast"
	"github.com/stratahq/strata/internal/metrics"
	"github.com/stratahq/strata/session"
	"github.com/stratahq/strata/store"
	"github.com/stratahq/strata/tracker"
	"github.com/stratahq/strata/types"
	"github.com/stratahq/strata/warmer"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "sweep":
		runSweep(os.Args[2:])
	case "warm":
		runWarm(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runtime bundles the constructed subsystem for one command run.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	manager   *session.Manager
	tracker   *tracker.Tracker
	store     *store.TieredStore
	warmer    *warmer.Warmer
}

func (r *runtime) close() {
	if err := r.tracker.Close(); err != nil {
		r.logger.Warn("tracker close failed", zap.Error(err))
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("store close failed", zap.Error(err))
	}
	r.logger.Sync()
}

func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func buildRuntime(cfg *config.Config) *runtime {
	logger, err := cfg.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	tr, err := tracker.New(cfg.Tracker, logger)
	if err != nil {
		logger.Fatal("tracker init failed", zap.Error(err))
	}

	storeCfg := cfg.Store
	if collector != nil {
		storeCfg.Metrics = collector
	}
	st, err := store.New(storeCfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}

	var cache warmer.FragmentCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = warmer.NewRedisFragmentCache(client, "")
		logger.Info("using redis fragment cache", zap.String("addr", cfg.Redis.Addr))
	}
	wm := warmer.New(tr, st, cache, types.NewTiktokenTokenizer(""), cfg.Warmer, logger)

	dbPath := cfg.ForecastDBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		logger.Fatal("forecast dir init failed", zap.Error(err))
	}
	trainingStore, err := forecast.OpenTrainingStore(dbPath)
	if err != nil {
		logger.Fatal("training store init failed", zap.Error(err))
	}
	fc, err := forecast.New(trainingStore, cfg.Forecast, logger)
	if err != nil {
		logger.Fatal("forecaster init failed", zap.Error(err))
	}

	dt := drift.New(cfg.Drift, logger)

	sessCfg := session.Config{
		MigrationSchedule: cfg.Session.MigrationSchedule,
		WarmSchedule:      cfg.Session.WarmSchedule,
		DefaultAgentID:    types.LastToucher(cfg.Session.DefaultAgentID),
	}
	if collector != nil {
		sessCfg.Metrics = collector
	}
	mgr, err := session.NewManager(session.Components{
		Tracker:    tr,
		Store:      st,
		Warmer:     wm,
		Forecaster: fc,
		Detector:   dt,
	}, sessCfg, logger)
	if err != nil {
		logger.Fatal("session init failed", zap.Error(err))
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		manager:   mgr,
		tracker:   tr,
		store:     st,
		warmer:    wm,
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	rt := buildRuntime(loadConfig(*configPath))
	defer rt.close()

	rt.logger.Info("starting strata",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("base_dir", rt.cfg.BaseDir),
	)

	if err := rt.manager.Start(); err != nil {
		rt.logger.Fatal("session cadence failed to start", zap.Error(err))
	}
	defer rt.manager.Stop()

	var metricsSrv *http.Server
	if rt.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "OK")
		})
		metricsSrv = &http.Server{Addr: rt.cfg.Metrics.Listen, Handler: mux}
		go func() {
			rt.logger.Info("metrics endpoint up", zap.String("listen", rt.cfg.Metrics.Listen))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				rt.logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	rt.logger.Info("shutting down")
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			rt.logger.Warn("metrics endpoint shutdown failed", zap.Error(err))
		}
	}
}

func runSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	rt := buildRuntime(loadConfig(*configPath))
	defer rt.close()

	res, err := rt.manager.RunMigrationNow(context.Background())
	if err != nil {
		rt.logger.Fatal("migration sweep failed", zap.Error(err))
	}

	fmt.Printf("hot -> warm:  %d\n", res.HotToWarm)
	fmt.Printf("warm -> cold: %d\n", res.WarmToCold)
	fmt.Printf("cold -> warm: %d\n", res.ColdToWarm)
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "error: %s\n", e)
	}
}

func runWarm(args []string) {
	fs := flag.NewFlagSet("warm", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	agent := fs.String("agent", "", "Agent identity for warming strategies")
	fs.Parse(args)

	rt := buildRuntime(loadConfig(*configPath))
	defer rt.close()

	res := rt.warmer.Warm(context.Background(), types.LastToucher(*agent))
	if rt.collector != nil {
		rt.collector.RecordWarmPass(res.ItemsWarmed, res.TotalTokens, res.Elapsed)
	}

	fmt.Printf("items warmed: %d\n", res.ItemsWarmed)
	fmt.Printf("total tokens: %d\n", res.TotalTokens)
	fmt.Printf("skipped:      %d\n", res.ItemsSkipped)
	fmt.Printf("elapsed:      %s\n", res.Elapsed)
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "error: %s\n", e)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	rt := buildRuntime(loadConfig(*configPath))
	defer rt.close()

	out := struct {
		Tracker tracker.Stats    `json:"tracker"`
		Store   store.StoreStats `json:"store"`
	}{
		Tracker: rt.tracker.GetStats(),
		Store:   rt.store.GetStats(),
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		rt.logger.Fatal("stats encode failed", zap.Error(err))
	}
	fmt.Println(string(data))
}

func printVersion() {
	fmt.Printf("strata %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`strata - tiered context memory service

Usage:
  strata serve [--config strata.yaml]   Run the background cadence and metrics endpoint
  strata sweep [--config strata.yaml]   Run one tier migration pass
  strata warm  [--agent ID]             Run one cache warming pass
  strata stats                          Print tracker and store statistics
  strata version                        Show version information`)
}
