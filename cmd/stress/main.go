package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/i5heu/GoMPSCRing/internal/logging"
	"github.com/i5heu/GoMPSCRing/internal/testbench"
	"github.com/i5heu/GoMPSCRing/pkg/config"
	"github.com/i5heu/GoMPSCRing/pkg/epochring"
	"github.com/i5heu/GoMPSCRing/pkg/metrics"
)

// runStress runs cfg.Rounds counted runs, each on a fresh ring, and stops at
// the first failure. Every ring is registered with reg while it is in use.
func runStress(cfg config.StressConfig, reg *prometheus.Registry, logger *zap.Logger) error {
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	logger.Info("starting stress run",
		zap.Uint64("capacity", cfg.Capacity),
		zap.Int("producers", cfg.Producers),
		zap.Int("per_producer", cfg.PerProducer),
		zap.Int("rounds", cfg.Rounds),
		zap.Uint32("jitter", cfg.Jitter))

	var total time.Duration
	for round := 1; round <= cfg.Rounds; round++ {
		q := epochring.NewQueue[testbench.Tag](cfg.Capacity)

		var col prometheus.Collector
		if reg != nil {
			col = metrics.NewCollector("mpscring", "stress", q)
			if err := reg.Register(col); err != nil {
				return fmt.Errorf("registering metrics: %w", err)
			}
		}

		res, err := testbench.RunCountedTest(q, testbench.CountedConfig{
			Producers:   cfg.Producers,
			PerProducer: cfg.PerProducer,
			Jitter:      cfg.Jitter,
		}, logger)

		st := q.Stats()
		if reg != nil {
			reg.Unregister(col)
		}
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}

		total += res.Elapsed
		logger.Debug("round passed",
			zap.Int("round", round),
			zap.Int("delivered", res.Delivered),
			zap.Int64("rejected", res.Rejected),
			zap.Uint64("claim_failures", st.ClaimFailures),
			zap.Uint64("claim_waits", st.ClaimWaits),
			zap.Uint64("epoch_advances", st.EpochAdvances),
			zap.Duration("elapsed", res.Elapsed))
	}

	logger.Info("stress run passed",
		zap.Int("rounds", cfg.Rounds),
		zap.Int("values", cfg.Rounds*cfg.Producers*cfg.PerProducer),
		zap.Duration("elapsed", total))
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

// jitterFromFlag narrows the -jitter flag to the config's uint32 field.
func jitterFromFlag(v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: jitter %d exceeds %d", config.ErrInvalid, v, uint32(math.MaxUint32))
	}
	return uint32(v), nil
}

// run holds everything main does so deferred cleanup, including metrics
// server shutdown, happens before the process exits.
func run() error {
	configPath := flag.String("config", "", "Path to a YAML config file")
	capacity := flag.Uint64("capacity", 0, "Ring capacity, must be a power of two (overrides config)")
	producers := flag.Int("producers", 0, "Number of producers (overrides config)")
	perProducer := flag.Int("per-producer", 0, "Values pushed by each producer (overrides config)")
	rounds := flag.Int("rounds", 0, "Number of rounds (overrides config)")
	jitter := flag.Uint("jitter", 0, "Maximum extra yields after each push attempt (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100 (overrides config)")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "capacity":
			cfg.Stress.Capacity = *capacity
		case "producers":
			cfg.Stress.Producers = *producers
		case "per-producer":
			cfg.Stress.PerProducer = *perProducer
		case "rounds":
			cfg.Stress.Rounds = *rounds
		case "jitter":
			cfg.Stress.Jitter, flagErr = jitterFromFlag(*jitter)
		case "metrics-addr":
			cfg.Stress.MetricsAddr = *metricsAddr
		}
	})
	if err := errors.Join(flagErr, cfg.Validate()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if *printConfig {
		return cfg.WriteYAML(os.Stdout)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	var reg *prometheus.Registry
	if cfg.Stress.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		srv := serveMetrics(cfg.Stress.MetricsAddr, reg, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if err := runStress(cfg.Stress, reg, logger); err != nil {
		logger.Error("stress run failed", zap.Error(err))
		return err
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
