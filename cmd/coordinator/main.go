// Command coordinator runs the CUDA work coordinator: it drains normalized
// jobs from every configured Stratum and getblocktemplate pool, dispatches a
// weighted job table to the search engine, and routes verified hits back to
// their originating pool or to the Bitcoin node.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arejula27/cuda-work-coordinator/internal/bitcoinrpc"
	"github.com/arejula27/cuda-work-coordinator/internal/config"
	"github.com/arejula27/cuda-work-coordinator/internal/engine"
	"github.com/arejula27/cuda-work-coordinator/internal/gbt"
	"github.com/arejula27/cuda-work-coordinator/internal/ledger"
	"github.com/arejula27/cuda-work-coordinator/internal/logging"
	"github.com/arejula27/cuda-work-coordinator/internal/metrics"
	"github.com/arejula27/cuda-work-coordinator/internal/orchestrator"
	"github.com/arejula27/cuda-work-coordinator/internal/outbox"
	"github.com/arejula27/cuda-work-coordinator/internal/registry"
	"github.com/arejula27/cuda-work-coordinator/internal/scheduler"
	"github.com/arejula27/cuda-work-coordinator/internal/stratum"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the coordinator's JSON configuration document")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("coordinator exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := registry.New(len(cfg.Pools))
	sched := scheduler.New(scheduler.Config{
		MaxWeight:        cfg.Scheduler.MaxWeight,
		LatencyPenaltyMs: float64(cfg.Scheduler.LatencyPenaltyMs),
		Cap:              4096,
	})

	ob, err := outbox.Open(outbox.Config{
		Path:               cfg.Outbox.Path,
		MaxBytes:           cfg.Outbox.MaxBytes,
		RotateOnStart:      cfg.Outbox.RotateOnStart,
		RotateIntervalSecs: cfg.Outbox.RotateIntervalSec,
	}, logging.Component(logger, "outbox"))
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	led, err := ledger.Open(ledger.Config{
		Path:               cfg.Ledger.Path,
		MaxBytes:           cfg.Ledger.MaxBytes,
		RotateIntervalSecs: cfg.Ledger.RotateIntervalSec,
	}, logging.Component(logger, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	eng := engine.NewMockEngine()

	orch := orchestrator.New(orchestrator.Config{
		BudgetMs:               uint32(cfg.CUDA.BudgetMs),
		DesiredThreadsPerJob:   uint64(cfg.CUDA.DesiredThreadsPerJob),
		HitRingCapacity:        cfg.CUDA.HitRingCapacity,
		TuningDir:              cfg.CUDA.TuningDir,
		DeviceName:             cfg.CUDA.DeviceName,
		InitialNoncesPerThread: uint32(cfg.CUDA.NoncesPerThread),
	}, reg, sched, led, ob, eng, logging.Component(logger, "orchestrator"))

	for sourceID, poolCfg := range cfg.Pools {
		binding, err := buildPool(ctx, sourceID, poolCfg, logger)
		if err != nil {
			return fmt.Errorf("pool[%d]: %w", sourceID, err)
		}
		orch.AddPool(binding)
		sched.SetWeight(sourceID, weightOrDefault(poolCfg.Weight))
	}

	var metricsServer *http.Server
	if cfg.Metrics.EnableHTTP {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Metrics.HTTPHost, cfg.Metrics.HTTPPort),
			Handler: mux,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Metrics.EnableFile {
		go runMetricsDumper(ctx, cfg.Metrics, logging.Component(logger, "metrics.dump"))
	}

	orch.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

func weightOrDefault(weight int) int {
	if weight <= 0 {
		return 1
	}
	return weight
}

// buildPool constructs the runtime binding for one configured pool: a
// StratumGroup fronting its endpoint list, or a GBTBinding polling a
// Bitcoin Core node, per its profile.
func buildPool(ctx context.Context, sourceID int, p config.PoolConfig, logger *zap.Logger) (*orchestrator.PoolBinding, error) {
	if p.Profile == "gbt" {
		return buildGBTPool(ctx, sourceID, p, logger)
	}
	return buildStratumPool(ctx, sourceID, p, logger)
}

func buildStratumPool(ctx context.Context, sourceID int, p config.PoolConfig, logger *zap.Logger) (*orchestrator.PoolBinding, error) {
	endpoints := make([]stratum.Endpoint, len(p.Endpoints))
	for i, e := range p.Endpoints {
		endpoints[i] = stratum.Endpoint{Host: e.Host, Port: e.Port, UseTLS: e.UseTLS}
	}

	policy := stratum.Policy{
		ForceCleanJobs:   p.Policy.ForceCleanJobs,
		CleanJobsDefault: p.Policy.CleanJobsDefault,
	}
	if p.Policy.VersionMask != nil {
		policy.VersionMask = *p.Policy.VersionMask
	}
	if p.Policy.NtimeMin != nil {
		policy.NtimeMin = *p.Policy.NtimeMin
	}
	if p.Policy.NtimeMax != nil {
		policy.NtimeMax = *p.Policy.NtimeMax
	}
	if p.Policy.ShareNbits != nil {
		policy.ShareNbitsFloor = *p.Policy.ShareNbits
	}

	username := stratum.FormatCredentials(stratum.CredMode(p.CredMode), profileFor(p.Profile), stratum.Credentials{
		Wallet:  p.Wallet,
		Account: p.Account,
		Worker:  p.Worker,
	})

	group := orchestrator.NewStratumGroup(ctx, sourceID, endpoints, username, "x",
		policy, logging.Component(logger, "stratum", zap.Int("source_id", sourceID)))

	return &orchestrator.PoolBinding{SourceID: sourceID, Kind: "stratum", Source: group, Stratum: group}, nil
}

func profileFor(name string) stratum.Profile {
	switch name {
	case "viabtc":
		return stratum.ProfileViaBTC
	case "f2pool":
		return stratum.ProfileF2Pool
	default:
		return stratum.ProfileGeneric
	}
}

func buildGBTPool(ctx context.Context, sourceID int, p config.PoolConfig, logger *zap.Logger) (*orchestrator.PoolBinding, error) {
	if p.RPC == nil {
		return nil, fmt.Errorf("gbt profile requires an rpc block")
	}
	auth := bitcoinrpc.AuthConfig{
		Username:   p.RPC.Username,
		Password:   p.RPC.Password,
		CookiePath: p.RPC.CookiePath,
	}
	client := bitcoinrpc.NewRPCClient(p.RPC.URL, auth, 4)

	var policy gbt.Policy
	var rules []string
	pollInterval := 500 * time.Millisecond
	if p.GBT != nil {
		rules = p.GBT.Rules
		if p.GBT.PollMs > 0 {
			pollInterval = time.Duration(p.GBT.PollMs) * time.Millisecond
		}
		policy.CbTag = []byte(p.GBT.CbTag)
		policy.AllowSynthCoinbase = p.GBT.AllowSynthCoinbase
		if p.GBT.PayoutScriptHex != "" {
			script, err := hex.DecodeString(p.GBT.PayoutScriptHex)
			if err != nil {
				return nil, fmt.Errorf("decode payout_script_hex: %w", err)
			}
			policy.PayoutScript = script
		} else if !p.GBT.AllowSynthCoinbase {
			return nil, fmt.Errorf("gbt pool has no payout_script_hex and allow_synth_coinbase is false")
		}
	}

	binding := orchestrator.NewGBTBinding(ctx, sourceID, client, policy, rules, pollInterval,
		logging.Component(logger, "gbt", zap.Int("source_id", sourceID)))

	return &orchestrator.PoolBinding{SourceID: sourceID, Kind: "gbt", Source: binding, GBT: binding}, nil
}

// runMetricsDumper periodically writes the Prometheus registry snapshot to
// a file, for deployments that scrape off disk instead of the HTTP
// endpoint (or in addition to it).
func runMetricsDumper(ctx context.Context, cfg config.MetricsConfig, logger *zap.Logger) {
	interval := time.Duration(cfg.DumpIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := metrics.DumpToFile(cfg.FilePath, cfg.FileMaxBytes, cfg.FileRotateIntervalSec); err != nil {
				logger.Warn("metrics file dump failed", zap.Error(err))
			}
		}
	}
}
