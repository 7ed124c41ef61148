// Package config loads the coordinator's single JSON configuration
// document (spec §6.4) and defaults any field a deployment omits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the coordinator's top-level configuration document.
type Config struct {
	LogLevel int          `json:"log_level"`
	Pools    []PoolConfig `json:"pools"`
	Scheduler SchedulerConfig `json:"scheduler"`
	CUDA      CUDAConfig      `json:"cuda"`
	Outbox    OutboxConfig    `json:"outbox"`
	Ledger    LedgerConfig    `json:"ledger"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// PoolConfig configures one upstream work source.
type PoolConfig struct {
	Profile   string            `json:"profile"` // "stratum" (default), "gbt", "viabtc", "f2pool"
	CredMode  string            `json:"cred_mode"`
	Weight    int               `json:"weight"`
	Wallet    string            `json:"wallet"`
	Account   string            `json:"account"`
	Worker    string            `json:"worker"`
	Endpoints []EndpointConfig  `json:"endpoints"`
	RPC       *RPCConfig        `json:"rpc"`
	GBT       *GBTConfig        `json:"gbt"`
	Policy    PolicyConfig      `json:"policy"`
}

// EndpointConfig is one ordered failover entry for a pool.
type EndpointConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	UseTLS bool   `json:"use_tls"`
}

// RPCConfig configures a GBT pool's Bitcoin Core RPC endpoint.
type RPCConfig struct {
	URL        string `json:"url"`
	Auth       string `json:"auth"` // "cookie" or "userpass"
	Username   string `json:"username"`
	Password   string `json:"password"`
	CookiePath string `json:"cookie_path"`
}

// GBTConfig configures getblocktemplate polling for a pool.
type GBTConfig struct {
	PollMs             int      `json:"poll_ms"`
	Rules              []string `json:"rules"`
	CbTag              string   `json:"cb_tag"`
	AllowSynthCoinbase bool     `json:"allow_synth_coinbase"`
	PayoutScriptHex    string   `json:"payout_script_hex"`
}

// PolicyConfig overrides per-pool job normalization policy.
type PolicyConfig struct {
	ForceCleanJobs   bool    `json:"force_clean_jobs"`
	CleanJobsDefault bool    `json:"clean_jobs_default"`
	VersionMask      *uint32 `json:"version_mask,omitempty"`
	NtimeMin         *uint32 `json:"ntime_min,omitempty"`
	NtimeMax         *uint32 `json:"ntime_max,omitempty"`
	ShareNbits       *uint32 `json:"share_nbits,omitempty"`
}

// SchedulerConfig tunes the weighted scheduler (spec §4.6).
type SchedulerConfig struct {
	LatencyPenaltyMs int `json:"latency_penalty_ms"`
	MaxWeight        int `json:"max_weight"`
}

// CUDAConfig tunes the launch planner and autotuner.
type CUDAConfig struct {
	HitRingCapacity      int    `json:"hit_ring_capacity"`
	DesiredThreadsPerJob int    `json:"desired_threads_per_job"`
	NoncesPerThread      int    `json:"nonces_per_thread"`
	BudgetMs             int    `json:"budget_ms"`
	TuningDir            string `json:"tuning_dir"`
	DeviceName           string `json:"device_name"`
}

// OutboxConfig configures the durable submit outbox.
type OutboxConfig struct {
	Path               string `json:"path"`
	MaxBytes           int64  `json:"max_bytes"`
	RotateOnStart      bool   `json:"rotate_on_start"`
	RotateIntervalSec  int    `json:"rotate_interval_sec"`
}

// LedgerConfig configures the work-item ledger.
type LedgerConfig struct {
	Path              string `json:"path"`
	MaxBytes          int64  `json:"max_bytes"`
	RotateIntervalSec int    `json:"rotate_interval_sec"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	EnableFile            bool   `json:"enable_file"`
	FilePath              string `json:"file_path"`
	DumpIntervalMs        int    `json:"dump_interval_ms"`
	EnableHTTP            bool   `json:"enable_http"`
	HTTPHost              string `json:"http_host"`
	HTTPPort              int    `json:"http_port"`
	FileMaxBytes          int64  `json:"file_max_bytes"`
	FileRotateIntervalSec int    `json:"file_rotate_interval_sec"`
}

// Defaults returns a Config with every field at its documented default,
// for callers that want to unmarshal over it.
func Defaults() *Config {
	return &Config{
		LogLevel: 2,
		Scheduler: SchedulerConfig{
			LatencyPenaltyMs: 2000,
			MaxWeight:        4,
		},
		CUDA: CUDAConfig{
			HitRingCapacity:      256,
			DesiredThreadsPerJob: 1 << 16,
			NoncesPerThread:      1,
			BudgetMs:             16,
			DeviceName:           "default",
		},
		Outbox: OutboxConfig{
			Path:              "outbox.dat",
			MaxBytes:          16 << 20,
			RotateIntervalSec: 86400,
		},
		Ledger: LedgerConfig{
			Path:              "ledger.jsonl",
			MaxBytes:          16 << 20,
			RotateIntervalSec: 86400,
		},
		Metrics: MetricsConfig{
			DumpIntervalMs: 5000,
			HTTPHost:       "127.0.0.1",
			HTTPPort:       9100,
		},
	}
}

// Load reads and parses the JSON configuration document at path, applying
// Defaults() for any field the document omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the document for values the rest of the coordinator
// cannot safely start with.
func (c *Config) Validate() error {
	if c.LogLevel < 0 || c.LogLevel > 4 {
		return fmt.Errorf("log_level must be in [0,4], got %d", c.LogLevel)
	}
	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one pool must be configured")
	}
	for i, p := range c.Pools {
		if p.Profile != "gbt" && len(p.Endpoints) == 0 {
			return fmt.Errorf("pool[%d]: stratum-family profiles require at least one endpoint", i)
		}
		if p.Profile == "gbt" && p.RPC == nil {
			return fmt.Errorf("pool[%d]: gbt profile requires an rpc block", i)
		}
	}
	return nil
}
