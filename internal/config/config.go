// Package config provides configuration loading, validation, and hot-reload
// for hearthcore.
//
// Configuration file: /etc/hearthcore/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Process listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only; the daemon applies
//     attention.load_alpha, and other changed fields take effect on restart.
//   - Destructive changes (data dir, operator socket path) require restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The process does NOT crash on invalid hot-reload config.
//
// Precedence: FAMILY_CORE_* environment variables override the config
// file, which overrides Defaults().
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., weights in [0,1], half-life > 0).
//   - File paths must be non-empty (relative paths are not rejected).
//   - Invalid config on startup: process refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hearthcore/hearthcore/internal/envelope"
)

// Version, GitCommit, BuildTime are set at build time via -ldflags -X.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// DefaultDataDir is the default Storage.DataDir.
const DefaultDataDir = "/var/lib/hearthcore"

// Config is the root configuration structure for hearthcore.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this process in logs and audit entries.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	Storage       StorageConfig       `yaml:"storage"`
	Bus           BusConfig           `yaml:"bus"`
	Temporal      TemporalConfig      `yaml:"temporal"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Attention     AttentionConfig     `yaml:"attention"`
	Cortex        CortexConfig        `yaml:"cortex"`
	Arbiter       ArbiterConfig       `yaml:"arbiter"`
	Budget        BudgetConfig        `yaml:"budget"`
	Observability ObservabilityConfig `yaml:"observability"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// StorageConfig holds data-directory and WAL parameters (C1).
type StorageConfig struct {
	// DataDir is the root directory holding per-space BoltDB files and WAL
	// segments. Default: /var/lib/hearthcore.
	DataDir string `yaml:"data_dir"`

	// FlushIntervalMS is the WAL group-flush tick in milliseconds.
	// Default: 5.
	FlushIntervalMS int `yaml:"flush_interval_ms"`

	// DefaultBand is the envelope band applied to internally generated
	// events that do not carry their own sensitivity classification.
	// Default: GREEN.
	DefaultBand string `yaml:"default_band"`
}

// BusConfig holds consumer-group delivery parameters (C3).
type BusConfig struct {
	// MaxAttempts is the retry cap before a record moves to the DLQ.
	// Default: 8.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBaseMS / BackoffMaxMS bound the exponential backoff curve.
	// Default: 250 / 10000.
	BackoffBaseMS int `yaml:"backoff_base_ms"`
	BackoffMaxMS  int `yaml:"backoff_max_ms"`

	// BackoffJitter is the +/- fractional jitter applied to each delay.
	// Default: 0.2.
	BackoffJitter float64 `yaml:"backoff_jitter"`

	// ShardCount is the number of per-bucket-ordered dispatch shards.
	// Default: 4.
	ShardCount int `yaml:"shard_count"`

	// AdmissionCapacity / AdmissionRefillMS parameterize the publish-side
	// token bucket. Default: 10000 / 1000.
	AdmissionCapacity int `yaml:"admission_capacity"`
	AdmissionRefillMS int `yaml:"admission_refill_ms"`

	// MaxPayloadBytes bounds a single envelope's payload. Default: 262144.
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// TemporalConfig holds the temporal index's half-life (C4).
type TemporalConfig struct {
	// HalfLifeHours parameterizes recency_weight = 2^(-delta_h/h).
	// Default: 72.
	HalfLifeHours float64 `yaml:"half_life_hours"`

	// Timezone is the IANA location used for phrase parsing and bucketing.
	// Default: UTC.
	Timezone string `yaml:"timezone"`
}

// RetrievalConfig holds ranker/MMR/calibration defaults (C5).
type RetrievalConfig struct {
	// MMRLambda trades off relevance vs diversity. Default: 0.7.
	MMRLambda float64 `yaml:"mmr_lambda"`

	// RRFK is the reciprocal-rank-fusion constant. Default: 60.
	RRFK int `yaml:"rrf_k"`

	// AllowReranker gates the optional cross-encoder step.
	AllowReranker bool `yaml:"allow_reranker"`

	// CalibrationA / CalibrationB parameterize the sigmoid calibration
	// sigma(a*score+b). Defaults: 4.0 / -1.0.
	CalibrationA float64 `yaml:"calibration_a"`
	CalibrationB float64 `yaml:"calibration_b"`
}

// AttentionConfig holds the admission gate's thresholds (C6).
type AttentionConfig struct {
	// LoadAlpha is the EWMA smoothing factor for load tracking.
	// Default: 0.3.
	LoadAlpha float64 `yaml:"load_alpha"`

	// AdmitHigh: salience at or above this always ADMITs. Default 0.75.
	AdmitHigh float64 `yaml:"admit_high"`
	// AdmitLow: below this, salience can never ADMIT outright. Default 0.4.
	AdmitLow float64 `yaml:"admit_low"`
	// LoadDeferCutoff: in the [AdmitLow, AdmitHigh) band, load at or
	// above this defers instead of admitting. Default 0.8.
	LoadDeferCutoff float64 `yaml:"load_defer_cutoff"`
	// LoadDropCutoff: below AdmitLow, load above this drops instead of
	// deferring. Default 0.9.
	LoadDropCutoff float64 `yaml:"load_drop_cutoff"`
}

// CortexConfig holds Tier-0/Tier-1 predictor toggles (C8).
type CortexConfig struct {
	// EnableTier1 and Tier1ArtifactPath are parsed but not read by the
	// daemon, which always runs the Tier-0 linear predictor; no MLP
	// artifact is loaded.
	EnableTier1 bool `yaml:"enable_tier1"`

	Tier1ArtifactPath string `yaml:"tier1_artifact_path"`

	CalibrationLambda1 float64 `yaml:"calibration_lambda1"`
	CalibrationLambda2 float64 `yaml:"calibration_lambda2"`
}

// ArbiterConfig holds the arbiter's strict-audit toggle (C9).
type ArbiterConfig struct {
	// StrictAudit panics on an audit-chain violation; test-only.
	StrictAudit bool `yaml:"strict_audit"`
}

// BudgetConfig holds shared token-bucket parameters. They are validated on
// load; no component reads them.
type BudgetConfig struct {
	Capacity     int           `yaml:"capacity"`
	RefillPeriod time.Duration `yaml:"refill_period"`
}

// ObservabilityConfig holds metrics and logging parameters (C11).
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// OperatorConfig holds the operator override Unix socket parameters.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path for the operator CLI.
	// Permissions: 0600. Default: /run/hearthcore/operator.sock.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is active.
	Enabled bool `yaml:"enabled"`

	// MaxConnections bounds concurrent operator CLI sessions.
	MaxConnections int `yaml:"max_connections"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Storage: StorageConfig{
			DataDir:         DefaultDataDir,
			FlushIntervalMS: 5,
			DefaultBand:     "GREEN",
		},
		Bus: BusConfig{
			MaxAttempts:       8,
			BackoffBaseMS:     250,
			BackoffMaxMS:      10000,
			BackoffJitter:     0.2,
			ShardCount:        4,
			AdmissionCapacity: 10000,
			AdmissionRefillMS: 1000,
			MaxPayloadBytes:   262144,
		},
		Temporal: TemporalConfig{
			HalfLifeHours: 72,
			Timezone:      "UTC",
		},
		Retrieval: RetrievalConfig{
			MMRLambda:     0.7,
			RRFK:          60,
			AllowReranker: false,
			CalibrationA:  4.0,
			CalibrationB:  -1.0,
		},
		Attention: AttentionConfig{
			LoadAlpha:       0.3,
			AdmitHigh:       0.75,
			AdmitLow:        0.4,
			LoadDeferCutoff: 0.8,
			LoadDropCutoff:  0.9,
		},
		Cortex: CortexConfig{
			EnableTier1:        false,
			CalibrationLambda1: 0.4,
			CalibrationLambda2: 0.6,
		},
		Arbiter: ArbiterConfig{
			StrictAudit: false,
		},
		Budget: BudgetConfig{
			Capacity:     100,
			RefillPeriod: 60 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Operator: OperatorConfig{
			Enabled:        true,
			SocketPath:     "/run/hearthcore/operator.sock",
			MaxConnections: 4,
		},
	}
}

// Load reads and validates a config file from the given path, then applies
// FAMILY_CORE_* environment overrides. Returns the merged config.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies the FAMILY_CORE_* environment variables from
// spec.md §6, taking precedence over file values. Malformed values are
// silently ignored, leaving the file/default value in place; Validate
// catches anything still out of range.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAMILY_CORE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v, ok := envInt("FAMILY_CORE_FLUSH_INTERVAL_MS"); ok {
		cfg.Storage.FlushIntervalMS = v
	}
	if v, ok := envInt("FAMILY_CORE_MAX_ATTEMPTS"); ok {
		cfg.Bus.MaxAttempts = v
	}
	if v, ok := envInt("FAMILY_CORE_BACKOFF_BASE_MS"); ok {
		cfg.Bus.BackoffBaseMS = v
	}
	if v, ok := envInt("FAMILY_CORE_BACKOFF_MAX_MS"); ok {
		cfg.Bus.BackoffMaxMS = v
	}
	if v, ok := envFloat("FAMILY_CORE_TEMPORAL_HALF_LIFE_H"); ok {
		cfg.Temporal.HalfLifeHours = v
	}
	if v := os.Getenv("FAMILY_CORE_DEFAULT_BAND"); v != "" {
		cfg.Storage.DefaultBand = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Validate checks all config fields for correctness, returning a
// descriptive error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Storage.DataDir == "" {
		errs = append(errs, "storage.data_dir must not be empty")
	}
	if cfg.Storage.FlushIntervalMS < 1 {
		errs = append(errs, fmt.Sprintf("storage.flush_interval_ms must be >= 1, got %d", cfg.Storage.FlushIntervalMS))
	}
	if _, err := envelope.ParseBand(cfg.Storage.DefaultBand); err != nil {
		errs = append(errs, fmt.Sprintf("storage.default_band invalid: %v", err))
	}
	if cfg.Bus.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("bus.max_attempts must be >= 1, got %d", cfg.Bus.MaxAttempts))
	}
	if cfg.Bus.BackoffBaseMS < 1 || cfg.Bus.BackoffMaxMS < cfg.Bus.BackoffBaseMS {
		errs = append(errs, "bus.backoff_base_ms must be >= 1 and <= backoff_max_ms")
	}
	if cfg.Bus.BackoffJitter < 0 || cfg.Bus.BackoffJitter > 1 {
		errs = append(errs, fmt.Sprintf("bus.backoff_jitter must be in [0,1], got %f", cfg.Bus.BackoffJitter))
	}
	if cfg.Bus.ShardCount < 1 {
		errs = append(errs, fmt.Sprintf("bus.shard_count must be >= 1, got %d", cfg.Bus.ShardCount))
	}
	if cfg.Bus.MaxPayloadBytes < 1 {
		errs = append(errs, "bus.max_payload_bytes must be >= 1")
	}
	if cfg.Temporal.HalfLifeHours <= 0 {
		errs = append(errs, fmt.Sprintf("temporal.half_life_hours must be > 0, got %f", cfg.Temporal.HalfLifeHours))
	}
	if cfg.Retrieval.MMRLambda < 0 || cfg.Retrieval.MMRLambda > 1 {
		errs = append(errs, fmt.Sprintf("retrieval.mmr_lambda must be in [0,1], got %f", cfg.Retrieval.MMRLambda))
	}
	if cfg.Retrieval.RRFK < 1 {
		errs = append(errs, "retrieval.rrf_k must be >= 1")
	}
	if cfg.Attention.LoadAlpha < 0 || cfg.Attention.LoadAlpha > 1 {
		errs = append(errs, fmt.Sprintf("attention.load_alpha must be in [0,1], got %f", cfg.Attention.LoadAlpha))
	}
	if !(cfg.Attention.AdmitLow < cfg.Attention.AdmitHigh) {
		errs = append(errs, "attention thresholds must satisfy admit_low < admit_high")
	}
	if !(cfg.Attention.LoadDeferCutoff < cfg.Attention.LoadDropCutoff) {
		errs = append(errs, "attention load cutoffs must satisfy load_defer_cutoff < load_drop_cutoff")
	}
	if cfg.Cortex.CalibrationLambda1 < 0 || cfg.Cortex.CalibrationLambda2 < 0 {
		errs = append(errs, "cortex calibration lambdas must be >= 0")
	}
	if cfg.Budget.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("budget.capacity must be >= 1, got %d", cfg.Budget.Capacity))
	}
	if cfg.Budget.RefillPeriod < time.Second {
		errs = append(errs, fmt.Sprintf("budget.refill_period must be >= 1s, got %s", cfg.Budget.RefillPeriod))
	}
	if cfg.Operator.Enabled && cfg.Operator.SocketPath == "" {
		errs = append(errs, "operator.socket_path must not be empty when operator.enabled")
	}
	if cfg.Operator.MaxConnections < 1 {
		errs = append(errs, "operator.max_connections must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
