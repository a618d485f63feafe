// Package config loads ledgerd's startup configuration: an optional YAML
// file merged under explicit CLI flags, covering the backend selection,
// tick cadence, and gas bounds that cmd/ledgerd exposes as flags. A flag
// explicitly set on the command line always wins over the file; the file
// exists so operators can keep a deployment's settings in one place
// instead of a long flag list.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files write "2s" instead of a
// raw nanosecond count; yaml.v3 has no built-in notion of a duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration value for passing to the rest of the
// engine, which knows nothing about config's YAML representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Backend names the storage implementation the node runs against.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBolt   Backend = "bolt"
	BackendSQL    Backend = "sql"
)

// Config is the full set of startup parameters for the ledgerd process.
type Config struct {
	DB struct {
		Backend Backend `yaml:"backend"`
		// DSN is the backend connection parameter: a filesystem path for
		// bolt, a postgres connection string for sql, unused for memory.
		DSN string `yaml:"dsn"`
	} `yaml:"db"`

	Builder struct {
		TickPeriod           Duration `yaml:"tick_period"`
		MaxSolutionsPerBlock int      `yaml:"max_solutions_per_block"`
	} `yaml:"builder"`

	Pool struct {
		MaxSolutionParts int    `yaml:"max_solution_parts"`
		MaxSolutionBytes int    `yaml:"max_solution_bytes"`
		MaxAgeBlocks     uint64 `yaml:"max_age_blocks"`
	} `yaml:"pool"`

	Validator struct {
		GasLimit        uint64 `yaml:"gas_limit"`
		GasPerOpCeiling uint64 `yaml:"gas_per_op_ceiling"`
	} `yaml:"validator"`

	VM struct {
		// Engine selects the VM contract implementation: "stack" (the
		// built-in bytecode interpreter) or "wasm" (wasmer-go).
		Engine string `yaml:"engine"`
	} `yaml:"vm"`

	Query struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"query"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	MetricsReportInterval Duration `yaml:"metrics_report_interval"`
}

// Default returns a Config with every field set to the value cmd/ledgerd
// falls back to when neither a flag nor a config file sets it.
func Default() Config {
	var cfg Config
	cfg.DB.Backend = BackendMemory
	cfg.Builder.TickPeriod = Duration(time.Second)
	cfg.Builder.MaxSolutionsPerBlock = 0
	cfg.Pool.MaxSolutionParts = 64
	cfg.Pool.MaxSolutionBytes = 1 << 20
	cfg.Pool.MaxAgeBlocks = 256
	cfg.Validator.GasLimit = 1_000_000
	cfg.Validator.GasPerOpCeiling = 10_000
	cfg.VM.Engine = "stack"
	cfg.Query.ListenAddr = "127.0.0.1:8090"
	cfg.Log.Level = "info"
	cfg.Log.JSON = false
	cfg.MetricsReportInterval = Duration(10 * time.Second)
	return cfg
}

// Load reads path as YAML over Default(). An empty path returns the
// defaults untouched, since --config is optional.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects combinations main cannot start from.
func (c Config) Validate() error {
	switch c.DB.Backend {
	case BackendMemory:
	case BackendBolt, BackendSQL:
		if c.DB.DSN == "" {
			return fmt.Errorf("db backend %q requires a connection parameter", c.DB.Backend)
		}
	default:
		return fmt.Errorf("unknown db backend %q", c.DB.Backend)
	}

	switch c.VM.Engine {
	case "stack", "wasm":
	default:
		return fmt.Errorf("unknown vm engine %q", c.VM.Engine)
	}

	if c.Validator.GasLimit == 0 {
		return fmt.Errorf("validator gas limit must be positive")
	}
	return nil
}
