package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/i5heu/GoMPSCRing/internal/testbench"
)

// Concurrency is an alias for testbench.Config. This allows other programs to
// import the concurrency settings without pulling in the entire testbench package.
type Concurrency = testbench.Config

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// EnvPrefix prefixes environment overrides, e.g. MPSCRING_STRESS_PRODUCERS.
const EnvPrefix = "MPSCRING"

// Config is the configuration shared by the command line tools.
type Config struct {
	Bench  BenchConfig  `mapstructure:"bench" yaml:"bench"`
	Stress StressConfig `mapstructure:"stress" yaml:"stress"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// BenchConfig drives cmd/bench.
type BenchConfig struct {
	Iterations int           `mapstructure:"iterations" yaml:"iterations"`
	Duration   time.Duration `mapstructure:"duration" yaml:"-"`
	Capacity   uint64        `mapstructure:"capacity" yaml:"capacity"`
	// CPUs lists GOMAXPROCS values to test. Empty means the common values up
	// to runtime.NumCPU().
	CPUs      []int  `mapstructure:"cpus" yaml:"cpus"`
	Producers []int  `mapstructure:"producers" yaml:"producers"`
	JSONFile  string `mapstructure:"json_file" yaml:"json_file"`
	Progress  bool   `mapstructure:"progress" yaml:"progress"`
}

// MarshalYAML writes Duration in its string form so the output can be read
// back by Load.
func (b BenchConfig) MarshalYAML() (interface{}, error) {
	type plain BenchConfig
	return struct {
		plain    `yaml:",inline"`
		Duration string `yaml:"duration"`
	}{plain(b), b.Duration.String()}, nil
}

// StressConfig drives cmd/stress.
type StressConfig struct {
	Capacity    uint64 `mapstructure:"capacity" yaml:"capacity"`
	Producers   int    `mapstructure:"producers" yaml:"producers"`
	PerProducer int    `mapstructure:"per_producer" yaml:"per_producer"`
	Rounds      int    `mapstructure:"rounds" yaml:"rounds"`
	Jitter      uint32 `mapstructure:"jitter" yaml:"jitter"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Bench: BenchConfig{
			Iterations: 5,
			Duration:   5 * time.Second,
			Capacity:   1024,
			CPUs:       []int{},
			Producers:  []int{1, 2, 10, 50},
			JSONFile:   "test-results.json",
		},
		Stress: StressConfig{
			Capacity:    8,
			Producers:   4,
			PerProducer: 1024,
			Rounds:      1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("bench.iterations", d.Bench.Iterations)
	v.SetDefault("bench.duration", d.Bench.Duration)
	v.SetDefault("bench.capacity", d.Bench.Capacity)
	v.SetDefault("bench.cpus", d.Bench.CPUs)
	v.SetDefault("bench.producers", d.Bench.Producers)
	v.SetDefault("bench.json_file", d.Bench.JSONFile)
	v.SetDefault("bench.progress", d.Bench.Progress)

	v.SetDefault("stress.capacity", d.Stress.Capacity)
	v.SetDefault("stress.producers", d.Stress.Producers)
	v.SetDefault("stress.per_producer", d.Stress.PerProducer)
	v.SetDefault("stress.rounds", d.Stress.Rounds)
	v.SetDefault("stress.jitter", d.Stress.Jitter)
	v.SetDefault("stress.metrics_addr", d.Stress.MetricsAddr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Load reads the configuration from the defaults, the YAML file at path (if
// path is not empty) and MPSCRING_* environment variables, in increasing
// priority, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isPowerOfTwo(n uint64) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate reports every problem found, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Bench.Iterations < 1 {
		invalid("bench.iterations must be at least 1, got %d", c.Bench.Iterations)
	}
	if c.Bench.Duration <= 0 {
		invalid("bench.duration must be positive, got %s", c.Bench.Duration)
	}
	if c.Bench.Capacity < 1 {
		invalid("bench.capacity must be at least 1")
	}
	for _, n := range c.Bench.CPUs {
		if n < 1 {
			invalid("bench.cpus entries must be at least 1, got %d", n)
		}
	}
	if len(c.Bench.Producers) == 0 {
		invalid("bench.producers must not be empty")
	}
	for _, n := range c.Bench.Producers {
		if n < 1 {
			invalid("bench.producers entries must be at least 1, got %d", n)
		}
	}

	if !isPowerOfTwo(c.Stress.Capacity) {
		invalid("stress.capacity must be a power of two, got %d", c.Stress.Capacity)
	}
	if c.Stress.Producers < 1 {
		invalid("stress.producers must be at least 1, got %d", c.Stress.Producers)
	}
	if c.Stress.PerProducer < 1 {
		invalid("stress.per_producer must be at least 1, got %d", c.Stress.PerProducer)
	}
	if c.Stress.Rounds < 1 {
		invalid("stress.rounds must be at least 1, got %d", c.Stress.Rounds)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level: %v", err)
	}

	return errors.Join(errs...)
}

// WriteYAML writes c as YAML in the layout Load accepts.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encoding yaml: %w", err)
	}
	return enc.Close()
}
