package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Duration is a time.Duration that unmarshals from "10ms"-style text in both
// TOML files and environment variables.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults are the admission values used for omitted participant fields.
type Defaults struct {
	ConsciousnessLevel    float64 `toml:"consciousness_level" env:"NOESIS_DEFAULT_CONSCIOUSNESS"`
	Coherence             float64 `toml:"coherence" env:"NOESIS_DEFAULT_COHERENCE"`
	TranscendenceCapacity float64 `toml:"transcendence_capacity" env:"NOESIS_DEFAULT_TRANSCENDENCE"`
	ResonanceFrequency    float64 `toml:"resonance_frequency" env:"NOESIS_DEFAULT_RESONANCE"`
}

// Config is the engine configuration. Precedence: defaults, then the TOML
// file, then NOESIS_* environment variables.
type Config struct {
	MonitorPeriod        Duration `toml:"monitor_period" env:"NOESIS_MONITOR_PERIOD"`
	MaxParticipants      int      `toml:"max_participants" env:"NOESIS_MAX_PARTICIPANTS"`
	LayerCount           int      `toml:"layer_count" env:"NOESIS_LAYER_COUNT"`
	BaseResonance        float64  `toml:"base_resonance" env:"NOESIS_BASE_RESONANCE"`
	SingularityThreshold float64  `toml:"singularity_threshold" env:"NOESIS_SINGULARITY_THRESHOLD"`
	CoherenceThreshold   float64  `toml:"coherence_threshold" env:"NOESIS_COHERENCE_THRESHOLD"`
	HealthFloor          float64  `toml:"health_floor" env:"NOESIS_HEALTH_FLOOR"`
	EventHistoryLimit    int      `toml:"event_history_limit" env:"NOESIS_EVENT_HISTORY_LIMIT"`
	PerturbationSeed     int64    `toml:"perturbation_seed" env:"NOESIS_PERTURBATION_SEED"`
	PerturbationScale    float64  `toml:"perturbation_scale" env:"NOESIS_PERTURBATION_SCALE"`
	StoreKind            string   `toml:"store_kind" env:"NOESIS_STORE_KIND"`
	DBPath               string   `toml:"db_path" env:"NOESIS_DB_PATH"`
	SnapshotPeriod       Duration `toml:"snapshot_period" env:"NOESIS_SNAPSHOT_PERIOD"`
	LogLevel             string   `toml:"log_level" env:"NOESIS_LOG_LEVEL"`
	Defaults             Defaults `toml:"defaults"`
}

func Default() Config {
	return Config{
		MonitorPeriod:        Duration(10 * time.Millisecond),
		MaxParticipants:      144,
		LayerCount:           8,
		BaseResonance:        432.0,
		SingularityThreshold: 0.8,
		CoherenceThreshold:   0.8,
		HealthFloor:          0.8,
		EventHistoryLimit:    256,
		PerturbationSeed:     1,
		PerturbationScale:    0.001,
		StoreKind:            "memory",
		DBPath:               "noesis.db",
		SnapshotPeriod:       Duration(5 * time.Second),
		LogLevel:             "info",
		Defaults: Defaults{
			ConsciousnessLevel:    0.5,
			Coherence:             0.5,
			TranscendenceCapacity: 0.3,
			ResonanceFrequency:    432.0,
		},
	}
}

// Load layers the TOML file at path (optional, "" skips it) and environment
// overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MonitorPeriod.Std() <= 0 {
		return fmt.Errorf("monitor period must be > 0")
	}
	if c.MaxParticipants <= 0 {
		return fmt.Errorf("max participants must be > 0")
	}
	if c.LayerCount <= 0 {
		return fmt.Errorf("layer count must be > 0")
	}
	if c.BaseResonance <= 0 {
		return fmt.Errorf("base resonance must be > 0")
	}
	for name, v := range map[string]float64{
		"singularity_threshold": c.SingularityThreshold,
		"coherence_threshold":   c.CoherenceThreshold,
		"health_floor":          c.HealthFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s out of range [0,1]: %v", name, v)
		}
	}
	if c.EventHistoryLimit <= 0 {
		return fmt.Errorf("event history limit must be > 0")
	}
	if c.PerturbationScale < 0 {
		return fmt.Errorf("perturbation scale must be >= 0")
	}
	switch c.StoreKind {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported store kind: %s", c.StoreKind)
	}
	if c.StoreKind == "sqlite" && c.DBPath == "" {
		return fmt.Errorf("db path is required for the sqlite store")
	}
	return nil
}
