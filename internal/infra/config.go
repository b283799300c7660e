package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"orderflow_go/internal/domain"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override, e.g. ORDERFLOW_FEED_TOKEN.
const EnvPrefix = "ORDERFLOW"

// Config holds every application setting.
// LoadConfig fills it from defaults, then the YAML file, then the environment.
type Config struct {
	App     AppConfig     `yaml:"app" envconfig:"app"`
	Feed    FeedConfig    `yaml:"feed" envconfig:"feed"`
	Engine  EngineConfig  `yaml:"engine" envconfig:"engine"`
	Signals SignalsConfig `yaml:"signals" envconfig:"signals"`
	Server  ServerConfig  `yaml:"server" envconfig:"server"`
	Storage StorageConfig `yaml:"storage" envconfig:"storage"`
	Logging LoggingConfig `yaml:"logging" envconfig:"logging"`
}

type AppConfig struct {
	Name     string `yaml:"name" envconfig:"name"`
	Version  string `yaml:"version" envconfig:"version"`
	DumpPath string `yaml:"dump_path" envconfig:"dump_path"` // post-mortem state dump on panic
}

// FeedConfig describes the market data relay and the offline replay source.
type FeedConfig struct {
	URL          string        `yaml:"url" envconfig:"url"`
	Token        string        `yaml:"token" envconfig:"token"`
	Instruments  []string      `yaml:"instruments" envconfig:"instruments"`
	ReplayFile   string        `yaml:"replay_file" envconfig:"replay_file"`
	ReplaySpeed  float64       `yaml:"replay_speed" envconfig:"replay_speed"`
	ReconnectMin time.Duration `yaml:"reconnect_min" envconfig:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max" envconfig:"reconnect_max"`
	InboxSize    int           `yaml:"inbox_size" envconfig:"inbox_size"`
}

type EngineConfig struct {
	RotationVolume    int64   `yaml:"rotation_volume" envconfig:"rotation_volume"`
	DepthNormalizer   float64 `yaml:"depth_normalizer" envconfig:"depth_normalizer"`
	ImbalanceRatio    float64 `yaml:"imbalance_ratio" envconfig:"imbalance_ratio"`
	MaxBars           int     `yaml:"max_bars" envconfig:"max_bars"`
	MaxTrades         int     `yaml:"max_trades" envconfig:"max_trades"`
	ValueAreaFraction float64 `yaml:"value_area_fraction" envconfig:"value_area_fraction"`
	ProfileLookback   int     `yaml:"profile_lookback" envconfig:"profile_lookback"`
}

type SignalsConfig struct {
	Enabled         []string         `yaml:"enabled" envconfig:"enabled"` // empty enables every registered detector
	RiskReward      float64          `yaml:"risk_reward" envconfig:"risk_reward"`
	StopTicks       float64          `yaml:"stop_ticks" envconfig:"stop_ticks"`
	Expiry          time.Duration    `yaml:"expiry" envconfig:"expiry"`
	HistoryCap      int              `yaml:"history_cap" envconfig:"history_cap"`
	Cooldown        time.Duration    `yaml:"cooldown" envconfig:"cooldown"`
	IcebergLifetime time.Duration    `yaml:"iceberg_lifetime" envconfig:"iceberg_lifetime"`
	Thresholds      ThresholdsConfig `yaml:"thresholds" envconfig:"thresholds"`
}

type ThresholdsConfig struct {
	DivergenceMinCVD    int64   `yaml:"divergence_min_cvd" envconfig:"divergence_min_cvd"`
	IcebergMinSize      int64   `yaml:"iceberg_min_size" envconfig:"iceberg_min_size"`
	AbsorptionMinVolume int64   `yaml:"absorption_min_volume" envconfig:"absorption_min_volume"`
	MomentumMinDelta    int64   `yaml:"momentum_min_delta" envconfig:"momentum_min_delta"`
	ValueAreaMinVolume  int64   `yaml:"value_area_min_volume" envconfig:"value_area_min_volume"`
	SkewRatio           float64 `yaml:"skew_ratio" envconfig:"skew_ratio"`
	SkewMinSize         int64   `yaml:"skew_min_size" envconfig:"skew_min_size"`
	AlignmentMinDelta   int64   `yaml:"alignment_min_delta" envconfig:"alignment_min_delta"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr" envconfig:"addr"`
	MetricsPath string `yaml:"metrics_path" envconfig:"metrics_path"`
	WSPath      string `yaml:"ws_path" envconfig:"ws_path"`
}

type StorageConfig struct {
	Path string `yaml:"path" envconfig:"path"` // SQLite file; empty keeps the catalog in memory
}

type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"level"`
	Dir   string `yaml:"dir" envconfig:"dir"`
}

// DefaultConfig returns the settings used when the file omits a value.
func DefaultConfig() Config {
	var c Config
	c.App.Name = "orderflow"
	c.App.Version = "dev"
	c.App.DumpPath = "logs/panic_dump.json"

	c.Feed.ReplaySpeed = 1
	c.Feed.ReconnectMin = time.Second
	c.Feed.ReconnectMax = 30 * time.Second
	c.Feed.InboxSize = 1024

	c.Engine.RotationVolume = 5000
	c.Engine.DepthNormalizer = 2000
	c.Engine.ImbalanceRatio = 3
	c.Engine.MaxBars = 30
	c.Engine.MaxTrades = 50
	c.Engine.ValueAreaFraction = 0.70

	c.Signals.RiskReward = 2
	c.Signals.StopTicks = 20
	c.Signals.Expiry = 15 * time.Minute
	c.Signals.HistoryCap = 100
	c.Signals.IcebergLifetime = 5 * time.Second
	c.Signals.Thresholds = ThresholdsConfig{
		IcebergMinSize:      1000,
		AbsorptionMinVolume: 500,
		MomentumMinDelta:    300,
		ValueAreaMinVolume:  2000,
		SkewRatio:           3,
		SkewMinSize:         1000,
		AlignmentMinDelta:   200,
	}

	c.Server.Addr = ":8080"
	c.Server.MetricsPath = "/metrics"
	c.Server.WSPath = "/ws"

	c.Storage.Path = "data/orderflow.db"

	c.Logging.Level = "info"
	c.Logging.Dir = "logs"
	return c
}

// LoadConfig reads the YAML file at path on top of DefaultConfig, applies
// ORDERFLOW_* overrides (a .env file is loaded first when present) and validates.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: path, Err: err}
	}

	// secrets come from the environment, never the file
	_ = godotenv.Load()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "env", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Feed.URL != "" && !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return invalid("feed.url", "must start with ws:// or wss://: %s", c.Feed.URL)
	}
	if c.Feed.URL == "" && c.Feed.ReplayFile == "" {
		return invalid("feed", "either url or replay_file is required")
	}
	if c.Feed.ReplaySpeed <= 0 {
		return invalid("feed.replay_speed", "must be positive")
	}
	if c.Feed.ReconnectMin <= 0 || c.Feed.ReconnectMax < c.Feed.ReconnectMin {
		return invalid("feed.reconnect", "need 0 < reconnect_min <= reconnect_max")
	}
	if c.Feed.InboxSize <= 0 {
		return invalid("feed.inbox_size", "must be positive")
	}

	if c.Engine.RotationVolume <= 0 {
		return invalid("engine.rotation_volume", "must be positive")
	}
	if c.Engine.DepthNormalizer <= 0 {
		return invalid("engine.depth_normalizer", "must be positive")
	}
	if c.Engine.ImbalanceRatio <= 1 {
		return invalid("engine.imbalance_ratio", "must be greater than 1")
	}
	if c.Engine.MaxBars <= 0 || c.Engine.MaxTrades <= 0 {
		return invalid("engine", "max_bars and max_trades must be positive")
	}
	if c.Engine.ValueAreaFraction <= 0 || c.Engine.ValueAreaFraction > 1 {
		return invalid("engine.value_area_fraction", "must be in (0, 1]")
	}

	if c.Signals.RiskReward <= 0 || c.Signals.StopTicks <= 0 {
		return invalid("signals", "risk_reward and stop_ticks must be positive")
	}
	if c.Signals.HistoryCap <= 0 {
		return invalid("signals.history_cap", "must be positive")
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", "is required")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "unknown level %q", c.Logging.Level)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}
