package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Detection  DetectionConfig  `yaml:"detection" mapstructure:"detection"`
	Compute    ComputeConfig    `yaml:"compute" mapstructure:"compute"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts" mapstructure:"artifacts"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DetectionConfig holds the thresholds and constants of the detection run.
// Every value here is fixed per deployment and read-only during a run.
type DetectionConfig struct {
	StartDate           string  `yaml:"start_date" mapstructure:"start_date"`
	EndDate             string  `yaml:"end_date" mapstructure:"end_date"`
	OpticalCollection   string  `yaml:"optical_collection" mapstructure:"optical_collection"`
	DEMSource           string  `yaml:"dem_source" mapstructure:"dem_source"`
	DEMBand             string  `yaml:"dem_band" mapstructure:"dem_band"`
	CloudCeiling        float64 `yaml:"cloud_ceiling" mapstructure:"cloud_ceiling"`
	SpectralThreshold   float64 `yaml:"spectral_threshold" mapstructure:"spectral_threshold"`
	VegetationThreshold float64 `yaml:"vegetation_threshold" mapstructure:"vegetation_threshold"`
	MinDepth            float64 `yaml:"min_depth" mapstructure:"min_depth"`
	BufferMeters        float64 `yaml:"buffer_meters" mapstructure:"buffer_meters"`
	SmoothingRadius     float64 `yaml:"smoothing_radius" mapstructure:"smoothing_radius"`
	DenoiseRadius       float64 `yaml:"denoise_radius" mapstructure:"denoise_radius"`
	AreaScale           float64 `yaml:"area_scale" mapstructure:"area_scale"`
	VolumeScale         float64 `yaml:"volume_scale" mapstructure:"volume_scale"`
	RenderScale         float64 `yaml:"render_scale" mapstructure:"render_scale"`
	MaxPixels           float64 `yaml:"max_pixels" mapstructure:"max_pixels"`
	TruckCapacity       float64 `yaml:"truck_capacity" mapstructure:"truck_capacity"`
	CallTimeoutSecs     int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	StrictBoundary      bool    `yaml:"strict_boundary" mapstructure:"strict_boundary"`
}

// ComputeConfig configures the raster evaluation backend.
type ComputeConfig struct {
	// Engine selects the evaluator: "remote" (compute service) or "local".
	Engine              string        `yaml:"engine" mapstructure:"engine"`
	BaseURL             string        `yaml:"base_url" mapstructure:"base_url"`
	Project             string        `yaml:"project" mapstructure:"project"`
	KeyPath             string        `yaml:"key_path" mapstructure:"key_path"`
	HostCredentialsPath string        `yaml:"host_credentials_path" mapstructure:"host_credentials_path"`
	Token               string        `yaml:"token" mapstructure:"token"`
	Scenes              string        `yaml:"scenes" mapstructure:"scenes"`
	// TimeoutSecs bounds one HTTP attempt. detection.call_timeout_secs
	// bounds a whole reduction including retries, so an attempt that hits
	// this limit is retried while the call deadline allows.
	TimeoutSecs         int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond   float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst               int           `yaml:"burst" mapstructure:"burst"`
	Retry               RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit             CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig holds retry tuning for compute calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig holds circuit breaker tuning for compute calls.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int    `yaml:"port" mapstructure:"port"`
	PublicURL   string `yaml:"public_url" mapstructure:"public_url"`
	StaticDir   string `yaml:"static_dir" mapstructure:"static_dir"`
	// MaxUploadMB caps the multipart body of /api/analyze.
	MaxUploadMB int    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// ArtifactsConfig toggles the optional renderers.
type ArtifactsConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	Map       bool   `yaml:"map" mapstructure:"map"`
	Model     bool   `yaml:"model" mapstructure:"model"`
	Report    bool   `yaml:"report" mapstructure:"report"`
	Export    bool   `yaml:"export" mapstructure:"export"`
}

// MonitoringConfig configures the background alert checker of the server.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// VolumeThresholdM3 alerts when the illegal volume found in the window
	// exceeds it. Zero disables the check.
	VolumeThresholdM3    float64 `yaml:"volume_threshold_m3" mapstructure:"volume_threshold_m3"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MINEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("detection.start_date", "2024-01-01")
	v.SetDefault("detection.end_date", "2024-04-30")
	v.SetDefault("detection.optical_collection", "COPERNICUS/S2_SR_HARMONIZED")
	v.SetDefault("detection.dem_source", "COPERNICUS/DEM/GLO30")
	v.SetDefault("detection.dem_band", "DEM")
	v.SetDefault("detection.cloud_ceiling", 20)
	v.SetDefault("detection.spectral_threshold", 0.07)
	v.SetDefault("detection.vegetation_threshold", 0.25)
	v.SetDefault("detection.min_depth", 2.0)
	v.SetDefault("detection.buffer_meters", 2000)
	v.SetDefault("detection.smoothing_radius", 250)
	v.SetDefault("detection.denoise_radius", 10)
	v.SetDefault("detection.area_scale", 10)
	v.SetDefault("detection.volume_scale", 30)
	v.SetDefault("detection.render_scale", 30)
	v.SetDefault("detection.max_pixels", 1e9)
	v.SetDefault("detection.truck_capacity", 15)
	v.SetDefault("detection.call_timeout_secs", 300)
	v.SetDefault("detection.strict_boundary", false)
	v.SetDefault("compute.engine", "remote")
	v.SetDefault("compute.base_url", "https://earthengine.googleapis.com")
	v.SetDefault("compute.project", "minesector")
	v.SetDefault("compute.key_path", "gee-key.json")
	v.SetDefault("compute.host_credentials_path", "~/.config/earthengine/credentials")
	v.SetDefault("compute.timeout_secs", 120)
	v.SetDefault("compute.requests_per_second", 5)
	v.SetDefault("compute.burst", 5)
	v.SetDefault("compute.retry.max_attempts", 3)
	v.SetDefault("compute.retry.initial_backoff_ms", 500)
	v.SetDefault("compute.retry.max_backoff_ms", 30000)
	v.SetDefault("compute.retry.multiplier", 2.0)
	v.SetDefault("compute.retry.jitter_fraction", 0.25)
	v.SetDefault("compute.circuit.failure_threshold", 5)
	v.SetDefault("compute.circuit.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mineguard.db")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.public_url", "http://localhost:8000")
	v.SetDefault("server.static_dir", "static")
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("artifacts.output_dir", "static/outputs")
	v.SetDefault("artifacts.map", true)
	v.SetDefault("artifacts.model", true)
	v.SetDefault("artifacts.report", true)
	v.SetDefault("artifacts.export", true)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.volume_threshold_m3", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given command mode
// ("detect" or "serve"). All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Compute.Engine {
	case "remote":
		if c.Compute.BaseURL == "" {
			problems = append(problems, "compute.base_url is required for the remote engine")
		}
	case "local":
		if c.Compute.Scenes == "" {
			problems = append(problems, "compute.scenes is required for the local engine")
		}
	default:
		problems = append(problems, "compute.engine must be \"remote\" or \"local\"")
	}

	d := c.Detection
	if d.AreaScale <= 0 || d.VolumeScale <= 0 {
		problems = append(problems, "detection.area_scale and detection.volume_scale must be positive")
	}
	if d.TruckCapacity <= 0 {
		problems = append(problems, "detection.truck_capacity must be positive")
	}
	if d.BufferMeters < 0 {
		problems = append(problems, "detection.buffer_meters must not be negative")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, "store.driver must be \"sqlite\" or \"postgres\"")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
		if c.Server.PublicURL == "" {
			problems = append(problems, "server.public_url is required")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			problems = append(problems, "monitoring.webhook_url is required when monitoring is enabled")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
