package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Portal        PortalConfig        `yaml:"portal"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Driver        DriverConfig        `yaml:"driver"`
	Queue         QueueConfig         `yaml:"queue"`
	AutoExtension AutoExtensionConfig `yaml:"auto_extension"`
	Prediction    PredictionConfig    `yaml:"prediction"`
	Push          PushConfig          `yaml:"push"`
	WorkerPool    WorkerPoolConfig    `yaml:"worker_pool"`
	Redis         RedisConfig         `yaml:"redis"`
	Timezone      string              `yaml:"timezone"`
	Location      *time.Location      `yaml:"-"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// RedisConfig enables publishing request outcomes to a redis channel. Empty URL disables it.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
}

// PortalConfig describes the external seat portal.
type PortalConfig struct {
	BaseURL          string            `yaml:"base_url"`
	Headers          map[string]string `yaml:"headers"`
	HTTPProxy        string            `yaml:"http_proxy"`
	TimestampLayout  string            `yaml:"timestamp_layout"`
	TimeoutSeconds   int               `yaml:"timeout_seconds"`
	Timeout          time.Duration     `yaml:"-"`
	RoomRatePerSec   float64           `yaml:"room_rate_per_sec"`
	RoomBurst        int               `yaml:"room_burst"`
	Paths            PortalPaths       `yaml:"paths"`
	StateOccupied    []string          `yaml:"state_occupied"`
	StateAvailable   []string          `yaml:"state_available"`
	StateUnavailable []string          `yaml:"state_unavailable"`
	// Application codes that mean "busy, try later" rather than a refusal.
	TransientCodes []int `yaml:"transient_codes"`
}

// PortalPaths are the endpoint paths relative to BaseURL.
type PortalPaths struct {
	Status  string `yaml:"status"`
	Reserve string `yaml:"reserve"`
	Extend  string `yaml:"extend"`
	Release string `yaml:"release"`
}

// MonitorConfig holds the occupancy monitor configuration.
type MonitorConfig struct {
	Enabled bool     `yaml:"enabled"`
	Rooms   []string `yaml:"rooms"`
}

// DriverConfig holds the periodic driver configuration.
type DriverConfig struct {
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
	CleanupEvery    int           `yaml:"cleanup_every_ticks"`
}

// QueueConfig holds the reservation queue scheduler configuration.
type QueueConfig struct {
	MaxRetries         int           `yaml:"max_retries"`
	BaseBackoffSeconds int           `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds  int           `yaml:"max_backoff_seconds"`
	BaseBackoff        time.Duration `yaml:"-"`
	MaxBackoff         time.Duration `yaml:"-"`
	AdapterTimeoutSec  int           `yaml:"adapter_timeout_seconds"`
	AdapterTimeout     time.Duration `yaml:"-"`
	Concurrency        int           `yaml:"concurrency"`
	StaleAfterSeconds  int           `yaml:"stale_after_seconds"`
	StaleAfter         time.Duration `yaml:"-"`
	RetentionDays      int           `yaml:"retention_days"`
	Retention          time.Duration `yaml:"-"`
}

// AutoExtensionConfig holds the auto-extension engine configuration.
type AutoExtensionConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MinGapMinutes     int           `yaml:"min_gap_minutes"`
	MinGap            time.Duration `yaml:"-"`
	AdapterTimeoutSec int           `yaml:"adapter_timeout_seconds"`
	AdapterTimeout    time.Duration `yaml:"-"`
}

// PredictionConfig holds the vacancy predictor configuration.
type PredictionConfig struct {
	MinSampleSize         int           `yaml:"min_sample_size"`
	TargetSampleSize      int           `yaml:"target_sample_size"`
	DefaultSessionMinutes float64       `yaml:"default_session_minutes"`
	MinSessionMinutes     float64       `yaml:"min_session_minutes"`
	MaxSessionMinutes     float64       `yaml:"max_session_minutes"`
	HorizonsMinutes       []int         `yaml:"horizons_minutes"`
	CurveIntervalMinutes  int           `yaml:"curve_interval_minutes"`
	CacheTTLSeconds       int           `yaml:"cache_ttl_seconds"`
	CacheTTL              time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableTimescale        bool   `yaml:"enable_timescale"`
}

// Load reads the configuration from the given path. ${VAR} references in the secret-bearing
// values (database DSN, portal URL and headers, VAPID keys, redis URL) are replaced from the
// environment, so secrets can live in .env.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.expandEnv()

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) expandEnv() {
	for _, v := range []*string{
		&cfg.Database.DSN,
		&cfg.Portal.BaseURL,
		&cfg.Portal.HTTPProxy,
		&cfg.Push.PublicKey,
		&cfg.Push.PrivateKey,
		&cfg.Redis.URL,
	} {
		*v = os.ExpandEnv(*v)
	}
	for k, v := range cfg.Portal.Headers {
		cfg.Portal.Headers[k] = os.ExpandEnv(v)
	}
}

// ApplyDefaults fills unset values and derives durations. Load calls it; tests building a
// Config by hand should call it too.
func (cfg *Config) ApplyDefaults() error {
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Seoul"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	cfg.Location = loc

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Portal.TimeoutSeconds <= 0 {
		cfg.Portal.TimeoutSeconds = 30
	}
	cfg.Portal.Timeout = time.Duration(cfg.Portal.TimeoutSeconds) * time.Second
	if cfg.Portal.TimestampLayout == "" {
		cfg.Portal.TimestampLayout = "2006-01-02 15:04:05"
	}
	if cfg.Portal.RoomRatePerSec <= 0 {
		cfg.Portal.RoomRatePerSec = 1
	}
	if cfg.Portal.RoomBurst <= 0 {
		cfg.Portal.RoomBurst = 1
	}
	if cfg.Portal.Paths.Status == "" {
		cfg.Portal.Paths.Status = "/seats/status"
	}
	if cfg.Portal.Paths.Reserve == "" {
		cfg.Portal.Paths.Reserve = "/seats/reserve"
	}
	if cfg.Portal.Paths.Extend == "" {
		cfg.Portal.Paths.Extend = "/seats/extend"
	}
	if cfg.Portal.Paths.Release == "" {
		cfg.Portal.Paths.Release = "/seats/release"
	}
	if len(cfg.Portal.StateOccupied) == 0 {
		cfg.Portal.StateOccupied = []string{"OCCUPIED"}
	}
	if len(cfg.Portal.StateAvailable) == 0 {
		cfg.Portal.StateAvailable = []string{"AVAILABLE"}
	}

	if cfg.Driver.IntervalSeconds <= 0 {
		cfg.Driver.IntervalSeconds = 30
	}
	cfg.Driver.Interval = time.Duration(cfg.Driver.IntervalSeconds) * time.Second
	if cfg.Driver.CleanupEvery <= 0 {
		cfg.Driver.CleanupEvery = 20
	}

	if cfg.Queue.MaxRetries <= 0 {
		cfg.Queue.MaxRetries = 240
	}
	if cfg.Queue.BaseBackoffSeconds <= 0 {
		cfg.Queue.BaseBackoffSeconds = 15
	}
	cfg.Queue.BaseBackoff = time.Duration(cfg.Queue.BaseBackoffSeconds) * time.Second
	if cfg.Queue.MaxBackoffSeconds <= 0 {
		cfg.Queue.MaxBackoffSeconds = 120
	}
	cfg.Queue.MaxBackoff = time.Duration(cfg.Queue.MaxBackoffSeconds) * time.Second
	if cfg.Queue.AdapterTimeoutSec <= 0 {
		cfg.Queue.AdapterTimeoutSec = 10
	}
	cfg.Queue.AdapterTimeout = time.Duration(cfg.Queue.AdapterTimeoutSec) * time.Second
	if cfg.Queue.Concurrency <= 0 {
		log.Printf("queue.concurrency is not set or invalid; defaulting to 4")
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.StaleAfterSeconds <= 0 {
		cfg.Queue.StaleAfterSeconds = 5 * cfg.Queue.AdapterTimeoutSec
	}
	cfg.Queue.StaleAfter = time.Duration(cfg.Queue.StaleAfterSeconds) * time.Second
	if cfg.Queue.RetentionDays <= 0 {
		cfg.Queue.RetentionDays = 7
	}
	cfg.Queue.Retention = time.Duration(cfg.Queue.RetentionDays) * 24 * time.Hour

	if cfg.AutoExtension.MinGapMinutes <= 0 {
		cfg.AutoExtension.MinGapMinutes = 10
	}
	cfg.AutoExtension.MinGap = time.Duration(cfg.AutoExtension.MinGapMinutes) * time.Minute
	if cfg.AutoExtension.AdapterTimeoutSec <= 0 {
		cfg.AutoExtension.AdapterTimeoutSec = 10
	}
	cfg.AutoExtension.AdapterTimeout = time.Duration(cfg.AutoExtension.AdapterTimeoutSec) * time.Second

	p := &cfg.Prediction
	if p.MinSampleSize <= 0 {
		p.MinSampleSize = 20
	}
	if p.TargetSampleSize <= 0 {
		p.TargetSampleSize = 200
	}
	if p.DefaultSessionMinutes <= 0 {
		p.DefaultSessionMinutes = 180
	}
	if p.MinSessionMinutes <= 0 {
		p.MinSessionMinutes = 5
	}
	if p.MaxSessionMinutes <= 0 {
		p.MaxSessionMinutes = 1440
	}
	if len(p.HorizonsMinutes) == 0 {
		p.HorizonsMinutes = []int{15, 30, 60, 120, 180, 240}
	}
	if p.CurveIntervalMinutes <= 0 {
		p.CurveIntervalMinutes = 15
	}
	if p.CacheTTLSeconds <= 0 {
		p.CacheTTLSeconds = 3600
	}
	p.CacheTTL = time.Duration(p.CacheTTLSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "seatq:outcomes"
	}
	return nil
}
