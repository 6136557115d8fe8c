package config

import (
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Kafka topic keys.
const (
	TopicPageViews   = "page_views"
	TopicConversions = "conversions"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Batch      BatchConfig      `yaml:"batch"`
	Sites      SitesConfig      `yaml:"sites"`
	Editor     EditorConfig     `yaml:"editor"`
	Session    SessionConfig    `yaml:"session"`
	Cache      CacheConfig      `yaml:"cache"`
}

type ServerConfig struct {
	HTTPPort       int           `yaml:"http_port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// APIConfig is the client side of the content API, used by pagectl.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// SitesConfig locates hosted pages on disk and the scripts injected into them.
type SitesConfig struct {
	Dir            string `yaml:"dir"`
	TrackingScript string `yaml:"tracking_script"`
	EditorScript   string `yaml:"editor_script"`

	// ServerSideExperiments assigns variants while serving instead of leaving
	// it to the tracking script.
	ServerSideExperiments bool `yaml:"server_side_experiments"`
}

type EditorConfig struct {
	OperatorToken string `yaml:"operator_token"`
}

type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	CookieTTL  time.Duration `yaml:"cookie_ttl"`
	TTL        time.Duration `yaml:"ttl"`
}

// CacheConfig controls the Redis content cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration holding only defaults.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Path returns CONFIG_PATH, or def when it is unset.
func Path(def string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return def
}

func (cfg *Config) setDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8080"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 10 * time.Second
	}
	// An unset ${VAR} broker leaves an empty entry
	cfg.Kafka.Brokers = slices.DeleteFunc(cfg.Kafka.Brokers, func(b string) bool { return b == "" })
	if cfg.Kafka.Topics == nil {
		cfg.Kafka.Topics = map[string]string{}
	}
	if cfg.Kafka.Topics[TopicPageViews] == "" {
		cfg.Kafka.Topics[TopicPageViews] = "pagelab.page_views"
	}
	if cfg.Kafka.Topics[TopicConversions] == "" {
		cfg.Kafka.Topics[TopicConversions] = "pagelab.conversions"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "pagelab-event-processor"
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 1000
	}
	if cfg.Batch.FlushInterval == 0 {
		cfg.Batch.FlushInterval = 5 * time.Second
	}
	if cfg.Sites.Dir == "" {
		cfg.Sites.Dir = "websites"
	}
	if cfg.Sites.TrackingScript == "" {
		cfg.Sites.TrackingScript = "/static/js/cms-tracking.js"
	}
	if cfg.Sites.EditorScript == "" {
		cfg.Sites.EditorScript = "/static/js/cms-editor.js"
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "visitor_id"
	}
	if cfg.Session.CookieTTL == 0 {
		cfg.Session.CookieTTL = 365 * 24 * time.Hour
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 30 * time.Minute
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 10 * time.Minute
	}
}
