// Package config loads the collector's configuration surface: a YAML
// document describing exchanges, cache, batch, rabbitmq and per-exchange
// resilience settings, plus a .env file and environment-variable overrides
// layered on top, following the teacher's config.Load() shape generalized
// from flat env vars to a deep nested structure (spec.md §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace for override variables, e.g.
// COLLECTOR_TICKER_INTERVAL_S or COLLECTOR_EXCHANGE_CONFIGS__BINANCE__RATE_LIMIT.
const EnvPrefix = "COLLECTOR"

// APIKeyConfig holds one exchange's credentials.
type APIKeyConfig struct {
	APIKey string `yaml:"apiKey"`
	Secret string `yaml:"secret"`
}

// CacheConfig tunes the TTL cache.
type CacheConfig struct {
	TickerTTLS  float64 `yaml:"ticker_ttl_s"`
	FundingTTLS float64 `yaml:"funding_ttl_s"`
	MaxSize     int     `yaml:"max_size"`
}

// BatchConfig mirrors publisher.BatchConfig's tunables on the wire.
type BatchConfig struct {
	MaxSize     int     `yaml:"max_size"`
	MaxWaitTimeS float64 `yaml:"max_wait_time_s"`
	Strategy    string  `yaml:"strategy"`
	Compression bool    `yaml:"compression"`
}

// RabbitMQConfig describes how to reach the broker and which topology to
// use.
type RabbitMQConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Vhost            string `yaml:"vhost"`
	DataExchange     string `yaml:"data_exchange"`
	ControlQueue     string `yaml:"control_queue"`
	ResponseExchange string `yaml:"response_exchange"`
}

// URL assembles an amqp:// connection string from the broker fields.
func (r RabbitMQConfig) URL() string {
	vhost := strings.TrimPrefix(r.Vhost, "/")
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", r.User, r.Password, r.Host, r.Port, vhost)
}

// CircuitBreakerYAML is the wire shape of domain.CircuitBreakerConfig.
type CircuitBreakerYAML struct {
	FailureThreshold    int     `yaml:"failure_threshold"`
	RecoveryTimeoutS    int     `yaml:"recovery_timeout_s"`
	SuccessThreshold    int     `yaml:"success_threshold"`
	TimeoutS            float64 `yaml:"timeout_s"`
	MaxFailureThreshold int     `yaml:"max_failure_threshold"`
	BackoffMultiplier   float64 `yaml:"backoff_multiplier"`
	MaxRecoveryTimeoutS int     `yaml:"max_recovery_timeout_s"`
}

// RetryYAML is the wire shape of domain.RetryConfig.
type RetryYAML struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BaseDelayS        float64 `yaml:"base_delay_s"`
	MaxDelayS         float64 `yaml:"max_delay_s"`
	Strategy          string  `yaml:"strategy"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	Jitter            bool    `yaml:"jitter"`
}

// HealthCheckYAML is the wire shape of domain.HealthCheckConfig.
type HealthCheckYAML struct {
	CheckIntervalS    float64 `yaml:"check_interval_s"`
	MinCheckIntervalS float64 `yaml:"min_check_interval_s"`
	MaxCheckIntervalS float64 `yaml:"max_check_interval_s"`
	TimeoutS          float64 `yaml:"timeout_s"`
	FailureThreshold  int     `yaml:"failure_threshold"`
	RecoveryThreshold int     `yaml:"recovery_threshold"`
	AdaptiveScaling   bool    `yaml:"adaptive_scaling"`
}

// ExchangeConfigYAML is one entry of exchange_configs.
type ExchangeConfigYAML struct {
	CircuitBreaker CircuitBreakerYAML `yaml:"circuit_breaker"`
	Retry          RetryYAML          `yaml:"retry"`
	HealthCheck    HealthCheckYAML    `yaml:"health_check"`
	RateLimit      float64            `yaml:"rate_limit"`
	TimeoutS       float64            `yaml:"timeout_s"`
	Sandbox        bool               `yaml:"sandbox"`
}

// PerformanceConfig tunes the orchestrator's ambient concerns.
type PerformanceConfig struct {
	MetricsIntervalS float64 `yaml:"metrics_interval_s"`
	MaxMemoryMB      int     `yaml:"max_memory_mb"`
}

// LoggingConfig tunes the zerolog logger constructed at startup.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	FilePath      string `yaml:"file_path"`
	Console       bool   `yaml:"console"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb"`
	BackupCount   int    `yaml:"backup_count"`
}

// Config is the full configuration surface from spec.md §6.
type Config struct {
	Environment          string                               `yaml:"environment"`
	Exchanges            []string                             `yaml:"exchanges"`
	APIKeys              map[string]APIKeyConfig              `yaml:"api_keys"`
	TickerIntervalS      float64                              `yaml:"ticker_interval_s"`
	FundingRateIntervalS float64                              `yaml:"funding_rate_interval_s"`
	Cache                CacheConfig                          `yaml:"cache"`
	Batch                BatchConfig                          `yaml:"batch"`
	RabbitMQ             RabbitMQConfig                       `yaml:"rabbitmq"`
	ExchangeConfigs      map[string]ExchangeConfigYAML        `yaml:"exchange_configs"`
	Performance          PerformanceConfig                    `yaml:"performance"`
	Logging              LoggingConfig                        `yaml:"logging"`

	// HTTPPort serves /healthz and /metrics; not part of spec.md §6's
	// payload but needed to bind the ambient HTTP surface from SPEC_FULL §11.
	HTTPPort int `yaml:"http_port"`

	// CronOverrides maps a key to a cron expression. Only the "*" entry is
	// used: it replaces the plain-interval funding-rate loop for all
	// exchanges. Entries keyed by an exchange id are ignored.
	CronOverrides map[string]string `yaml:"cron_overrides"`
}

// Load reads a YAML document at path (if non-empty and present), a .env
// file from the working directory, and applies environment-variable
// overrides on top, matching the teacher's godotenv.Load()-then-read-env
// pattern generalized to a nested struct.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Environment:          "production",
		TickerIntervalS:      5,
		FundingRateIntervalS: 60,
		Cache: CacheConfig{
			TickerTTLS:  2,
			FundingTTLS: 30,
			MaxSize:     10000,
		},
		Batch: BatchConfig{
			MaxSize:      50,
			MaxWaitTimeS: 5,
			Strategy:     "hybrid",
		},
		RabbitMQ: RabbitMQConfig{
			Host:             "localhost",
			Port:             5672,
			User:             "guest",
			Password:         "guest",
			Vhost:            "/",
			DataExchange:     "market_data",
			ControlQueue:     "collector.control",
			ResponseExchange: "market_data.control_responses",
		},
		ExchangeConfigs: map[string]ExchangeConfigYAML{},
		APIKeys:         map[string]APIKeyConfig{},
		Performance: PerformanceConfig{
			MetricsIntervalS: 30,
			MaxMemoryMB:      512,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		HTTPPort:      8090,
		CronOverrides: map[string]string{},
	}
}

// Validate checks the minimal set of fields required to build the
// dependency graph.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("config: at least one exchange must be enabled")
	}
	if c.TickerIntervalS <= 0 || c.FundingRateIntervalS <= 0 {
		return fmt.Errorf("config: ticker_interval_s and funding_rate_interval_s must be positive")
	}
	return nil
}

// ExchangeConfigFor builds a domain.ExchangeConfig for id, merging the
// per-exchange YAML block (falling back to package-level defaults for any
// zero-valued sub-config) with its API key pair.
func (c *Config) ExchangeConfigFor(id domain.ExchangeId) domain.ExchangeConfig {
	y := c.ExchangeConfigs[string(id)]
	keys := c.APIKeys[string(id)]

	return domain.ExchangeConfig{
		Name:    id,
		APIKey:  keys.APIKey,
		Secret:  keys.Secret,
		Enabled: true,
		TimeoutS: orDefault(y.TimeoutS, 10),
		RateLimit: orDefault(y.RateLimit, 10),
		Sandbox:  y.Sandbox,
		CB: domain.CircuitBreakerConfig{
			FailureThreshold:    orDefaultInt(y.CircuitBreaker.FailureThreshold, 5),
			RecoveryTimeoutS:    orDefaultInt(y.CircuitBreaker.RecoveryTimeoutS, 30),
			SuccessThreshold:    orDefaultInt(y.CircuitBreaker.SuccessThreshold, 2),
			MaxFailureThreshold: orDefaultInt(y.CircuitBreaker.MaxFailureThreshold, 20),
			BackoffMultiplier:   orDefault(y.CircuitBreaker.BackoffMultiplier, 2),
			MaxRecoveryTimeoutS: orDefaultInt(y.CircuitBreaker.MaxRecoveryTimeoutS, 600),
		},
		Retry: domain.RetryConfig{
			MaxAttempts:       orDefaultInt(y.Retry.MaxAttempts, 3),
			BaseDelayS:        orDefault(y.Retry.BaseDelayS, 0.5),
			MaxDelayS:         orDefault(y.Retry.MaxDelayS, 10),
			Strategy:          retryStrategyOrDefault(y.Retry.Strategy),
			BackoffMultiplier: orDefault(y.Retry.BackoffMultiplier, 2),
			Jitter:            y.Retry.Jitter,
		},
		HealthCheck: domain.HealthCheckConfig{
			CheckIntervalS:    orDefault(y.HealthCheck.CheckIntervalS, 30),
			MinCheckIntervalS: orDefault(y.HealthCheck.MinCheckIntervalS, 5),
			MaxCheckIntervalS: orDefault(y.HealthCheck.MaxCheckIntervalS, 120),
			TimeoutS:          orDefault(y.HealthCheck.TimeoutS, 5),
			FailureThreshold:  orDefaultInt(y.HealthCheck.FailureThreshold, 3),
			RecoveryThreshold: orDefaultInt(y.HealthCheck.RecoveryThreshold, 2),
			AdaptiveScaling:   y.HealthCheck.AdaptiveScaling,
		},
	}
}

func retryStrategyOrDefault(s string) domain.RetryStrategy {
	if s == "" {
		return domain.RetryExponential
	}
	return domain.RetryStrategy(s)
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// TickerInterval and FundingRateInterval return the configured cadences as
// time.Duration for the orchestrator's ticker loops.
func (c *Config) TickerInterval() time.Duration {
	return time.Duration(c.TickerIntervalS * float64(time.Second))
}

func (c *Config) FundingRateInterval() time.Duration {
	return time.Duration(c.FundingRateIntervalS * float64(time.Second))
}

// applyEnvOverrides applies a fixed list of COLLECTOR_<PATH> environment
// variables over the decoded struct, using "__" as the nesting separator
// (e.g. COLLECTOR_EXCHANGE_CONFIGS__BINANCE__RETRY__JITTER). Only the
// variables named below are read; any other option (for example the
// circuit_breaker, health_check and most retry fields of exchange_configs)
// has no environment override.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("ENVIRONMENT"); ok {
		cfg.Environment = v
	}
	if v, ok := lookupEnvList("EXCHANGES"); ok {
		cfg.Exchanges = v
	}
	if v, ok := lookupEnvFloat("TICKER_INTERVAL_S"); ok {
		cfg.TickerIntervalS = v
	}
	if v, ok := lookupEnvFloat("FUNDING_RATE_INTERVAL_S"); ok {
		cfg.FundingRateIntervalS = v
	}
	if v, ok := lookupEnvFloat("CACHE__TICKER_TTL_S"); ok {
		cfg.Cache.TickerTTLS = v
	}
	if v, ok := lookupEnvFloat("CACHE__FUNDING_TTL_S"); ok {
		cfg.Cache.FundingTTLS = v
	}
	if v, ok := lookupEnvInt("CACHE__MAX_SIZE"); ok {
		cfg.Cache.MaxSize = v
	}
	if v, ok := lookupEnv("BATCH__STRATEGY"); ok {
		cfg.Batch.Strategy = v
	}
	if v, ok := lookupEnvInt("BATCH__MAX_SIZE"); ok {
		cfg.Batch.MaxSize = v
	}
	if v, ok := lookupEnv("RABBITMQ__HOST"); ok {
		cfg.RabbitMQ.Host = v
	}
	if v, ok := lookupEnvInt("RABBITMQ__PORT"); ok {
		cfg.RabbitMQ.Port = v
	}
	if v, ok := lookupEnv("RABBITMQ__USER"); ok {
		cfg.RabbitMQ.User = v
	}
	if v, ok := lookupEnv("RABBITMQ__PASSWORD"); ok {
		cfg.RabbitMQ.Password = v
	}
	if v, ok := lookupEnv("RABBITMQ__VHOST"); ok {
		cfg.RabbitMQ.Vhost = v
	}
	if v, ok := lookupEnv("RABBITMQ__DATA_EXCHANGE"); ok {
		cfg.RabbitMQ.DataExchange = v
	}
	if v, ok := lookupEnv("RABBITMQ__CONTROL_QUEUE"); ok {
		cfg.RabbitMQ.ControlQueue = v
	}
	if v, ok := lookupEnv("RABBITMQ__RESPONSE_EXCHANGE"); ok {
		cfg.RabbitMQ.ResponseExchange = v
	}
	if v, ok := lookupEnv("LOGGING__LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := lookupEnvBool("LOGGING__CONSOLE"); ok {
		cfg.Logging.Console = v
	}
	if v, ok := lookupEnvInt("HTTP_PORT"); ok {
		cfg.HTTPPort = v
	}

	for _, id := range cfg.Exchanges {
		upper := strings.ToUpper(id)
		ec := cfg.ExchangeConfigs[id]
		if v, ok := lookupEnvBool(fmt.Sprintf("EXCHANGE_CONFIGS__%s__SANDBOX", upper)); ok {
			ec.Sandbox = v
		}
		if v, ok := lookupEnvFloat(fmt.Sprintf("EXCHANGE_CONFIGS__%s__RATE_LIMIT", upper)); ok {
			ec.RateLimit = v
		}
		if v, ok := lookupEnvBool(fmt.Sprintf("EXCHANGE_CONFIGS__%s__RETRY__JITTER", upper)); ok {
			ec.Retry.Jitter = v
		}
		cfg.ExchangeConfigs[id] = ec

		if key, ok := lookupEnv(fmt.Sprintf("API_KEYS__%s__APIKEY", upper)); ok {
			ak := cfg.APIKeys[id]
			ak.APIKey = key
			cfg.APIKeys[id] = ak
		}
		if secret, ok := lookupEnv(fmt.Sprintf("API_KEYS__%s__SECRET", upper)); ok {
			ak := cfg.APIKeys[id]
			ak.Secret = secret
			cfg.APIKeys[id] = ak
		}
	}
}

func envKey(suffix string) string { return EnvPrefix + "_" + suffix }

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envKey(suffix))
	return v, ok && v != ""
}

func lookupEnvList(suffix string) ([]string, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return nil, false
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}

func lookupEnvFloat(suffix string) (float64, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func lookupEnvInt(suffix string) (int, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func lookupEnvBool(suffix string) (bool, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	return b, err == nil
}
