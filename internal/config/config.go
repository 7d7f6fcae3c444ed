package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid marks configuration that cannot start the service.
var ErrInvalid = errors.New("invalid configuration")

// Config captures runtime configuration for the API service.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Telemetry TelemetryConfig
	Service   ServiceConfig
}

type HTTPConfig struct {
	Port                 int
	ShutdownGrace        int
	IdempotencyRetention time.Duration
}

type DatabaseConfig struct {
	URL            string
	AutoMigrate    bool
	MigrationsPath string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RedisConfig enables the distributed customer lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// GatewayConfig holds the merchant account and hosted page settings.
type GatewayConfig struct {
	Endpoint       string
	AccountID      string
	Username       string
	APIKey         string
	Timeout        time.Duration
	MerchantPrefix string
	ReturnSecret   string
	RedirectMethod string
	RedirectURL    string
}

type TelemetryConfig struct {
	LogLevel      string
	OTelEndpoint  string
	OTelInsecure  bool
	EnableTracing bool
	EnableMetrics bool
	SampleRate    float64
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

const (
	defaultHTTPPort             = 8080
	defaultShutdownGrace        = 15
	defaultIdempotencyRetention = 24 * time.Hour
	defaultMigrationsPath       = "migrations"
	defaultAutoMigrate          = true
	defaultKafkaTopic           = "payments.events"
	defaultLockTTL              = 30 * time.Second
	defaultGatewayEndpoint      = "https://api.test.paysafe.com"
	defaultGatewayTimeout       = 30 * time.Second
	defaultMerchantPrefix       = "paygate"
	defaultRedirectMethod       = "post"
	defaultServiceName          = "paygate-api"
	defaultServiceVersion       = "0.1.0"
	defaultEnvironment          = "development"
	defaultLogLevel             = "info"
	defaultOTelSampleRate       = 1.0
)

// Load reads configuration from environment variables and an optional .env
// file, applying defaults when needed.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !isMissingFile(err) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	return load(v)
}

// LoadFrom reads configuration from the given env-style file. Environment
// variables still take precedence.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	httpCfg, err := loadHTTPConfig(v)
	if err != nil {
		return nil, fmt.Errorf("loading HTTP config: %w", err)
	}

	telCfg, err := loadTelemetryConfig(v)
	if err != nil {
		return nil, fmt.Errorf("loading telemetry config: %w", err)
	}

	cfg := &Config{
		HTTP:      httpCfg,
		Database:  loadDatabaseConfig(v),
		Kafka:     loadKafkaConfig(v),
		Redis:     loadRedisConfig(v),
		Gateway:   loadGatewayConfig(v),
		Telemetry: telCfg,
		Service:   loadServiceConfig(v),
	}
	if err := cfg.Gateway.Validate(); err != nil {
		return nil, fmt.Errorf("loading gateway config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("API_HTTP_PORT", defaultHTTPPort)
	v.SetDefault("API_SHUTDOWN_GRACE_SECONDS", defaultShutdownGrace)
	v.SetDefault("IDEMPOTENCY_RETENTION", defaultIdempotencyRetention)

	v.SetDefault("AUTO_MIGRATE", defaultAutoMigrate)
	v.SetDefault("MIGRATIONS_PATH", defaultMigrationsPath)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "paygate")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", "25")
	v.SetDefault("DB_MIN_CONNS", "5")
	v.SetDefault("DB_MAX_CONN_LIFETIME", "5m")

	v.SetDefault("KAFKA_TOPIC", defaultKafkaTopic)
	v.SetDefault("REDIS_LOCK_TTL", defaultLockTTL)

	v.SetDefault("GATEWAY_ENDPOINT", defaultGatewayEndpoint)
	v.SetDefault("GATEWAY_TIMEOUT", defaultGatewayTimeout)
	v.SetDefault("GATEWAY_MERCHANT_PREFIX", defaultMerchantPrefix)
	v.SetDefault("GATEWAY_REDIRECT_METHOD", defaultRedirectMethod)

	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("OTEL_TRACING_ENABLED", true)
	v.SetDefault("OTEL_METRICS_ENABLED", true)
	v.SetDefault("OTEL_SAMPLE_RATE", defaultOTelSampleRate)

	v.SetDefault("SERVICE_NAME", defaultServiceName)
	v.SetDefault("SERVICE_VERSION", defaultServiceVersion)
	v.SetDefault("ENVIRONMENT", defaultEnvironment)
}

func loadHTTPConfig(v *viper.Viper) (HTTPConfig, error) {
	port := v.GetInt("API_HTTP_PORT")
	if port <= 0 || port > 65535 {
		return HTTPConfig{}, fmt.Errorf("%w: API_HTTP_PORT %q", ErrInvalid, v.GetString("API_HTTP_PORT"))
	}

	shutdownGrace := v.GetInt("API_SHUTDOWN_GRACE_SECONDS")
	if shutdownGrace < 0 {
		return HTTPConfig{}, fmt.Errorf("%w: API_SHUTDOWN_GRACE_SECONDS must not be negative", ErrInvalid)
	}

	return HTTPConfig{
		Port:                 port,
		ShutdownGrace:        shutdownGrace,
		IdempotencyRetention: v.GetDuration("IDEMPOTENCY_RETENTION"),
	}, nil
}

func loadDatabaseConfig(v *viper.Viper) DatabaseConfig {
	databaseURL := v.GetString("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(v)
	}

	return DatabaseConfig{
		URL:            databaseURL,
		AutoMigrate:    v.GetBool("AUTO_MIGRATE"),
		MigrationsPath: v.GetString("MIGRATIONS_PATH"),
	}
}

func loadKafkaConfig(v *viper.Viper) KafkaConfig {
	var brokers []string
	for _, b := range strings.Split(v.GetString("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	return KafkaConfig{
		Brokers: brokers,
		Topic:   v.GetString("KAFKA_TOPIC"),
	}
}

func loadRedisConfig(v *viper.Viper) RedisConfig {
	return RedisConfig{
		Addr:     v.GetString("REDIS_ADDR"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		LockTTL:  v.GetDuration("REDIS_LOCK_TTL"),
	}
}

func loadGatewayConfig(v *viper.Viper) GatewayConfig {
	return GatewayConfig{
		Endpoint:       v.GetString("GATEWAY_ENDPOINT"),
		AccountID:      v.GetString("GATEWAY_ACCOUNT_ID"),
		Username:       v.GetString("GATEWAY_USERNAME"),
		APIKey:         v.GetString("GATEWAY_API_KEY"),
		Timeout:        v.GetDuration("GATEWAY_TIMEOUT"),
		MerchantPrefix: v.GetString("GATEWAY_MERCHANT_PREFIX"),
		ReturnSecret:   v.GetString("GATEWAY_RETURN_SECRET"),
		RedirectMethod: v.GetString("GATEWAY_REDIRECT_METHOD"),
		RedirectURL:    v.GetString("GATEWAY_REDIRECT_URL"),
	}
}

// Validate checks the gateway settings that are not tied to the provider's
// credential rules. Credentials are validated by the client itself.
func (g GatewayConfig) Validate() error {
	var errs []error
	if g.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: GATEWAY_TIMEOUT must be positive", ErrInvalid))
	}
	if strings.TrimSpace(g.MerchantPrefix) == "" {
		errs = append(errs, fmt.Errorf("%w: GATEWAY_MERCHANT_PREFIX is required", ErrInvalid))
	}
	switch g.RedirectMethod {
	case "get", "post", "post_manual":
	default:
		errs = append(errs, fmt.Errorf("%w: GATEWAY_REDIRECT_METHOD %q", ErrInvalid, g.RedirectMethod))
	}
	if g.RedirectURL != "" {
		if u, err := url.Parse(g.RedirectURL); err != nil || u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("%w: GATEWAY_REDIRECT_URL must be an https url", ErrInvalid))
		}
	}
	return errors.Join(errs...)
}

func loadTelemetryConfig(v *viper.Viper) (TelemetryConfig, error) {
	sampleRate := v.GetFloat64("OTEL_SAMPLE_RATE")
	if sampleRate < 0 || sampleRate > 1 {
		return TelemetryConfig{}, fmt.Errorf("%w: OTEL_SAMPLE_RATE must be between 0 and 1", ErrInvalid)
	}

	return TelemetryConfig{
		LogLevel:      v.GetString("LOG_LEVEL"),
		OTelEndpoint:  v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure:  v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		EnableTracing: v.GetBool("OTEL_TRACING_ENABLED"),
		EnableMetrics: v.GetBool("OTEL_METRICS_ENABLED"),
		SampleRate:    sampleRate,
	}, nil
}

func loadServiceConfig(v *viper.Viper) ServiceConfig {
	return ServiceConfig{
		Name:        v.GetString("SERVICE_NAME"),
		Version:     v.GetString("SERVICE_VERSION"),
		Environment: v.GetString("ENVIRONMENT"),
	}
}

func buildDatabaseURL(v *viper.Viper) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%s&pool_min_conns=%s&pool_max_conn_lifetime=%s",
		v.GetString("DB_USER"),
		v.GetString("DB_PASSWORD"),
		v.GetString("DB_HOST"),
		v.GetString("DB_PORT"),
		v.GetString("DB_NAME"),
		v.GetString("DB_SSLMODE"),
		v.GetString("DB_MAX_CONNS"),
		v.GetString("DB_MIN_CONNS"),
		v.GetString("DB_MAX_CONN_LIFETIME"),
	)
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	// SetConfigFile bypasses the search path, so a missing file is an fs error.
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
