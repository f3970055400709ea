package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix  = "SNEAKERS"
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App       AppConfig
	AWS       AWSConfig
	Tables    TablesConfig
	Events    EventsConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	Orders    OrdersConfig
	RateLimit RateLimitConfig
	Reaper    ReaperConfig
}

// Service names the binary loading the config; each validates only what it uses.
type Service string

const (
	ServiceAPI    Service = "api"
	ServiceWorker Service = "worker"
	ServiceReaper Service = "reaper"
)

// Load reads the API configuration.
func Load() (*Config, error) {
	return LoadFor(ServiceAPI)
}

func LoadFor(svc Service) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(svc); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env         string   `envconfig:"SNEAKERS_APP_ENV" default:"dev"`
	Port        string   `envconfig:"SNEAKERS_APP_PORT" default:"8080"`
	RunLocal    bool     `envconfig:"RUN_LOCAL" default:"false"`
	LogLevel    string   `envconfig:"SNEAKERS_LOG_LEVEL" default:"info"`
	LogFormat   string   `envconfig:"SNEAKERS_LOG_FORMAT" default:"json"`
	CORSOrigins []string `envconfig:"SNEAKERS_CORS_ORIGINS" default:"http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type AWSConfig struct {
	Region           string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointOverride string `envconfig:"AWS_ENDPOINT_OVERRIDE"`
}

type TablesConfig struct {
	Orders         string `envconfig:"ORDERS_TABLE" default:"orders"`
	Counters       string `envconfig:"COUNTERS_TABLE" default:"counters"`
	Coupons        string `envconfig:"COUPONS_TABLE" default:"coupons"`
	PaymentMethods string `envconfig:"PAYMENT_METHODS_TABLE" default:"payment_methods"`
	Idempotency    string `envconfig:"IDEMPOTENCY_TABLE" default:"idempotency"`
}

type EventsConfig struct {
	QueueURL string `envconfig:"ORDER_EVENTS_QUEUE_URL"`
	// MetricsNamespace is where the worker writes CloudWatch transition counts.
	MetricsNamespace string `envconfig:"SNEAKERS_METRICS_NAMESPACE" default:"SneakerStore/Orders"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SNEAKERS_REDIS_URL"`
	Address      string        `envconfig:"SNEAKERS_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"SNEAKERS_REDIS_PASSWORD"`
	DB           int           `envconfig:"SNEAKERS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SNEAKERS_REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"SNEAKERS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SNEAKERS_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"SNEAKERS_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type JWTConfig struct {
	Secret     string        `envconfig:"SNEAKERS_JWT_SECRET"`
	Issuer     string        `envconfig:"SNEAKERS_JWT_ISSUER" default:"sneaker-store"`
	Expiration time.Duration `envconfig:"SNEAKERS_JWT_EXPIRATION" default:"24h"`
}

type GatewayConfig struct {
	BaseURL       string        `envconfig:"GATEWAY_BASE_URL" default:"https://api.mercadopago.com"`
	AccessToken   string        `envconfig:"GATEWAY_ACCESS_TOKEN"`
	WebhookSecret string        `envconfig:"GATEWAY_WEBHOOK_SECRET"`
	NotifyURL     string        `envconfig:"GATEWAY_NOTIFICATION_URL"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
	// UseFake swaps the HTTP client for the in-process fake gateway.
	UseFake       bool `envconfig:"GATEWAY_USE_FAKE" default:"false"`
	AllowTestMode bool `envconfig:"PAYMENTS_ALLOW_TEST_MODE" default:"false"`
}

type OrdersConfig struct {
	PaymentWindow        time.Duration `envconfig:"ORDER_PAYMENT_WINDOW" default:"24h"`
	NormalShippingCents  int64         `envconfig:"SHIPPING_NORMAL_CENTS" default:"2000"`
	ExpressShippingCents int64         `envconfig:"SHIPPING_EXPRESS_CENTS" default:"3500"`
	NumberPrefix         string        `envconfig:"ORDER_NUMBER_PREFIX" default:"SNK"`
}

type RateLimitConfig struct {
	PaymentsWindow time.Duration `envconfig:"RATE_LIMIT_PAYMENTS_WINDOW" default:"1m"`
	PaymentsLimit  int           `envconfig:"RATE_LIMIT_PAYMENTS_LIMIT" default:"20"`
}

type ReaperConfig struct {
	Interval time.Duration `envconfig:"REAPER_INTERVAL" default:"5m"`
	LockKey  string        `envconfig:"REAPER_LOCK_KEY" default:"payment-expiry"`
	LockTTL  time.Duration `envconfig:"REAPER_LOCK_TTL" default:"4m"`
	BatchMax int           `envconfig:"REAPER_BATCH_MAX" default:"200"`
}

func (c *Config) validate(svc Service) error {
	if svc == ServiceAPI && strings.TrimSpace(c.JWT.Secret) == "" {
		return fmt.Errorf("SNEAKERS_JWT_SECRET is required")
	}
	if c.Orders.PaymentWindow <= 0 {
		return fmt.Errorf("ORDER_PAYMENT_WINDOW must be positive")
	}
	if c.Orders.NormalShippingCents < 0 || c.Orders.ExpressShippingCents < 0 {
		return fmt.Errorf("shipping rates must not be negative")
	}
	if c.App.IsProd() && c.Gateway.AllowTestMode {
		return fmt.Errorf("PAYMENTS_ALLOW_TEST_MODE cannot be enabled in prod")
	}
	if c.App.IsProd() && c.Gateway.UseFake {
		return fmt.Errorf("GATEWAY_USE_FAKE cannot be enabled in prod")
	}
	if svc == ServiceAPI && !c.Gateway.UseFake && c.Gateway.AccessToken == "" {
		return fmt.Errorf("GATEWAY_ACCESS_TOKEN is required unless GATEWAY_USE_FAKE is set")
	}
	if svc == ServiceReaper && c.Reaper.Interval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive")
	}
	return nil
}
