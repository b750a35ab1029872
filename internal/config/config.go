package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	JWT       JWTConfig                 `yaml:"jwt"`
	Redis     RedisConfig               `yaml:"redis"`
	Cache     CacheConfig               `yaml:"cache"`
	Billing   BillingConfig             `yaml:"billing"`
	OpenAI    OpenAIConfig              `yaml:"openai"`
	Trainer   TrainerConfig             `yaml:"trainer"`
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessExpireMin   int    `yaml:"access_expire_min"`
	RefreshExpireHour int    `yaml:"refresh_expire_hour"`
	// AbsoluteExpireHour bounds the lifetime of a whole refresh family,
	// regardless of how often it rotates.
	AbsoluteExpireHour int `yaml:"absolute_expire_hour"`
}

// RedisConfig for the shared cache store and the async reconcile queue.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig controls the versioned result cache.
type CacheConfig struct {
	// TTL is a backstop against entries orphaned by version bumps, not the
	// primary invalidation mechanism.
	TTL time.Duration `yaml:"ttl"`
	// FailOpen: when the cache store is unreachable, compute-with-debit
	// instead of failing the request. Duplicate charges become possible
	// during the outage because per-key locking is unavailable too.
	FailOpen bool `yaml:"fail_open"`
	// LockTTL bounds how long a per-key compute lock can be held.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type BillingConfig struct {
	// MaxTokensPerPurchase caps a single credit purchase.
	MaxTokensPerPurchase int `yaml:"max_tokens_per_purchase"`
	// InitialTokens is granted at registration.
	InitialTokens int `yaml:"initial_tokens"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeout_sec"`
}

// TrainerConfig locates the external training worker.
type TrainerConfig struct {
	// Command is the worker executable invoked per training/prediction job.
	Command string `yaml:"command"`
	// ArtifactDir is where promoted model artifacts live.
	ArtifactDir string `yaml:"artifact_dir"`
	// Timeout bounds a single compute call.
	Timeout time.Duration `yaml:"timeout"`
}

// EndpointConfig is one row of the endpoint table: how much a billable call
// costs and how often a user may hit it. Loaded once at start, immutable.
type EndpointConfig struct {
	Cost       int           `yaml:"cost"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// Endpoint ids referenced by routes. Every billable or throttled route must
// have a row in Config.Endpoints under one of these names.
const (
	EndpointRegister    = "register"
	EndpointLogin       = "login"
	EndpointRefresh     = "refresh"
	EndpointLogout      = "logout"
	EndpointDelete      = "delete_account"
	EndpointBuyTokens   = "buy_tokens"
	EndpointHistory     = "token_history"
	EndpointTrain       = "train"
	EndpointModels      = "user_models"
	EndpointPredict     = "predict"
	EndpointPredictions = "user_predictions"
	EndpointAssist      = "assist"
	EndpointTypeDist    = "model_type_distribution"
	EndpointTypeSplit   = "type_split"
	EndpointLabelDist   = "label_distribution"
	EndpointMetricDist  = "metric_distribution"
)

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

// DefaultConfig mirrors the costs and per-endpoint budgets the platform
// shipped with: training is an order of magnitude more expensive than a
// metadata read, and the rate budgets reflect that asymmetry.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "modelmint.db",
		},
		JWT: JWTConfig{
			Secret:             "modelmint-secret-key-change-in-production",
			AccessExpireMin:    30,
			RefreshExpireHour:  1,
			AbsoluteExpireHour: 24,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Cache: CacheConfig{
			TTL:      24 * time.Hour,
			FailOpen: true,
			LockTTL:  30 * time.Second,
		},
		Billing: BillingConfig{
			MaxTokensPerPurchase: 100,
			InitialTokens:        0,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 20,
		},
		Trainer: TrainerConfig{
			Command:     "modelmint-trainer",
			ArtifactDir: "artifacts",
			Timeout:     5 * time.Minute,
		},
		Endpoints: map[string]EndpointConfig{
			EndpointRegister:    {Cost: 0, RateLimit: 5, RateWindow: time.Hour},
			EndpointLogin:       {Cost: 0, RateLimit: 10, RateWindow: 10 * time.Minute},
			EndpointRefresh:     {Cost: 0, RateLimit: 10, RateWindow: 10 * time.Minute},
			EndpointLogout:      {Cost: 0, RateLimit: 10, RateWindow: time.Minute},
			EndpointDelete:      {Cost: 0, RateLimit: 2, RateWindow: 5 * time.Minute},
			EndpointBuyTokens:   {Cost: 0, RateLimit: 3, RateWindow: time.Minute},
			EndpointHistory:     {Cost: 0, RateLimit: 10, RateWindow: time.Minute},
			EndpointTrain:       {Cost: 10, RateLimit: 5, RateWindow: 5 * time.Minute},
			EndpointModels:      {Cost: 1, RateLimit: 20, RateWindow: time.Minute},
			EndpointPredict:     {Cost: 5, RateLimit: 20, RateWindow: 10 * time.Minute},
			EndpointPredictions: {Cost: 1, RateLimit: 20, RateWindow: time.Minute},
			EndpointAssist:      {Cost: 2, RateLimit: 5, RateWindow: time.Minute},
			EndpointTypeDist:    {Cost: 1, RateLimit: 30, RateWindow: time.Minute},
			EndpointTypeSplit:   {Cost: 1, RateLimit: 30, RateWindow: time.Minute},
			EndpointLabelDist:   {Cost: 1, RateLimit: 20, RateWindow: time.Minute},
			EndpointMetricDist:  {Cost: 1, RateLimit: 10, RateWindow: time.Minute},
		},
	}
}

// Endpoint returns the table row for an endpoint id. Unknown ids are a
// programming error caught by validate at startup, so this never misses at
// request time.
func (c *Config) Endpoint(id string) EndpointConfig {
	return c.Endpoints[id]
}

func (c *Config) validate() error {
	for _, id := range []string{
		EndpointRegister, EndpointLogin, EndpointRefresh, EndpointLogout,
		EndpointDelete, EndpointBuyTokens, EndpointHistory, EndpointTrain, EndpointModels,
		EndpointPredict, EndpointPredictions, EndpointAssist,
		EndpointTypeDist, EndpointTypeSplit, EndpointLabelDist, EndpointMetricDist,
	} {
		ep, ok := c.Endpoints[id]
		if !ok {
			return fmt.Errorf("endpoint table missing entry: %s", id)
		}
		if ep.RateLimit <= 0 || ep.RateWindow <= 0 {
			return fmt.Errorf("endpoint %s: rate_limit and rate_window must be positive", id)
		}
		if ep.Cost < 0 {
			return fmt.Errorf("endpoint %s: cost must not be negative", id)
		}
	}
	return nil
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.OpenAI.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.OpenAI.Model = model
	}
	if cmd := os.Getenv("TRAINER_COMMAND"); cmd != "" {
		c.Trainer.Command = cmd
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
