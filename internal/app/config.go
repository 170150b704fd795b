package app

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/shopwise/internal/domain/product"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config holds the complete client configuration, loadable from environment
// variables (SHOPWISE_ prefix), a .env file, or YAML config files.
type Config struct {
	BaseURL      string        `default:"http://127.0.0.1:8000" usage:"ShopWise API base URL"`
	Timeout      time.Duration `default:"15s" usage:"Per-request timeout"`
	Storage      StorageConfig
	RateLimit    RateLimitConfig
	Connectivity ConnectivityConfig
	// Retailers maps retailer ids to image domains, as id=domain entries.
	Retailers           []string      `default:"1=https://www.shoprite.co.za,2=https://www.checkers.co.za" usage:"Retailer image domains (id=domain)"`
	VerifyRedirectDelay time.Duration `default:"3s" usage:"Delay before leaving the verification result"`
	Debug               bool          `default:"false" usage:"Verbose logging"`
}

// StorageConfig selects where the session is persisted.
type StorageConfig struct {
	Driver string `default:"file" usage:"Session storage: file, memory, redis or postgres"`
	// Path of the session file. Defaults to the user config directory.
	Path          string `usage:"Session file path"`
	RedisAddr     string `usage:"Redis address (SHOPWISE_STORAGE_REDIS_ADDR or REDIS_ADDR)"`
	RedisPassword string `usage:"Redis password"`
	RedisDB       int    `default:"0" usage:"Redis database"`
	RedisPrefix   string `default:"shopwise:session" usage:"Redis key prefix"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (SHOPWISE_STORAGE_DATABASE_URL or DATABASE_URL)"`
	Namespace     string `default:"default" usage:"PostgreSQL session namespace"`
}

// RateLimitConfig controls the client-side sliding window throttle. Max 0
// disables it.
type RateLimitConfig struct {
	Max    int           `default:"20" usage:"Max requests per window and host"`
	Window time.Duration `default:"1s" usage:"Throttle window duration"`
}

// ConnectivityConfig controls the reachability monitor.
type ConnectivityConfig struct {
	Disabled bool          `default:"false" usage:"Treat the API as always reachable"`
	Interval time.Duration `default:"30s" usage:"Background check interval"`
	Timeout  time.Duration `default:"3s" usage:"Reachability check timeout"`
}

// DefaultConfigFiles are searched in order when no file is given.
func DefaultConfigFiles() []string {
	files := []string{"shopwise.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, "shopwise", "config.yaml"))
	}
	return append(files, "/etc/shopwise/config.yaml")
}

// LoadConfig loads configuration from an optional .env file, environment
// variables and YAML config files, then applies platform defaults. Explicit
// files must exist.
func LoadConfig(files ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	explicit := len(files) > 0
	if !explicit {
		files = DefaultConfigFiles()
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:          "SHOPWISE",
		SkipFlags:          true,
		Files:              files,
		FailOnFileNotFound: explicit,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps conventional environment variables to the
// SHOPWISE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Storage.RedisAddr == "" {
		c.Storage.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if c.Storage.RedisPassword == "" {
		c.Storage.RedisPassword = os.Getenv("REDIS_PASS")
	}
}

// Validate checks option combinations the loader cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverFile, DriverMemory:
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("redis storage requires SHOPWISE_STORAGE_REDIS_ADDR or REDIS_ADDR")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("postgres storage requires SHOPWISE_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Timeout < 0 {
		return errors.Errorf("negative timeout %s", c.Timeout)
	}
	if _, err := c.RetailerDomains(); err != nil {
		return err
	}
	return nil
}

// RetailerDomains parses Retailers.
func (c *Config) RetailerDomains() (map[string]string, error) {
	domains, err := product.ParseDomainTable(c.Retailers)
	if err != nil {
		return nil, errors.Wrap(err, "retailers")
	}
	return domains, nil
}
