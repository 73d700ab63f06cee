// Package config loads the cascade4go application configuration from a YAML
// file, a .env file and CASCADE4GO_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/ammar0144/cascade4go/pkg/cascade"
	"github.com/ammar0144/cascade4go/pkg/db"
	"github.com/ammar0144/cascade4go/pkg/logging"
	"github.com/ammar0144/cascade4go/pkg/redis"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CASCADE4GO_"

// Config is the application configuration
type Config struct {
	Database db.Config      `yaml:"database"`
	Redis    redis.Config   `yaml:"redis"`
	Cascade  cascade.Config `yaml:"cascade"`
	Logging  logging.Config `yaml:"logging"`

	// Schema is the path of the YAML model schema
	Schema string `yaml:"schema"`
}

// Default returns the configuration used when nothing overrides it. The
// cache is off until configured.
func Default() *Config {
	cfg := &Config{
		Database: *db.DefaultConfig(),
		Redis:    *redis.DefaultConfig(),
		Cascade:  *cascade.DefaultConfig(),
		Logging:  *logging.DefaultConfig(),
	}
	cfg.Redis.Enabled = false
	return cfg
}

// Load reads path (optional), then the given .env files (default ".env",
// missing files ignored), then the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// godotenv.Load never overrides variables already set
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := c.Cascade.Validate(); err != nil {
		return fmt.Errorf("cascade: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := cast.ToIntE(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := cast.ToBoolE(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	var driver string
	str("DB_DRIVER", &driver)
	if driver != "" {
		c.Database.Driver = db.Driver(strings.ToLower(driver))
	}
	str("DB_HOST", &c.Database.Host)
	integer("DB_PORT", &c.Database.Port)
	str("DB_NAME", &c.Database.Database)
	str("DB_USER", &c.Database.Username)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_LOG_LEVEL", &c.Database.Logging.Level)

	boolean("REDIS_ENABLED", &c.Redis.Enabled)
	str("REDIS_HOST", &c.Redis.Host)
	integer("REDIS_PORT", &c.Redis.Port)
	str("REDIS_PASSWORD", &c.Redis.Password)
	integer("REDIS_DB", &c.Redis.Database)

	str("CASCADE_OPTION_KEY", &c.Cascade.OptionKey)
	boolean("CASCADE_LOG_SKIPS", &c.Cascade.LogSkips)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("SCHEMA", &c.Schema)

	return errors.Join(errs...)
}
