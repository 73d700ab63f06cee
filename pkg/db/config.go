package db

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DefaultConfig returns a MySQL configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverMySQL,
		Host:            "localhost",
		Port:            3306,
		Collation:       "utf8mb4_unicode_ci",
		TimeZone:        "UTC",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
		Logging: LoggingConfig{
			Level:              "warn",
			SlowQueryThreshold: 200 * time.Millisecond,
		},
	}
}

// driver returns the configured driver, mysql when unset
func (c *Config) driver() Driver {
	if c.Driver == "" {
		return DriverMySQL
	}
	return c.Driver
}

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	switch c.driver() {
	case DriverMySQL, DriverPostgres:
		if c.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
		}
		if c.Username == "" {
			return fmt.Errorf("database username is required")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}

	if c.driver() == DriverMySQL && c.SSL.Enabled && !c.SSL.SkipVerify {
		if err := c.validateTLSFiles(); err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
	}

	return nil
}

// validateTLSFiles validates that TLS certificate files exist and are readable
func (c *Config) validateTLSFiles() error {
	if c.SSL.CAFile != "" {
		if _, err := os.Stat(c.SSL.CAFile); err != nil {
			return fmt.Errorf("CA file not accessible: %w", err)
		}
	}

	if c.SSL.CertFile != "" || c.SSL.KeyFile != "" {
		if c.SSL.CertFile == "" || c.SSL.KeyFile == "" {
			return fmt.Errorf("both CertFile and KeyFile must be provided together")
		}
		if _, err := os.Stat(c.SSL.CertFile); err != nil {
			return fmt.Errorf("client certificate file not accessible: %w", err)
		}
		if _, err := os.Stat(c.SSL.KeyFile); err != nil {
			return fmt.Errorf("client key file not accessible: %w", err)
		}
	}

	return nil
}

// Dialector returns the GORM dialector for the configured driver
func (c *Config) Dialector() (gorm.Dialector, error) {
	switch c.driver() {
	case DriverMySQL:
		dsn, err := c.MySQLDSN()
		if err != nil {
			return nil, err
		}
		return gormmysql.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(c.PostgresDSN()), nil
	case DriverSQLite:
		return sqlite.Open(c.Database), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// CacheNamespace isolates cache keys of this database from other databases
// sharing the same Redis
func (c *Config) CacheNamespace() string {
	name := strings.TrimSuffix(filepath.Base(c.Database), filepath.Ext(c.Database))
	name = strings.Trim(name, ":")
	if name == "" || name == "." {
		return "default"
	}
	return name
}

// PostgresDSN returns the keyword/value connection string for Postgres
func (c *Config) PostgresDSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode, timeZoneName(c.TimeZone))
}

// MySQLDSN returns the MySQL Data Source Name built with the official driver config
func (c *Config) MySQLDSN() (string, error) {
	cfg := mysql.Config{
		User:                 c.Username,
		Passwd:               c.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", c.Host, c.Port),
		DBName:               c.Database,
		Collation:            c.Collation,
		Loc:                  parseLocation(c.TimeZone),
		ParseTime:            true,
		AllowNativePasswords: true,
	}

	if c.SSL.Enabled {
		if c.SSL.SkipVerify {
			cfg.TLSConfig = "skip-verify"
		} else {
			tlsName, err := c.registerTLS()
			if err != nil {
				return "", err
			}
			cfg.TLSConfig = tlsName
		}
	}

	return cfg.FormatDSN(), nil
}

// registerTLS builds the TLS config and registers it with the MySQL driver
func (c *Config) registerTLS() (string, error) {
	tlsConfig := &tls.Config{}

	if c.SSL.CAFile != "" {
		caCert, err := os.ReadFile(c.SSL.CAFile)
		if err != nil {
			return "", fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return "", fmt.Errorf("invalid CA certificate in %s", c.SSL.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if c.SSL.CertFile != "" && c.SSL.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
		if err != nil {
			return "", fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.SSL.ServerName != "" {
		tlsConfig.ServerName = c.SSL.ServerName
	}

	// Re-registering an identical name is harmless; the driver keeps one config per name
	name := c.tlsConfigName()
	if err := mysql.RegisterTLSConfig(name, tlsConfig); err != nil {
		return "", fmt.Errorf("failed to register TLS config: %w", err)
	}
	return name, nil
}

// tlsConfigName derives a stable name from the SSL settings so several
// Config instances do not overwrite each other's TLS registration
func (c *Config) tlsConfigName() string {
	h := sha256.New()
	h.Write([]byte(c.SSL.CAFile))
	h.Write([]byte(c.SSL.CertFile))
	h.Write([]byte(c.SSL.KeyFile))
	h.Write([]byte(c.SSL.ServerName))
	return "cascade4go_tls_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// parseLocation parses timezone string to *time.Location, UTC on failure
func parseLocation(tz string) *time.Location {
	loc, err := time.LoadLocation(timeZoneName(tz))
	if err != nil {
		return time.UTC
	}
	return loc
}

func timeZoneName(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}
