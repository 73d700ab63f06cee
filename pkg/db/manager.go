package db

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOption configures a Manager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	logger  *zap.Logger
	plugins []gorm.Plugin
}

// WithLogger routes GORM logging through l
func WithLogger(l *zap.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// WithPlugins installs GORM plugins once the connection is open
func WithPlugins(plugins ...gorm.Plugin) ManagerOption {
	return func(o *managerOptions) {
		o.plugins = append(o.plugins, plugins...)
	}
}

// NewManager creates a new database manager instance with full configuration
func NewManager(config *Config, opts ...ManagerOption) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dialector, err := config.Dialector()
	if err != nil {
		return nil, err
	}

	return NewManagerWithDialector(config, dialector, opts...)
}

// NewManagerWithDialector opens the connection through an explicit dialector.
// Tests use it to hand in a dialector over a mocked *sql.DB.
func NewManagerWithDialector(config *Config, dialector gorm.Dialector, opts ...ManagerOption) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	o := &managerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	gormConfig := &gorm.Config{
		SkipDefaultTransaction: config.SkipDefaultTransaction,
		PrepareStmt:            config.PrepareStmt,
		Logger: NewGormLogger(o.logger, ParseLogLevel(config.Logging.Level),
			WithSlowThreshold(config.Logging.SlowQueryThreshold)),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	for _, p := range o.plugins {
		if err := db.Use(p); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to install plugin %s: %w", p.Name(), err)
		}
	}

	return &Manager{
		config: config,
		db:     db,
	}, nil
}

// DB returns the GORM database instance
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// SqlDB returns the underlying sql.DB instance
func (m *Manager) SqlDB() (*sql.DB, error) {
	return m.db.DB()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns database connection statistics
func (m *Manager) Stats() (sql.DBStats, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}
