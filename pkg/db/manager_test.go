package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/ammar0144/cascade4go/pkg/cascade"
)

func sqliteConfig() *Config {
	cfg := DefaultConfig()
	cfg.Driver = DriverSQLite
	cfg.Database = ":memory:"
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	return cfg
}

func TestNewManagerSQLite(t *testing.T) {
	m, err := NewManager(sqliteConfig())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Ping(context.Background()))
	assert.Equal(t, DriverSQLite, m.Config().Driver)

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MaxOpenConnections)

	var n int
	require.NoError(t, m.DB().Raw("SELECT 1").Scan(&n).Error)
	assert.Equal(t, 1, n)
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)

	cfg := sqliteConfig()
	cfg.Database = ""
	_, err = NewManager(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

type countingPlugin struct {
	installed int
	err       error
}

func (p *countingPlugin) Name() string { return "counting" }

func (p *countingPlugin) Initialize(*gorm.DB) error {
	p.installed++
	return p.err
}

func TestManagerInstallsPlugins(t *testing.T) {
	p := &countingPlugin{}
	m, err := NewManager(sqliteConfig(), WithPlugins(p))
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 1, p.installed)

	_, err = NewManager(sqliteConfig(), WithPlugins(&countingPlugin{err: errors.New("boom")}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counting")
}

func TestGormLoggerCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := sqliteConfig()
	cfg.Logging.Level = "info"

	m, err := NewManager(cfg, WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer m.Close()

	req := cascade.NewRequest("tester")
	ctx := cascade.WithRequest(context.Background(), req)
	require.NoError(t, m.DB().WithContext(ctx).Exec("SELECT 1").Error)

	entries := logs.FilterMessage("SQL Query").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, req.ID, entries[len(entries)-1].ContextMap()["request_id"])
}

func TestGormLoggerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m, err := NewManager(sqliteConfig(), WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer m.Close()

	assert.Error(t, m.DB().Exec("SELECT * FROM missing_table").Error)
	assert.Equal(t, 1, logs.FilterMessage("SQL Error").Len())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, ParseLogLevel("silent"), ParseLogLevel("SILENT"))
	assert.Equal(t, ParseLogLevel("info"), ParseLogLevel("debug"))
	assert.Equal(t, ParseLogLevel("warn"), ParseLogLevel("unknown"))
}
