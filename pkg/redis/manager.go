package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	cacheKeySeparator  = ":"
	cacheKeyHashLength = 12
	scanBatchSize      = 100
)

// Manager manages Redis connections and cache operations
type Manager struct {
	config  *Config
	client  redis.UniversalClient
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used for invalidation and miss reports
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("redis")
		}
	}
}

// NewManager creates a new Redis cache manager
func NewManager(config *Config, opts ...Option) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	manager := &Manager{
		config:  config,
		logger:  zap.NewNop(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(manager)
	}

	manager.initializeClient()
	return manager, nil
}

// initializeClient sets up the Redis client based on configuration
func (m *Manager) initializeClient() {
	if !m.config.Enabled {
		return
	}

	if m.config.IsClusterMode() {
		m.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           m.config.Cluster.Addresses,
			Username:        m.config.Cluster.Username,
			Password:        m.config.Cluster.Password,
			PoolSize:        m.config.PoolSize,
			MinIdleConns:    m.config.MinIdleConns,
			ConnMaxLifetime: m.config.MaxConnAge,
			PoolTimeout:     m.config.PoolTimeout,
			ConnMaxIdleTime: m.config.IdleTimeout,
			ReadTimeout:     m.config.ReadTimeout,
			WriteTimeout:    m.config.WriteTimeout,
			DialTimeout:     m.config.DialTimeout,
		})
		return
	}

	m.client = redis.NewClient(&redis.Options{
		Addr:            m.config.GetAddr(),
		Password:        m.config.Password,
		DB:              m.config.Database,
		PoolSize:        m.config.PoolSize,
		MinIdleConns:    m.config.MinIdleConns,
		ConnMaxLifetime: m.config.MaxConnAge,
		PoolTimeout:     m.config.PoolTimeout,
		ConnMaxIdleTime: m.config.IdleTimeout,
		ReadTimeout:     m.config.ReadTimeout,
		WriteTimeout:    m.config.WriteTimeout,
		DialTimeout:     m.config.DialTimeout,
	})
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection. A disabled cache is not an error.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// Get retrieves a raw value from cache
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := m.client.Get(ctx, key).Bytes()
	m.metrics.RecordGet(time.Since(start))

	if errors.Is(err, redis.Nil) {
		m.metrics.RecordCacheMiss()
		if m.config.Logging.LogCacheMisses {
			m.logger.Debug("cache miss", zap.String("key", key))
		}
		return nil, ErrKeyNotFound
	}
	if err != nil {
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	m.metrics.RecordCacheHit()
	return data, nil
}

// Set stores a raw value with the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, m.config.DefaultTTL)
}

// SetWithTTL stores a raw value with a custom TTL
func (m *Manager) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if m.config.MaxValueSize > 0 && len(value) > m.config.MaxValueSize {
		return fmt.Errorf("%w: %d bytes for key %s", ErrValueTooLarge, len(value), key)
	}

	start := time.Now()
	err := m.client.Set(ctx, key, value, ttl).Err()
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// GetValue decodes a msgpack value stored by SetValue into target
func (m *Manager) GetValue(ctx context.Context, key string, target any) error {
	data, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return nil
}

// SetValue stores value encoded with msgpack
func (m *Manager) SetValue(ctx context.Context, key string, value any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return m.Set(ctx, key, data)
}

// Exists reports whether key is cached
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.checkClient(); err != nil {
		return false, err
	}
	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return n > 0, nil
}

// Delete removes keys from cache
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := m.client.Del(ctx, keys...).Err()
	m.metrics.RecordDelete(time.Since(start))
	return err
}

// InvalidatePattern removes keys matching a pattern using SCAN instead of KEYS
// and returns how many were removed
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if err := m.checkClient(); err != nil {
		return 0, err
	}

	var cursor uint64
	removed := 0
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}
		if len(batch) > 0 {
			if err := m.client.Del(ctx, batch...).Err(); err != nil {
				return removed, fmt.Errorf("failed to delete batch: %w", err)
			}
			removed += len(batch)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	m.metrics.RecordInvalidation(removed)
	if m.config.Logging.LogInvalidations {
		m.logger.Debug("cache invalidated", zap.String("pattern", pattern), zap.Int("keys", removed))
	}
	return removed, nil
}

// Key joins parts under the configured prefix
func (m *Manager) Key(parts ...string) string {
	return m.config.prefix() + cacheKeySeparator + strings.Join(parts, cacheKeySeparator)
}

// TablePattern matches every key cached for table in database
func (m *Manager) TablePattern(database, table string) string {
	return m.Key(database, table, "*")
}

// InvalidateTable drops every cached read of table. Cascade handlers call it
// for each table they delete from.
func (m *Manager) InvalidateTable(ctx context.Context, database, table string) error {
	_, err := m.InvalidatePattern(ctx, m.TablePattern(database, table))
	return err
}

// QueryHash returns a short stable hash of a query and its arguments
func QueryHash(query any, args ...any) string {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(query); err != nil {
		fmt.Fprintf(&buf, "%T:%v", query, query)
	}
	buf.WriteString(cacheKeySeparator)
	if err := enc.Encode(args); err != nil {
		fmt.Fprintf(&buf, "%v", args)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(buf.Bytes()))[:cacheKeyHashLength]
}

// GetMetrics returns a snapshot of cache metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

// ResetMetrics clears cache metrics
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}
