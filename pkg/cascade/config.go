package cascade

import "fmt"

// Config controls trigger behavior
type Config struct {
	// OptionKey is the relation option / settings key holding the cascade flag.
	// Default: destroyOnDelete
	OptionKey string `json:"option_key" yaml:"option_key"`

	// Concurrency bounds each fan-out group (instances, and relations per
	// instance). Zero or negative means unbounded, 1 runs sequentially.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// LogSkips logs every skipped relation at debug level
	LogSkips bool `json:"log_skips" yaml:"log_skips"`
}

// DefaultConfig returns a trigger configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OptionKey:   DefaultOptionKey,
		Concurrency: 8,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OptionKey == "" {
		return fmt.Errorf("option_key is required")
	}
	if c.Concurrency > 1024 {
		return fmt.Errorf("concurrency must be at most 1024, got %d", c.Concurrency)
	}
	return nil
}

// groupLimit converts Concurrency into an errgroup limit.
func (c *Config) groupLimit() int {
	if c.Concurrency <= 0 {
		return -1
	}
	return c.Concurrency
}
