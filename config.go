package greendonut

import (
	"flag"
	"fmt"
	"time"
)

// DefaultCacheSize is the memoization capacity applied by
// RegisterFlagsAndApplyDefaults.
const DefaultCacheSize = 1000

type Config struct {
	// CacheSize bounds the memoization cache. A hand-built config with a
	// zero or negative size disables caching entirely.
	CacheSize int `yaml:"cache_size"`

	// SlidingExpiration evicts entries untouched for this long. 0 disables
	// expiration.
	SlidingExpiration time.Duration `yaml:"sliding_expiration"`

	DisableCaching  bool `yaml:"disable_caching"`
	DisableBatching bool `yaml:"disable_batching"`

	// MaxBatchSize caps the number of keys handed to a single fetch call.
	// 0 means one call per dispatch.
	MaxBatchSize int `yaml:"max_batch_size"`

	// BatchRequestDelay is the coalescing window the background loop sleeps
	// between dispatches.
	BatchRequestDelay time.Duration `yaml:"batch_request_delay"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.CacheSize, prefix+"loader.cache-size", DefaultCacheSize, "Maximum number of memoized keys. <= 0 disables caching.")
	f.DurationVar(&cfg.SlidingExpiration, prefix+"loader.sliding-expiration", 0, "Idle window after which a memoized key is evicted. 0 disables expiration.")
	f.BoolVar(&cfg.DisableCaching, prefix+"loader.disable-caching", false, "Skip all cache interactions.")
	f.BoolVar(&cfg.DisableBatching, prefix+"loader.disable-batching", false, "Dispatch a one-key fetch per load instead of coalescing.")
	f.IntVar(&cfg.MaxBatchSize, prefix+"loader.max-batch-size", 0, "Maximum keys per fetch call. 0 means one call per dispatch.")
	f.DurationVar(&cfg.BatchRequestDelay, prefix+"loader.batch-request-delay", 0, "Sleep between dispatches of the background loop.")
}

func (cfg *Config) Validate() error {
	if cfg.SlidingExpiration < 0 {
		return fmt.Errorf("sliding expiration must not be negative, got %s", cfg.SlidingExpiration)
	}
	if cfg.MaxBatchSize < 0 {
		return fmt.Errorf("max batch size must not be negative, got %d", cfg.MaxBatchSize)
	}
	if cfg.BatchRequestDelay < 0 {
		return fmt.Errorf("batch request delay must not be negative, got %s", cfg.BatchRequestDelay)
	}

	return nil
}
