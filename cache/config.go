package cache

import "time"

type Config struct {
	MaxEntries        int           `yaml:"max_entries"`
	SlidingExpiration time.Duration `yaml:"sliding_expiration"`
}
