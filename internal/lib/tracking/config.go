package tracking

import (
	"errors"
	"time"
)

// Config controls the cadence of a session's background work.
type Config struct {
	PersistInterval time.Duration `koanf:"persist_interval" yaml:"persist_interval"`
	NotifyInterval  time.Duration `koanf:"notify_interval" yaml:"notify_interval"`
	QueueSize       int           `koanf:"queue_size" yaml:"queue_size"`
	FlushTimeout    time.Duration `koanf:"flush_timeout" yaml:"flush_timeout"`

	// MaxPending caps buffered samples kept across failed flushes.
	MaxPending int `koanf:"max_pending" yaml:"max_pending"`
}

// DefaultConfig returns the production cadences.
func DefaultConfig() Config {
	return Config{
		PersistInterval: 15 * time.Second,
		NotifyInterval:  5 * time.Minute,
		QueueSize:       64,
		FlushTimeout:    10 * time.Second,
		MaxPending:      5000,
	}
}

// Validate checks that both cadences are usable.
func (c Config) Validate() error {
	switch {
	case c.PersistInterval <= 0:
		return errors.New("tracking: persist_interval must be positive")
	case c.NotifyInterval <= 0:
		return errors.New("tracking: notify_interval must be positive")
	case c.NotifyInterval < c.PersistInterval:
		return errors.New("tracking: notify_interval must not be shorter than persist_interval")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = d.PersistInterval
	}
	if c.NotifyInterval <= 0 {
		c.NotifyInterval = d.NotifyInterval
	}
	return c
}
