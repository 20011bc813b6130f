package monitor

import (
	"errors"
	"time"
)

// Config holds the classification thresholds for the sample processor.
type Config struct {
	DeviationThreshold  float64       `koanf:"deviation_threshold" yaml:"deviation_threshold"` // meters
	ArrivalThreshold    float64       `koanf:"arrival_threshold" yaml:"arrival_threshold"`     // meters
	StopRadius          float64       `koanf:"stop_radius" yaml:"stop_radius"`                 // meters
	StopDuration        time.Duration `koanf:"stop_duration" yaml:"stop_duration"`
	StopWindow          time.Duration `koanf:"stop_window" yaml:"stop_window"`
	LowBatteryThreshold float64       `koanf:"low_battery_threshold" yaml:"low_battery_threshold"` // percent
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		DeviationThreshold:  150,
		ArrivalThreshold:    100,
		StopRadius:          30,
		StopDuration:        120 * time.Second,
		StopWindow:          180 * time.Second,
		LowBatteryThreshold: 15,
	}
}

// Validate rejects thresholds the processor cannot work with.
func (c Config) Validate() error {
	switch {
	case c.DeviationThreshold <= 0:
		return errors.New("monitor: deviation_threshold must be positive")
	case c.ArrivalThreshold <= 0:
		return errors.New("monitor: arrival_threshold must be positive")
	case c.StopRadius <= 0:
		return errors.New("monitor: stop_radius must be positive")
	case c.StopDuration <= 0:
		return errors.New("monitor: stop_duration must be positive")
	case c.StopWindow < c.StopDuration:
		return errors.New("monitor: stop_window must be at least stop_duration")
	case c.LowBatteryThreshold < 0 || c.LowBatteryThreshold > 100:
		return errors.New("monitor: low_battery_threshold must be within [0, 100]")
	}
	return nil
}
