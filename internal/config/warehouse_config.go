package config

import (
	"fmt"
	"time"
)

type WarehouseConfig interface {
	GetDatabaseURL() string
	GetRedisURL() string
	GetLocation() (*time.Location, error)
	GetScheduleEnabled() bool
	GetScheduleDelay() time.Duration
}

type Warehouse struct {
	// DatabaseURL selects the PostgreSQL store. Empty keeps everything in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	// RedisURL selects the Redis pending-login store. Empty keeps it in memory.
	RedisURL        string        `env:"REDIS_URL"`
	Timezone        string        `env:"AGGREGATION_TZ" envDefault:"UTC"`
	ScheduleEnabled bool          `env:"AGGREGATION_SCHEDULE_ENABLED" envDefault:"false"`
	ScheduleDelay   time.Duration `env:"AGGREGATION_SCHEDULE_DELAY" envDefault:"5m"`
}

var _ WarehouseConfig = Warehouse{}

func (w Warehouse) GetDatabaseURL() string {
	return w.DatabaseURL
}

func (w Warehouse) GetRedisURL() string {
	return w.RedisURL
}

// GetLocation returns the time zone that defines the processing day boundary
func (w Warehouse) GetLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid AGGREGATION_TZ %q: %w", w.Timezone, err)
	}
	return loc, nil
}

func (w Warehouse) GetScheduleEnabled() bool {
	return w.ScheduleEnabled
}

func (w Warehouse) GetScheduleDelay() time.Duration {
	return w.ScheduleDelay
}
