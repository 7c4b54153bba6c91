package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DayStats holds the counters of one calendar day (UTC)
type DayStats struct {
	Date      string           `json:"date"`
	Requests  int64            `json:"requests"`
	Masked    map[string]int64 `json:"masked"`
	Leakage   map[string]int64 `json:"leakage"`
	Providers map[string]int64 `json:"providers"`
}

// Stats aggregates counters over a range of days
type Stats struct {
	Days   []DayStats `json:"days"`
	Totals DayStats   `json:"totals"`
}

// Counter records detection activity. Only categories, severities and
// provider names are stored, never text.
type Counter interface {
	RecordRequest(ctx context.Context, provider string) error
	RecordMasking(ctx context.Context, categories map[string]int) error
	RecordLeakage(ctx context.Context, severities map[string]int) error
	Snapshot(ctx context.Context, days int) (*Stats, error)
	Close() error
}

// Config contains counter configuration
type Config struct {
	RedisURL     string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix    string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	Retention    time.Duration `yaml:"retention" mapstructure:"retention"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

const (
	fieldRequests       = "requests"
	fieldMaskedPrefix   = "masked:"
	fieldLeakagePrefix  = "leakage:"
	fieldProviderPrefix = "provider:"
	dayLayout           = "2006-01-02"
)

func newDayStats(date string) DayStats {
	return DayStats{
		Date:      date,
		Masked:    make(map[string]int64),
		Leakage:   make(map[string]int64),
		Providers: make(map[string]int64),
	}
}

// apply adds one hash field to the day
func (d *DayStats) apply(field string, value int64) {
	if field == fieldRequests {
		d.Requests += value
		return
	}
	if name, ok := strings.CutPrefix(field, fieldMaskedPrefix); ok {
		d.Masked[name] += value
	} else if name, ok := strings.CutPrefix(field, fieldLeakagePrefix); ok {
		d.Leakage[name] += value
	} else if name, ok := strings.CutPrefix(field, fieldProviderPrefix); ok {
		d.Providers[name] += value
	}
}

func (d *DayStats) add(other DayStats) {
	d.Requests += other.Requests
	for k, v := range other.Masked {
		d.Masked[k] += v
	}
	for k, v := range other.Leakage {
		d.Leakage[k] += v
	}
	for k, v := range other.Providers {
		d.Providers[k] += v
	}
}

// lastDays returns dates from today backwards, newest first
func lastDays(now time.Time, days int) []string {
	if days <= 0 {
		days = 1
	}
	dates := make([]string, 0, days)
	for i := 0; i < days; i++ {
		dates = append(dates, now.UTC().AddDate(0, 0, -i).Format(dayLayout))
	}
	return dates
}

func buildStats(days []DayStats) *Stats {
	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })

	stats := &Stats{Days: days, Totals: newDayStats("total")}
	for _, d := range days {
		stats.Totals.add(d)
	}
	return stats
}

// NewCounter returns a Redis-backed counter when a Redis URL is configured,
// otherwise an in-memory one.
func NewCounter(config *Config, logger *zap.Logger) (Counter, error) {
	if config.RedisURL == "" {
		logger.Info("Detection counters kept in memory")
		return NewMemoryCounter(config.Retention), nil
	}
	return NewRedisCounter(config, logger)
}
