package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter keeps counters in process memory. Used when no Redis URL is configured.
type MemoryCounter struct {
	mu        sync.Mutex
	days      map[string]map[string]int64
	retention time.Duration
	now       func() time.Time
}

// NewMemoryCounter creates an in-memory counter
func NewMemoryCounter(retention time.Duration) *MemoryCounter {
	return &MemoryCounter{
		days:      make(map[string]map[string]int64),
		retention: retention,
		now:       time.Now,
	}
}

func (mc *MemoryCounter) incr(fields map[string]int64) {
	if len(fields) == 0 {
		return
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now().UTC()
	date := now.Format(dayLayout)
	day, ok := mc.days[date]
	if !ok {
		day = make(map[string]int64)
		mc.days[date] = day
	}
	for field, n := range fields {
		day[field] += n
	}

	if mc.retention > 0 {
		cutoff := now.Add(-mc.retention).Format(dayLayout)
		for d := range mc.days {
			if d < cutoff {
				delete(mc.days, d)
			}
		}
	}
}

// RecordRequest counts one proxied or API request
func (mc *MemoryCounter) RecordRequest(_ context.Context, provider string) error {
	fields := map[string]int64{fieldRequests: 1}
	if provider != "" {
		fields[fieldProviderPrefix+provider] = 1
	}
	mc.incr(fields)
	return nil
}

// RecordMasking counts masked items per category
func (mc *MemoryCounter) RecordMasking(_ context.Context, categories map[string]int) error {
	mc.incr(prefixed(fieldMaskedPrefix, categories))
	return nil
}

// RecordLeakage counts leakage warnings per severity
func (mc *MemoryCounter) RecordLeakage(_ context.Context, severities map[string]int) error {
	mc.incr(prefixed(fieldLeakagePrefix, severities))
	return nil
}

// Snapshot reads the last n days of counters
func (mc *MemoryCounter) Snapshot(_ context.Context, days int) (*Stats, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	dates := lastDays(mc.now(), days)
	result := make([]DayStats, 0, len(dates))
	for _, date := range dates {
		day := newDayStats(date)
		for field, n := range mc.days[date] {
			day.apply(field, n)
		}
		result = append(result, day)
	}
	return buildStats(result), nil
}

// Close is a no-op
func (mc *MemoryCounter) Close() error {
	return nil
}
