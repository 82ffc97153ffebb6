// Package metrics collects in-process counters, gauges and timings.
package metrics

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/latoulicious/tarulink/pkg/logging"
)

// Type represents the type of metric
type Type int

const (
	CounterType Type = iota
	GaugeType
	HistogramType
)

func (t Type) String() string {
	switch t {
	case CounterType:
		return "counter"
	case GaugeType:
		return "gauge"
	case HistogramType:
		return "histogram"
	default:
		return "unknown"
	}
}

// Metric represents a single metric measurement
type Metric struct {
	Name      string            `json:"name"`
	Type      Type              `json:"type"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Stats     *HistogramStats   `json:"stats,omitempty"`
}

// HistogramStats summarizes every value recorded into a histogram
type HistogramStats struct {
	Count float64 `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// Snapshot represents all metrics at a point in time
type Snapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Metrics   map[string]Metric `json:"metrics"`
}

// Collector records metrics
type Collector interface {
	RecordCounter(name string, value int64, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
	RecordHistogram(name string, value float64, tags map[string]string)
	RecordTiming(name string, duration time.Duration, tags map[string]string)
}

// BasicCollector keeps metrics in memory
type BasicCollector struct {
	metrics map[string]Metric
	mu      sync.RWMutex
	logger  logging.Logger
}

// NewBasicCollector creates a new in-memory collector
func NewBasicCollector(logger logging.Logger) *BasicCollector {
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &BasicCollector{
		metrics: make(map[string]Metric),
		logger:  logger,
	}
}

// RecordCounter adds value to a counter
func (c *BasicCollector) RecordCounter(name string, value int64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := buildKey(name, tags)
	total := float64(value)
	if existing, ok := c.metrics[key]; ok && existing.Type == CounterType {
		total += existing.Value
	}

	c.metrics[key] = Metric{
		Name:      name,
		Type:      CounterType,
		Value:     total,
		Tags:      maps.Clone(tags),
		Timestamp: time.Now(),
	}

	c.logger.Debug("Recorded counter metric",
		logging.String("name", name),
		logging.Int64("value", value),
		logging.Float64("total", total),
	)
}

// RecordGauge sets a gauge
func (c *BasicCollector) RecordGauge(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics[buildKey(name, tags)] = Metric{
		Name:      name,
		Type:      GaugeType,
		Value:     value,
		Tags:      maps.Clone(tags),
		Timestamp: time.Now(),
	}
}

// RecordHistogram records a value and updates the running statistics
func (c *BasicCollector) RecordHistogram(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := buildKey(name, tags)
	stats := HistogramStats{Count: 1, Sum: value, Min: value, Max: value, Avg: value}
	if existing, ok := c.metrics[key]; ok && existing.Type == HistogramType && existing.Stats != nil {
		stats = *existing.Stats
		stats.Count++
		stats.Sum += value
		stats.Min = min(stats.Min, value)
		stats.Max = max(stats.Max, value)
		stats.Avg = stats.Sum / stats.Count
	}

	c.metrics[key] = Metric{
		Name:      name,
		Type:      HistogramType,
		Value:     value,
		Tags:      maps.Clone(tags),
		Timestamp: time.Now(),
		Stats:     &stats,
	}
}

// RecordTiming records a duration in milliseconds
func (c *BasicCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	c.RecordHistogram(name, float64(duration.Nanoseconds())/1e6, tags)
}

// Get retrieves a specific metric
func (c *BasicCollector) Get(name string, tags map[string]string) (Metric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metrics[buildKey(name, tags)]
	return m, ok
}

// Snapshot returns a copy of all current metrics
func (c *BasicCollector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Timestamp: time.Now(),
		Metrics:   maps.Clone(c.metrics),
	}
}

// ByName returns all metrics with the given name
func (c *BasicCollector) ByName(name string) []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Metric
	for _, m := range c.metrics {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears all metrics
func (c *BasicCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = make(map[string]Metric)
}

// buildKey creates a key from the name and the tags in sorted order
func buildKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(tags[k])
	}
	return b.String()
}

// NopCollector discards everything
type NopCollector struct{}

func (NopCollector) RecordCounter(string, int64, map[string]string)        {}
func (NopCollector) RecordGauge(string, float64, map[string]string)        {}
func (NopCollector) RecordHistogram(string, float64, map[string]string)    {}
func (NopCollector) RecordTiming(string, time.Duration, map[string]string) {}
