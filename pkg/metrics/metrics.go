// Package metrics tracks fetch latency quantiles and cache counters for the
// media core.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Operation names recorded by the loader and provider.
const (
	OpFetchContent   = "fetch_content"
	OpFetchThumbnail = "fetch_thumbnail"
	OpResolve        = "resolve"
)

// LatencyTracker tracks latency quantiles using DDSketch.
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64
}

// NewLatencyTracker creates a new latency tracker.
// relativeAccuracy determines the accuracy of quantile estimates (0.01 = 1%).
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

// Record records a duration for the given operation. A nil tracker is a no-op.
func (lt *LatencyTracker) Record(operation string, duration time.Duration) {
	if lt == nil {
		return
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, exists := lt.sketches[operation]
	if !exists {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.relativeAccuracy)
		}
		lt.sketches[operation] = sketch
	}

	// milliseconds
	_ = sketch.Add(float64(duration.Microseconds()) / 1000.0)
}

// Since records the time elapsed since start.
func (lt *LatencyTracker) Since(operation string, start time.Time) {
	lt.Record(operation, time.Since(start))
}

// Stats holds the summary of one operation, in milliseconds.
type Stats struct {
	Operation string
	Count     int64
	Min       float64
	P50       float64
	P90       float64
	P99       float64
	Max       float64
}

// GetStats returns statistics for the given operation.
func (lt *LatencyTracker) GetStats(operation string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.statsLocked(operation)
}

func (lt *LatencyTracker) statsLocked(operation string) (Stats, error) {
	sketch, exists := lt.sketches[operation]
	if !exists {
		return Stats{}, fmt.Errorf("no data for operation: %s", operation)
	}

	count := sketch.GetCount()
	if count == 0 {
		return Stats{Operation: operation}, nil
	}

	minV, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	maxV, _ := sketch.GetMaxValue()

	return Stats{
		Operation: operation,
		Count:     int64(count),
		Min:       minV,
		P50:       p50,
		P90:       p90,
		P99:       p99,
		Max:       maxV,
	}, nil
}

// GetAllStats returns statistics for all tracked operations, sorted by name.
func (lt *LatencyTracker) GetAllStats() []Stats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	stats := make([]Stats, 0, len(lt.sketches))
	for operation := range lt.sketches {
		if stat, err := lt.statsLocked(operation); err == nil {
			stats = append(stats, stat)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Operation < stats[j].Operation })
	return stats
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Operation)
	}
	return fmt.Sprintf("  %s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}

// Counters are the cache and loader event counts. The zero value is ready to use.
type Counters struct {
	MemoryHits atomic.Int64
	DiskHits   atomic.Int64
	SharedHits atomic.Int64
	Misses     atomic.Int64
	Fetches    atomic.Int64
	Coalesced  atomic.Int64
	Retries    atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	MemoryHits int64 `json:"memoryHits"`
	DiskHits   int64 `json:"diskHits"`
	SharedHits int64 `json:"sharedHits"`
	Misses     int64 `json:"misses"`
	Fetches    int64 `json:"fetches"`
	Coalesced  int64 `json:"coalesced"`
	Retries    int64 `json:"retries"`
}

// Snapshot copies the current counts. A nil receiver yields zeros.
func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		MemoryHits: c.MemoryHits.Load(),
		DiskHits:   c.DiskHits.Load(),
		SharedHits: c.SharedHits.Load(),
		Misses:     c.Misses.Load(),
		Fetches:    c.Fetches.Load(),
		Coalesced:  c.Coalesced.Load(),
		Retries:    c.Retries.Load(),
	}
}

// Recorder bundles latency tracking and counters so components take a single dependency.
type Recorder struct {
	Latency  *LatencyTracker
	Counters *Counters
}

// NewRecorder creates a Recorder with 1% latency accuracy.
func NewRecorder() *Recorder {
	return &Recorder{
		Latency:  NewLatencyTracker(0.01),
		Counters: &Counters{},
	}
}
