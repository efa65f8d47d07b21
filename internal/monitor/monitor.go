// Package monitor samples process memory and thermal state and classifies
// them into pressure levels. Level changes are published on a channel rather
// than through callbacks, so reactions live with the consumer.
package monitor

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/conduit-ai/conduit/internal/eventlog"
)

// Level is a pressure classification. Higher is worse.
type Level int

const (
	LevelNormal Level = iota
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

const (
	DefaultInterval      = 5 * time.Second
	DefaultHighWater     = 100 << 20
	DefaultCriticalWater = 200 << 20
)

// transitionBuffer bounds unconsumed transitions; when it fills, the oldest
// is dropped so the channel always holds the most recent changes.
const transitionBuffer = 8

// Options configures a Monitor. Zero fields take the defaults above.
type Options struct {
	Interval           time.Duration
	HighWaterBytes     uint64
	CriticalWaterBytes uint64
	// MemoryFunc reports current memory use. Nil means heap-in-use from
	// runtime.ReadMemStats.
	MemoryFunc func() uint64
	// ThermalFunc reports thermal pressure on the same scale. Nil means
	// always LevelNormal; hosts without a thermal API stay there.
	ThermalFunc func() Level
	// Events receives pressure-change events. May be nil.
	Events *eventlog.Logger
}

// Transition records one effective-level change.
type Transition struct {
	From        Level
	To          Level
	MemoryBytes uint64
	Thermal     Level
	At          time.Time
}

// Snapshot is the most recent sample.
type Snapshot struct {
	Level       Level
	MemoryBytes uint64
	Thermal     Level
	SampledAt   time.Time
}

// Monitor classifies memory and thermal pressure. The effective level is the
// worse of the two inputs.
type Monitor struct {
	opts        Options
	transitions chan Transition

	mu   sync.Mutex
	last Snapshot
}

func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HighWaterBytes == 0 {
		opts.HighWaterBytes = DefaultHighWater
	}
	if opts.CriticalWaterBytes == 0 {
		opts.CriticalWaterBytes = DefaultCriticalWater
	}
	if opts.MemoryFunc == nil {
		opts.MemoryFunc = heapInUse
	}
	if opts.ThermalFunc == nil {
		opts.ThermalFunc = func() Level { return LevelNormal }
	}
	return &Monitor{
		opts:        opts,
		transitions: make(chan Transition, transitionBuffer),
	}
}

// Transitions delivers level changes. The channel is never closed; readers
// should select against their own done signal.
func (m *Monitor) Transitions() <-chan Transition { return m.transitions }

// Start samples once immediately, then on every interval tick until ctx is
// cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		m.Sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Sample takes an immediate reading, publishes a transition if the effective
// level changed, and returns the new snapshot.
func (m *Monitor) Sample() Snapshot {
	memBytes := m.opts.MemoryFunc()
	thermal := m.opts.ThermalFunc()
	level := max(m.classify(memBytes), thermal)

	m.mu.Lock()
	prev := m.last.Level
	m.last = Snapshot{
		Level:       level,
		MemoryBytes: memBytes,
		Thermal:     thermal,
		SampledAt:   time.Now(),
	}
	snap := m.last
	m.mu.Unlock()

	if level != prev {
		m.opts.Events.Log(eventlog.TypePressureChange, map[string]any{
			"from": prev.String(), "to": level.String(), "memory_bytes": memBytes, "thermal": thermal.String(),
		})
		m.publish(Transition{From: prev, To: level, MemoryBytes: memBytes, Thermal: thermal, At: snap.SampledAt})
	}
	return snap
}

// Snapshot returns the last sample without taking a new one.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) classify(bytes uint64) Level {
	switch {
	case bytes > m.opts.CriticalWaterBytes:
		return LevelCritical
	case bytes > m.opts.HighWaterBytes:
		return LevelHigh
	default:
		return LevelNormal
	}
}

// publish never blocks sampling: when the buffer is full the oldest
// transition is discarded in favor of the new one.
func (m *Monitor) publish(tr Transition) {
	select {
	case m.transitions <- tr:
		return
	default:
	}
	select {
	case <-m.transitions:
	default:
	}
	select {
	case m.transitions <- tr:
	default:
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
