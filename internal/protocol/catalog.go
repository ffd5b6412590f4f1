package protocol

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"noesis/internal/model"
)

var ErrUnknownProtocol = errors.New("unknown merger protocol")

// QuantumConsciousnessMerger is the protocol the monitor uses for automatic
// threshold events.
const QuantumConsciousnessMerger = "quantum_consciousness_merger"

type entry struct {
	descriptor model.MergerProtocol
	stats      model.ProtocolStats
}

// Catalog is the fixed table of merger protocols plus their mutable running
// statistics.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func seedProtocols() []model.MergerProtocol {
	return []model.MergerProtocol{
		{
			Name:                  QuantumConsciousnessMerger,
			Fidelity:              0.97,
			TranscendenceCapacity: "high",
			CoherenceRequirement:  0.90,
			ResonanceFrequency:    432.0,
		},
		{
			Name:                  "neural_synchrony_bridge",
			Fidelity:              0.98,
			TranscendenceCapacity: "elevated",
			CoherenceRequirement:  0.93,
			ResonanceFrequency:    528.0,
		},
		{
			Name:                  "harmonic_resonance_fusion",
			Fidelity:              0.99,
			TranscendenceCapacity: "profound",
			CoherenceRequirement:  0.95,
			ResonanceFrequency:    639.0,
		},
		{
			Name:                  "transcendent_unity_field",
			Fidelity:              0.995,
			TranscendenceCapacity: "ultimate",
			CoherenceRequirement:  0.98,
			ResonanceFrequency:    963.0,
		},
	}
}

// NewCatalog seeds the four built-in protocols.
func NewCatalog() *Catalog {
	c := &Catalog{entries: make(map[string]*entry)}
	for _, p := range seedProtocols() {
		c.entries[p.Name] = &entry{descriptor: p}
	}
	return c
}

// Select returns the protocol descriptor by name.
func (c *Catalog) Select(name string) (model.MergerProtocol, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[name]
	if !ok {
		return model.MergerProtocol{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
	}
	return e.descriptor, nil
}

// RecordOutcome updates the running statistics of a protocol. Called exactly
// once per completed event regardless of success.
func (c *Catalog) RecordOutcome(name string, success bool, transcendenceLevel float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
	}

	e.stats.TotalAttempts++
	contribution := 0.0
	if success {
		e.stats.SuccessfulAttempts++
		contribution = e.descriptor.Fidelity
	}
	if transcendenceLevel > 0 {
		e.stats.TranscendenceCount++
	}
	n := float64(e.stats.TotalAttempts)
	e.stats.AvgFidelity = (e.stats.AvgFidelity*(n-1) + contribution) / n
	return nil
}

// Stats returns a copy of the statistics for one protocol.
func (c *Catalog) Stats(name string) (model.ProtocolStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[name]
	if !ok {
		return model.ProtocolStats{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
	}
	return e.stats, nil
}

// AllStats returns statistics for every protocol keyed by name.
func (c *Catalog) AllStats() map[string]model.ProtocolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]model.ProtocolStats, len(c.entries))
	for name, e := range c.entries {
		out[name] = e.stats
	}
	return out
}

// RestoreStats overwrites statistics from a persisted snapshot. Unknown
// protocol names are ignored.
func (c *Catalog) RestoreStats(stats map[string]model.ProtocolStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, s := range stats {
		if e, ok := c.entries[name]; ok {
			e.stats = s
		}
	}
}

// Names lists the catalog protocols in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
