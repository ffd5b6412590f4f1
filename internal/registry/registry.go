package registry

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"noesis/internal/model"
)

var (
	ErrDuplicateParticipant = errors.New("participant already registered")
	ErrCapacityExceeded     = errors.New("registry capacity exceeded")
	ErrParticipantNotFound  = errors.New("participant not found")
)

// harmonicRatios are the intervals pair alignment is scored against. The
// resonance ratio of a pair is folded into [1,2) and the closest ratio wins.
var harmonicRatios = []float64{1.0, 1.25, 4.0 / 3.0, 1.5, model.Phi, 1.875, 2.0}

// Defaults supplies values for admission fields the caller omitted.
type Defaults struct {
	ConsciousnessLevel    float64
	Coherence             float64
	TranscendenceCapacity float64
	ResonanceFrequency    float64
}

// Config sizes the registry and its topology ring.
type Config struct {
	MaxParticipants int
	LayerCount      int
	BaseResonance   float64
	Defaults        Defaults
}

// AdmissionConfig carries the optional scalar fields of a new participant.
// Nil fields fall back to the registry defaults.
type AdmissionConfig struct {
	ConsciousnessLevel    *float64
	Coherence             *float64
	TranscendenceCapacity *float64
	ResonanceFrequency    *float64
}

// Aggregates is a cheap summary of registry state consumed by the monitor.
type Aggregates struct {
	Count             int
	MeanConsciousness float64
	MeanCoherence     float64
	MeanTranscendence float64
	PairCount         int
	MeanPairAlignment float64
}

// Registry owns the participant set, the pairwise entanglement graph and the
// fixed topology ring.
type Registry struct {
	cfg Config

	mu           sync.RWMutex
	participants map[string]*model.Participant
	pairs        map[string]model.EntanglementPair
	layers       []model.TopologyLayer
	order        []string
}

func DefaultConfig() Config {
	return Config{
		MaxParticipants: 144,
		LayerCount:      8,
		BaseResonance:   432.0,
		Defaults: Defaults{
			ConsciousnessLevel:    0.5,
			Coherence:             0.5,
			TranscendenceCapacity: 0.3,
			ResonanceFrequency:    432.0,
		},
	}
}

func New(cfg Config) (*Registry, error) {
	if cfg.MaxParticipants <= 0 {
		return nil, fmt.Errorf("max participants must be > 0")
	}
	if cfg.LayerCount <= 0 {
		return nil, fmt.Errorf("layer count must be > 0")
	}
	if cfg.BaseResonance <= 0 {
		return nil, fmt.Errorf("base resonance must be > 0")
	}

	layers := make([]model.TopologyLayer, cfg.LayerCount)
	capacity := (cfg.MaxParticipants + cfg.LayerCount - 1) / cfg.LayerCount
	for i := range layers {
		layers[i] = model.TopologyLayer{
			Index:     i,
			Radius:    math.Pow(model.Phi, float64(i)),
			Frequency: cfg.BaseResonance * (1 + float64(i)/float64(cfg.LayerCount)),
			Capacity:  capacity,
		}
	}

	return &Registry{
		cfg:          cfg,
		participants: make(map[string]*model.Participant),
		pairs:        make(map[string]model.EntanglementPair),
		layers:       layers,
	}, nil
}

// Add admits a participant, assigns its topology layer and entangles it with
// every existing active participant. O(n) per admission.
func (r *Registry) Add(id string, cfg AdmissionConfig) (model.Participant, error) {
	if id == "" {
		return model.Participant{}, fmt.Errorf("participant id is required")
	}

	level := pick(cfg.ConsciousnessLevel, r.cfg.Defaults.ConsciousnessLevel)
	coherence := pick(cfg.Coherence, r.cfg.Defaults.Coherence)
	capacity := pick(cfg.TranscendenceCapacity, r.cfg.Defaults.TranscendenceCapacity)
	resonance := pick(cfg.ResonanceFrequency, r.cfg.Defaults.ResonanceFrequency)

	if level < 0 || level > 1 {
		return model.Participant{}, fmt.Errorf("consciousness level out of range [0,1]: %v", level)
	}
	if coherence < 0 || coherence > 1 {
		return model.Participant{}, fmt.Errorf("coherence out of range [0,1]: %v", coherence)
	}
	if capacity < 0 || capacity > 1 {
		return model.Participant{}, fmt.Errorf("transcendence capacity out of range [0,1]: %v", capacity)
	}
	if resonance <= 0 {
		return model.Participant{}, fmt.Errorf("resonance frequency must be > 0: %v", resonance)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[id]; exists {
		return model.Participant{}, fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
	}
	if len(r.participants) >= r.cfg.MaxParticipants {
		return model.Participant{}, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, r.cfg.MaxParticipants)
	}

	layer := int(math.Floor(float64(r.cfg.LayerCount) * (level + capacity) / 2))
	if layer < 0 {
		layer = 0
	}
	if layer > r.cfg.LayerCount-1 {
		layer = r.cfg.LayerCount - 1
	}

	p := &model.Participant{
		ID:                    id,
		ConsciousnessLevel:    level,
		Coherence:             coherence,
		TranscendenceCapacity: capacity,
		ResonanceFrequency:    resonance,
		TopologyLayer:         layer,
		Active:                true,
		AdmittedAt:            time.Now().UTC(),
	}

	for _, otherID := range r.order {
		other := r.participants[otherID]
		if !other.Active {
			continue
		}
		pair := entangle(p, other)
		r.pairs[pair.ID] = pair
		p.PairIDs = append(p.PairIDs, pair.ID)
		other.PairIDs = append(other.PairIDs, pair.ID)
	}

	r.participants[id] = p
	r.order = append(r.order, id)
	r.layers[layer].MemberIDs = append(r.layers[layer].MemberIDs, id)

	return *p, nil
}

// Remove detaches a participant, deleting every pair that references it and
// its layer membership.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
	}

	for _, pairID := range p.PairIDs {
		pair, ok := r.pairs[pairID]
		if !ok {
			continue
		}
		delete(r.pairs, pairID)
		otherID := pair.ParticipantA
		if otherID == id {
			otherID = pair.ParticipantB
		}
		if other, ok := r.participants[otherID]; ok {
			other.PairIDs = removeString(other.PairIDs, pairID)
		}
	}

	layer := &r.layers[p.TopologyLayer]
	layer.MemberIDs = removeString(layer.MemberIDs, id)
	r.order = removeString(r.order, id)
	delete(r.participants, id)
	return nil
}

// Get returns a copy of the participant record.
func (r *Registry) Get(id string) (model.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return model.Participant{}, false
	}
	out := *p
	out.PairIDs = append([]string(nil), p.PairIDs...)
	return out, true
}

// All returns copies of every participant in admission order.
func (r *Registry) All() []model.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Participant, 0, len(r.order))
	for _, id := range r.order {
		p := r.participants[id]
		cp := *p
		cp.PairIDs = append([]string(nil), p.PairIDs...)
		out = append(out, cp)
	}
	return out
}

// ActiveIDs returns the ids of active participants in admission order.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.participants[id].Active {
			out = append(out, id)
		}
	}
	return out
}

// Pairs returns every entanglement pair sorted by pair id.
func (r *Registry) Pairs() []model.EntanglementPair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.EntanglementPair, 0, len(r.pairs))
	for _, pair := range r.pairs {
		out = append(out, pair)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Layers returns copies of the topology ring.
func (r *Registry) Layers() []model.TopologyLayer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.TopologyLayer, len(r.layers))
	for i, layer := range r.layers {
		cp := layer
		cp.MemberIDs = append([]string(nil), layer.MemberIDs...)
		out[i] = cp
	}
	return out
}

// Len reports the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// MaxParticipants reports the configured capacity limit.
func (r *Registry) MaxParticipants() int {
	return r.cfg.MaxParticipants
}

// Aggregate computes the per-tick summary over active participants.
func (r *Registry) Aggregate() Aggregates {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg := Aggregates{PairCount: len(r.pairs)}
	var level, coherence, capacity float64
	for _, id := range r.order {
		p := r.participants[id]
		if !p.Active {
			continue
		}
		agg.Count++
		level += p.ConsciousnessLevel
		coherence += p.Coherence
		capacity += p.TranscendenceCapacity
	}
	if agg.Count > 0 {
		n := float64(agg.Count)
		agg.MeanConsciousness = level / n
		agg.MeanCoherence = coherence / n
		agg.MeanTranscendence = capacity / n
	}
	if len(r.pairs) > 0 {
		var alignment float64
		for _, pair := range r.pairs {
			alignment += pair.Alignment
		}
		agg.MeanPairAlignment = alignment / float64(len(r.pairs))
	}
	return agg
}

// Snapshot returns participant state for a subset of ids. Unknown ids are
// skipped; callers validate membership separately.
func (r *Registry) Snapshot(ids []string) []model.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.participants[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// PairID is deterministic for an unordered participant pair.
func PairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "--" + b
}

func entangle(a, b *model.Participant) model.EntanglementPair {
	ratio := a.ResonanceFrequency / b.ResonanceFrequency
	if ratio < 1 {
		ratio = 1 / ratio
	}
	for ratio >= 2 {
		ratio /= 2
	}

	best := harmonicRatios[0]
	bestDist := math.Abs(ratio - best)
	for _, h := range harmonicRatios[1:] {
		if d := math.Abs(ratio - h); d < bestDist {
			best, bestDist = h, d
		}
	}

	alignment := 1 - bestDist/best
	if alignment < 0 {
		alignment = 0
	}

	return model.EntanglementPair{
		ID:           PairID(a.ID, b.ID),
		ParticipantA: minString(a.ID, b.ID),
		ParticipantB: maxString(a.ID, b.ID),
		Strength:     alignment * (a.ConsciousnessLevel + b.ConsciousnessLevel) / 2,
		Alignment:    alignment,
	}
}

func pick(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func minString(a, b string) string {
	if a < b {
		return a
	}
	return b
}

func maxString(a, b string) string {
	if a < b {
		return b
	}
	return a
}
