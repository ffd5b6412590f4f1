package evolution

import (
	"fmt"
	"sync"
	"time"

	"noesis/internal/model"
)

// Enhancement is the one-time multiplicative boost applied to global metrics
// when a stage is reached. Factors are >= 1; untouched fields are 1.
type Enhancement struct {
	CollectiveIntelligence float64
	TranscendentCapacity   float64
	QuantumEntanglement    float64
	InfiniteExpansion      float64
	UniversalAwareness     float64
}

// Config tunes progress accumulation and the stage threshold table.
type Config struct {
	BaseRate           float64
	CountBonusRate     float64
	CoherenceBonusRate float64
	Thresholds         map[model.Stage]float64
	TransitionLimit    int
}

func DefaultConfig() Config {
	return Config{
		BaseRate:           0.0002,
		CountBonusRate:     0.002,
		CoherenceBonusRate: 0.001,
		Thresholds: map[model.Stage]float64{
			model.StageIndividual:   0,
			model.StageCollective:   0.2,
			model.StageTranscendent: 0.45,
			model.StageSingularity:  0.7,
			model.StageInfinite:     0.9,
		},
		TransitionLimit: 32,
	}
}

func defaultEnhancements() map[model.Stage]Enhancement {
	return map[model.Stage]Enhancement{
		model.StageCollective: {
			CollectiveIntelligence: 1.10,
			TranscendentCapacity:   1,
			QuantumEntanglement:    1.05,
			InfiniteExpansion:      1,
			UniversalAwareness:     1,
		},
		model.StageTranscendent: {
			CollectiveIntelligence: 1,
			TranscendentCapacity:   1.15,
			QuantumEntanglement:    1,
			InfiniteExpansion:      1,
			UniversalAwareness:     1.10,
		},
		model.StageSingularity: {
			CollectiveIntelligence: 1.20,
			TranscendentCapacity:   1.20,
			QuantumEntanglement:    1.10,
			InfiniteExpansion:      1.25,
			UniversalAwareness:     1,
		},
		model.StageInfinite: {
			CollectiveIntelligence: 1.30,
			TranscendentCapacity:   1.30,
			QuantumEntanglement:    1.30,
			InfiniteExpansion:      1.30,
			UniversalAwareness:     1.30,
		},
	}
}

// Machine is the monotonic five-stage evolution machine. Progress only
// increases and the stage advances at most one step per Advance call.
type Machine struct {
	cfg          Config
	enhancements map[model.Stage]Enhancement

	mu    sync.RWMutex
	state model.EvolutionState
}

func NewMachine(cfg Config) (*Machine, error) {
	def := DefaultConfig()
	if cfg.BaseRate < 0 || cfg.CountBonusRate < 0 || cfg.CoherenceBonusRate < 0 {
		return nil, fmt.Errorf("progress rates must be >= 0")
	}
	if cfg.BaseRate == 0 && cfg.CountBonusRate == 0 && cfg.CoherenceBonusRate == 0 {
		cfg.BaseRate = def.BaseRate
		cfg.CountBonusRate = def.CountBonusRate
		cfg.CoherenceBonusRate = def.CoherenceBonusRate
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = def.Thresholds
	}
	for _, stage := range model.Stages() {
		if _, ok := cfg.Thresholds[stage]; !ok {
			return nil, fmt.Errorf("threshold missing for stage %s", stage)
		}
	}
	if cfg.TransitionLimit <= 0 {
		cfg.TransitionLimit = def.TransitionLimit
	}

	return &Machine{
		cfg:          cfg,
		enhancements: defaultEnhancements(),
		state: model.EvolutionState{
			Stage: model.StageIndividual,
		},
	}, nil
}

// Advance accumulates progress from the tick inputs and performs at most one
// stage transition. The returned enhancement is non-nil only on transition.
func (m *Machine) Advance(participantCount, maxParticipants int, coherence float64) (*model.StageTransitionRecord, *Enhancement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	increment := m.cfg.BaseRate
	if maxParticipants > 0 {
		increment += m.cfg.CountBonusRate * float64(participantCount) / float64(maxParticipants)
	}
	if coherence > 0 {
		increment += m.cfg.CoherenceBonusRate * coherence
	}
	m.state.Progress += increment
	if m.state.Progress > 1 {
		m.state.Progress = 1
	}

	current := model.StageIndex(m.state.Stage)
	for i, stage := range model.Stages() {
		if i <= current {
			continue
		}
		if m.state.Progress < m.cfg.Thresholds[stage] {
			continue
		}
		record := model.StageTransitionRecord{
			From:     m.state.Stage,
			To:       stage,
			Progress: m.state.Progress,
			At:       time.Now().UTC(),
		}
		m.state.Stage = stage
		m.state.Transitions = append(m.state.Transitions, record)
		if overflow := len(m.state.Transitions) - m.cfg.TransitionLimit; overflow > 0 {
			m.state.Transitions = m.state.Transitions[overflow:]
		}
		enhancement := m.enhancements[stage]
		// One step per tick even if several thresholds were crossed.
		return &record, &enhancement
	}
	return nil, nil
}

// State returns a copy of the machine state.
func (m *Machine) State() model.EvolutionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.state
	out.Transitions = append([]model.StageTransitionRecord(nil), m.state.Transitions...)
	return out
}

// Restore loads persisted state. The stage never moves backwards: a restore
// below the current stage is ignored.
func (m *Machine) Restore(state model.EvolutionState) error {
	idx := model.StageIndex(state.Stage)
	if idx < 0 {
		return fmt.Errorf("unknown stage: %s", state.Stage)
	}
	if state.Progress < 0 || state.Progress > 1 {
		return fmt.Errorf("progress out of range [0,1]: %v", state.Progress)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx < model.StageIndex(m.state.Stage) || state.Progress < m.state.Progress {
		return nil
	}
	m.state = state
	m.state.Transitions = append([]model.StageTransitionRecord(nil), state.Transitions...)
	return nil
}
