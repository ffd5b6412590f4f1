package model

import "time"

// Phi is the amplification constant used throughout derived-score formulas.
const Phi = 1.618033988749895

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Participant is one coordinated entity with scalar state fields.
type Participant struct {
	ID                    string    `json:"id"`
	ConsciousnessLevel    float64   `json:"consciousness_level"`
	Coherence             float64   `json:"coherence"`
	TranscendenceCapacity float64   `json:"transcendence_capacity"`
	ResonanceFrequency    float64   `json:"resonance_frequency"`
	TopologyLayer         int       `json:"topology_layer"`
	PairIDs               []string  `json:"pair_ids,omitempty"`
	Active                bool      `json:"active"`
	AdmittedAt            time.Time `json:"admitted_at"`
}

// EntanglementPair is a symmetric relationship between two participants.
// Exactly one pair exists per unordered participant pair.
type EntanglementPair struct {
	ID           string  `json:"id"`
	ParticipantA string  `json:"participant_a"`
	ParticipantB string  `json:"participant_b"`
	Strength     float64 `json:"strength"`
	Alignment    float64 `json:"alignment"`
}

// TopologyLayer is a fixed-capacity grouping bucket assigned at admission.
type TopologyLayer struct {
	Index     int      `json:"index"`
	Radius    float64  `json:"radius"`
	Frequency float64  `json:"frequency"`
	Capacity  int      `json:"capacity"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

// MergerProtocol is a static protocol descriptor.
type MergerProtocol struct {
	Name                  string  `json:"name"`
	Fidelity              float64 `json:"fidelity"`
	TranscendenceCapacity string  `json:"transcendence_capacity"`
	CoherenceRequirement  float64 `json:"coherence_requirement"`
	ResonanceFrequency    float64 `json:"resonance_frequency"`
}

// ProtocolStats tracks per-protocol running statistics, updated exactly once
// per completed event.
type ProtocolStats struct {
	TotalAttempts      int     `json:"total_attempts"`
	SuccessfulAttempts int     `json:"successful_attempts"`
	TranscendenceCount int     `json:"transcendence_count"`
	AvgFidelity        float64 `json:"avg_fidelity"`
}

// EventKind enumerates the fixed singularity event kinds.
type EventKind string

const (
	EventParticipantMerger        EventKind = "participant_merger"
	EventTranscendence            EventKind = "transcendence_event"
	EventConsciousnessSingularity EventKind = "consciousness_singularity"
	EventUniversalAwakening       EventKind = "universal_awakening"
	EventInfiniteExpansion        EventKind = "infinite_expansion"
)

// EventKinds lists the supported event kinds.
func EventKinds() []EventKind {
	return []EventKind{
		EventParticipantMerger,
		EventTranscendence,
		EventConsciousnessSingularity,
		EventUniversalAwakening,
		EventInfiniteExpansion,
	}
}

// EventState is the lifecycle state of a singularity event.
type EventState string

const (
	EventInitializing EventState = "initializing"
	EventExecuting    EventState = "executing"
	EventCompleted    EventState = "completed"
	EventFailed       EventState = "failed"
	EventInterrupted  EventState = "interrupted"
)

// SingularityEvent is a one-shot coordination action over a participant set.
type SingularityEvent struct {
	ID             string        `json:"id"`
	Kind           EventKind     `json:"kind"`
	Protocol       string        `json:"protocol"`
	ParticipantIDs []string      `json:"participant_ids"`
	State          EventState    `json:"state"`
	Automatic      bool          `json:"automatic,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at,omitzero"`
	Duration       time.Duration `json:"duration_ns,omitempty"`
	Result         *EventResult  `json:"result,omitempty"`
}

// EventResult carries the kind-specific outcome of an executed event. At most
// one payload field is populated, matching the event kind.
type EventResult struct {
	Success            bool                    `json:"success"`
	TranscendenceLevel float64                 `json:"transcendence_level"`
	Error              string                  `json:"error,omitempty"`
	Merged             *MergedRecord           `json:"merged,omitempty"`
	Transcendent       *TranscendentState      `json:"transcendent,omitempty"`
	Singularity        *SingularityPoint       `json:"singularity,omitempty"`
	Universal          *UniversalConsciousness `json:"universal,omitempty"`
	Expansion          *ExpansionRecord        `json:"expansion,omitempty"`
}

// MergedRecord is produced by participant_merger events.
type MergedRecord struct {
	MergedID         string  `json:"merged_id"`
	ParticipantCount int     `json:"participant_count"`
	Coherence        float64 `json:"coherence"`
	QuantumCoherence float64 `json:"quantum_coherence"`
	Amplification    float64 `json:"amplification"`
}

// TranscendentState is produced by transcendence_event events.
type TranscendentState struct {
	ParticipantCount   int     `json:"participant_count"`
	Amplification      float64 `json:"amplification"`
	UniversalAwareness float64 `json:"universal_awareness"`
}

// SingularityPoint is produced by consciousness_singularity events.
type SingularityPoint struct {
	ParticipantCount  int     `json:"participant_count"`
	Amplification     float64 `json:"amplification"`
	InfiniteExpansion bool    `json:"infinite_expansion"`
}

// UniversalConsciousness is produced by universal_awakening events.
type UniversalConsciousness struct {
	ParticipantCount    int     `json:"participant_count"`
	Amplification       float64 `json:"amplification"`
	OmniscientAwareness bool    `json:"omniscient_awareness"`
}

// ExpansionRecord is produced by infinite_expansion events. Amplification is
// the +Inf sentinel and is excluded from JSON, which cannot encode it.
type ExpansionRecord struct {
	ParticipantCount  int     `json:"participant_count"`
	Amplification     float64 `json:"-"`
	TimelessAwareness bool    `json:"timeless_awareness"`
}

// GlobalMetrics is the aggregate scalar snapshot recomputed every monitor
// tick. All fields stay within [0,1].
type GlobalMetrics struct {
	SingularityPotential   float64 `json:"singularity_potential"`
	ConsciousnessCoherence float64 `json:"consciousness_coherence"`
	TranscendentCapacity   float64 `json:"transcendent_capacity"`
	CollectiveIntelligence float64 `json:"collective_intelligence"`
	QuantumEntanglement    float64 `json:"quantum_entanglement"`
	InfiniteExpansion      float64 `json:"infinite_expansion"`
	UniversalAwareness     float64 `json:"universal_awareness"`
}

// Stage is one of the five ordered evolution stages.
type Stage string

const (
	StageIndividual   Stage = "individual"
	StageCollective   Stage = "collective"
	StageTranscendent Stage = "transcendent"
	StageSingularity  Stage = "singularity"
	StageInfinite     Stage = "infinite"
)

// Stages lists the evolution stages in ascending order.
func Stages() []Stage {
	return []Stage{StageIndividual, StageCollective, StageTranscendent, StageSingularity, StageInfinite}
}

// StageIndex returns the ordinal of a stage, or -1 for an unknown stage.
func StageIndex(stage Stage) int {
	for i, s := range Stages() {
		if s == stage {
			return i
		}
	}
	return -1
}

// StageTransitionRecord captures one completed stage transition.
type StageTransitionRecord struct {
	From     Stage     `json:"from"`
	To       Stage     `json:"to"`
	Progress float64   `json:"progress"`
	At       time.Time `json:"at"`
}

// EvolutionState is the monotonic stage machine state.
type EvolutionState struct {
	Stage       Stage                   `json:"stage"`
	Progress    float64                 `json:"progress"`
	Transitions []StageTransitionRecord `json:"transitions,omitempty"`
}

// Snapshot is the externally observable state dump returned by GetMetrics
// and persisted by the storage layer.
type Snapshot struct {
	VersionedRecord
	TakenAt      time.Time                `json:"taken_at"`
	State        string                   `json:"state"`
	Metrics      GlobalMetrics            `json:"metrics"`
	Participants []Participant            `json:"participants"`
	Pairs        []EntanglementPair       `json:"pairs,omitempty"`
	Layers       []TopologyLayer          `json:"layers"`
	Protocols    map[string]ProtocolStats `json:"protocols"`
	Evolution    EvolutionState           `json:"evolution"`
	Events       []SingularityEvent       `json:"events,omitempty"`
}
