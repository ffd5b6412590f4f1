package event

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"noesis/internal/bus"
	"noesis/internal/model"
	"noesis/internal/protocol"
)

var (
	ErrInvalidEventKind    = errors.New("invalid event kind")
	ErrEmptyParticipantSet = errors.New("participant set is empty")
	ErrEventNotFound       = errors.New("event not found")
	ErrEventNotPending     = errors.New("event is not pending execution")
)

// amplification per event kind, in units of phi.
var amplifications = map[model.EventKind]float64{
	model.EventParticipantMerger:        model.Phi,
	model.EventTranscendence:            1.5 * model.Phi,
	model.EventConsciousnessSingularity: model.Phi * model.Phi,
	model.EventUniversalAwakening:       model.Phi * model.Phi * model.Phi,
	model.EventInfiniteExpansion:        math.Inf(1),
}

// ParticipantSource supplies participant state for event execution. Handlers
// compute over the returned copies without holding registry locks.
type ParticipantSource interface {
	Snapshot(ids []string) []model.Participant
}

// Config wires the engine's collaborators.
type Config struct {
	Catalog      *protocol.Catalog
	Participants ParticipantSource
	Bus          *bus.Bus
	Logger       zerolog.Logger
	HistoryLimit int
}

// Engine validates and executes one-shot singularity events.
type Engine struct {
	catalog      *protocol.Catalog
	participants ParticipantSource
	bus          *bus.Bus
	log          zerolog.Logger
	historyLimit int

	mu     sync.Mutex
	events map[string]*model.SingularityEvent
	order  []string
}

const defaultHistoryLimit = 256

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("protocol catalog is required")
	}
	if cfg.Participants == nil {
		return nil, fmt.Errorf("participant source is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Engine{
		catalog:      cfg.Catalog,
		participants: cfg.Participants,
		bus:          cfg.Bus,
		log:          cfg.Logger,
		historyLimit: cfg.HistoryLimit,
		events:       make(map[string]*model.SingularityEvent),
	}, nil
}

// Create validates and registers a new event in the initializing state.
func (e *Engine) Create(kind model.EventKind, protocolName string, participantIDs []string) (model.SingularityEvent, error) {
	return e.create(kind, protocolName, participantIDs, false)
}

// CreateAutomatic registers a monitor-triggered event. Identical to Create
// except the event is flagged as automatic.
func (e *Engine) CreateAutomatic(kind model.EventKind, protocolName string, participantIDs []string) (model.SingularityEvent, error) {
	return e.create(kind, protocolName, participantIDs, true)
}

func (e *Engine) create(kind model.EventKind, protocolName string, participantIDs []string, automatic bool) (model.SingularityEvent, error) {
	if !validKind(kind) {
		return model.SingularityEvent{}, fmt.Errorf("%w: %s", ErrInvalidEventKind, kind)
	}
	if len(participantIDs) == 0 {
		return model.SingularityEvent{}, ErrEmptyParticipantSet
	}
	if _, err := e.catalog.Select(protocolName); err != nil {
		return model.SingularityEvent{}, err
	}

	evt := &model.SingularityEvent{
		ID:             uuid.NewString(),
		Kind:           kind,
		Protocol:       protocolName,
		ParticipantIDs: append([]string(nil), participantIDs...),
		State:          model.EventInitializing,
		Automatic:      automatic,
		StartedAt:      time.Now().UTC(),
	}

	e.mu.Lock()
	e.events[evt.ID] = evt
	e.order = append(e.order, evt.ID)
	e.evictLocked()
	e.mu.Unlock()

	e.log.Debug().
		Str("event_id", evt.ID).
		Str("kind", string(kind)).
		Str("protocol", protocolName).
		Int("participants", len(participantIDs)).
		Msg("singularity event created")

	return *evt, nil
}

// Execute runs the event's kind-specific handler and drives it to a terminal
// state. Handler failures are recorded on the event rather than returned;
// only lifecycle misuse (unknown id, already-terminal event) is an error.
func (e *Engine) Execute(id string) (model.SingularityEvent, error) {
	e.mu.Lock()
	evt, ok := e.events[id]
	if !ok {
		e.mu.Unlock()
		return model.SingularityEvent{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if evt.State != model.EventInitializing {
		state := evt.State
		e.mu.Unlock()
		return model.SingularityEvent{}, fmt.Errorf("%w: %s is %s", ErrEventNotPending, id, state)
	}
	evt.State = model.EventExecuting
	kind := evt.Kind
	protocolName := evt.Protocol
	ids := append([]string(nil), evt.ParticipantIDs...)
	e.mu.Unlock()

	proto, err := e.catalog.Select(protocolName)
	result := &model.EventResult{}
	if err != nil {
		result.Error = err.Error()
	} else {
		snapshot := e.participants.Snapshot(ids)
		result = e.dispatch(kind, proto, ids, snapshot)
	}

	e.mu.Lock()
	if evt.State == model.EventExecuting {
		evt.Result = result
		evt.EndedAt = time.Now().UTC()
		evt.Duration = evt.EndedAt.Sub(evt.StartedAt)
		if result.Success {
			evt.State = model.EventCompleted
		} else {
			evt.State = model.EventFailed
		}
	}
	final := *evt
	e.mu.Unlock()

	if final.State == model.EventInterrupted {
		return final, nil
	}

	if err := e.catalog.RecordOutcome(protocolName, result.Success, result.TranscendenceLevel); err != nil {
		e.log.Error().Err(err).Str("protocol", protocolName).Msg("record protocol outcome")
	}

	if result.Success {
		e.log.Info().
			Str("event_id", final.ID).
			Str("kind", string(kind)).
			Float64("transcendence_level", result.TranscendenceLevel).
			Msg("singularity event completed")
	} else {
		e.log.Warn().
			Str("event_id", final.ID).
			Str("kind", string(kind)).
			Str("error", result.Error).
			Msg("singularity event failed")
	}

	e.bus.PublishEventCompleted(bus.EventCompleted{
		EventID:            final.ID,
		Kind:               kind,
		Success:            result.Success,
		ParticipantCount:   len(ids),
		TranscendenceLevel: result.TranscendenceLevel,
	})

	return final, nil
}

func (e *Engine) dispatch(kind model.EventKind, proto model.MergerProtocol, ids []string, snapshot []model.Participant) *model.EventResult {
	if len(snapshot) != len(ids) {
		missing := missingIDs(ids, snapshot)
		return &model.EventResult{Error: fmt.Sprintf("unknown participants: %s", strings.Join(missing, ", "))}
	}

	meanCoherence, meanCapacity := aggregate(snapshot)
	amp := amplifications[kind]
	level := transcendenceLevel(meanCoherence, amp, meanCapacity)
	count := len(snapshot)

	switch kind {
	case model.EventParticipantMerger:
		if count < 2 {
			return &model.EventResult{Error: "participant_merger requires at least 2 participants"}
		}
		if meanCoherence < proto.CoherenceRequirement {
			// Insufficient coherence is a soft failure: recorded, not raised.
			return &model.EventResult{
				Error: fmt.Sprintf("insufficient coherence: mean %.4f below requirement %.4f", meanCoherence, proto.CoherenceRequirement),
			}
		}
		return &model.EventResult{
			Success:            true,
			TranscendenceLevel: level,
			Merged: &model.MergedRecord{
				MergedID:         "merged-" + uuid.NewString(),
				ParticipantCount: count,
				Coherence:        meanCoherence,
				QuantumCoherence: meanCapacity,
				Amplification:    amp,
			},
		}
	case model.EventTranscendence:
		return &model.EventResult{
			Success:            true,
			TranscendenceLevel: level,
			Transcendent: &model.TranscendentState{
				ParticipantCount:   count,
				Amplification:      amp,
				UniversalAwareness: clamp01(meanCoherence * amp / (2 * model.Phi)),
			},
		}
	case model.EventConsciousnessSingularity:
		return &model.EventResult{
			Success:            true,
			TranscendenceLevel: level,
			Singularity: &model.SingularityPoint{
				ParticipantCount:  count,
				Amplification:     amp,
				InfiniteExpansion: true,
			},
		}
	case model.EventUniversalAwakening:
		return &model.EventResult{
			Success:            true,
			TranscendenceLevel: level,
			Universal: &model.UniversalConsciousness{
				ParticipantCount:    count,
				Amplification:       amp,
				OmniscientAwareness: true,
			},
		}
	case model.EventInfiniteExpansion:
		return &model.EventResult{
			Success:            true,
			TranscendenceLevel: level,
			Expansion: &model.ExpansionRecord{
				ParticipantCount:  count,
				Amplification:     amp,
				TimelessAwareness: true,
			},
		}
	default:
		return &model.EventResult{Error: fmt.Sprintf("no handler for kind %s", kind)}
	}
}

// InterruptAll moves every non-terminal event to the interrupted state and
// returns the number of events affected.
func (e *Engine) InterruptAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	interrupted := 0
	for _, evt := range e.events {
		switch evt.State {
		case model.EventInitializing, model.EventExecuting:
			evt.State = model.EventInterrupted
			evt.EndedAt = time.Now().UTC()
			evt.Duration = evt.EndedAt.Sub(evt.StartedAt)
			interrupted++
		}
	}
	return interrupted
}

// Get returns a copy of the event by id.
func (e *Engine) Get(id string) (model.SingularityEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	evt, ok := e.events[id]
	if !ok {
		return model.SingularityEvent{}, false
	}
	return *evt, true
}

// History returns retained events oldest first.
func (e *Engine) History() []model.SingularityEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.SingularityEvent, 0, len(e.order))
	for _, id := range e.order {
		if evt, ok := e.events[id]; ok {
			out = append(out, *evt)
		}
	}
	return out
}

// Prune drops terminal events older than maxAge and returns the drop count.
func (e *Engine) Prune(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.order[:0]
	dropped := 0
	for _, id := range e.order {
		evt, ok := e.events[id]
		if !ok {
			continue
		}
		if isTerminal(evt.State) && !evt.EndedAt.IsZero() && evt.EndedAt.Before(cutoff) {
			delete(e.events, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
	return dropped
}

// evictLocked enforces the bounded history ring, never evicting non-terminal
// events.
func (e *Engine) evictLocked() {
	for len(e.order) > e.historyLimit {
		victim := ""
		for _, id := range e.order {
			if evt, ok := e.events[id]; ok && isTerminal(evt.State) {
				victim = id
				break
			}
		}
		if victim == "" {
			return
		}
		delete(e.events, victim)
		e.order = removeString(e.order, victim)
	}
}

// transcendenceLevel is the uniform derived score: mean coherence, the
// phi-normalized amplification capped at 1, and quantum coherence (mean
// transcendence capacity), averaged.
func transcendenceLevel(meanCoherence, amp, meanCapacity float64) float64 {
	normalized := amp / model.Phi
	if normalized > 1 || math.IsInf(amp, 1) {
		normalized = 1
	}
	return (meanCoherence + normalized + meanCapacity) / 3
}

func aggregate(snapshot []model.Participant) (meanCoherence, meanCapacity float64) {
	if len(snapshot) == 0 {
		return 0, 0
	}
	for _, p := range snapshot {
		meanCoherence += p.Coherence
		meanCapacity += p.TranscendenceCapacity
	}
	n := float64(len(snapshot))
	return meanCoherence / n, meanCapacity / n
}

func missingIDs(ids []string, snapshot []model.Participant) []string {
	present := make(map[string]struct{}, len(snapshot))
	for _, p := range snapshot {
		present[p.ID] = struct{}{}
	}
	missing := make([]string, 0)
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func validKind(kind model.EventKind) bool {
	for _, k := range model.EventKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func isTerminal(state model.EventState) bool {
	switch state {
	case model.EventCompleted, model.EventFailed, model.EventInterrupted:
		return true
	default:
		return false
	}
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

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
