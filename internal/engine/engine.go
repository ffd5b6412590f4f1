package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"noesis/internal/bus"
	"noesis/internal/config"
	"noesis/internal/event"
	"noesis/internal/evolution"
	"noesis/internal/model"
	"noesis/internal/protocol"
	"noesis/internal/registry"
	"noesis/internal/storage"
)

var (
	ErrNotInitialized = errors.New("engine is not initialized")
	ErrShutdown       = errors.New("engine is shut down")
)

const (
	stateCreated  = "created"
	stateActive   = "active"
	stateShutdown = "shutdown"
)

// Config wires the engine's collaborators. Rand drives the per-tick metric
// perturbation; a fixed seed makes monitor runs reproducible.
type Config struct {
	Settings config.Config
	Bus      *bus.Bus
	Store    storage.Store
	Logger   zerolog.Logger
	RunID    string
	Rand     *rand.Rand
}

// HealthReport is the liveness summary returned by Health.
type HealthReport struct {
	Status                 string      `json:"status"`
	State                  string      `json:"state"`
	ParticipantCount       int         `json:"participant_count"`
	SingularityPotential   float64     `json:"singularity_potential"`
	ConsciousnessCoherence float64     `json:"consciousness_coherence"`
	Stage                  model.Stage `json:"stage"`
	TickCount              uint64      `json:"tick_count"`
	Uptime                 string      `json:"uptime,omitempty"`
}

// boosts accumulates the multiplicative stage enhancements applied to the
// derived metrics. Factors only grow; raw metrics are multiplied by them on
// every tick and clamped to 1.
type boosts struct {
	collective   float64
	transcendent float64
	entanglement float64
	expansion    float64
	awareness    float64
}

func neutralBoosts() boosts {
	return boosts{
		collective:   1,
		transcendent: 1,
		entanglement: 1,
		expansion:    1,
		awareness:    1,
	}
}

func (b *boosts) apply(e evolution.Enhancement) {
	b.collective *= factor(e.CollectiveIntelligence)
	b.transcendent *= factor(e.TranscendentCapacity)
	b.entanglement *= factor(e.QuantumEntanglement)
	b.expansion *= factor(e.InfiniteExpansion)
	b.awareness *= factor(e.UniversalAwareness)
}

func factor(v float64) float64 {
	if v < 1 {
		return 1
	}
	return v
}

// Engine is the coordination facade. It owns the participant registry, the
// protocol catalog, the event engine and the evolution machine, and runs the
// monitor loop that keeps the global metrics current.
type Engine struct {
	cfg   config.Config
	bus   *bus.Bus
	store storage.Store
	log   zerolog.Logger
	runID string
	sup   *Supervisor

	registry  *registry.Registry
	catalog   *protocol.Catalog
	events    *event.Engine
	evolution *evolution.Machine

	randMu sync.Mutex
	rand   *rand.Rand

	mu               sync.RWMutex
	state            string
	metrics          model.GlobalMetrics
	boost            boosts
	singularityArmed bool
	startedAt        time.Time
	tickCount        uint64
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("engine settings: %w", err)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	if cfg.RunID == "" {
		cfg.RunID = "default"
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(cfg.Settings.PerturbationSeed))
	}

	reg, err := registry.New(registry.Config{
		MaxParticipants: cfg.Settings.MaxParticipants,
		LayerCount:      cfg.Settings.LayerCount,
		BaseResonance:   cfg.Settings.BaseResonance,
		Defaults: registry.Defaults{
			ConsciousnessLevel:    cfg.Settings.Defaults.ConsciousnessLevel,
			Coherence:             cfg.Settings.Defaults.Coherence,
			TranscendenceCapacity: cfg.Settings.Defaults.TranscendenceCapacity,
			ResonanceFrequency:    cfg.Settings.Defaults.ResonanceFrequency,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	catalog := protocol.NewCatalog()
	events, err := event.NewEngine(event.Config{
		Catalog:      catalog,
		Participants: reg,
		Bus:          cfg.Bus,
		Logger:       cfg.Logger,
		HistoryLimit: cfg.Settings.EventHistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("build event engine: %w", err)
	}

	machine, err := evolution.NewMachine(evolution.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("build evolution machine: %w", err)
	}

	return &Engine{
		cfg:              cfg.Settings,
		bus:              cfg.Bus,
		store:            cfg.Store,
		log:              cfg.Logger,
		runID:            cfg.RunID,
		sup:              NewSupervisor(SupervisorPolicy{}, cfg.Logger),
		registry:         reg,
		catalog:          catalog,
		events:           events,
		evolution:        machine,
		rand:             cfg.Rand,
		state:            stateCreated,
		boost:            neutralBoosts(),
		singularityArmed: true,
	}, nil
}

// Init brings the engine up: it prepares the store, restores persisted state,
// wires the bus request handlers and starts the supervised loops. Calling
// Init on an active engine is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case stateActive:
		e.mu.Unlock()
		return nil
	case stateShutdown:
		e.mu.Unlock()
		return ErrShutdown
	}
	e.mu.Unlock()

	if err := e.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if err := e.restore(ctx); err != nil {
		return err
	}

	e.bus.SubscribeAddParticipant(e.handleAddParticipant)
	e.bus.SubscribeCreateEvent(e.handleCreateEvent)

	if err := e.sup.Start("monitor", RestartAlways, e.runMonitor); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	if e.cfg.SnapshotPeriod.Std() > 0 {
		if err := e.sup.Start("snapshotter", RestartAlways, e.runSnapshotter); err != nil {
			e.sup.StopAll()
			return fmt.Errorf("start snapshotter: %w", err)
		}
	}

	now := time.Now().UTC()
	e.mu.Lock()
	e.state = stateActive
	e.startedAt = now
	e.mu.Unlock()

	e.log.Info().
		Str("run_id", e.runID).
		Dur("monitor_period", e.cfg.MonitorPeriod.Std()).
		Int("max_participants", e.cfg.MaxParticipants).
		Msg("engine activated")
	e.bus.PublishActivated(bus.Activated{At: now, Period: e.cfg.MonitorPeriod.Std()})
	return nil
}

// Shutdown stops the loops, interrupts in-flight events and persists a final
// snapshot. It is idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateActive {
		e.state = stateShutdown
		e.mu.Unlock()
		return nil
	}
	e.state = stateShutdown
	e.mu.Unlock()

	e.sup.StopAll()
	interrupted := e.events.InterruptAll()
	if interrupted > 0 {
		e.log.Warn().Int("events", interrupted).Msg("interrupted in-flight events")
	}

	if err := e.persist(ctx); err != nil {
		e.log.Error().Err(err).Msg("persist final snapshot")
	}
	if err := storage.CloseIfSupported(e.store); err != nil {
		e.log.Error().Err(err).Msg("close store")
	}
	e.log.Info().Str("run_id", e.runID).Msg("engine shut down")
	return nil
}

// restore loads the latest snapshot for this run and rehydrates the
// monotonic pieces: evolution state and protocol stats. Participants are not
// resurrected; admission is an explicit runtime act.
func (e *Engine) restore(ctx context.Context) error {
	snapshot, ok, err := e.store.GetSnapshot(ctx, e.runID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	if err := e.evolution.Restore(snapshot.Evolution); err != nil {
		return fmt.Errorf("restore evolution state: %w", err)
	}
	e.catalog.RestoreStats(snapshot.Protocols)
	e.log.Info().
		Str("run_id", e.runID).
		Str("stage", string(snapshot.Evolution.Stage)).
		Msg("restored persisted state")
	return nil
}

func (e *Engine) guard() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.state {
	case stateActive:
		return nil
	case stateShutdown:
		return ErrShutdown
	default:
		return ErrNotInitialized
	}
}

// AddParticipant admits a participant and announces it on the bus.
func (e *Engine) AddParticipant(id string, cfg registry.AdmissionConfig) (model.Participant, error) {
	if err := e.guard(); err != nil {
		return model.Participant{}, err
	}

	participant, err := e.registry.Add(id, cfg)
	if err != nil {
		return model.Participant{}, err
	}

	e.log.Info().
		Str("participant_id", participant.ID).
		Int("layer", participant.TopologyLayer).
		Int("total", e.registry.Len()).
		Msg("participant admitted")
	e.bus.PublishParticipantAdded(bus.ParticipantAdded{
		ParticipantID: participant.ID,
		Layer:         participant.TopologyLayer,
		TotalCount:    e.registry.Len(),
	})
	return participant, nil
}

// RemoveParticipant retires a participant and its entanglement pairs.
func (e *Engine) RemoveParticipant(id string) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.registry.Remove(id); err != nil {
		return err
	}
	e.log.Info().Str("participant_id", id).Int("total", e.registry.Len()).Msg("participant removed")
	return nil
}

// RunEvent creates a singularity event and drives it to a terminal state.
// Handler failures are reported on the returned event, not as an error.
func (e *Engine) RunEvent(kind model.EventKind, protocolName string, participantIDs []string) (model.SingularityEvent, error) {
	if err := e.guard(); err != nil {
		return model.SingularityEvent{}, err
	}

	created, err := e.events.Create(kind, protocolName, participantIDs)
	if err != nil {
		return model.SingularityEvent{}, err
	}
	return e.events.Execute(created.ID)
}

// GetEvent looks up a single event by id.
func (e *Engine) GetEvent(id string) (model.SingularityEvent, bool) {
	return e.events.Get(id)
}

// EventHistory returns the retained events, oldest first.
func (e *Engine) EventHistory() []model.SingularityEvent {
	return e.events.History()
}

// PruneEvents drops terminal events older than maxAge.
func (e *Engine) PruneEvents(maxAge time.Duration) int {
	return e.events.Prune(maxAge)
}

// Participant looks up one participant by id.
func (e *Engine) Participant(id string) (model.Participant, bool) {
	return e.registry.Get(id)
}

// Metrics returns the last computed global metrics.
func (e *Engine) Metrics() model.GlobalMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

// GetMetrics assembles the full observable state of the engine.
func (e *Engine) GetMetrics() model.Snapshot {
	e.mu.RLock()
	state := e.state
	metrics := e.metrics
	e.mu.RUnlock()

	return model.Snapshot{
		TakenAt:      time.Now().UTC(),
		State:        state,
		Metrics:      metrics,
		Participants: e.registry.All(),
		Pairs:        e.registry.Pairs(),
		Layers:       e.registry.Layers(),
		Protocols:    e.catalog.AllStats(),
		Evolution:    e.evolution.State(),
		Events:       e.events.History(),
	}
}

// Health grades the engine: healthy when active with potential and coherence
// at or above the configured floor, degraded when active but below it, and
// unhealthy otherwise.
func (e *Engine) Health() HealthReport {
	e.mu.RLock()
	state := e.state
	metrics := e.metrics
	startedAt := e.startedAt
	ticks := e.tickCount
	e.mu.RUnlock()

	report := HealthReport{
		State:                  state,
		ParticipantCount:       e.registry.Len(),
		SingularityPotential:   metrics.SingularityPotential,
		ConsciousnessCoherence: metrics.ConsciousnessCoherence,
		Stage:                  e.evolution.State().Stage,
		TickCount:              ticks,
	}
	if state != stateActive {
		report.Status = "unhealthy"
		return report
	}
	report.Uptime = time.Since(startedAt).Round(time.Millisecond).String()
	if metrics.SingularityPotential >= e.cfg.HealthFloor && metrics.ConsciousnessCoherence >= e.cfg.HealthFloor {
		report.Status = "healthy"
	} else {
		report.Status = "degraded"
	}
	return report
}

// SupervisorStatus exposes the background task bookkeeping.
func (e *Engine) SupervisorStatus() []TaskStatus {
	return e.sup.Status()
}

// persist writes the current snapshot and event history for this run.
func (e *Engine) persist(ctx context.Context) error {
	snapshot := e.GetMetrics()
	events := snapshot.Events
	snapshot.Events = nil
	if err := e.store.SaveSnapshot(ctx, e.runID, snapshot); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := e.store.SaveEvents(ctx, e.runID, events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	return nil
}

func (e *Engine) runSnapshotter(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SnapshotPeriod.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.persist(ctx); err != nil {
				e.log.Error().Err(err).Msg("periodic snapshot")
			}
		}
	}
}

func (e *Engine) handleAddParticipant(req bus.AddParticipantRequest) {
	participant, err := e.AddParticipant(req.ParticipantID, registry.AdmissionConfig{
		ConsciousnessLevel:    req.ConsciousnessLevel,
		Coherence:             req.Coherence,
		TranscendenceCapacity: req.TranscendenceCapacity,
		ResonanceFrequency:    req.ResonanceFrequency,
	})
	resp := bus.Response{RequestID: req.RequestID}
	if err != nil {
		resp.Err = err.Error()
	} else {
		resp.Participant = &participant
	}
	e.bus.PublishResponse(resp)
}

func (e *Engine) handleCreateEvent(req bus.CreateEventRequest) {
	evt, err := e.RunEvent(req.Kind, req.Protocol, req.ParticipantIDs)
	resp := bus.Response{RequestID: req.RequestID}
	if err != nil {
		resp.Err = err.Error()
	} else {
		resp.Event = &evt
	}
	e.bus.PublishResponse(resp)
}
