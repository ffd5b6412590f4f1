// Package noesis is the embeddable front door to the coordination engine.
// It owns the wiring: configuration, storage, the notification bus and the
// engine lifecycle.
package noesis

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"noesis/internal/bus"
	"noesis/internal/config"
	"noesis/internal/engine"
	"noesis/internal/event"
	"noesis/internal/model"
	"noesis/internal/protocol"
	"noesis/internal/registry"
	"noesis/internal/storage"
)

const defaultRunID = "default"

// Options override the loaded configuration. Zero values defer to the config
// file and environment.
type Options struct {
	ConfigPath string
	StoreKind  string
	DBPath     string
	RunID      string
	Seed       int64
	Logger     *zerolog.Logger
}

type Client struct {
	cfg    config.Config
	log    zerolog.Logger
	bus    *bus.Bus
	store  storage.Store
	engine *engine.Engine
	runID  string
}

type ParticipantRequest struct {
	ID                    string
	ConsciousnessLevel    *float64
	Coherence             *float64
	TranscendenceCapacity *float64
	ResonanceFrequency    *float64
}

type ParticipantSummary struct {
	ID                 string
	Layer              int
	PairCount          int
	ResonanceFrequency float64
	TotalParticipants  int
}

type EventRequest struct {
	Kind           string
	Protocol       string
	ParticipantIDs []string
}

type EventSummary struct {
	ID                 string
	Kind               string
	Protocol           string
	State              string
	Automatic          bool
	Success            bool
	TranscendenceLevel float64
	Error              string
	Duration           time.Duration
}

type SnapshotItem struct {
	TakenAt          time.Time
	State            string
	Stage            string
	Progress         float64
	ParticipantCount int
	Potential        float64
	Coherence        float64
}

func New(opts Options) (*Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.StoreKind != "" {
		cfg.StoreKind = opts.StoreKind
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.Seed != 0 {
		cfg.PerturbationSeed = opts.Seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = defaultRunID
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	store, err := storage.NewStore(cfg.StoreKind, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	b := bus.New()
	eng, err := engine.New(engine.Config{
		Settings: cfg,
		Bus:      b,
		Store:    store,
		Logger:   log,
		RunID:    runID,
		Rand:     rand.New(rand.NewSource(cfg.PerturbationSeed)),
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		log:    log,
		bus:    b,
		store:  store,
		engine: eng,
		runID:  runID,
	}, nil
}

// Init activates the engine and its background loops.
func (c *Client) Init(ctx context.Context) error {
	return c.engine.Init(ctx)
}

// Shutdown stops the engine and persists a final snapshot. Idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.engine.Shutdown(ctx)
}

// Bus exposes the notification bus for subscribers.
func (c *Client) Bus() *bus.Bus {
	return c.bus
}

// RunID identifies the persistence scope of this client.
func (c *Client) RunID() string {
	return c.runID
}

func (c *Client) AddParticipant(req ParticipantRequest) (ParticipantSummary, error) {
	participant, err := c.engine.AddParticipant(req.ID, registry.AdmissionConfig{
		ConsciousnessLevel:    req.ConsciousnessLevel,
		Coherence:             req.Coherence,
		TranscendenceCapacity: req.TranscendenceCapacity,
		ResonanceFrequency:    req.ResonanceFrequency,
	})
	if err != nil {
		return ParticipantSummary{}, err
	}
	return ParticipantSummary{
		ID:                 participant.ID,
		Layer:              participant.TopologyLayer,
		PairCount:          len(participant.PairIDs),
		ResonanceFrequency: participant.ResonanceFrequency,
		TotalParticipants:  c.engine.Health().ParticipantCount,
	}, nil
}

func (c *Client) RemoveParticipant(id string) error {
	return c.engine.RemoveParticipant(id)
}

// RunEvent validates, creates and executes one singularity event. An empty
// protocol falls back to the quantum consciousness merger, an empty
// participant set targets every active participant.
func (c *Client) RunEvent(req EventRequest) (EventSummary, error) {
	kind := model.EventKind(req.Kind)
	protocolName := req.Protocol
	if protocolName == "" {
		protocolName = protocol.QuantumConsciousnessMerger
	}
	ids := req.ParticipantIDs
	if len(ids) == 0 {
		snapshot := c.engine.GetMetrics()
		for _, p := range snapshot.Participants {
			if p.Active {
				ids = append(ids, p.ID)
			}
		}
	}

	evt, err := c.engine.RunEvent(kind, protocolName, ids)
	if err != nil {
		return EventSummary{}, err
	}
	return summarize(evt), nil
}

// Event looks up one event by id.
func (c *Client) Event(id string) (EventSummary, error) {
	evt, ok := c.engine.GetEvent(id)
	if !ok {
		return EventSummary{}, fmt.Errorf("%w: %s", event.ErrEventNotFound, id)
	}
	return summarize(evt), nil
}

// Events returns the retained event history, oldest first.
func (c *Client) Events() []EventSummary {
	history := c.engine.EventHistory()
	out := make([]EventSummary, 0, len(history))
	for _, evt := range history {
		out = append(out, summarize(evt))
	}
	return out
}

// PruneEvents drops terminal events older than maxAge and reports how many
// were removed.
func (c *Client) PruneEvents(maxAge time.Duration) int {
	return c.engine.PruneEvents(maxAge)
}

// Metrics returns the full observable engine state.
func (c *Client) Metrics() model.Snapshot {
	return c.engine.GetMetrics()
}

// Health grades the engine's liveness.
func (c *Client) Health() engine.HealthReport {
	return c.engine.Health()
}

// Snapshots lists persisted snapshots for this run, newest first.
func (c *Client) Snapshots(ctx context.Context, limit int) ([]SnapshotItem, error) {
	snapshots, err := c.store.ListSnapshots(ctx, c.runID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotItem, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, SnapshotItem{
			TakenAt:          s.TakenAt,
			State:            s.State,
			Stage:            string(s.Evolution.Stage),
			Progress:         s.Evolution.Progress,
			ParticipantCount: len(s.Participants),
			Potential:        s.Metrics.SingularityPotential,
			Coherence:        s.Metrics.ConsciousnessCoherence,
		})
	}
	return out, nil
}

// Protocols lists the catalog with per-protocol outcome stats.
func (c *Client) Protocols() map[string]model.ProtocolStats {
	return c.engine.GetMetrics().Protocols
}

func summarize(evt model.SingularityEvent) EventSummary {
	out := EventSummary{
		ID:        evt.ID,
		Kind:      string(evt.Kind),
		Protocol:  evt.Protocol,
		State:     string(evt.State),
		Automatic: evt.Automatic,
		Duration:  evt.Duration,
	}
	if evt.Result != nil {
		out.Success = evt.Result.Success
		out.TranscendenceLevel = evt.Result.TranscendenceLevel
		out.Error = evt.Result.Error
	}
	return out
}
