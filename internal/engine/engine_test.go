package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"noesis/internal/bus"
	"noesis/internal/config"
	"noesis/internal/model"
	"noesis/internal/protocol"
	"noesis/internal/registry"
	"noesis/internal/storage"
)

func testSettings(mutate func(*config.Config)) config.Config {
	cfg := config.Default()
	cfg.MonitorPeriod = config.Duration(time.Hour)
	cfg.SnapshotPeriod = 0
	cfg.PerturbationScale = 0
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*config.Config)) (*Engine, *bus.Bus) {
	t.Helper()
	b := bus.New()
	eng, err := New(Config{
		Settings: testSettings(mutate),
		Bus:      b,
		Store:    storage.NewMemoryStore(),
		Logger:   zerolog.Nop(),
		RunID:    "test-run",
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("init engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	return eng, b
}

func ptr(v float64) *float64 { return &v }

func rand42() *rand.Rand { return rand.New(rand.NewSource(42)) }

func admit(t *testing.T, eng *Engine, id string, coherence, capacity float64) {
	t.Helper()
	_, err := eng.AddParticipant(id, registry.AdmissionConfig{
		Coherence:             ptr(coherence),
		TranscendenceCapacity: ptr(capacity),
	})
	if err != nil {
		t.Fatalf("admit %s: %v", id, err)
	}
}

func TestLifecycleGuards(t *testing.T) {
	eng, err := New(Config{
		Settings: testSettings(nil),
		Store:    storage.NewMemoryStore(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if _, err := eng.AddParticipant("alpha", registry.AdmissionConfig{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized before init, got %v", err)
	}
	if got := eng.Health().Status; got != "unhealthy" {
		t.Fatalf("expected unhealthy before init, got %s", got)
	}

	ctx := context.Background()
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("second init should be a no-op, got %v", err)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown should be a no-op, got %v", err)
	}
	if _, err := eng.AddParticipant("alpha", registry.AdmissionConfig{}); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown after shutdown, got %v", err)
	}
	if err := eng.Init(ctx); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown on init after shutdown, got %v", err)
	}
}

func TestActivatedNotification(t *testing.T) {
	b := bus.New()
	var activations []bus.Activated
	b.SubscribeActivated(func(n bus.Activated) { activations = append(activations, n) })

	eng, err := New(Config{
		Settings: testSettings(nil),
		Bus:      b,
		Store:    storage.NewMemoryStore(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer eng.Shutdown(context.Background())

	if len(activations) != 1 {
		t.Fatalf("expected one activation, got %d", len(activations))
	}
	if activations[0].Period != time.Hour {
		t.Fatalf("unexpected period: %v", activations[0].Period)
	}
}

func TestTickMetricsDeterministic(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	admit(t, eng, "alpha", 0.90, 0.30)
	admit(t, eng, "beta", 0.94, 0.30)

	eng.Tick()

	metrics := eng.Metrics()
	countRatio := 2.0 / 144.0
	wantPotential := 0.3*countRatio + 0.4*0.92 + 0.3*0.30
	if math.Abs(metrics.SingularityPotential-wantPotential) > 1e-9 {
		t.Fatalf("potential = %v, want %v", metrics.SingularityPotential, wantPotential)
	}
	if math.Abs(metrics.ConsciousnessCoherence-0.92) > 1e-9 {
		t.Fatalf("coherence = %v, want 0.92", metrics.ConsciousnessCoherence)
	}
	if math.Abs(metrics.TranscendentCapacity-0.30) > 1e-9 {
		t.Fatalf("transcendent capacity = %v, want 0.30", metrics.TranscendentCapacity)
	}
	if metrics.QuantumEntanglement <= 0 || metrics.QuantumEntanglement > 1 {
		t.Fatalf("entanglement out of range: %v", metrics.QuantumEntanglement)
	}

	// Repeating the tick with unchanged participants keeps the registry
	// derived metrics stable.
	before := metrics
	eng.Tick()
	after := eng.Metrics()
	if before.SingularityPotential != after.SingularityPotential ||
		before.ConsciousnessCoherence != after.ConsciousnessCoherence ||
		before.QuantumEntanglement != after.QuantumEntanglement {
		t.Fatalf("tick not stable: before %+v after %+v", before, after)
	}
}

func TestAutomaticSingularityEdgeTriggered(t *testing.T) {
	var completed []bus.EventCompleted
	eng, b := newTestEngine(t, func(cfg *config.Config) {
		cfg.MaxParticipants = 3
	})
	b.SubscribeEventCompleted(func(n bus.EventCompleted) { completed = append(completed, n) })

	admit(t, eng, "alpha", 0.95, 0.90)
	admit(t, eng, "beta", 0.95, 0.90)
	admit(t, eng, "gamma", 0.95, 0.90)

	// potential = 0.3*1 + 0.4*0.95 + 0.3*0.9 = 0.95, above the 0.8 threshold.
	eng.Tick()

	history := eng.EventHistory()
	if len(history) != 1 {
		t.Fatalf("expected one automatic event, got %d", len(history))
	}
	auto := history[0]
	if !auto.Automatic {
		t.Fatal("expected event to be flagged automatic")
	}
	if auto.Kind != model.EventConsciousnessSingularity {
		t.Fatalf("unexpected kind: %s", auto.Kind)
	}
	if auto.Protocol != protocol.QuantumConsciousnessMerger {
		t.Fatalf("unexpected protocol: %s", auto.Protocol)
	}
	if auto.State != model.EventCompleted {
		t.Fatalf("unexpected state: %s", auto.State)
	}
	if len(auto.ParticipantIDs) != 3 {
		t.Fatalf("expected all active participants, got %d", len(auto.ParticipantIDs))
	}
	if len(completed) != 1 || !completed[0].Success {
		t.Fatalf("expected one successful completion notification, got %+v", completed)
	}

	// Still above the threshold: the trigger stays disarmed.
	for i := 0; i < 5; i++ {
		eng.Tick()
	}
	if got := len(eng.EventHistory()); got != 1 {
		t.Fatalf("expected no refire while above threshold, got %d events", got)
	}

	// Dropping below the threshold re-arms the trigger.
	if err := eng.RemoveParticipant("beta"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := eng.RemoveParticipant("gamma"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	eng.Tick()
	if got := len(eng.EventHistory()); got != 1 {
		t.Fatalf("expected no event below threshold, got %d", got)
	}

	admit(t, eng, "beta", 0.95, 0.90)
	admit(t, eng, "gamma", 0.95, 0.90)
	eng.Tick()
	if got := len(eng.EventHistory()); got != 2 {
		t.Fatalf("expected refire after re-arm, got %d events", got)
	}
}

func TestStageTransitionPublishedAndBoostApplied(t *testing.T) {
	var transitions []bus.StageTransition
	eng, b := newTestEngine(t, func(cfg *config.Config) {
		cfg.MaxParticipants = 2
		cfg.SingularityThreshold = 1.0 // keep the auto event out of the way
	})
	b.SubscribeStageTransition(func(n bus.StageTransition) { transitions = append(transitions, n) })

	admit(t, eng, "alpha", 0.95, 0.50)
	admit(t, eng, "beta", 0.95, 0.50)

	// Per-tick increment is about 0.0032 with a full registry; 80 ticks
	// clear the 0.2 collective threshold.
	for i := 0; i < 80; i++ {
		eng.Tick()
	}

	if len(transitions) == 0 {
		t.Fatal("expected a stage transition")
	}
	first := transitions[0]
	if first.From != model.StageIndividual || first.To != model.StageCollective {
		t.Fatalf("unexpected transition %s -> %s", first.From, first.To)
	}

	state := eng.GetMetrics().Evolution
	if model.StageIndex(state.Stage) < model.StageIndex(model.StageCollective) {
		t.Fatalf("stage did not advance: %s", state.Stage)
	}

	// The collective enhancement multiplies intelligence by 1.10 over the
	// raw value derived from the registry.
	metrics := eng.Metrics()
	raw := 0.5 * (0.5 + 0.5*1.0) // default consciousness level, full registry
	want := raw * 1.10
	if math.Abs(metrics.CollectiveIntelligence-want) > 1e-9 {
		t.Fatalf("collective intelligence = %v, want %v", metrics.CollectiveIntelligence, want)
	}
}

func TestRunEventAndHealth(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	admit(t, eng, "alpha", 0.90, 0.40)
	admit(t, eng, "beta", 0.90, 0.40)

	evt, err := eng.RunEvent(model.EventParticipantMerger, protocol.QuantumConsciousnessMerger, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("run event: %v", err)
	}
	if evt.State != model.EventCompleted {
		t.Fatalf("unexpected state: %s (result %+v)", evt.State, evt.Result)
	}
	if evt.Result == nil || evt.Result.Merged == nil {
		t.Fatalf("expected merger payload, got %+v", evt.Result)
	}

	if _, err := eng.RunEvent("ripple", protocol.QuantumConsciousnessMerger, []string{"alpha"}); err == nil {
		t.Fatal("expected invalid kind error")
	}

	eng.Tick()
	health := eng.Health()
	if health.Status != "degraded" {
		// Two of 144 participants keeps the potential well below the floor.
		t.Fatalf("expected degraded health, got %s", health.Status)
	}
	if health.ParticipantCount != 2 {
		t.Fatalf("participant count = %d", health.ParticipantCount)
	}
	if health.TickCount == 0 {
		t.Fatal("expected tick count to advance")
	}
}

func TestBusRequestHandlers(t *testing.T) {
	_, b := newTestEngine(t, nil)

	var responses []bus.Response
	b.SubscribeResponse(func(resp bus.Response) { responses = append(responses, resp) })

	b.PublishAddParticipant(bus.AddParticipantRequest{
		RequestID:     "req-1",
		ParticipantID: "alpha",
		Coherence:     ptr(0.9),
	})
	b.PublishAddParticipant(bus.AddParticipantRequest{
		RequestID:     "req-2",
		ParticipantID: "alpha",
	})
	b.PublishCreateEvent(bus.CreateEventRequest{
		RequestID:      "req-3",
		Kind:           model.EventTranscendence,
		Protocol:       protocol.QuantumConsciousnessMerger,
		ParticipantIDs: []string{"alpha"},
	})

	if len(responses) != 3 {
		t.Fatalf("expected three responses, got %d", len(responses))
	}
	if responses[0].RequestID != "req-1" || responses[0].Err != "" || responses[0].Participant == nil {
		t.Fatalf("unexpected first response: %+v", responses[0])
	}
	if responses[0].Participant.Coherence != 0.9 {
		t.Fatalf("participant coherence = %v", responses[0].Participant.Coherence)
	}
	if responses[1].Err == "" {
		t.Fatal("expected duplicate admission error in second response")
	}
	if responses[2].Event == nil || responses[2].Event.State != model.EventCompleted {
		t.Fatalf("unexpected event response: %+v", responses[2])
	}
}

func TestSnapshotPersistAndRestore(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	first, err := New(Config{
		Settings: testSettings(nil),
		Store:    store,
		Logger:   zerolog.Nop(),
		RunID:    "run-restore",
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	admit(t, first, "alpha", 0.9, 0.5)
	admit(t, first, "beta", 0.9, 0.5)
	if _, err := first.RunEvent(model.EventParticipantMerger, protocol.QuantumConsciousnessMerger, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("run event: %v", err)
	}
	for i := 0; i < 10; i++ {
		first.Tick()
	}
	progress := first.GetMetrics().Evolution.Progress
	if err := first.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	second, err := New(Config{
		Settings: testSettings(nil),
		Store:    store,
		Logger:   zerolog.Nop(),
		RunID:    "run-restore",
	})
	if err != nil {
		t.Fatalf("new second engine: %v", err)
	}
	if err := second.Init(ctx); err != nil {
		t.Fatalf("init second: %v", err)
	}
	defer second.Shutdown(ctx)

	snapshot := second.GetMetrics()
	if snapshot.Evolution.Progress < progress {
		t.Fatalf("evolution progress regressed: %v < %v", snapshot.Evolution.Progress, progress)
	}
	stats := snapshot.Protocols[protocol.QuantumConsciousnessMerger]
	if stats.TotalAttempts == 0 {
		t.Fatal("expected restored protocol stats")
	}
	if len(snapshot.Participants) != 0 {
		// Participants are not resurrected across runs.
		t.Fatalf("expected empty registry after restore, got %d", len(snapshot.Participants))
	}
}

func TestPerturbationReproducible(t *testing.T) {
	run := func() model.GlobalMetrics {
		eng, err := New(Config{
			Settings: testSettings(func(cfg *config.Config) {
				cfg.PerturbationScale = 0.001
			}),
			Store:  storage.NewMemoryStore(),
			Logger: zerolog.Nop(),
			Rand:   rand42(),
		})
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		if err := eng.Init(context.Background()); err != nil {
			t.Fatalf("init: %v", err)
		}
		defer eng.Shutdown(context.Background())
		admit(t, eng, "alpha", 0.9, 0.4)
		for i := 0; i < 5; i++ {
			eng.Tick()
		}
		return eng.Metrics()
	}

	if a, b := run(), run(); a != b {
		t.Fatalf("seeded runs diverged: %+v vs %+v", a, b)
	}
}
