package noesis

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"noesis/internal/event"
	"noesis/internal/model"
	"noesis/internal/registry"
)

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	// Keep the background loops quiet so tests drive the engine directly.
	t.Setenv("NOESIS_MONITOR_PERIOD", "1h")
	t.Setenv("NOESIS_SNAPSHOT_PERIOD", "1h")
	t.Setenv("NOESIS_PERTURBATION_SCALE", "0")

	client, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Shutdown(context.Background())
	})
	return client
}

func floatPtr(v float64) *float64 { return &v }

func TestClientParticipantsAndEvents(t *testing.T) {
	client := newTestClient(t, Options{StoreKind: "memory", RunID: "api-test"})

	alpha, err := client.AddParticipant(ParticipantRequest{
		ID:        "alpha",
		Coherence: floatPtr(0.92),
	})
	if err != nil {
		t.Fatalf("add alpha: %v", err)
	}
	if alpha.TotalParticipants != 1 || alpha.PairCount != 0 {
		t.Fatalf("unexpected first admission: %+v", alpha)
	}

	beta, err := client.AddParticipant(ParticipantRequest{
		ID:        "beta",
		Coherence: floatPtr(0.92),
	})
	if err != nil {
		t.Fatalf("add beta: %v", err)
	}
	if beta.TotalParticipants != 2 || beta.PairCount != 1 {
		t.Fatalf("expected beta entangled with alpha: %+v", beta)
	}

	if _, err := client.AddParticipant(ParticipantRequest{ID: "alpha"}); !errors.Is(err, registry.ErrDuplicateParticipant) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// Empty protocol and participant set fall back to the default protocol
	// over every active participant.
	summary, err := client.RunEvent(EventRequest{Kind: string(model.EventParticipantMerger)})
	if err != nil {
		t.Fatalf("run event: %v", err)
	}
	if !summary.Success {
		t.Fatalf("expected success: %+v", summary)
	}
	if summary.Protocol != "quantum_consciousness_merger" {
		t.Fatalf("unexpected protocol: %s", summary.Protocol)
	}

	got, err := client.Event(summary.ID)
	if err != nil {
		t.Fatalf("event lookup: %v", err)
	}
	if got.ID != summary.ID || got.State != string(model.EventCompleted) {
		t.Fatalf("unexpected event: %+v", got)
	}
	if _, err := client.Event("missing"); !errors.Is(err, event.ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if history := client.Events(); len(history) != 1 {
		t.Fatalf("expected one event in history, got %d", len(history))
	}
	time.Sleep(5 * time.Millisecond)
	if pruned := client.PruneEvents(time.Millisecond); pruned != 1 {
		t.Fatalf("expected one pruned event, got %d", pruned)
	}

	stats := client.Protocols()["quantum_consciousness_merger"]
	if stats.TotalAttempts != 1 || stats.SuccessfulAttempts != 1 {
		t.Fatalf("unexpected protocol stats: %+v", stats)
	}

	if err := client.RemoveParticipant("beta"); err != nil {
		t.Fatalf("remove beta: %v", err)
	}
	if err := client.RemoveParticipant("beta"); !errors.Is(err, registry.ErrParticipantNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestClientSnapshotsSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "noesis.db")
	client := newTestClient(t, Options{StoreKind: "sqlite", DBPath: dbPath, RunID: "sqlite-test"})

	if _, err := client.AddParticipant(ParticipantRequest{ID: "alpha"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := client.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// A fresh client over the same database sees the persisted snapshot.
	reader := newTestClient(t, Options{StoreKind: "sqlite", DBPath: dbPath, RunID: "sqlite-test"})
	snapshots, err := reader.Snapshots(context.Background(), 10)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snapshots) == 0 {
		t.Fatal("expected at least one persisted snapshot")
	}
	if snapshots[0].ParticipantCount != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshots[0])
	}
}

func TestClientHealthAndMetrics(t *testing.T) {
	client := newTestClient(t, Options{StoreKind: "memory", RunID: "health-test"})

	health := client.Health()
	if health.State != "active" {
		t.Fatalf("expected active engine, got %s", health.State)
	}

	snapshot := client.Metrics()
	if snapshot.State != "active" {
		t.Fatalf("unexpected snapshot state: %s", snapshot.State)
	}
	if len(snapshot.Layers) != 8 {
		t.Fatalf("expected default topology ring, got %d layers", len(snapshot.Layers))
	}
	if snapshot.Evolution.Stage != model.StageIndividual {
		t.Fatalf("unexpected starting stage: %s", snapshot.Evolution.Stage)
	}

	if _, err := New(Options{StoreKind: "redis"}); err == nil {
		t.Fatal("expected unsupported store kind error")
	}
}
