package bus

import (
	"sync"
	"testing"

	"noesis/internal/model"
)

func TestPublishReachesAllSubscribersInOrder(t *testing.T) {
	b := New()
	var order []int
	b.SubscribeParticipantAdded(func(ParticipantAdded) { order = append(order, 1) })
	b.SubscribeParticipantAdded(func(ParticipantAdded) { order = append(order, 2) })

	b.PublishParticipantAdded(ParticipantAdded{ParticipantID: "p1", Layer: 3, TotalCount: 1})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers in registration order, got %v", order)
	}
}

func TestNilBusAndNilHandlersAreIgnored(t *testing.T) {
	var b *Bus
	b.SubscribeEventCompleted(func(EventCompleted) { t.Fatal("handler on nil bus") })
	b.PublishEventCompleted(EventCompleted{})

	real := New()
	real.SubscribeEventCompleted(nil)
	real.PublishEventCompleted(EventCompleted{EventID: "evt"})
}

func TestRequestResponseCorrelation(t *testing.T) {
	b := New()

	b.SubscribeCreateEvent(func(req CreateEventRequest) {
		b.PublishResponse(Response{
			RequestID: req.RequestID,
			Event:     &model.SingularityEvent{ID: "evt-1", Kind: req.Kind},
		})
	})

	var got Response
	b.SubscribeResponse(func(resp Response) { got = resp })

	b.PublishCreateEvent(CreateEventRequest{
		RequestID:      "req-42",
		Kind:           model.EventParticipantMerger,
		Protocol:       "quantum_consciousness_merger",
		ParticipantIDs: []string{"a", "b"},
	})

	if got.RequestID != "req-42" {
		t.Fatalf("expected correlated response, got %+v", got)
	}
	if got.Event == nil || got.Event.ID != "evt-1" {
		t.Fatalf("expected event payload, got %+v", got.Event)
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	b := New()
	var mu sync.Mutex
	seen := 0
	b.SubscribeStageTransition(func(StageTransition) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.SubscribeStageTransition(func(StageTransition) {})
		}()
		go func() {
			defer wg.Done()
			b.PublishStageTransition(StageTransition{From: model.StageIndividual, To: model.StageCollective})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen != 8 {
		t.Fatalf("expected 8 deliveries to the first subscriber, got %d", seen)
	}
}
