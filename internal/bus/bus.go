package bus

import (
	"sync"
	"time"

	"noesis/internal/model"
)

// ParticipantAdded is published after a successful admission.
type ParticipantAdded struct {
	ParticipantID string
	Layer         int
	TotalCount    int
}

// EventCompleted is published after a singularity event reaches a terminal
// state, whether it succeeded or not.
type EventCompleted struct {
	EventID            string
	Kind               model.EventKind
	Success            bool
	ParticipantCount   int
	TranscendenceLevel float64
}

// StageTransition is published when the evolution machine advances a stage.
type StageTransition struct {
	From     model.Stage
	To       model.Stage
	Progress float64
}

// Activated is published once when the engine finishes start-up.
type Activated struct {
	At     time.Time
	Period time.Duration
}

// AddParticipantRequest asks the engine to admit a participant. RequestID
// correlates the published Response.
type AddParticipantRequest struct {
	RequestID             string
	ParticipantID         string
	ConsciousnessLevel    *float64
	Coherence             *float64
	TranscendenceCapacity *float64
	ResonanceFrequency    *float64
}

// CreateEventRequest asks the engine to create and execute a singularity
// event. RequestID correlates the published Response.
type CreateEventRequest struct {
	RequestID      string
	Kind           model.EventKind
	Protocol       string
	ParticipantIDs []string
}

// Response is the correlated reply to an inbound request. Exactly one of
// Participant and Event is set on success.
type Response struct {
	RequestID   string
	Err         string
	Participant *model.Participant
	Event       *model.SingularityEvent
}

type ParticipantAddedHandler func(n ParticipantAdded)
type EventCompletedHandler func(n EventCompleted)
type StageTransitionHandler func(n StageTransition)
type ActivatedHandler func(n Activated)
type AddParticipantHandler func(req AddParticipantRequest)
type CreateEventHandler func(req CreateEventRequest)
type ResponseHandler func(resp Response)

// Bus is an in-process publish/subscribe fanout. Handlers run synchronously
// on the publisher's goroutine, in registration order.
type Bus struct {
	mu sync.RWMutex

	participantAdded []ParticipantAddedHandler
	eventCompleted   []EventCompletedHandler
	stageTransition  []StageTransitionHandler
	activated        []ActivatedHandler
	addParticipant   []AddParticipantHandler
	createEvent      []CreateEventHandler
	responses        []ResponseHandler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeParticipantAdded(h ParticipantAddedHandler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.participantAdded = append(b.participantAdded, h)
}

func (b *Bus) SubscribeEventCompleted(h EventCompletedHandler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventCompleted = append(b.eventCompleted, h)
}

func (b *Bus) SubscribeStageTransition(h StageTransitionHandler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stageTransition = append(b.stageTransition, h)
}

func (b *Bus) SubscribeActivated(h ActivatedHandler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activated = append(b.activated, h)
}

func (b *Bus) SubscribeAddParticipant(h AddParticipantHandler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addParticipant = append(b.addParticipant, h)
}

func (b *Bus) SubscribeCreateEvent(h CreateEventHandler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createEvent = append(b.createEvent, h)
}

func (b *Bus) SubscribeResponse(h ResponseHandler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = append(b.responses, h)
}

// PublishParticipantAdded fans the notification out to all subscribers.
func (b *Bus) PublishParticipantAdded(n ParticipantAdded) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]ParticipantAddedHandler, len(b.participantAdded))
	copy(handlers, b.participantAdded)
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(n)
	}
}

// PublishEventCompleted fans the notification out to all subscribers.
func (b *Bus) PublishEventCompleted(n EventCompleted) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]EventCompletedHandler, len(b.eventCompleted))
	copy(handlers, b.eventCompleted)
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(n)
	}
}

// PublishStageTransition fans the notification out to all subscribers.
func (b *Bus) PublishStageTransition(n StageTransition) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]StageTransitionHandler, len(b.stageTransition))
	copy(handlers, b.stageTransition)
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(n)
	}
}

// PublishActivated fans the notification out to all subscribers.
func (b *Bus) PublishActivated(n Activated) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]ActivatedHandler, len(b.activated))
	copy(handlers, b.activated)
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(n)
	}
}

// PublishAddParticipant delivers an admission request to the engine side.
func (b *Bus) PublishAddParticipant(req AddParticipantRequest) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]AddParticipantHandler, len(b.addParticipant))
	copy(handlers, b.addParticipant)
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(req)
	}
}

// PublishCreateEvent delivers an event request to the engine side.
func (b *Bus) PublishCreateEvent(req CreateEventRequest) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]CreateEventHandler, len(b.createEvent))
	copy(handlers, b.createEvent)
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(req)
	}
}

// PublishResponse delivers a correlated reply back to requesters.
func (b *Bus) PublishResponse(resp Response) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]ResponseHandler, len(b.responses))
	copy(handlers, b.responses)
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(resp)
	}
}
