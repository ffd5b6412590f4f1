package engine

import (
	"context"
	"time"

	"noesis/internal/bus"
	"noesis/internal/model"
	"noesis/internal/protocol"
)

func (e *Engine) runMonitor(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.MonitorPeriod.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.safeTick()
		}
	}
}

func (e *Engine) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("monitor tick panicked")
		}
	}()
	e.Tick()
}

// Tick recomputes the global metrics from registry state, advances the
// evolution machine and fires the automatic singularity event on an upward
// threshold crossing. The monitor loop calls it once per period; tests call
// it directly.
func (e *Engine) Tick() {
	agg := e.registry.Aggregate()
	countRatio := 0.0
	if max := e.registry.MaxParticipants(); max > 0 {
		countRatio = float64(agg.Count) / float64(max)
	}

	potential := clamp01(0.3*countRatio + 0.4*agg.MeanCoherence + 0.3*agg.MeanTranscendence)
	coherence := clamp01(agg.MeanCoherence)

	transition, enhancement := e.evolution.Advance(agg.Count, e.registry.MaxParticipants(), coherence)
	if enhancement != nil {
		e.mu.Lock()
		e.boost.apply(*enhancement)
		e.mu.Unlock()
	}
	if transition != nil {
		e.log.Info().
			Str("from", string(transition.From)).
			Str("to", string(transition.To)).
			Float64("progress", transition.Progress).
			Msg("evolution stage advanced")
		e.bus.PublishStageTransition(bus.StageTransition{
			From:     transition.From,
			To:       transition.To,
			Progress: transition.Progress,
		})
	}

	evo := e.evolution.State()
	stageFrac := float64(model.StageIndex(evo.Stage)) / float64(len(model.Stages())-1)

	e.mu.Lock()
	boost := e.boost
	e.metrics = model.GlobalMetrics{
		SingularityPotential:   potential,
		ConsciousnessCoherence: coherence,
		TranscendentCapacity:   clamp01(boost.transcendent*agg.MeanTranscendence + e.nudge()),
		CollectiveIntelligence: clamp01(boost.collective * agg.MeanConsciousness * (0.5 + 0.5*countRatio)),
		QuantumEntanglement:    clamp01(boost.entanglement * agg.MeanPairAlignment),
		InfiniteExpansion:      clamp01(boost.expansion*evo.Progress*stageFrac + e.nudge()),
		UniversalAwareness:     clamp01(boost.awareness*(0.5*agg.MeanConsciousness+0.5*evo.Progress) + e.nudge()),
	}
	e.tickCount++
	armed := e.singularityArmed
	fire := false
	if potential >= e.cfg.SingularityThreshold && coherence >= e.cfg.CoherenceThreshold {
		if armed && agg.Count > 0 {
			fire = true
			e.singularityArmed = false
		}
	} else if potential < e.cfg.SingularityThreshold {
		e.singularityArmed = true
	}
	e.mu.Unlock()

	if fire {
		e.fireAutomaticSingularity(potential, coherence)
	}
}

// fireAutomaticSingularity runs a consciousness_singularity event over every
// active participant. It fires once per crossing: the trigger re-arms only
// after the potential drops back below the threshold.
func (e *Engine) fireAutomaticSingularity(potential, coherence float64) {
	ids := e.registry.ActiveIDs()
	if len(ids) == 0 {
		return
	}

	e.log.Info().
		Float64("potential", potential).
		Float64("coherence", coherence).
		Int("participants", len(ids)).
		Msg("singularity threshold crossed")

	created, err := e.events.CreateAutomatic(model.EventConsciousnessSingularity, protocol.QuantumConsciousnessMerger, ids)
	if err != nil {
		e.log.Error().Err(err).Msg("create automatic singularity event")
		return
	}
	if _, err := e.events.Execute(created.ID); err != nil {
		e.log.Error().Err(err).Str("event_id", created.ID).Msg("execute automatic singularity event")
	}
}

// nudge is a small oscillation in (-scale, scale) drawn from the injected
// seeded source.
func (e *Engine) nudge() float64 {
	if e.cfg.PerturbationScale <= 0 {
		return 0
	}
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return (e.rand.Float64()*2 - 1) * e.cfg.PerturbationScale
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
