// Package daemon drives the sweep loop: probe every sensor, announce the
// fleet once, then poll and publish in configuration order.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"floradaemon/internal/polling"
	"floradaemon/internal/report"
	"floradaemon/internal/sensor"
)

// Sink receives encoded messages. Close releases the underlying connection.
type Sink interface {
	Deliver(msgs []report.Message) error
	Close() error
}

// Observer is notified of sweep outcomes. Metrics, the event log and the
// live feed implement it.
type Observer interface {
	ObserveReading(r *sensor.Reading)
	ObserveFailure(h *sensor.Handle)
	SweepDone(at time.Time)
}

// Target pairs a sensor with the device that reads it.
type Target struct {
	Handle *sensor.Handle
	Device polling.Device
}

// State of the scheduler
type State int

const (
	StateSweeping State = iota
	StateIdle
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSweeping:
		return "sweeping"
	case StateIdle:
		return "idle"
	default:
		return "done"
	}
}

// Options configures a Scheduler
type Options struct {
	Daemon    bool          // repeat sweeps until cancelled
	Period    time.Duration // idle time between sweeps
	Observers []Observer
}

// Scheduler runs sweeps over a fixed, ordered set of targets.
type Scheduler struct {
	targets   []Target
	handles   []*sensor.Handle
	engine    *polling.Engine
	encoder   *report.Encoder
	sink      Sink
	observers []Observer
	daemon    bool
	period    time.Duration
	logger    zerolog.Logger
	now       func() time.Time
	state     atomic.Int32
}

// New creates a Scheduler
func New(targets []Target, engine *polling.Engine, encoder *report.Encoder, sink Sink, opts Options, logger zerolog.Logger) *Scheduler {
	handles := make([]*sensor.Handle, len(targets))
	for i, t := range targets {
		handles[i] = t.Handle
	}

	return &Scheduler{
		targets:   targets,
		handles:   handles,
		engine:    engine,
		encoder:   encoder,
		sink:      sink,
		observers: opts.Observers,
		daemon:    opts.Daemon,
		period:    opts.Period,
		logger:    logger,
		now:       time.Now,
	}
}

// State returns the current scheduler state
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// Run probes, announces and sweeps until done. The sink is closed on return,
// after the offline messages are delivered.
func (s *Scheduler) Run(ctx context.Context) error {
	defer func() {
		s.setState(StateDone)
		s.deliver(s.encoder.Offline(s.handles))
		if err := s.sink.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close sink")
		}
	}()

	s.deliver(s.encoder.Online())

	s.Probe(ctx)
	if ctx.Err() != nil {
		return nil
	}

	announce := s.encoder.Announce(s.handles, s.now())
	if len(announce) > 0 {
		s.logger.Info().Int("messages", len(announce)).Msg("Announcing Mi Flora devices")
		s.deliver(announce)
	}

	for {
		s.Sweep(ctx)
		if !s.daemon || ctx.Err() != nil {
			return nil
		}

		s.setState(StateIdle)
		s.logger.Info().Msgf("Sleeping for %d seconds ...", int(s.period.Seconds()))
		if !idle(ctx, s.period) {
			s.logger.Info().Msg("Shutdown requested")
			return nil
		}
	}
}

// Probe performs the initial connection test of every target. Sensors that
// fail keep their placeholder firmware and stay in the sweep.
func (s *Scheduler) Probe(ctx context.Context) {
	failed := 0
	for _, t := range s.targets {
		if ctx.Err() != nil {
			return
		}
		if err := s.engine.Probe(t.Handle, t.Device); err != nil {
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn().Msgf("%d of %d sensors failed the initial connection, polling them anyway", failed, len(s.targets))
	}
}

// Sweep polls every target once, in order.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.setState(StateSweeping)

	for _, t := range s.targets {
		if ctx.Err() != nil {
			return
		}

		reading, err := s.engine.Poll(t.Handle, t.Device)
		if err != nil {
			for _, o := range s.observers {
				o.ObserveFailure(t.Handle)
			}
			s.deliver(s.encoder.Failure(t.Handle))
			continue
		}

		s.deliver(s.encoder.Encode(reading))
		for _, o := range s.observers {
			o.ObserveReading(reading)
		}
	}

	at := s.now()
	for _, o := range s.observers {
		o.SweepDone(at)
	}
}

// deliver is best-effort. Publish failures never stop the sweep.
func (s *Scheduler) deliver(msgs []report.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := s.sink.Deliver(msgs); err != nil {
		s.logger.Warn().Err(err).Msg("Some messages were not delivered")
	}
}

// idle waits for d, returning false if ctx is cancelled first.
func idle(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
