// Package polling reads sensors reliably: every sweep clears the device
// cache, retries a bounded number of times and only reports a Reading when
// the device actually returned decodable data.
package polling

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"floradaemon/internal/sensor"
)

// MaxAttempts is the number of fetch attempts per sensor per sweep.
const MaxAttempts = 3

// ErrExhausted is wrapped by every Failure.
var ErrExhausted = errors.New("all fetch attempts failed")

// Device is the driver capability the engine needs from a sensor.
type Device interface {
	ClearCache()
	HasCache() bool
	FillCache() error
	ParameterValue(p sensor.Parameter) (float64, error)
	FirmwareVersion() (string, error)
	Name() (string, error)
}

// Failure is returned when a sensor could not be read in a sweep.
type Failure struct {
	Sensor  *sensor.Handle
	LastErr error
	Stats   sensor.StatsSnapshot
}

func (f *Failure) Error() string {
	if f.LastErr == nil || f.LastErr.Error() == "" {
		return fmt.Sprintf("%s: %v", f.Sensor, ErrExhausted)
	}
	return fmt.Sprintf("%s: %v: %v", f.Sensor, ErrExhausted, f.LastErr)
}

func (f *Failure) Unwrap() []error {
	return []error{ErrExhausted, f.LastErr}
}

// Engine polls sensors one at a time.
type Engine struct {
	attempts int
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithAttempts overrides MaxAttempts.
func WithAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// WithClock replaces time.Now for reading timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine
func NewEngine(logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		attempts: MaxAttempts,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Poll performs one live fetch of h through dev. It records exactly one
// attempt in h's stats and either a success or a failure.
func (e *Engine) Poll(h *sensor.Handle, dev Device) (*sensor.Reading, error) {
	stats := h.Stats()
	stats.RecordAttempt()

	e.logger.Info().Str("sensor", h.NamePretty).Msgf("Retrieving data from sensor %q ...", h.NamePretty)

	dev.ClearCache()
	var lastErr error
	remaining := e.attempts
	for remaining > 0 && !dev.HasCache() {
		err := fetch(dev)
		if err == nil {
			break
		}

		lastErr = err
		remaining--
		dev.ClearCache()
		if remaining > 0 {
			if err.Error() != "" {
				e.logger.Warn().Str("sensor", h.NamePretty).Msgf("Retrying due to exception: %v", err)
			} else {
				e.logger.Warn().Str("sensor", h.NamePretty).Msg("Retrying ...")
			}
		}
	}

	var reading *sensor.Reading
	if dev.HasCache() {
		var err error
		reading, err = decode(h, dev, e.now())
		if err != nil {
			lastErr = err
			reading = nil
		}
	}

	if reading == nil {
		stats.RecordFailure()
		fail := &Failure{Sensor: h, LastErr: lastErr, Stats: stats.Snapshot()}
		e.logger.Error().Str("sensor", h.NamePretty).Msgf(
			"Failed to retrieve data from Mi Flora sensor %q (%s), success rate: %.0f%%",
			h.NamePretty, h.Address, fail.Stats.SuccessRate()*100)
		return nil, fail
	}

	stats.RecordSuccess()
	return reading, nil
}

// fetch fills the cache and forces one decode to prove the device sent usable data.
func fetch(dev Device) error {
	if err := dev.FillCache(); err != nil {
		return err
	}
	_, err := dev.ParameterValue(sensor.Light)
	return err
}

func decode(h *sensor.Handle, dev Device, at time.Time) (*sensor.Reading, error) {
	values := make(map[sensor.Parameter]float64, len(sensor.Parameters))
	for _, p := range sensor.Parameters {
		v, err := dev.ParameterValue(p)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		values[p] = v
	}

	return &sensor.Reading{
		Sensor:       h,
		Time:         at,
		Light:        int(values[sensor.Light]),
		Temperature:  values[sensor.Temperature],
		Moisture:     int(values[sensor.Moisture]),
		Conductivity: int(values[sensor.Conductivity]),
		Battery:      int(values[sensor.Battery]),
	}, nil
}

// Probe performs the initial connection test for h. On failure the handle
// keeps the placeholder firmware and stays in the tracked set.
func (e *Engine) Probe(h *sensor.Handle, dev Device) error {
	log := e.logger.With().Str("sensor", h.NamePretty).Logger()

	err := fetch(dev)
	if err == nil {
		var fw string
		fw, err = dev.FirmwareVersion()
		if err == nil {
			h.SetFirmware(fw)
		}
	}
	if err != nil {
		dev.ClearCache()
		log.Error().Err(err).Msgf("Initial connection to Mi Flora sensor %q (%s) failed", h.NamePretty, h.Address)
		return err
	}

	if name, nameErr := dev.Name(); nameErr == nil {
		h.SetDeviceName(name)
	}

	log.Info().
		Str("internal_name", h.Name).
		Str("device_name", h.DeviceName()).
		Str("mac", h.Address).
		Str("firmware", h.Firmware()).
		Msgf("Initial connection to Mi Flora sensor %q (%s) successful", h.NamePretty, h.Address)

	if !h.FirmwareSupported() {
		log.Error().Msgf("Mi Flora sensor with a firmware version before %s is not supported. Please update now.",
			sensor.MinSupportedFirmware)
	}
	return nil
}
