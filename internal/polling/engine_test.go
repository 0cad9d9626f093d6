package polling

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"floradaemon/internal/sensor"
)

// flakyDevice fails its first failFills fetches, then serves fixed values.
type flakyDevice struct {
	failFills int
	failErr   error
	fills     int
	cached    bool
	firmware  string
}

func (d *flakyDevice) ClearCache()    { d.cached = false }
func (d *flakyDevice) HasCache() bool { return d.cached }

func (d *flakyDevice) FillCache() error {
	d.fills++
	if d.fills <= d.failFills {
		return d.failErr
	}
	d.cached = true
	return nil
}

func (d *flakyDevice) ParameterValue(p sensor.Parameter) (float64, error) {
	if !d.cached {
		return 0, errors.New("no data cached")
	}
	switch p {
	case sensor.Light:
		return 1500, nil
	case sensor.Temperature:
		return 19.8, nil
	case sensor.Moisture:
		return 35, nil
	case sensor.Conductivity:
		return 410, nil
	case sensor.Battery:
		return 97, nil
	}
	return 0, fmt.Errorf("unknown %s", p)
}

func (d *flakyDevice) FirmwareVersion() (string, error) {
	if !d.cached {
		return "", errors.New("no data cached")
	}
	return d.firmware, nil
}

func (d *flakyDevice) Name() (string, error) { return "Flower care", nil }

// undecodableDevice caches but never yields a value.
type undecodableDevice struct{ flakyDevice }

func (d *undecodableDevice) ParameterValue(sensor.Parameter) (float64, error) {
	return 0, errors.New("invalid data frame")
}

func newHandle(t *testing.T) *sensor.Handle {
	t.Helper()
	h, err := sensor.NewHandle("Fern@Office", "c4:7c:8d:6a:3e:7a")
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return h
}

func TestPollRetryBound(t *testing.T) {
	const n = 3
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for k := 0; k <= n+1; k++ {
		t.Run(fmt.Sprintf("fails_%d", k), func(t *testing.T) {
			h := newHandle(t)
			dev := &flakyDevice{failFills: k, failErr: errors.New("timeout")}
			engine := NewEngine(zerolog.New(io.Discard), WithAttempts(n), WithClock(func() time.Time { return stamp }))

			reading, err := engine.Poll(h, dev)
			stats := h.Stats().Snapshot()

			if stats.Attempts != 1 {
				t.Errorf("attempts = %d, want 1", stats.Attempts)
			}

			if k < n {
				if err != nil {
					t.Fatalf("Poll: %v", err)
				}
				if stats.Successes != 1 || stats.Failures != 0 {
					t.Errorf("stats = %+v", stats)
				}
				if reading.Light != 1500 || reading.Temperature != 19.8 || reading.Moisture != 35 ||
					reading.Conductivity != 410 || reading.Battery != 97 {
					t.Errorf("reading = %+v", reading)
				}
				if !reading.Time.Equal(stamp) || reading.Sensor != h {
					t.Errorf("reading metadata = %v %v", reading.Time, reading.Sensor)
				}
				return
			}

			if reading != nil {
				t.Fatalf("expected no reading, got %+v", reading)
			}
			if !errors.Is(err, ErrExhausted) {
				t.Fatalf("expected ErrExhausted, got %v", err)
			}
			if stats.Successes != 0 || stats.Failures != 1 {
				t.Errorf("stats = %+v", stats)
			}
			if dev.fills != n {
				t.Errorf("fills = %d, want %d", dev.fills, n)
			}
		})
	}
}

func TestPollDefaultAttempts(t *testing.T) {
	h := newHandle(t)
	dev := &flakyDevice{failFills: MaxAttempts - 1, failErr: errors.New("busy")}

	if _, err := NewEngine(zerolog.New(io.Discard)).Poll(h, dev); err != nil {
		t.Fatalf("Poll should succeed on the last attempt: %v", err)
	}
}

func TestPollEmptyErrorMessage(t *testing.T) {
	h := newHandle(t)
	dev := &flakyDevice{failFills: 10, failErr: errors.New("")}

	_, err := NewEngine(zerolog.New(io.Discard)).Poll(h, dev)

	var fail *Failure
	if !errors.As(err, &fail) {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if fail.Error() == "" {
		t.Error("failure message must not be empty")
	}
	if fail.Stats.SuccessRate() != 0 {
		t.Errorf("success rate = %v", fail.Stats.SuccessRate())
	}
}

func TestPollUndecodableCacheIsFailure(t *testing.T) {
	h := newHandle(t)
	dev := &undecodableDevice{}

	reading, err := NewEngine(zerolog.New(io.Discard)).Poll(h, dev)
	if reading != nil || err == nil {
		t.Fatalf("undecodable data must not produce a reading: %v, %v", reading, err)
	}
	if got := h.Stats().Snapshot(); got.Successes != 0 || got.Failures != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestPollSuccessRateDeclines(t *testing.T) {
	h := newHandle(t)
	engine := NewEngine(zerolog.New(io.Discard))

	if _, err := engine.Poll(h, &flakyDevice{}); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	var fail *Failure
	_, err := engine.Poll(h, &flakyDevice{failFills: 100, failErr: errors.New("gone")})
	if !errors.As(err, &fail) {
		t.Fatalf("expected failure, got %v", err)
	}
	if rate := fail.Stats.SuccessRate(); rate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", rate)
	}
}

func TestProbe(t *testing.T) {
	h := newHandle(t)
	engine := NewEngine(zerolog.New(io.Discard))

	if err := engine.Probe(h, &flakyDevice{firmware: "3.2.1"}); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if h.Firmware() != "3.2.1" || !h.FirmwareSupported() {
		t.Errorf("firmware = %q supported=%v", h.Firmware(), h.FirmwareSupported())
	}
	if h.DeviceName() != "Flower care" {
		t.Errorf("device name = %q", h.DeviceName())
	}

	failing := newHandle(t)
	if err := engine.Probe(failing, &flakyDevice{failFills: 1, failErr: errors.New("unreachable")}); err == nil {
		t.Fatal("expected probe failure")
	}
	if failing.Firmware() != sensor.PlaceholderFirmware {
		t.Errorf("failed probe firmware = %q", failing.Firmware())
	}
}
