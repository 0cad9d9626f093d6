// Package sensor models the configured plant sensors: their identity,
// firmware state, poll statistics and the readings taken from them.
package sensor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrEmptyName is returned when a label cleans down to nothing.
var ErrEmptyName = errors.New("sensor name is empty after normalization")

// Handle is one configured sensor. Identity fields are fixed at construction;
// firmware and stats change over the process lifetime.
type Handle struct {
	NameRaw        string // label as written in the configuration
	NamePretty     string // label part before "@"
	LocationPretty string // label part after "@", may be empty
	Name           string // cleaned name, used in topics
	Location       string // cleaned location
	Address        string // lowercase colon separated MAC

	mu         sync.RWMutex
	firmware   string
	deviceName string

	stats Stats
}

// NewHandle validates the address, splits and cleans the label.
func NewHandle(label, address string) (*Handle, error) {
	mac, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	namePretty, locationPretty := SplitName(label)
	name := CleanIdentifier(namePretty)
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyName, label)
	}

	return &Handle{
		NameRaw:        label,
		NamePretty:     namePretty,
		LocationPretty: locationPretty,
		Name:           name,
		Location:       CleanIdentifier(locationPretty),
		Address:        mac,
		firmware:       PlaceholderFirmware,
	}, nil
}

// Firmware returns the firmware version recorded at probe time.
func (h *Handle) Firmware() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.firmware
}

// SetFirmware records the firmware reported by the device.
func (h *Handle) SetFirmware(v string) {
	h.mu.Lock()
	h.firmware = v
	h.mu.Unlock()
}

// DeviceName returns the name the device advertises, if it was read.
func (h *Handle) DeviceName() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deviceName
}

// SetDeviceName records the advertised device name.
func (h *Handle) SetDeviceName(name string) {
	h.mu.Lock()
	h.deviceName = name
	h.mu.Unlock()
}

// FirmwareSupported reports whether the recorded firmware meets MinSupportedFirmware.
func (h *Handle) FirmwareSupported() bool {
	return FirmwareAtLeast(h.Firmware(), MinSupportedFirmware)
}

// Stats returns the live counters of this sensor.
func (h *Handle) Stats() *Stats {
	return &h.stats
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s (%s)", h.NamePretty, h.Address)
}

// Stats counts poll outcomes. Counters only grow.
type Stats struct {
	attempts  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
}

func (s *Stats) RecordAttempt() { s.attempts.Add(1) }
func (s *Stats) RecordSuccess() { s.successes.Add(1) }
func (s *Stats) RecordFailure() { s.failures.Add(1) }

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Attempts:  s.attempts.Load(),
		Successes: s.successes.Load(),
		Failures:  s.failures.Load(),
	}
}

// SuccessRate is successes/attempts in [0,1]; zero before the first attempt.
func (s StatsSnapshot) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}
