// Package miflora reads Xiaomi Mi Flora plant sensors over Bluetooth LE.
//
// A Poller keeps the last raw frames read from the device in a cache that
// expires after a configurable timeout, so that decoding several parameters
// in a row costs a single radio session.
package miflora

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"floradaemon/internal/sensor"
)

var (
	// ErrNoData is returned when a parameter is requested but nothing could be cached.
	ErrNoData = errors.New("no data cached")

	// ErrInvalidData is returned for frames the device sends while not ready.
	ErrInvalidData = errors.New("invalid data frame")
)

// Characteristic identifies a GATT value the driver reads or writes.
type Characteristic int

const (
	CharDeviceName Characteristic = iota
	CharModeChange
	CharData
	CharFirmwareBattery
)

// Backend opens radio sessions to a device.
type Backend interface {
	Connect(mac string) (Session, error)
}

// NameResolver is implemented by backends that learn device names without a
// GATT session, e.g. from advertisement data.
type NameResolver interface {
	LocalName(mac string) (string, error)
}

// Session is one open connection to a device.
type Session interface {
	Read(ch Characteristic) ([]byte, error)
	Write(ch Characteristic, data []byte) error
	Close() error
}

// modeChangeCommand switches newer firmware into live data mode.
var modeChangeCommand = []byte{0xa0, 0x1f}

// modeChangeFirmware is the first firmware that needs modeChangeCommand.
const modeChangeFirmware = "2.6.6"

// notReadyPrefix marks a data frame sent before the sensor is ready.
var notReadyPrefix = []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

// Poller reads one device and caches its last raw frames.
type Poller struct {
	mac          string
	backend      Backend
	cacheTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	data     []byte // live data frame
	fwBatt   []byte // firmware/battery frame
	lastRead time.Time
}

// NewPoller creates a poller for mac. A zero cacheTimeout disables reuse
// of the cache across FillCache calls.
func NewPoller(mac string, backend Backend, cacheTimeout time.Duration) *Poller {
	return &Poller{
		mac:          mac,
		backend:      backend,
		cacheTimeout: cacheTimeout,
		now:          time.Now,
	}
}

// MAC returns the device address
func (p *Poller) MAC() string {
	return p.mac
}

// ClearCache discards the cached frames so the next read goes to the device.
func (p *Poller) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
}

func (p *Poller) clearLocked() {
	p.data = nil
	p.fwBatt = nil
	p.lastRead = time.Time{}
}

// expiredLocked reports whether the cached frames outlived cacheTimeout.
// Without a timeout the cache never expires on its own.
func (p *Poller) expiredLocked() bool {
	return p.cacheTimeout > 0 && p.now().Sub(p.lastRead) >= p.cacheTimeout
}

// HasCache reports whether a data frame is cached.
func (p *Poller) HasCache() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data) > 0
}

// FillCache reads fresh frames from the device unless the cache is still valid.
func (p *Poller) FillCache() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fillLocked()
}

func (p *Poller) fillLocked() error {
	if len(p.data) > 0 && p.cacheTimeout > 0 && !p.expiredLocked() {
		return nil
	}

	session, err := p.backend.Connect(p.mac)
	if err != nil {
		return fmt.Errorf("connect %s: %w", p.mac, err)
	}
	defer session.Close()

	fwBatt, err := session.Read(CharFirmwareBattery)
	if err != nil {
		return fmt.Errorf("read firmware from %s: %w", p.mac, err)
	}

	if sensor.FirmwareAtLeast(parseFirmware(fwBatt), modeChangeFirmware) {
		if err := session.Write(CharModeChange, modeChangeCommand); err != nil {
			return fmt.Errorf("enable data mode on %s: %w", p.mac, err)
		}
	}

	data, err := session.Read(CharData)
	if err != nil {
		return fmt.Errorf("read data from %s: %w", p.mac, err)
	}

	p.fwBatt = fwBatt
	p.data = data
	p.lastRead = p.now()
	return nil
}

// ParameterValue decodes one parameter from the cache, filling it first if needed.
func (p *Poller) ParameterValue(param sensor.Parameter) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.data) == 0 || p.expiredLocked() {
		if err := p.fillLocked(); err != nil {
			return 0, err
		}
	}
	if len(p.data) == 0 {
		return 0, ErrNoData
	}

	if param == sensor.Battery {
		if len(p.fwBatt) < 1 {
			return 0, fmt.Errorf("%w: firmware frame too short", ErrInvalidData)
		}
		return float64(p.fwBatt[0]), nil
	}

	values, err := decodeData(p.data)
	if err != nil {
		return 0, err
	}
	v, ok := values[param]
	if !ok {
		return 0, fmt.Errorf("unsupported parameter %q", param)
	}
	return v, nil
}

// FirmwareVersion returns the firmware string, reading the device if nothing is cached.
func (p *Poller) FirmwareVersion() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.fwBatt) == 0 {
		if err := p.fillLocked(); err != nil {
			return "", err
		}
	}
	fw := parseFirmware(p.fwBatt)
	if fw == "" {
		return "", fmt.Errorf("%w: firmware frame too short", ErrInvalidData)
	}
	return fw, nil
}

// Name returns the advertised device name. Backends implementing NameResolver
// answer from advertisements; others read the GAP name characteristic.
func (p *Poller) Name() (string, error) {
	if r, ok := p.backend.(NameResolver); ok {
		name, err := r.LocalName(p.mac)
		if err != nil {
			return "", fmt.Errorf("resolve name of %s: %w", p.mac, err)
		}
		return strings.TrimRight(name, "\x00"), nil
	}

	session, err := p.backend.Connect(p.mac)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", p.mac, err)
	}
	defer session.Close()

	raw, err := session.Read(CharDeviceName)
	if err != nil {
		return "", fmt.Errorf("read name from %s: %w", p.mac, err)
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}

// parseFirmware extracts the version from the firmware/battery frame:
// byte 0 is the battery level, bytes 2..6 the ASCII version.
func parseFirmware(frame []byte) string {
	if len(frame) < 3 {
		return ""
	}
	end := len(frame)
	if end > 7 {
		end = 7
	}
	return strings.TrimRight(string(frame[2:end]), "\x00")
}

// decodeData parses the 16 byte live data frame.
func decodeData(frame []byte) (map[sensor.Parameter]float64, error) {
	if len(frame) >= len(notReadyPrefix) && string(frame[:len(notReadyPrefix)]) == string(notReadyPrefix) {
		return nil, fmt.Errorf("%w: sensor not ready", ErrInvalidData)
	}
	if len(frame) < 10 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidData, len(frame))
	}

	temp := float64(int16(binary.LittleEndian.Uint16(frame[0:2]))) / 10
	return map[sensor.Parameter]float64{
		sensor.Temperature:  math.Round(temp*10) / 10,
		sensor.Light:        float64(binary.LittleEndian.Uint32(frame[3:7])),
		sensor.Moisture:     float64(frame[7]),
		sensor.Conductivity: float64(binary.LittleEndian.Uint16(frame[8:10])),
	}, nil
}
