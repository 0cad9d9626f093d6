package miflora

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

var (
	dataServiceUUID = mustUUID("00001204-0000-1000-8000-00805f9b34fb")

	characteristicUUIDs = map[Characteristic]bluetooth.UUID{
		CharModeChange:      mustUUID("00001a00-0000-1000-8000-00805f9b34fb"),
		CharData:            mustUUID("00001a01-0000-1000-8000-00805f9b34fb"),
		CharFirmwareBattery: mustUUID("00001a02-0000-1000-8000-00805f9b34fb"),
	}

	// ErrNameNotSeen is returned when no advertisement named the device in time
	ErrNameNotSeen = errors.New("no advertisement with a local name")
)

// nameScanTimeout bounds the advertisement scan in LocalName.
const nameScanTimeout = 10 * time.Second

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BLEBackend talks to devices through a local HCI adapter.
// The radio is a single shared channel, so sessions are serialized.
type BLEBackend struct {
	adapter *bluetooth.Adapter
	mu      sync.Mutex
}

// NewBLEBackend enables the named adapter (e.g. "hci0").
func NewBLEBackend(adapterID string) (*BLEBackend, error) {
	adapter := bluetooth.NewAdapter(adapterID)
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter %s: %w", adapterID, err)
	}
	return &BLEBackend{adapter: adapter}, nil
}

// Connect implements Backend. The session holds the radio until Close.
func (b *BLEBackend) Connect(mac string) (Session, error) {
	parsed, err := bluetooth.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("parse address %s: %w", mac, err)
	}

	b.mu.Lock()
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: parsed}}
	device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	s := &bleSession{
		device:  device,
		release: b.mu.Unlock,
		chars:   make(map[Characteristic]bluetooth.DeviceCharacteristic),
	}
	if err := s.discover(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// LocalName implements NameResolver. BlueZ keeps the GAP service to itself,
// so the name comes from the device's advertisement or scan response.
func (b *BLEBackend) LocalName(mac string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var name string
	timer := time.AfterFunc(nameScanTimeout, func() { _ = b.adapter.StopScan() })
	defer timer.Stop()

	err := b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !strings.EqualFold(result.Address.String(), mac) {
			return
		}
		if n := result.LocalName(); n != "" {
			name = n
			_ = adapter.StopScan()
		}
	})
	if err != nil {
		return "", fmt.Errorf("scan for %s: %w", mac, err)
	}
	if name == "" {
		return "", ErrNameNotSeen
	}
	return name, nil
}

type bleSession struct {
	device  bluetooth.Device
	release func()
	once    sync.Once
	chars   map[Characteristic]bluetooth.DeviceCharacteristic
}

func (s *bleSession) discover() error {
	services, err := s.device.DiscoverServices([]bluetooth.UUID{dataServiceUUID})
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}

	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("discover characteristics: %w", err)
		}
		for _, c := range chars {
			for id, uuid := range characteristicUUIDs {
				if c.UUID() == uuid {
					s.chars[id] = c
				}
			}
		}
	}
	return nil
}

func (s *bleSession) lookup(ch Characteristic) (bluetooth.DeviceCharacteristic, error) {
	c, ok := s.chars[ch]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %d not found on device", ch)
	}
	return c, nil
}

func (s *bleSession) Read(ch Characteristic) ([]byte, error) {
	c, err := s.lookup(ch)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (s *bleSession) Write(ch Characteristic, data []byte) error {
	c, err := s.lookup(ch)
	if err != nil {
		return err
	}
	_, err = c.WriteWithoutResponse(data)
	return err
}

func (s *bleSession) Close() error {
	var err error
	s.once.Do(func() {
		err = s.device.Disconnect()
		s.release()
	})
	return err
}
