package miflora

import (
	"errors"
	"testing"
	"time"

	"floradaemon/internal/sensor"
)

// fakeBackend serves fixed frames and counts connections.
type fakeBackend struct {
	fwBatt     []byte
	data       []byte
	name       string
	connectErr error
	connects   int
	writes     [][]byte
}

func (f *fakeBackend) Connect(mac string) (Session, error) {
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeSession{backend: f}, nil
}

type fakeSession struct {
	backend *fakeBackend
}

func (s *fakeSession) Read(ch Characteristic) ([]byte, error) {
	switch ch {
	case CharFirmwareBattery:
		return s.backend.fwBatt, nil
	case CharData:
		return s.backend.data, nil
	case CharDeviceName:
		return []byte(s.backend.name), nil
	}
	return nil, errors.New("unexpected read")
}

func (s *fakeSession) Write(ch Characteristic, data []byte) error {
	if ch != CharModeChange {
		return errors.New("unexpected write")
	}
	s.backend.writes = append(s.backend.writes, data)
	return nil
}

func (s *fakeSession) Close() error { return nil }

// 21.5 °C, 1234 lux, 42 %, 350 µS/cm
var sampleData = []byte{0xd7, 0x00, 0x00, 0xd2, 0x04, 0x00, 0x00, 0x2a, 0x5e, 0x01, 0x02, 0x3c, 0x00, 0xfb, 0x34, 0x9b}

func sampleFirmware(version string, battery byte) []byte {
	return append([]byte{battery, 0x15}, []byte(version)...)
}

func TestPollerDecodesAllParameters(t *testing.T) {
	backend := &fakeBackend{fwBatt: sampleFirmware("3.2.1", 87), data: sampleData}
	p := NewPoller("c4:7c:8d:6a:3e:7a", backend, time.Minute)

	if err := p.FillCache(); err != nil {
		t.Fatalf("FillCache: %v", err)
	}

	want := map[sensor.Parameter]float64{
		sensor.Temperature:  21.5,
		sensor.Light:        1234,
		sensor.Moisture:     42,
		sensor.Conductivity: 350,
		sensor.Battery:      87,
	}
	for param, w := range want {
		got, err := p.ParameterValue(param)
		if err != nil {
			t.Fatalf("ParameterValue(%s): %v", param, err)
		}
		if got != w {
			t.Errorf("ParameterValue(%s) = %v, want %v", param, got, w)
		}
	}

	if backend.connects != 1 {
		t.Errorf("expected a single radio session, got %d", backend.connects)
	}
	if len(backend.writes) != 1 {
		t.Errorf("expected mode change write for firmware 3.2.1, got %d writes", len(backend.writes))
	}

	fw, err := p.FirmwareVersion()
	if err != nil || fw != "3.2.1" {
		t.Errorf("FirmwareVersion = %q, %v", fw, err)
	}
}

func TestPollerOldFirmwareSkipsModeChange(t *testing.T) {
	backend := &fakeBackend{fwBatt: sampleFirmware("2.6.2", 99), data: sampleData}
	p := NewPoller("c4:7c:8d:6a:3e:7a", backend, time.Minute)

	if err := p.FillCache(); err != nil {
		t.Fatalf("FillCache: %v", err)
	}
	if len(backend.writes) != 0 {
		t.Errorf("old firmware should not receive mode change, got %d writes", len(backend.writes))
	}
}

func TestPollerCacheLifecycle(t *testing.T) {
	backend := &fakeBackend{fwBatt: sampleFirmware("3.2.1", 87), data: sampleData}
	p := NewPoller("c4:7c:8d:6a:3e:7a", backend, time.Minute)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if p.HasCache() {
		t.Fatal("new poller should have an empty cache")
	}
	_ = p.FillCache()
	_ = p.FillCache()
	if backend.connects != 1 {
		t.Errorf("fresh cache should be reused, connects = %d", backend.connects)
	}

	now = now.Add(2 * time.Minute)
	_ = p.FillCache()
	if backend.connects != 2 {
		t.Errorf("expired cache should be refilled, connects = %d", backend.connects)
	}

	p.ClearCache()
	if p.HasCache() {
		t.Error("ClearCache left data behind")
	}
}

func TestPollerRejectsNotReadyFrame(t *testing.T) {
	notReady := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x99, 0x88, 0x77, 0x66, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	backend := &fakeBackend{fwBatt: sampleFirmware("3.2.1", 87), data: notReady}
	p := NewPoller("c4:7c:8d:6a:3e:7a", backend, time.Minute)

	if err := p.FillCache(); err != nil {
		t.Fatalf("FillCache: %v", err)
	}
	if _, err := p.ParameterValue(sensor.Light); !errors.Is(err, ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}
}

func TestPollerConnectFailure(t *testing.T) {
	backend := &fakeBackend{connectErr: errors.New("le-connection-abort-by-local")}
	p := NewPoller("c4:7c:8d:6a:3e:7a", backend, time.Minute)

	if err := p.FillCache(); err == nil {
		t.Fatal("expected error")
	}
	if p.HasCache() {
		t.Error("failed fill must not populate the cache")
	}
}

func TestPollerName(t *testing.T) {
	backend := &fakeBackend{name: "Flower care\x00"}
	p := NewPoller("c4:7c:8d:6a:3e:7a", backend, time.Minute)

	name, err := p.Name()
	if err != nil || name != "Flower care" {
		t.Errorf("Name = %q, %v", name, err)
	}
}

// advertisingBackend resolves names from advertisements and never serves GAP reads.
type advertisingBackend struct {
	fakeBackend
	names   map[string]string
	lookups []string
}

func (a *advertisingBackend) LocalName(mac string) (string, error) {
	a.lookups = append(a.lookups, mac)
	name, ok := a.names[mac]
	if !ok {
		return "", errors.New("not advertised")
	}
	return name, nil
}

func TestPollerNameFromAdvertisement(t *testing.T) {
	tests := []struct {
		name    string
		mac     string
		want    string
		wantErr bool
	}{
		{"advertised", "c4:7c:8d:6a:3e:7a", "Flower care", false},
		{"not advertised", "c4:7c:8d:6a:3e:7b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &advertisingBackend{
				fakeBackend: fakeBackend{name: "from gatt"},
				names:       map[string]string{"c4:7c:8d:6a:3e:7a": "Flower care"},
			}
			p := NewPoller(tt.mac, backend, time.Minute)

			got, err := p.Name()
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("Name = %q, %v; want %q", got, err, tt.want)
			}
			if backend.connects != 0 {
				t.Errorf("name lookup opened %d GATT sessions", backend.connects)
			}
			if len(backend.lookups) != 1 || backend.lookups[0] != tt.mac {
				t.Errorf("lookups = %v", backend.lookups)
			}
		})
	}
}
