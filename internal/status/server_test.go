package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"floradaemon/internal/events"
	"floradaemon/internal/metrics"
	"floradaemon/internal/sensor"
)

func newTestServer(t *testing.T) (*httptest.Server, *sensor.Registry, *events.Store, *Hub) {
	t.Helper()

	registry := sensor.NewRegistry()
	for _, s := range []struct{ label, mac string }{
		{"Fern@Kitchen", "c4:7c:8d:00:00:01"},
		{"Basil", "c4:7c:8d:00:00:02"},
	} {
		h, err := sensor.NewHandle(s.label, s.mac)
		if err != nil {
			t.Fatal(err)
		}
		if err := registry.Add(h); err != nil {
			t.Fatal(err)
		}
	}

	store := events.NewStore(10)
	hub := NewHub(zerolog.New(io.Discard))
	srv := NewServer(registry, metrics.New().Handler(), store, hub, "test", zerolog.New(io.Discard))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts, registry, store, hub
}

func getJSON(t *testing.T, url string, wantStatus int, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealth(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	var body map[string]interface{}
	getJSON(t, ts.URL+"/health", http.StatusOK, &body)
	if body["status"] != "ok" || body["sensors"] != float64(2) {
		t.Errorf("health = %v", body)
	}
}

func TestListSensors(t *testing.T) {
	ts, registry, _, _ := newTestServer(t)

	fern, _ := registry.Get("Fern")
	fern.Stats().RecordAttempt()
	fern.Stats().RecordSuccess()
	fern.Stats().RecordAttempt()
	fern.Stats().RecordFailure()

	var body struct {
		Sensors []sensorStatus `json:"sensors"`
	}
	getJSON(t, ts.URL+"/api/sensors", http.StatusOK, &body)

	if len(body.Sensors) != 2 || body.Sensors[0].Name != "Fern" || body.Sensors[1].Name != "Basil" {
		t.Fatalf("sensors = %+v", body.Sensors)
	}
	got := body.Sensors[0]
	if got.Attempts != 2 || got.Failures != 1 || got.SuccessRate != 0.5 {
		t.Errorf("stats = %+v", got)
	}
	if got.Firmware != sensor.PlaceholderFirmware || got.Supported || got.Location != "Kitchen" {
		t.Errorf("sensor = %+v", got)
	}
}

func TestGetSensor(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	var got sensorStatus
	getJSON(t, ts.URL+"/api/sensors/Basil", http.StatusOK, &got)
	if got.MAC != "c4:7c:8d:00:00:02" {
		t.Errorf("MAC = %q", got.MAC)
	}

	getJSON(t, ts.URL+"/api/sensors/Unknown", http.StatusNotFound, nil)
}

func TestListEvents(t *testing.T) {
	ts, _, store, _ := newTestServer(t)
	store.Add(events.EventSweep, "", true, "first")
	store.Add(events.EventSweep, "", true, "second")

	var body struct {
		Events []events.Event `json:"events"`
		LastID int64          `json:"lastId"`
	}
	getJSON(t, ts.URL+"/api/events?limit=1", http.StatusOK, &body)
	if len(body.Events) != 1 || body.Events[0].Details != "second" || body.LastID != 2 {
		t.Errorf("events = %+v", body)
	}

	getJSON(t, ts.URL+"/api/events?since=0", http.StatusOK, &body)
	if len(body.Events) != 2 {
		t.Errorf("since=0 returned %d events", len(body.Events))
	}
}

func TestMetricsRoute(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "floradaemon_last_sweep_timestamp_seconds") {
		t.Errorf("status %d body:\n%s", resp.StatusCode, body)
	}
}

func TestLiveFeed(t *testing.T) {
	ts, registry, _, hub := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	fern, _ := registry.Get("Fern")
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	hub.ObserveReading(&sensor.Reading{Sensor: fern, Time: at, Light: 1234, Temperature: 21.5, Moisture: 42, Conductivity: 350, Battery: 87})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg LiveMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "reading" || msg.Sensor != "Fern" || msg.Values["temperature"] != 21.5 || !msg.Timestamp.Equal(at) {
		t.Errorf("message = %+v", msg)
	}
}
