// Package events keeps a bounded in-memory history of daemon activity.
package events

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"floradaemon/internal/sensor"
)

// EventType represents the kind of daemon activity
type EventType string

const (
	EventPoll  EventType = "poll"
	EventSweep EventType = "sweep"
)

// Event is one entry of the activity log
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Sensor    string    `json:"sensor,omitempty"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
}

// Store holds events in memory with a fixed capacity (ring buffer)
type Store struct {
	mu      sync.RWMutex
	events  []Event
	maxSize int
	nextID  int64
	now     func() time.Time
}

// NewStore creates a new event store with specified max capacity
func NewStore(maxSize int) *Store {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Store{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Add adds a new event to the store
func (s *Store) Add(eventType EventType, sensorName string, success bool, details string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	event := Event{
		ID:        s.nextID,
		Type:      eventType,
		Timestamp: s.now(),
		Sensor:    sensorName,
		Success:   success,
		Details:   details,
	}

	if len(s.events) >= s.maxSize {
		s.events = s.events[1:]
	}
	s.events = append(s.events, event)
}

// ObserveReading logs a successful poll with its formatted values.
func (s *Store) ObserveReading(r *sensor.Reading) {
	parts := make([]string, 0, len(sensor.Parameters))
	for _, p := range sensor.Parameters {
		parts = append(parts, string(p)+"="+r.Format(p))
	}
	s.Add(EventPoll, r.Sensor.Name, true, strings.Join(parts, " "))
}

// ObserveFailure logs a poll that produced no reading.
func (s *Store) ObserveFailure(h *sensor.Handle) {
	snap := h.Stats().Snapshot()
	s.Add(EventPoll, h.Name, false, fmt.Sprintf("success rate %.1f%%", snap.SuccessRate()*100))
}

// SweepDone logs the end of a sweep.
func (s *Store) SweepDone(at time.Time) {
	s.Add(EventSweep, "", true, "completed "+at.Format(time.DateTime))
}

// GetLast returns the last N events (newest first)
func (s *Store) GetLast(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.events) {
		n = len(s.events)
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		result[i] = s.events[len(s.events)-1-i]
	}
	return result
}

// GetSince returns events newer than the given ID (newest first)
func (s *Store) GetSince(lastID int64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID <= lastID {
			break
		}
		result = append(result, s.events[i])
	}
	return result
}

// Count returns the number of retained events
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// LastID returns the ID of the most recent event
func (s *Store) LastID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}
