package service

import (
	"sync"
	"time"

	"HouseholdTelemetryAPI/internal/models"
)

// EventLog is a bounded newest-first list of events. Inserting beyond
// capacity silently drops the oldest entries.
type EventLog struct {
	mu        sync.RWMutex
	events    []models.Event
	capacity  int
	retention time.Duration
	now       func() time.Time
}

func NewEventLog(capacity int, retention time.Duration) *EventLog {
	if capacity < 1 {
		capacity = 1
	}
	return &EventLog{
		events:    make([]models.Event, 0, capacity),
		capacity:  capacity,
		retention: retention,
		now:       time.Now,
	}
}

func (l *EventLog) Add(ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, models.Event{})
	copy(l.events[1:], l.events)
	l.events[0] = ev
	l.trimLocked()
}

// trimLocked enforces capacity, then retention. Events are newest-first so
// both cut from the tail.
func (l *EventLog) trimLocked() {
	if len(l.events) > l.capacity {
		for i := l.capacity; i < len(l.events); i++ {
			l.events[i] = models.Event{}
		}
		l.events = l.events[:l.capacity]
	}

	if l.retention <= 0 {
		return
	}
	cutoff := l.now().Add(-l.retention)
	n := len(l.events)
	for n > 0 && l.events[n-1].Timestamp.Before(cutoff) {
		n--
	}
	l.events = l.events[:n]
}

// List returns a copy of every stored event, newest first.
func (l *EventLog) List() []models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Since returns the events whose timestamp is not before cutoff.
func (l *EventLog) Since(cutoff time.Time) []models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Event, 0)
	for _, ev := range l.events {
		if ev.Timestamp.Before(cutoff) {
			break
		}
		out = append(out, ev)
	}
	return out
}

func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Configure changes capacity and retention and trims accordingly.
func (l *EventLog) Configure(capacity int, retention time.Duration) {
	if capacity < 1 {
		capacity = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capacity = capacity
	l.retention = retention
	l.trimLocked()
}
