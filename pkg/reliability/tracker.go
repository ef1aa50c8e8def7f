package reliability

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrInFlight is returned when a run is already active for a key
var ErrInFlight = errors.New("run already in flight")

// Run describes an in-flight run
type Run struct {
	Key       string
	StartedAt time.Time
}

// Tracker tracks in-flight runs keyed by transaction ID
type Tracker struct {
	mu     sync.Mutex
	active map[string]*Run
	now    func() time.Time
}

// NewTracker creates a new tracker
func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[string]*Run),
		now:    time.Now,
	}
}

// Acquire marks key as in flight
func (t *Tracker) Acquire(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, exists := t.active[key]; exists {
		return fmt.Errorf("%w: %s since %s", ErrInFlight, key, r.StartedAt.Format(time.RFC3339))
	}
	t.active[key] = &Run{Key: key, StartedAt: t.now()}
	return nil
}

// Release clears key
func (t *Tracker) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.active, key)
}

// InFlight reports whether key has an active run
func (t *Tracker) InFlight(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.active[key]
	return exists
}

// Active returns the active runs ordered by key
func (t *Tracker) Active() []Run {
	t.mu.Lock()
	defer t.mu.Unlock()

	runs := make([]Run, 0, len(t.active))
	for _, r := range t.active {
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Key < runs[j].Key })
	return runs
}
