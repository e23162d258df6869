// Package lifecycle follows the app between background and foreground and
// tells the SDK when the user comes back, which is when an expired web URL
// gets refreshed.
package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type clockFunc func() time.Time

// Resume describes a return to the foreground.
type Resume struct {
	// VisitID identifies the foreground visit that just started.
	VisitID string

	// Away is how long the app was in the background. Zero when no
	// background transition was seen first.
	Away time.Duration
}

// OnResume is called, outside the tracker's lock, on every foreground entry.
type OnResume func(Resume)

// Tracker records foreground/background transitions. It is safe for
// concurrent use.
type Tracker struct {
	mu sync.Mutex

	foreground     bool
	visitID        string
	backgroundedAt time.Time

	onResume OnResume
	clock    clockFunc
}

// NewTracker creates a tracker. The app is assumed to be in the foreground
// when the SDK starts.
func NewTracker(onResume OnResume) *Tracker {
	return &Tracker{
		foreground: true,
		visitID:    newVisitID(),
		onResume:   onResume,
		clock:      time.Now,
	}
}

// AppDidEnterBackground records when the app left the foreground.
func (t *Tracker) AppDidEnterBackground() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.foreground {
		return
	}
	t.foreground = false
	t.backgroundedAt = t.clock()
}

// AppWillEnterForeground starts a new visit and fires OnResume. Repeated
// calls without a background in between still fire, since native wrappers
// may report foreground twice on cold start.
func (t *Tracker) AppWillEnterForeground() {
	t.mu.Lock()

	var away time.Duration
	if !t.backgroundedAt.IsZero() {
		away = t.clock().Sub(t.backgroundedAt)
	}
	t.foreground = true
	t.backgroundedAt = time.Time{}
	t.visitID = newVisitID()

	r := Resume{VisitID: t.visitID, Away: away}
	cb := t.onResume
	t.mu.Unlock()

	if cb != nil {
		cb(r)
	}
}

// InForeground reports whether the app is currently foregrounded.
func (t *Tracker) InForeground() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.foreground
}

// VisitID returns the id of the current foreground visit.
func (t *Tracker) VisitID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visitID
}

func newVisitID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (t *Tracker) setClockForTesting(clock clockFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = clock
}
