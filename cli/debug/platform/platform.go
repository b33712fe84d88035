package platform

// Probe-side platform services: the system reset line and wall-clock
// deadlines for the busy polls in the halt and reset paths.

import (
	"context"
	"time"
)

// SRST drives and samples the target's system reset line (nSRST).
// Implemented by the DAP probe; tests substitute a fake.
type SRST interface {
	// SetSRST asserts (true) or releases (false) system reset.
	SetSRST(ctx context.Context, assert bool) error
	// SRST returns whether system reset is currently asserted.
	SRST(ctx context.Context) (bool, error)
}

// now is a hook for tests.
var now = time.Now

// Timeout is a wall-clock deadline.
type Timeout struct {
	deadline time.Time
}

func NewTimeout(d time.Duration) Timeout {
	return Timeout{deadline: now().Add(d)}
}

func (t Timeout) Expired() bool {
	return now().After(t.deadline)
}

// Delay blocks for the given number of milliseconds.
func Delay(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
