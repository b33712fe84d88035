package platform

import (
	"testing"
	"time"
)

func TestTimeout(t *testing.T) {
	base := time.Unix(1000, 0)
	cur := base
	now = func() time.Time { return cur }
	defer func() { now = time.Now }()

	to := NewTimeout(1 * time.Second)
	if to.Expired() {
		t.Errorf("timeout expired immediately")
	}
	cur = base.Add(999 * time.Millisecond)
	if to.Expired() {
		t.Errorf("timeout expired before the deadline")
	}
	cur = base.Add(1001 * time.Millisecond)
	if !to.Expired() {
		t.Errorf("timeout not expired after the deadline")
	}
}
