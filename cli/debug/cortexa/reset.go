package cortexa

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/platform"
)

// How long the debug port is allowed to stay off the scan chain after
// reset before we give up on it.
const resetReacquireDeadline = 1 * time.Second

// Reset performs the platform reset dance. On the Zynq-7000 the SLCR
// must be unlocked before the PSS soft reset takes, and the DP
// disappears from the scan chain while the reset is in progress, so
// DBGDIDR is polled until the part reconnects.
func (t *cortexA) Reset(ctx context.Context) error {
	if err := t.memWrite32(ctx, t.opts.Reset.SLCRUnlock, t.opts.Reset.SLCRUnlockKey); err != nil {
		return errors.Annotatef(err, "failed to unlock SLCR")
	}
	if err := t.memWrite32(ctx, t.opts.Reset.PSSRstCtrl, 1); err != nil {
		return errors.Annotatef(err, "failed to request soft reset")
	}

	// Try hard reset too.
	if t.opts.SRST != nil {
		if err := t.opts.SRST.SetSRST(ctx, true); err != nil {
			return errors.Annotatef(err, "failed to assert SRST")
		}
		if err := t.opts.SRST.SetSRST(ctx, false); err != nil {
			return errors.Annotatef(err, "failed to release SRST")
		}
	}

	// Spin until the part reconnects us.
	to := platform.NewTimeout(resetReacquireDeadline)
	var lastErr error
	for {
		_, lastErr = t.apbRead(ctx, dbgDIDR)
		if lastErr == nil || errors.IsTimeout(errors.Cause(lastErr)) {
			break
		}
		glog.V(2).Infof("reacquire: %v", lastErr)
		if to.Expired() {
			return errors.Annotatef(lastErr, "debug port did not come back after reset")
		}
	}

	platform.Delay(100)

	return errors.Trace(t.Attach(ctx))
}
