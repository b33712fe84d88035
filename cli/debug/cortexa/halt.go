package cortexa

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/platform"
	"github.com/mongoose-os/adbg/cli/debug/target"
)

// How long to keep kicking DBGDRCR.RRQ before declaring the restart failed.
const restartDeadline = 1 * time.Second

func (t *cortexA) HaltRequest(ctx context.Context) error {
	err := t.apbWrite(ctx, dbgDRCR, drcrHRQ)
	if err != nil && errors.IsTimeout(errors.Cause(err)) {
		// The DCC stalls when the core has its clocks off.
		t.gdbOut("Timeout sending interrupt, is target in WFI?\n")
		return nil
	}
	return errors.Trace(err)
}

// HaltWait polls the halt status once. A stalled read means the target
// could be in WFI and is reported as still running; a hard transport
// error means the probe has lost the target for good.
func (t *cortexA) HaltWait(ctx context.Context) (int, error) {
	dscr, err := t.apbRead(ctx, dbgDSCR)
	if err != nil {
		if errors.IsTimeout(errors.Cause(err)) {
			// Timeout isn't a problem, target could be in WFI.
			return 0, nil
		}
		// Oh crap, there's no recovery from this...
		glog.Errorf("lost target: %v", err)
		t.morse("TARGET LOST.")
		if t.opts.OnLost != nil {
			t.opts.OnLost(ctx)
		}
		return target.SIGLOST, nil
	}

	if dscr&dscrHalted == 0 { // Not halted
		return 0, nil
	}

	glog.V(2).Infof("HaltWait: DBGDSCR = 0x%08x", dscr)
	// Reenable DBGITR.
	dscr |= dscrITREn
	if err := t.apbWrite(ctx, dbgDSCR, dscr); err != nil {
		return 0, errors.Trace(err)
	}

	// Find out why we halted.
	sig := target.SIGTRAP
	if dscr&dscrMOEMask == dscrMOEHaltReq {
		sig = target.SIGINT
	}

	if err := t.regsReadInternal(ctx); err != nil {
		return 0, errors.Trace(err)
	}
	return sig, nil
}

func (t *cortexA) HaltResume(ctx context.Context, step bool) error {
	if step {
		// Repurpose comparator 0 as an instruction mismatch breakpoint:
		// it fires on the first instruction that is not the current one.
		addr := t.regCache.R[15]
		length := uint8(4)
		if t.regCache.Thumb() {
			length = 2
		}
		bas := bpBAS(addr, length)
		glog.V(2).Infof("step 0x%08x %x", addr, bas)
		if err := t.apbWrite(ctx, dbgBVR(0), addr&^3); err != nil {
			return errors.Trace(err)
		}
		if err := t.apbWrite(ctx, dbgBCR(0), bcrInstMismatch|bas|bcrEn); err != nil {
			return errors.Trace(err)
		}
	} else {
		if err := t.apbWrite(ctx, dbgBVR(0), t.hwBreakpoint[0]&^3); err != nil {
			return errors.Trace(err)
		}
		if err := t.apbWrite(ctx, dbgBCR(0), t.bpc0); err != nil {
			return errors.Trace(err)
		}
	}

	// Write back register cache.
	if err := t.regsWriteInternal(ctx); err != nil {
		return errors.Trace(err)
	}

	// Invalidate cache.
	if err := t.exec(ctx, insnMCR|cpregICIALLU); err != nil {
		return errors.Trace(err)
	}

	dscr, err := t.apbRead(ctx, dbgDSCR)
	if err != nil {
		return errors.Trace(err)
	}
	if step {
		dscr |= dscrIntDis
	} else {
		dscr &^= dscrIntDis
	}
	// Disable DBGITR. Not sure why, but RRQ is ignored otherwise.
	dscr &^= dscrITREn
	if err := t.apbWrite(ctx, dbgDSCR, dscr); err != nil {
		return errors.Trace(err)
	}

	to := platform.NewTimeout(restartDeadline)
	for {
		if err := t.apbWrite(ctx, dbgDRCR, drcrCSE|drcrRRQ); err != nil {
			return errors.Trace(err)
		}
		dscr, err = t.apbRead(ctx, dbgDSCR)
		if err != nil {
			return errors.Trace(err)
		}
		glog.V(3).Infof("HaltResume: DBGDSCR = 0x%08x", dscr)
		if dscr&dscrRestarted != 0 {
			return nil
		}
		if to.Expired() {
			return errors.Errorf("core did not restart (DBGDSCR 0x%08x)", dscr)
		}
	}
}
