package cortexa

import (
	"context"

	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/target"
)

// DBGBCR bits.
const (
	bcrInstMismatch = 4 << 20
	bcrBASAny       = 0xf << 5
	bcrBASLowHW     = 0x3 << 5
	bcrBASHighHW    = 0xc << 5
	bcrEn           = 1 << 0
)

// bpBAS selects the byte-address-select mask for a breakpoint: the whole
// word for ARM instructions, one half-word for Thumb.
func bpBAS(addr uint32, length uint8) uint32 {
	if length == 4 {
		return bcrBASAny
	} else if addr&2 != 0 {
		return bcrBASHighHW
	}
	return bcrBASLowHW
}

func (t *cortexA) SetHWBreak(ctx context.Context, addr uint32, length uint8) error {
	var i int
	for i = 0; i < t.hwBreakpointMax; i++ {
		if t.hwBreakpoint[i]&1 == 0 {
			break
		}
	}
	if i == t.hwBreakpointMax {
		return target.ErrNoBreakSlot
	}

	t.hwBreakpoint[i] = addr | 1

	if err := t.apbWrite(ctx, dbgBVR(i), addr&^3); err != nil {
		return errors.Trace(err)
	}
	bpc := bpBAS(addr, length) | bcrEn
	if err := t.apbWrite(ctx, dbgBCR(i), bpc); err != nil {
		return errors.Trace(err)
	}
	if i == 0 {
		t.bpc0 = bpc
	}
	return nil
}

func (t *cortexA) ClearHWBreak(ctx context.Context, addr uint32, length uint8) error {
	var i int
	for i = 0; i < t.hwBreakpointMax; i++ {
		if t.hwBreakpoint[i]&^1 == addr {
			break
		}
	}
	if i == t.hwBreakpointMax {
		return target.ErrUnknownBreak
	}

	t.hwBreakpoint[i] = 0

	if err := t.apbWrite(ctx, dbgBCR(i), 0); err != nil {
		return errors.Trace(err)
	}
	if i == 0 {
		t.bpc0 = 0
	}
	return nil
}
