package cortexa

import (
	"context"
	"encoding/binary"
	"testing"
)

func TestResetZynq(t *testing.T) {
	m := newCoreModel()
	// Identity mapping over the SLCR registers.
	m.mapRange(ZynqReset.SLCRUnlock, 4)
	m.mapRange(ZynqReset.PSSRstCtrl, 4)
	// Asserting SRST knocks the debug port off the scan chain for a while.
	srst := &fakeSRST{m: m, deadOps: 7}
	tgt, _ := newTestTarget(t, m, Options{SRST: srst})
	ctx := context.Background()

	if err := tgt.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if got := binary.LittleEndian.Uint32(m.getMem(ZynqReset.SLCRUnlock, 4)); got != ZynqReset.SLCRUnlockKey {
		t.Errorf("SLCR unlock = 0x%x, want 0x%x", got, ZynqReset.SLCRUnlockKey)
	}
	if got := binary.LittleEndian.Uint32(m.getMem(ZynqReset.PSSRstCtrl, 4)); got != 1 {
		t.Errorf("PSS reset ctrl = 0x%x, want 1", got)
	}
	if m.srstPulses != 1 {
		t.Errorf("srst pulses = %d, want 1", m.srstPulses)
	}
	if m.deadOps != 0 {
		t.Errorf("reacquire loop gave up with %d dead ops left", m.deadOps)
	}
	// Reset ends re-attached: halted, debug mode armed.
	if !m.halted {
		t.Errorf("core not halted after reset")
	}
	if m.dscrBits&dscrHDBGEn == 0 {
		t.Errorf("halting debug mode not armed after reset")
	}
}

func TestResetCustomScheme(t *testing.T) {
	m := newCoreModel()
	scheme := ResetScheme{
		SLCRUnlock:    0x41000000,
		SLCRUnlockKey: 0x1234,
		PSSRstCtrl:    0x41000010,
	}
	m.mapRange(scheme.SLCRUnlock, 4)
	m.mapRange(scheme.PSSRstCtrl, 4)
	tgt, _ := newTestTarget(t, m, Options{Reset: scheme})
	ctx := context.Background()

	if err := tgt.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := binary.LittleEndian.Uint32(m.getMem(scheme.SLCRUnlock, 4)); got != scheme.SLCRUnlockKey {
		t.Errorf("unlock poke = 0x%x, want 0x%x", got, scheme.SLCRUnlockKey)
	}
}
