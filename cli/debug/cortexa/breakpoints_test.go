package cortexa

import (
	"context"
	"testing"

	"github.com/mongoose-os/adbg/cli/debug/target"
)

func TestBAS(t *testing.T) {
	for _, tc := range []struct {
		addr   uint32
		length uint8
		want   uint32
	}{
		{0x8000, 4, bcrBASAny},
		{0x8004, 4, bcrBASAny},
		{0x8000, 2, bcrBASLowHW},
		{0x8004, 2, bcrBASLowHW},
		{0x8002, 2, bcrBASHighHW},
		{0x8006, 2, bcrBASHighHW},
	} {
		if got := bpBAS(tc.addr, tc.length); got != tc.want {
			t.Errorf("bpBAS(0x%x, %d) = 0x%x, want 0x%x", tc.addr, tc.length, got, tc.want)
		}
	}
}

func TestSetClearHWBreak(t *testing.T) {
	m := newCoreModel()
	tgt, _ := newTestTarget(t, m, Options{})
	ctx := context.Background()

	if err := tgt.SetHWBreak(ctx, 0x8002, 2); err != nil {
		t.Fatalf("SetHWBreak: %v", err)
	}
	if got, want := m.bvr[0], uint32(0x8000); got != want {
		t.Errorf("BVR0 = 0x%x, want 0x%x", got, want)
	}
	if got, want := m.bcr[0], uint32(bcrBASHighHW|bcrEn); got != want {
		t.Errorf("BCR0 = 0x%x, want 0x%x", got, want)
	}
	// Comparator 0 is saved for restoration after single-step.
	if got, want := tgt.bpc0, uint32(bcrBASHighHW|bcrEn); got != want {
		t.Errorf("bpc0 = 0x%x, want 0x%x", got, want)
	}

	if err := tgt.SetHWBreak(ctx, 0x9000, 4); err != nil {
		t.Fatalf("SetHWBreak: %v", err)
	}
	if got, want := m.bcr[1], uint32(bcrBASAny|bcrEn); got != want {
		t.Errorf("BCR1 = 0x%x, want 0x%x", got, want)
	}

	if err := tgt.ClearHWBreak(ctx, 0x8002, 2); err != nil {
		t.Fatalf("ClearHWBreak: %v", err)
	}
	if m.bcr[0] != 0 {
		t.Errorf("BCR0 = 0x%x after clear, want 0", m.bcr[0])
	}
	if tgt.bpc0 != 0 {
		t.Errorf("bpc0 = 0x%x after clear, want 0", tgt.bpc0)
	}
	// The freed slot is reused first.
	if err := tgt.SetHWBreak(ctx, 0xa000, 4); err != nil {
		t.Fatalf("SetHWBreak: %v", err)
	}
	if got, want := m.bvr[0], uint32(0xa000); got != want {
		t.Errorf("BVR0 = 0x%x, want 0x%x", got, want)
	}
}

func TestHWBreakExhaustion(t *testing.T) {
	m := newCoreModel()
	m.didr = 0x01000000 // 2 comparators
	tgt, _ := newTestTarget(t, m, Options{})
	ctx := context.Background()

	if err := tgt.SetHWBreak(ctx, 0x8000, 4); err != nil {
		t.Fatal(err)
	}
	if err := tgt.SetHWBreak(ctx, 0x8004, 4); err != nil {
		t.Fatal(err)
	}
	if err := tgt.SetHWBreak(ctx, 0x8008, 4); err != target.ErrNoBreakSlot {
		t.Errorf("err = %v, want ErrNoBreakSlot", err)
	}
}

func TestClearUnknownHWBreak(t *testing.T) {
	m := newCoreModel()
	tgt, _ := newTestTarget(t, m, Options{})
	ctx := context.Background()

	if err := tgt.ClearHWBreak(ctx, 0xdead0000, 4); err != target.ErrUnknownBreak {
		t.Errorf("err = %v, want ErrUnknownBreak", err)
	}
}

func TestDetachAttachClearsBreakpoints(t *testing.T) {
	m := newCoreModel()
	tgt, _ := newTestTarget(t, m, Options{})
	ctx := context.Background()

	m.haltBreakpoint()
	if _, err := tgt.HaltWait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tgt.SetHWBreak(ctx, 0x8000, 4); err != nil {
		t.Fatal(err)
	}
	if err := tgt.SetHWBreak(ctx, 0x9000, 4); err != nil {
		t.Fatal(err)
	}

	if err := tgt.Detach(ctx); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	for i := 0; i < tgt.hwBreakpointMax; i++ {
		if tgt.hwBreakpoint[i] != 0 {
			t.Errorf("hwBreakpoint[%d] = 0x%x after detach, want 0", i, tgt.hwBreakpoint[i])
		}
		if m.bcr[i] != 0 {
			t.Errorf("BCR%d = 0x%x after detach, want 0", i, m.bcr[i])
		}
	}
	// Detach resumed the core with debug mode off.
	if m.halted {
		t.Errorf("core still halted after detach")
	}
	if m.dscrBits&(dscrHDBGEn|dscrITREn) != 0 {
		t.Errorf("debug mode still armed after detach: DSCR bits 0x%x", m.dscrBits)
	}

	if err := tgt.Attach(ctx); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	for i := 0; i < tgt.hwBreakpointMax; i++ {
		if tgt.hwBreakpoint[i] != 0 {
			t.Errorf("hwBreakpoint[%d] = 0x%x after attach, want 0", i, tgt.hwBreakpoint[i])
		}
	}
	if m.dscrBits&dscrHDBGEn == 0 {
		t.Errorf("halting debug mode not armed by attach")
	}
	if !m.halted {
		t.Errorf("core not halted after attach")
	}
}
