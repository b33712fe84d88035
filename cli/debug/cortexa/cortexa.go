package cortexa

// ARMv7-A halting-debug driver, per the ARM Architecture Reference
// Manual DDI0406C. The debug register file is reached through an
// APB-AP; memory is reached through a companion AHB-AP when the device
// has one, or by instruction injection over the DCC otherwise.
//
// Cache line length is from the Cortex-A9 TRM and may differ on other
// cores; it is configurable via Options.

import (
	"context"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/adiv5"
	"github.com/mongoose-os/adbg/cli/debug/platform"
	"github.com/mongoose-os/adbg/cli/debug/target"
)

const driverName = "ARM Cortex-A"

const defaultCacheLine = 8 * 4

// ResetScheme is the set of platform registers poked by Reset. The
// defaults are for the Xilinx Zynq-7000 (TRM UG585), which also
// disconnects the DP from the scan chain during reset.
type ResetScheme struct {
	SLCRUnlock    uint32 `yaml:"slcr_unlock"`
	SLCRUnlockKey uint32 `yaml:"slcr_unlock_key"`
	PSSRstCtrl    uint32 `yaml:"pss_rst_ctrl"`
}

var ZynqReset = ResetScheme{
	SLCRUnlock:    0xf8000008,
	SLCRUnlockKey: 0xdf0d,
	PSSRstCtrl:    0xf8000200,
}

type Options struct {
	// AHBIndex is the AP number probed for the system-bus AP.
	// Which AP is the AHB-AP is device-specific; 0 is right for Zynq-7000.
	AHBIndex uint8
	// CacheLine is the data cache line length in bytes.
	CacheLine uint32
	// SRST is the system reset line, if the probe has one wired.
	SRST platform.SRST
	// GDBOut delivers advisory messages to the debugger console.
	GDBOut func(msg string)
	// Morse signals unrecoverable conditions on the probe itself.
	Morse func(msg string)
	// OnLost is invoked when the probe loses the target for good;
	// the enclosing target list uses it to tear itself down.
	OnLost func(ctx context.Context)
	// Reset selects the platform reset pokes; zero value means ZynqReset.
	Reset ResetScheme
}

type cortexA struct {
	apb  *adiv5.AP
	ahb  *adiv5.AP // nil: use the slow injection path
	base uint32

	regCache        target.RegFile
	hwBreakpointMax int
	// Per-comparator allocation: bit 0 set if armed, upper bits the address.
	hwBreakpoint [16]uint32
	// Saved BCR(0), restored after single-step borrows comparator 0.
	bpc0     uint32
	mmuFault bool

	opts Options
}

// Probe creates a target on the core whose debug registers live at
// debugBase on the APB access port.
func Probe(ctx context.Context, apb *adiv5.AP, debugBase uint32, opts Options) (target.Target, error) {
	glog.V(1).Infof("cortexa probe base=0x%08x", debugBase)
	if opts.CacheLine == 0 {
		opts.CacheLine = defaultCacheLine
	}
	if (opts.Reset == ResetScheme{}) {
		opts.Reset = ZynqReset
	}
	t := &cortexA{apb: apb.Ref(), base: debugBase, opts: opts}

	ahb, err := adiv5.NewAP(ctx, apb.DP(), opts.AHBIndex)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to probe AP %d", opts.AHBIndex)
	}
	if ahb.IsAHB() {
		t.ahb = ahb.Ref()
	}
	ahb.Unref()

	// Set up APB CSW, we won't touch this again.
	if err := apb.WriteReg(ctx, adiv5.APCSW, apb.CSW|adiv5.CSWSizeWord); err != nil {
		return nil, errors.Annotatef(err, "failed to set APB CSW")
	}
	didr, err := t.apbRead(ctx, dbgDIDR)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read DBGDIDR")
	}
	t.hwBreakpointMax = int((didr>>24)&0xf) + 1
	glog.V(1).Infof("target has %d breakpoints", t.hwBreakpointMax)

	return t, nil
}

func (t *cortexA) Driver() string {
	return driverName
}

func (t *cortexA) TDesc() string {
	return tdescCortexA
}

func (t *cortexA) RegsSize() int {
	return target.RegFileSize
}

func (t *cortexA) RegsRead(ctx context.Context, data []byte) error {
	b, err := t.regCache.MarshalBinary()
	if err != nil {
		return errors.Trace(err)
	}
	if len(data) != len(b) {
		return errors.Errorf("invalid register buffer size (want %d, got %d)", len(b), len(data))
	}
	copy(data, b)
	return nil
}

func (t *cortexA) RegsWrite(ctx context.Context, data []byte) error {
	return errors.Trace(t.regCache.UnmarshalBinary(data))
}

func (t *cortexA) Attach(ctx context.Context) error {
	// Clear any pending fault condition.
	t.CheckError(ctx)

	// Enable halting debug mode, stalling DCC.
	dscr, err := t.apbRead(ctx, dbgDSCR)
	if err != nil {
		return errors.Annotatef(err, "failed to read DBGDSCR")
	}
	dscr |= dscrHDBGEn | dscrITREn
	dscr = (dscr &^ dscrExtDCCMask) | dscrExtDCCStall
	if err := t.apbWrite(ctx, dbgDSCR, dscr); err != nil {
		return errors.Annotatef(err, "failed to write DBGDSCR")
	}
	glog.V(2).Infof("DBGDSCR = 0x%08x", dscr)

	if err := t.HaltRequest(ctx); err != nil {
		return errors.Trace(err)
	}
	// The core may be held in reset; either SRST reading as asserted or
	// a halt ends the wait.
	tries := 10
	for ; tries > 0; tries-- {
		if srst, _ := t.srstVal(ctx); srst {
			break
		}
		sig, err := t.HaltWait(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if sig != 0 {
			break
		}
		platform.Delay(200)
	}
	if tries == 0 {
		return errors.Errorf("target did not halt")
	}

	// Clear any stale breakpoints.
	for i := 0; i < t.hwBreakpointMax; i++ {
		if err := t.apbWrite(ctx, dbgBCR(i), 0); err != nil {
			return errors.Trace(err)
		}
		t.hwBreakpoint[i] = 0
	}
	t.bpc0 = 0

	if t.opts.SRST != nil {
		if err := t.opts.SRST.SetSRST(ctx, false); err != nil {
			return errors.Annotatef(err, "failed to release SRST")
		}
	}
	return nil
}

func (t *cortexA) Detach(ctx context.Context) error {
	// Clear any stale breakpoints.
	for i := 0; i < t.hwBreakpointMax; i++ {
		t.hwBreakpoint[i] = 0
		if err := t.apbWrite(ctx, dbgBCR(i), 0); err != nil {
			return errors.Trace(err)
		}
	}
	t.bpc0 = 0

	// Restore any clobbered registers.
	if err := t.regsWriteInternal(ctx); err != nil {
		return errors.Trace(err)
	}
	// Invalidate cache.
	if err := t.exec(ctx, insnMCR|cpregICIALLU); err != nil {
		return errors.Trace(err)
	}

	dscr, err := t.apbRead(ctx, dbgDSCR)
	if err != nil {
		return errors.Annotatef(err, "failed to read DBGDSCR")
	}
	// Disable halting debug mode.
	dscr &^= dscrHDBGEn | dscrITREn
	if err := t.apbWrite(ctx, dbgDSCR, dscr); err != nil {
		return errors.Annotatef(err, "failed to write DBGDSCR")
	}
	// Clear sticky error and resume.
	return errors.Trace(t.apbWrite(ctx, dbgDRCR, drcrCSE|drcrRRQ))
}

func (t *cortexA) CheckError(ctx context.Context) bool {
	err := t.mmuFault
	t.mmuFault = false
	if t.ahb != nil {
		dpErrs, derr := t.ahb.DP().Error(ctx)
		if derr != nil {
			glog.Errorf("failed to read DP error state: %v", derr)
			return true
		}
		err = err || dpErrs != 0
	}
	return err
}

func (t *cortexA) srstVal(ctx context.Context) (bool, error) {
	if t.opts.SRST == nil {
		return false, nil
	}
	return t.opts.SRST.SRST(ctx)
}

func (t *cortexA) gdbOut(msg string) {
	if t.opts.GDBOut != nil {
		t.opts.GDBOut(msg)
	} else {
		glog.Info(msg)
	}
}

func (t *cortexA) morse(msg string) {
	if t.opts.Morse != nil {
		t.opts.Morse(msg)
	} else {
		glog.Error(msg)
	}
}
