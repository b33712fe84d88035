package cortexa

// Two memory strategies. With an AHB-AP the access runs on the system
// bus at the physical address, after cache maintenance keeps the
// debugger's view coherent with the core's. Without one, load/store
// instructions are injected and the data streamed over the DCC in fast
// mode, which is slow but needs nothing beyond the debug APB.

import (
	"context"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// vaToPA translates a virtual address through the MMU with a privileged
// read translation. A failed translation flags mmuFault but still
// returns the synthesised address; the caller surfaces the fault via
// CheckError.
func (t *cortexA) vaToPA(ctx context.Context, va uint32) (uint32, error) {
	if err := t.writeGPReg(ctx, 0, va); err != nil {
		return 0, errors.Trace(err)
	}
	if err := t.exec(ctx, insnMCR|cpregATS1CPR); err != nil {
		return 0, errors.Trace(err)
	}
	if err := t.exec(ctx, insnMRC|cpregPAR); err != nil {
		return 0, errors.Trace(err)
	}
	par, err := t.readGPReg(ctx, 0)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if par&1 != 0 {
		t.mmuFault = true
	}
	pa := (par &^ 0xfff) | (va & 0xfff)
	glog.V(3).Infof("vaToPA: VA = 0x%08x, PAR = 0x%08x, PA = 0x%08x", va, par, pa)
	return pa, nil
}

func (t *cortexA) MemRead(ctx context.Context, data []byte, addr uint32) error {
	if len(data) == 0 {
		return nil
	}
	if t.ahb == nil {
		return errors.Trace(t.slowMemRead(ctx, data, addr))
	}
	// Clean cache before reading.
	line := t.opts.CacheLine
	for cl := addr &^ (line - 1); cl < addr+uint32(len(data)); cl += line {
		if err := t.writeGPReg(ctx, 0, cl); err != nil {
			return errors.Trace(err)
		}
		if err := t.exec(ctx, insnMCR|cpregDCCMVAC); err != nil {
			return errors.Trace(err)
		}
	}
	pa, err := t.vaToPA(ctx, addr)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(t.ahb.ReadMem(ctx, pa, data))
}

func (t *cortexA) MemWrite(ctx context.Context, addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if t.ahb == nil {
		return errors.Trace(t.slowMemWrite(ctx, addr, data))
	}
	// Clean and invalidate cache before writing, so that instruction
	// fetches observe the new data.
	line := t.opts.CacheLine
	for cl := addr &^ (line - 1); cl < addr+uint32(len(data)); cl += line {
		if err := t.writeGPReg(ctx, 0, cl); err != nil {
			return errors.Trace(err)
		}
		if err := t.exec(ctx, insnMCR|cpregDCCIMVAC); err != nil {
			return errors.Trace(err)
		}
	}
	pa, err := t.vaToPA(ctx, addr)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(t.ahb.WriteMem(ctx, pa, data))
}

// setDCCMode switches the external DCC access mode, preserving the rest
// of DBGDSCR.
func (t *cortexA) setDCCMode(ctx context.Context, mode uint32) error {
	dscr, err := t.apbRead(ctx, dbgDSCR)
	if err != nil {
		return errors.Trace(err)
	}
	dscr = (dscr &^ uint32(dscrExtDCCMask)) | mode
	return errors.Trace(t.apbWrite(ctx, dbgDSCR, dscr))
}

// checkAbort tests and clears a sticky synchronous data abort caused by
// an injected access, recording it in mmuFault.
func (t *cortexA) checkAbort(ctx context.Context) (bool, error) {
	dscr, err := t.apbRead(ctx, dbgDSCR)
	if err != nil {
		return false, errors.Trace(err)
	}
	if dscr&dscrSDAbortL == 0 {
		return false, nil
	}
	if err := t.apbWrite(ctx, dbgDRCR, drcrCSE); err != nil {
		return false, errors.Trace(err)
	}
	t.mmuFault = true
	return true, nil
}

func (t *cortexA) slowMemRead(ctx context.Context, data []byte, addr uint32) error {
	words := (len(data) + int(addr&3) + 3) / 4
	buf := make([]byte, words*4)

	// Set r0 to the aligned source address.
	if err := t.writeGPReg(ctx, 0, addr&^3); err != nil {
		return errors.Trace(err)
	}
	if err := t.setDCCMode(ctx, dscrExtDCCFast); err != nil {
		return errors.Trace(err)
	}
	if err := t.exec(ctx, opLDCDTRTX); err != nil {
		return errors.Trace(err)
	}
	// According to the ARMv7-A ARM, in fast mode the first read from
	// DBGDTRTX is supposed to block until the instruction is complete,
	// but we see the first read return junk, so it's read here and
	// ignored.
	if _, err := t.apbRead(ctx, dbgDTRTX); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < words; i++ {
		w, err := t.apbRead(ctx, dbgDTRTX)
		if err != nil {
			return errors.Trace(err)
		}
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	if err := t.setDCCMode(ctx, dscrExtDCCStall); err != nil {
		return errors.Trace(err)
	}
	aborted, err := t.checkAbort(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !aborted {
		// Quiesce the transfer pipeline.
		if _, err := t.apbRead(ctx, dbgDTRTX); err != nil {
			return errors.Trace(err)
		}
	}
	copy(data, buf[addr&3:])
	return nil
}

// slowMemWriteBytes stores one byte at a time through an injected
// post-indexed strb, checking for an abort after every byte so a fault
// stops exactly at the offending address.
func (t *cortexA) slowMemWriteBytes(ctx context.Context, addr uint32, data []byte) error {
	// Set r13 to the destination address.
	if err := t.writeGPReg(ctx, 13, addr); err != nil {
		return errors.Trace(err)
	}
	for _, b := range data {
		if err := t.writeGPReg(ctx, 0, uint32(b)); err != nil {
			return errors.Trace(err)
		}
		if err := t.exec(ctx, opSTRBr0SP); err != nil {
			return errors.Trace(err)
		}
		aborted, err := t.checkAbort(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if aborted {
			return nil
		}
	}
	return nil
}

func (t *cortexA) slowMemWrite(ctx context.Context, addr uint32, data []byte) error {
	if (addr|uint32(len(data)))&3 != 0 {
		return errors.Trace(t.slowMemWriteBytes(ctx, addr, data))
	}

	if err := t.writeGPReg(ctx, 0, addr); err != nil {
		return errors.Trace(err)
	}
	if err := t.setDCCMode(ctx, dscrExtDCCFast); err != nil {
		return errors.Trace(err)
	}
	if err := t.exec(ctx, opSTCDTRRX); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < len(data); i += 4 {
		if err := t.apbWrite(ctx, dbgDTRRX, binary.LittleEndian.Uint32(data[i:])); err != nil {
			return errors.Trace(err)
		}
	}
	if err := t.setDCCMode(ctx, dscrExtDCCStall); err != nil {
		return errors.Trace(err)
	}
	_, err := t.checkAbort(ctx)
	return errors.Trace(err)
}

// memWrite32 is a helper for the platform reset pokes.
func (t *cortexA) memWrite32(ctx context.Context, addr, val uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], val)
	return errors.Trace(t.MemWrite(ctx, addr, b[:]))
}
