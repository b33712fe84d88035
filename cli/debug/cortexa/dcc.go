package cortexa

// Debug register map, instruction injection and the DCC register
// shuttle. Register values cross between probe and core over the two
// DCC words: DBGDTRRX (host to target) and DBGDTRTX (target to host),
// paired with injected CP14 MCR/MRC instructions.

import (
	"context"

	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/adiv5"
)

// Debug APB registers, as word indices from the debug base.
type dbgReg uint16

const (
	dbgDIDR dbgReg = 0

	dbgDTRRX dbgReg = 32 // DCC: Host to target
	dbgITR   dbgReg = 33
	dbgDSCR  dbgReg = 34
	dbgDTRTX dbgReg = 35 // DCC: Target to host
	dbgDRCR  dbgReg = 36
)

func dbgBVR(i int) dbgReg { return dbgReg(64 + i) }
func dbgBCR(i int) dbgReg { return dbgReg(80 + i) }

// DBGDSCR bits.
const (
	dscrTXFull      = 1 << 29
	dscrInstrCompl  = 1 << 24
	dscrExtDCCStall = 1 << 20
	dscrExtDCCFast  = 2 << 20
	dscrExtDCCMask  = 3 << 20
	dscrHDBGEn      = 1 << 14
	dscrITREn       = 1 << 13
	dscrIntDis      = 1 << 11
	dscrUndI        = 1 << 8
	dscrSDAbortL    = 1 << 6
	dscrMOEMask     = 0xf << 2
	dscrMOEHaltReq  = 0x0 << 2
	dscrRestarted   = 1 << 1
	dscrHalted      = 1 << 0
)

// DBGDRCR bits.
const (
	drcrCSE = 1 << 2
	drcrRRQ = 1 << 1
	drcrHRQ = 1 << 0
)

// Instruction encodings for accessing the coprocessor interface.
const (
	insnMCR = 0xee000010
	insnMRC = 0xee100010
)

func cpReg(coproc, opc1, rt, crn, crm, opc2 uint32) uint32 {
	return (opc1 << 21) | (crn << 16) | (rt << 12) | (coproc << 8) | (opc2 << 5) | crm
}

var (
	// Debug registers CP14. DBGDTRRXint and DBGDTRTXint share an encoding.
	cpregDTR = cpReg(14, 0, 0, 0, 5, 0)

	// Address translation registers CP15.
	cpregPAR     = cpReg(15, 0, 0, 7, 4, 0)
	cpregATS1CPR = cpReg(15, 0, 0, 7, 8, 0)

	// Cache management registers CP15.
	cpregICIALLU  = cpReg(15, 0, 0, 7, 5, 0)
	cpregDCCIMVAC = cpReg(15, 0, 0, 7, 14, 1)
	cpregDCCMVAC  = cpReg(15, 0, 0, 7, 10, 1)
)

// Fixed opcodes injected through DBGITR. These are not derivable from
// anything; see the ARM ARM instruction encodings.
const (
	opMOVr0PC     = 0xe1a0000f // mov r0, pc
	opMOVPCr0     = 0xe1a0f000 // mov pc, r0
	opMRSr0CPSR   = 0xe10f0000 // mrs r0, CPSR
	opMSRCPSRr0   = 0xe12ff000 // msr CPSR_fsxc, r0
	opVMRSr0FPSCR = 0xeef10a10 // vmrs r0, fpscr
	opVMSRFPSCRr0 = 0xeee10a10 // vmsr fpscr, r0
	opVMOVr0r1D0  = 0xec510b10 // vmov r0, r1, d0; or with the d index
	opVMOVD0r0r1  = 0xec410b10 // vmov d0, r0, r1; or with the d index
	opLDCDTRTX    = 0xecb05e01 // ldc 14, cr5, [r0], #4
	opSTCDTRRX    = 0xeca05e01 // stc 14, cr5, [r0], #4
	opSTRBr0SP    = 0xe4cd0001 // strb r0, [sp], #1
)

func (t *cortexA) apbWrite(ctx context.Context, reg dbgReg, val uint32) error {
	addr := t.base + 4*uint32(reg)
	if err := t.apb.WriteReg(ctx, adiv5.APTAR, addr); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(t.apb.WriteReg(ctx, adiv5.APDRW, val))
}

func (t *cortexA) apbRead(ctx context.Context, reg dbgReg) (uint32, error) {
	addr := t.base + 4*uint32(reg)
	if err := t.apb.WriteReg(ctx, adiv5.APTAR, addr); err != nil {
		return 0, errors.Trace(err)
	}
	if err := t.apb.PostRead(ctx, adiv5.APDRW); err != nil {
		return 0, errors.Trace(err)
	}
	return t.apb.DP().ReadRDBUFF(ctx)
}

// exec runs one instruction on the halted core. No per-instruction
// status poll: the DCC transfer protocol provides the flow control, and
// aborts are picked up from DBGDSCR.SDABORT_L afterwards.
func (t *cortexA) exec(ctx context.Context, opcode uint32) error {
	return errors.Trace(t.apbWrite(ctx, dbgITR, opcode))
}

// readGPReg reads r<regno> by injecting an MCR that sends the value out
// through DBGDTRTX.
func (t *cortexA) readGPReg(ctx context.Context, regno int) (uint32, error) {
	instr := insnMCR | cpregDTR | (uint32(regno&0xf) << 12)
	if err := t.exec(ctx, instr); err != nil {
		return 0, errors.Trace(err)
	}
	return t.apbRead(ctx, dbgDTRTX)
}

// writeGPReg loads r<regno> with an MRC from DBGDTRRX.
func (t *cortexA) writeGPReg(ctx context.Context, regno int, val uint32) error {
	if err := t.apbWrite(ctx, dbgDTRRX, val); err != nil {
		return errors.Trace(err)
	}
	instr := insnMRC | cpregDTR | (uint32(regno&0xf) << 12)
	return errors.Trace(t.exec(ctx, instr))
}

// regsReadInternal pulls the full architectural state into the cache.
func (t *cortexA) regsReadInternal(ctx context.Context) error {
	var err error
	for i := 0; i < 15; i++ {
		if t.regCache.R[i], err = t.readGPReg(ctx, i); err != nil {
			return errors.Annotatef(err, "failed to read r%d", i)
		}
	}
	// Read PC via r0. MCR is UNPREDICTABLE for Rt = r15.
	if err = t.exec(ctx, opMOVr0PC); err != nil {
		return errors.Trace(err)
	}
	if t.regCache.R[15], err = t.readGPReg(ctx, 0); err != nil {
		return errors.Annotatef(err, "failed to read pc")
	}
	if err = t.exec(ctx, opMRSr0CPSR); err != nil {
		return errors.Trace(err)
	}
	if t.regCache.CPSR, err = t.readGPReg(ctx, 0); err != nil {
		return errors.Annotatef(err, "failed to read cpsr")
	}
	if err = t.exec(ctx, opVMRSr0FPSCR); err != nil {
		return errors.Trace(err)
	}
	if t.regCache.FPSCR, err = t.readGPReg(ctx, 0); err != nil {
		return errors.Annotatef(err, "failed to read fpscr")
	}
	for i := 0; i < 16; i++ {
		// Read D[i] to R0/R1.
		if err = t.exec(ctx, opVMOVr0r1D0|uint32(i)); err != nil {
			return errors.Trace(err)
		}
		lo, err := t.readGPReg(ctx, 0)
		if err != nil {
			return errors.Annotatef(err, "failed to read d%d", i)
		}
		hi, err := t.readGPReg(ctx, 1)
		if err != nil {
			return errors.Annotatef(err, "failed to read d%d", i)
		}
		t.regCache.D[i] = uint64(hi)<<32 | uint64(lo)
	}
	// The PC sampled in debug state carries the pipeline offset.
	if t.regCache.Thumb() {
		t.regCache.R[15] -= 4
	} else {
		t.regCache.R[15] -= 8
	}
	return nil
}

// regsWriteInternal restores the cached state to the core. Order
// matters: the d registers and FPSCR go first while r0/r1 are free,
// CPSR before PC because the MRC write clobbers CPSR, PC via r0, and
// the plain GP registers last.
func (t *cortexA) regsWriteInternal(ctx context.Context) error {
	for i := 0; i < 16; i++ {
		if err := t.writeGPReg(ctx, 1, uint32(t.regCache.D[i]>>32)); err != nil {
			return errors.Annotatef(err, "failed to write d%d", i)
		}
		if err := t.writeGPReg(ctx, 0, uint32(t.regCache.D[i])); err != nil {
			return errors.Annotatef(err, "failed to write d%d", i)
		}
		if err := t.exec(ctx, opVMOVD0r0r1|uint32(i)); err != nil {
			return errors.Trace(err)
		}
	}
	if err := t.writeGPReg(ctx, 0, t.regCache.FPSCR); err != nil {
		return errors.Annotatef(err, "failed to write fpscr")
	}
	if err := t.exec(ctx, opVMSRFPSCRr0); err != nil {
		return errors.Trace(err)
	}
	if err := t.writeGPReg(ctx, 0, t.regCache.CPSR); err != nil {
		return errors.Annotatef(err, "failed to write cpsr")
	}
	if err := t.exec(ctx, opMSRCPSRr0); err != nil {
		return errors.Trace(err)
	}
	if err := t.writeGPReg(ctx, 0, t.regCache.R[15]); err != nil {
		return errors.Annotatef(err, "failed to write pc")
	}
	if err := t.exec(ctx, opMOVPCr0); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < 15; i++ {
		if err := t.writeGPReg(ctx, i, t.regCache.R[i]); err != nil {
			return errors.Annotatef(err, "failed to write r%d", i)
		}
	}
	return nil
}
