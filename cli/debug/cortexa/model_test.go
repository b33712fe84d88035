package cortexa

// A register-level model of the ARMv7-A external debug interface, faked
// at the DP boundary: DSCR/DRCR/ITR/DTR side effects, the instruction
// injection subset the driver uses, BVR/BCR comparators, a register
// file and a small physical memory. The APB AP exposes the debug
// registers, AP 0 can pose as the system-bus AHB-AP.

import (
	"context"

	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/adiv5"
)

const (
	modelDebugBase = 0x80090000
	modelAPBSel    = 1
	modelAHBSel    = 0

	// IDR of an AHB-AP and of something that is not one.
	modelAHBIDR = 0x04770001
	modelAPBIDR = 0x44770002
)

type cacheOp struct {
	op   uint32
	addr uint32
}

type coreModel struct {
	// Architectural state. r[15] is the address of the next instruction;
	// reads through the debug state see it with the pipeline offset.
	r     [16]uint32
	cpsr  uint32
	fpscr uint32
	dlo   [16]uint32
	dhi   [16]uint32

	// Physical memory.
	mem        map[uint32]byte
	physOffset uint32          // pa = va + physOffset
	faultVA    map[uint32]bool // pages whose translation faults

	// Debug state.
	didr      uint32
	dscrBits  uint32 // writable DSCR bits as last written
	moe       uint32
	halted    bool
	restarted bool
	sdabort   bool
	dtrRX     uint32
	dtrTX     uint32
	par       uint32
	bvr       [16]uint32
	bcr       [16]uint32

	// DCC streaming state.
	ldcActive bool
	ldcJunk   bool
	stcActive bool

	// AP state.
	ahbIDR uint32
	apCSW  map[uint8]uint32
	apTAR  map[uint8]uint32

	// Fault injection.
	timeoutAll bool // every transfer stalls (WFI with clocks off)
	lost       bool // every transfer fails hard
	deadOps    int  // next N transfers fail hard (reset window)

	// What a step advances PC by, set per scenario.
	stepSize uint32

	// Observability.
	cacheOps   []cacheOp
	icialluCnt int
	srstPulses int
	stickyErrs uint32
}

func newCoreModel() *coreModel {
	return &coreModel{
		mem:      make(map[uint32]byte),
		faultVA:  make(map[uint32]bool),
		didr:     0x0f000000, // 16 breakpoint comparators
		ahbIDR:   modelAHBIDR,
		apCSW:    make(map[uint8]uint32),
		apTAR:    make(map[uint8]uint32),
		stepSize: 4,
	}
}

func (m *coreModel) mapRange(addr uint32, n int) {
	for i := 0; i < n; i++ {
		if _, ok := m.mem[addr+uint32(i)]; !ok {
			m.mem[addr+uint32(i)] = 0
		}
	}
}

func (m *coreModel) setMem(addr uint32, data []byte) {
	for i, b := range data {
		m.mem[addr+uint32(i)] = b
	}
}

func (m *coreModel) getMem(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.mem[addr+uint32(i)]
	}
	return out
}

func (m *coreModel) mapped(pa uint32) bool {
	_, ok := m.mem[pa]
	return ok
}

func (m *coreModel) readWord(pa uint32) (uint32, bool) {
	if !m.mapped(pa) {
		return 0, false
	}
	var w uint32
	for i := uint32(0); i < 4; i++ {
		w |= uint32(m.mem[pa+i]) << (8 * i)
	}
	return w, true
}

func (m *coreModel) writeWord(pa uint32, w uint32) bool {
	if !m.mapped(pa) {
		return false
	}
	for i := uint32(0); i < 4; i++ {
		m.mem[pa+i] = byte(w >> (8 * i))
	}
	return true
}

func (m *coreModel) translate(va uint32) (uint32, bool) {
	if m.faultVA[va&^0xfff] {
		return 0, false
	}
	return va + m.physOffset, true
}

func (m *coreModel) pipelinePC() uint32 {
	if m.cpsr&0x20 != 0 {
		return m.r[15] + 4
	}
	return m.r[15] + 8
}

func (m *coreModel) fastDCC() bool {
	return m.dscrBits&dscrExtDCCMask == dscrExtDCCFast
}

func (m *coreModel) haltHRQ() {
	m.halted = true
	m.restarted = false
	m.moe = 0
}

// restart models DRCR.RRQ: if comparator 0 is armed for instruction
// mismatch the core executes exactly one instruction and halts again.
func (m *coreModel) restart() {
	m.restarted = true
	m.halted = false
	if m.bcr[0]&bcrEn != 0 && m.bcr[0]&(0xf<<20) == bcrInstMismatch {
		m.r[15] += m.stepSize
		m.halted = true
		m.moe = 0x1 // breakpoint
	}
}

func (m *coreModel) execute(op uint32) {
	const rtMask = 0xf << 12
	switch {
	case op&^uint32(rtMask) == insnMCR|cpregDTR:
		m.dtrTX = m.r[(op>>12)&0xf]
	case op&^uint32(rtMask) == insnMRC|cpregDTR:
		m.r[(op>>12)&0xf] = m.dtrRX
	case op == insnMCR|cpregATS1CPR:
		if pa, ok := m.translate(m.r[0]); ok {
			m.par = pa &^ 0xfff
		} else {
			m.par = 1
		}
	case op == insnMRC|cpregPAR:
		m.r[0] = m.par
	case op == insnMCR|cpregICIALLU:
		m.icialluCnt++
	case op == insnMCR|cpregDCCMVAC, op == insnMCR|cpregDCCIMVAC:
		m.cacheOps = append(m.cacheOps, cacheOp{op: op, addr: m.r[0]})
	case op == opMOVr0PC:
		m.r[0] = m.pipelinePC()
	case op == opMOVPCr0:
		m.r[15] = m.r[0]
	case op == opMRSr0CPSR:
		m.r[0] = m.cpsr
	case op == opMSRCPSRr0:
		m.cpsr = m.r[0]
	case op == opVMRSr0FPSCR:
		m.r[0] = m.fpscr
	case op == opVMSRFPSCRr0:
		m.fpscr = m.r[0]
	case op&^uint32(0xf) == opVMOVr0r1D0:
		m.r[0] = m.dlo[op&0xf]
		m.r[1] = m.dhi[op&0xf]
	case op&^uint32(0xf) == opVMOVD0r0r1:
		m.dlo[op&0xf] = m.r[0]
		m.dhi[op&0xf] = m.r[1]
	case op == opLDCDTRTX:
		m.ldcActive = true
		m.ldcJunk = true
	case op == opSTCDTRRX:
		m.stcActive = true
	case op == opSTRBr0SP:
		if pa, ok := m.translate(m.r[13]); ok && m.mapped(pa) {
			m.mem[pa] = byte(m.r[0])
			m.r[13]++
		} else {
			m.sdabort = true
		}
	}
}

func (m *coreModel) dscrValue() uint32 {
	v := m.dscrBits | m.moe<<2
	if m.sdabort {
		v |= dscrSDAbortL
	}
	if m.restarted {
		v |= dscrRestarted
	}
	if m.halted {
		v |= dscrHalted
	}
	return v
}

const dscrWritableMask = dscrHDBGEn | dscrITREn | dscrIntDis | dscrExtDCCMask

func (m *coreModel) debugRead(reg dbgReg) uint32 {
	switch {
	case reg == dbgDIDR:
		return m.didr
	case reg == dbgDSCR:
		return m.dscrValue()
	case reg == dbgDTRTX:
		if m.ldcActive && m.fastDCC() {
			if m.ldcJunk {
				m.ldcJunk = false
				return 0x5a5a5a5a
			}
			pa, ok := m.translate(m.r[0])
			if !ok || !m.mapped(pa) {
				m.sdabort = true
				m.ldcActive = false
				return 0xffffffff
			}
			w, _ := m.readWord(pa)
			m.r[0] += 4
			return w
		}
		return m.dtrTX
	case reg >= 64 && reg < 80:
		return m.bvr[reg-64]
	case reg >= 80 && reg < 96:
		return m.bcr[reg-80]
	}
	return 0
}

func (m *coreModel) debugWrite(reg dbgReg, v uint32) {
	switch {
	case reg == dbgDTRRX:
		m.dtrRX = v
		if m.stcActive && m.fastDCC() {
			pa, ok := m.translate(m.r[0])
			if !ok || !m.writeWord(pa, v) {
				m.sdabort = true
				m.stcActive = false
				return
			}
			m.r[0] += 4
		}
	case reg == dbgITR:
		m.execute(v)
	case reg == dbgDSCR:
		m.dscrBits = v & dscrWritableMask
	case reg == dbgDRCR:
		if v&drcrCSE != 0 {
			m.sdabort = false
		}
		if v&drcrHRQ != 0 {
			m.haltHRQ()
		}
		if v&drcrRRQ != 0 {
			m.restart()
		}
	case reg >= 64 && reg < 80:
		m.bvr[reg-64] = v
	case reg >= 80 && reg < 96:
		m.bcr[reg-80] = v
	}
}

// fakeDP exposes the model through the adiv5.DP interface.
type fakeDP struct {
	m      *coreModel
	posted uint32
}

func (f *fakeDP) access() error {
	if f.m.lost {
		return errors.Errorf("SWD ack fault")
	}
	if f.m.timeoutAll {
		return errors.Timeoutf("SWD WAIT")
	}
	if f.m.deadOps > 0 {
		f.m.deadOps--
		return errors.Errorf("SWD protocol error")
	}
	return nil
}

func (f *fakeDP) Init(ctx context.Context) error { return nil }

func (f *fakeDP) GetIDR(ctx context.Context) (adiv5.DPIDRValue, error) {
	return 0x2ba01477, nil
}

func (f *fakeDP) SetDbgPower(ctx context.Context, dbg, sys bool) error { return nil }

func (f *fakeDP) ReadDPReg(ctx context.Context, reg adiv5.DPReg) (uint32, error) {
	if err := f.access(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (f *fakeDP) WriteDPReg(ctx context.Context, reg adiv5.DPReg, value uint32) error {
	return f.access()
}

func (f *fakeDP) apMemRead(apSel uint8) uint32 {
	tar := f.m.apTAR[apSel]
	size := f.m.apCSW[apSel] & adiv5.CSWSizeMask
	inc := f.m.apCSW[apSel]&adiv5.CSWAddrIncMask != 0
	var v uint32
	switch apSel {
	case modelAPBSel:
		v = f.m.debugRead(dbgReg((tar - modelDebugBase) / 4))
	default:
		if size == adiv5.CSWSizeByte {
			v = uint32(f.m.mem[tar]) << (8 * (tar & 3))
		} else {
			v, _ = f.m.readWord(tar)
		}
	}
	if inc {
		if size == adiv5.CSWSizeByte {
			f.m.apTAR[apSel] = tar + 1
		} else {
			f.m.apTAR[apSel] = tar + 4
		}
	}
	return v
}

func (f *fakeDP) apMemWrite(apSel uint8, value uint32) {
	tar := f.m.apTAR[apSel]
	size := f.m.apCSW[apSel] & adiv5.CSWSizeMask
	inc := f.m.apCSW[apSel]&adiv5.CSWAddrIncMask != 0
	switch apSel {
	case modelAPBSel:
		f.m.debugWrite(dbgReg((tar-modelDebugBase)/4), value)
	default:
		if size == adiv5.CSWSizeByte {
			if f.m.mapped(tar) {
				f.m.mem[tar] = byte(value >> (8 * (tar & 3)))
			}
		} else {
			f.m.writeWord(tar, value)
		}
	}
	if inc {
		if size == adiv5.CSWSizeByte {
			f.m.apTAR[apSel] = tar + 1
		} else {
			f.m.apTAR[apSel] = tar + 4
		}
	}
}

func (f *fakeDP) ReadAPReg(ctx context.Context, apSel, apReg uint8) (uint32, error) {
	if err := f.access(); err != nil {
		return 0, err
	}
	switch adiv5.APReg(apReg) {
	case adiv5.APCSW:
		return f.m.apCSW[apSel], nil
	case adiv5.APTAR:
		return f.m.apTAR[apSel], nil
	case adiv5.APDRW:
		return f.apMemRead(apSel), nil
	case adiv5.APBASE:
		return 0, nil
	case adiv5.APIDR:
		if apSel == modelAPBSel {
			return modelAPBIDR, nil
		}
		return f.m.ahbIDR, nil
	}
	return 0, nil
}

func (f *fakeDP) ReadAPRegMulti(ctx context.Context, apSel, apReg uint8, length int) ([]uint32, error) {
	out := make([]uint32, length)
	for i := range out {
		v, err := f.ReadAPReg(ctx, apSel, apReg)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeDP) WriteAPReg(ctx context.Context, apSel, apReg uint8, value uint32) error {
	if err := f.access(); err != nil {
		return err
	}
	switch adiv5.APReg(apReg) {
	case adiv5.APCSW:
		f.m.apCSW[apSel] = value
	case adiv5.APTAR:
		f.m.apTAR[apSel] = value
	case adiv5.APDRW:
		f.apMemWrite(apSel, value)
	}
	return nil
}

func (f *fakeDP) WriteAPRegMulti(ctx context.Context, apSel, apReg uint8, values []uint32) error {
	for _, v := range values {
		if err := f.WriteAPReg(ctx, apSel, apReg, v); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDP) PostAPRead(ctx context.Context, apSel, apReg uint8) error {
	v, err := f.ReadAPReg(ctx, apSel, apReg)
	if err != nil {
		return err
	}
	f.posted = v
	return nil
}

func (f *fakeDP) ReadRDBUFF(ctx context.Context) (uint32, error) {
	return f.posted, nil
}

func (f *fakeDP) Error(ctx context.Context) (uint32, error) {
	errs := f.m.stickyErrs
	f.m.stickyErrs = 0
	return errs, nil
}

// fakeSRST is the reset line; asserting it opens the model's dead
// window, like the Zynq dropping the DP off the scan chain.
type fakeSRST struct {
	m        *coreModel
	asserted bool
	deadOps  int
}

func (s *fakeSRST) SetSRST(ctx context.Context, assert bool) error {
	if assert && !s.asserted {
		s.m.srstPulses++
		if s.deadOps != 0 {
			s.m.deadOps = s.deadOps
		}
	}
	s.asserted = assert
	return nil
}

func (s *fakeSRST) SRST(ctx context.Context) (bool, error) {
	return s.asserted, nil
}
