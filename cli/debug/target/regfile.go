package target

import (
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
)

const SP = 13 // SP is an alias for R13
const LR = 14 // LR is an alias for R14
const PC = 15 // PC is an alias for R15

// RegFile is the architectural register snapshot shuttled between the
// debugger and the core: r0..r15, CPSR, FPSCR and the VFP d registers.
// Its wire form is the packed little-endian layout GDB expects for the
// org.gnu.gdb.arm.core + org.gnu.gdb.arm.vfp features.
type RegFile struct {
	R     [16]uint32
	CPSR  uint32
	FPSCR uint32
	D     [16]uint64
}

// RegFileSize is the size of the marshalled register file in bytes.
const RegFileSize = 16*4 + 4 + 4 + 16*8

// CPSR bit 5 selects Thumb state.
const CPSRThumb = 1 << 5

func (r *RegFile) Thumb() bool {
	return r.CPSR&CPSRThumb != 0
}

func (r *RegFile) MarshalBinary() ([]byte, error) {
	data := make([]byte, RegFileSize)
	for i, v := range r.R {
		binary.LittleEndian.PutUint32(data[i*4:], v)
	}
	binary.LittleEndian.PutUint32(data[64:], r.CPSR)
	binary.LittleEndian.PutUint32(data[68:], r.FPSCR)
	for i, v := range r.D {
		binary.LittleEndian.PutUint64(data[72+i*8:], v)
	}
	return data, nil
}

func (r *RegFile) UnmarshalBinary(data []byte) error {
	if len(data) != RegFileSize {
		return errors.Errorf("invalid register file size (want %d, got %d)", RegFileSize, len(data))
	}
	for i := range r.R {
		r.R[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	r.CPSR = binary.LittleEndian.Uint32(data[64:])
	r.FPSCR = binary.LittleEndian.Uint32(data[68:])
	for i := range r.D {
		r.D[i] = binary.LittleEndian.Uint64(data[72+i*8:])
	}
	return nil
}

func (r RegFile) String() string {
	return fmt.Sprintf(
		"[R0=0x%x R1=0x%x R2=0x%x R3=0x%x R4=0x%x R5=0x%x R6=0x%x R7=0x%x "+
			"R8=0x%x R9=0x%x R10=0x%x R11=0x%x R12=0x%x SP=0x%x LR=0x%x PC=0x%x CPSR=0x%x FPSCR=0x%x]",
		r.R[0], r.R[1], r.R[2], r.R[3], r.R[4], r.R[5], r.R[6], r.R[7], r.R[8], r.R[9], r.R[10], r.R[11], r.R[12],
		r.R[SP], r.R[LR], r.R[PC], r.CPSR, r.FPSCR)
}
