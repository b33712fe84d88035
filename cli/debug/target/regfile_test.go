package target

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRegFileRoundTrip(t *testing.T) {
	var rf RegFile
	for i := range rf.R {
		rf.R[i] = uint32(0x1000 + i)
	}
	rf.CPSR = 0x600001d3
	rf.FPSCR = 0x03000000
	for i := range rf.D {
		rf.D[i] = uint64(i)<<32 | 0xdeadbeef
	}

	data, err := rf.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != RegFileSize {
		t.Fatalf("marshalled size %d, want %d", len(data), RegFileSize)
	}

	var rf2 RegFile
	if err := rf2.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if rf != rf2 {
		t.Errorf("round trip mismatch:\n got %s\nwant %s", rf2, rf)
	}
}

func TestRegFileLayout(t *testing.T) {
	// The wire layout is fixed by the GDB target description:
	// r0..r15, cpsr, fpscr, d0..d15, packed little-endian.
	rf := RegFile{CPSR: 0x11223344, FPSCR: 0x55667788}
	rf.R[15] = 0x8000
	rf.D[15] = 0x0102030405060708

	data, _ := rf.MarshalBinary()
	if got := binary.LittleEndian.Uint32(data[15*4:]); got != 0x8000 {
		t.Errorf("pc at wrong offset: 0x%x", got)
	}
	if got := binary.LittleEndian.Uint32(data[64:]); got != 0x11223344 {
		t.Errorf("cpsr at wrong offset: 0x%x", got)
	}
	if got := binary.LittleEndian.Uint32(data[68:]); got != 0x55667788 {
		t.Errorf("fpscr at wrong offset: 0x%x", got)
	}
	if got := binary.LittleEndian.Uint64(data[72+15*8:]); got != 0x0102030405060708 {
		t.Errorf("d15 at wrong offset: 0x%x", got)
	}
	if !bytes.Equal(data[0:4], []byte{0, 0, 0, 0}) {
		t.Errorf("r0 not zero: %v", data[0:4])
	}
}

func TestRegFileUnmarshalShort(t *testing.T) {
	var rf RegFile
	if err := rf.UnmarshalBinary(make([]byte, RegFileSize-1)); err == nil {
		t.Errorf("expected error for short buffer")
	}
}

func TestThumb(t *testing.T) {
	rf := RegFile{CPSR: 0x10}
	if rf.Thumb() {
		t.Errorf("not thumb")
	}
	rf.CPSR |= CPSRThumb
	if !rf.Thumb() {
		t.Errorf("thumb")
	}
}
