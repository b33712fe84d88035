package adiv5

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

type APReg uint8

const (
	APCSW  APReg = 0x00
	APTAR        = 0x04
	APDRW        = 0x0c
	APBD0        = 0x10
	APCFG        = 0xf4
	APBASE       = 0xf8
	APIDR        = 0xfc
)

// CSW bits.
const (
	CSWSizeByte     = 0
	CSWSizeHalfword = 1
	CSWSizeWord     = 2
	CSWSizeMask     = 7
	CSWAddrIncOff   = 0 << 4
	CSWAddrIncOn    = 1 << 4
	CSWAddrIncMask  = 3 << 4
	CSWDeviceEn     = 1 << 6
)

// MEM-AP autoincrement only works on the lower 10 bits of TAR.
const tarIncBoundary = 0x400

// IDR signature of an AHB-AP (designer ARM, class MEM-AP, type AHB).
const (
	ahbIDRMask  = 0x0fffe00f
	ahbIDRValue = 0x04770001
)

// AP is a handle to one access port of a DP, shared between the debug
// driver and the discovery code via reference counting.
type AP struct {
	dp    DP
	apSel uint8
	refs  int

	CSW  uint32 // CSW value the owner has configured for this AP
	IDR  uint32
	Base uint32
}

// NewAP creates a handle to AP #apSel and reads its identification
// registers. The returned handle holds one reference.
func NewAP(ctx context.Context, dp DP, apSel uint8) (*AP, error) {
	ap := &AP{dp: dp, apSel: apSel, refs: 1}
	var err error
	if ap.IDR, err = dp.ReadAPReg(ctx, apSel, uint8(APIDR)); err != nil {
		return nil, errors.Annotatef(err, "failed to read AP %d IDR", apSel)
	}
	if ap.CSW, err = dp.ReadAPReg(ctx, apSel, uint8(APCSW)); err != nil {
		return nil, errors.Annotatef(err, "failed to read AP %d CSW", apSel)
	}
	if ap.Base, err = dp.ReadAPReg(ctx, apSel, uint8(APBASE)); err != nil {
		return nil, errors.Annotatef(err, "failed to read AP %d BASE", apSel)
	}
	glog.V(1).Infof("AP %d: IDR 0x%08x CSW 0x%08x BASE 0x%08x", apSel, ap.IDR, ap.CSW, ap.Base)
	return ap, nil
}

func (ap *AP) Ref() *AP {
	ap.refs++
	return ap
}

func (ap *AP) Unref() {
	ap.refs--
}

func (ap *AP) DP() DP {
	return ap.dp
}

func (ap *AP) Index() uint8 {
	return ap.apSel
}

func (ap *AP) IsAHB() bool {
	return ap.IDR&ahbIDRMask == ahbIDRValue
}

func (ap *AP) ReadReg(ctx context.Context, reg APReg) (uint32, error) {
	value, err := ap.dp.ReadAPReg(ctx, ap.apSel, uint8(reg))
	glog.V(4).Infof("AP%d %s == 0x%08x", ap.apSel, reg, value)
	return value, err
}

func (ap *AP) WriteReg(ctx context.Context, reg APReg, value uint32) error {
	glog.V(4).Infof("AP%d %s = 0x%08x", ap.apSel, reg, value)
	return ap.dp.WriteAPReg(ctx, ap.apSel, uint8(reg), value)
}

// PostRead issues a posted read of an AP register; the result is
// collected with ap.DP().ReadRDBUFF().
func (ap *AP) PostRead(ctx context.Context, reg APReg) error {
	return ap.dp.PostAPRead(ctx, ap.apSel, uint8(reg))
}

func (ap *AP) setCSW(ctx context.Context, size uint32) error {
	csw := (ap.CSW &^ uint32(CSWSizeMask|CSWAddrIncMask)) | size | CSWAddrIncOn
	return errors.Trace(ap.WriteReg(ctx, APCSW, csw))
}

// ReadMem reads len(p) bytes of target memory at addr. Unaligned head
// and tail are read with byte accesses, the bulk with word blocks.
func (ap *AP) ReadMem(ctx context.Context, addr uint32, p []byte) error {
	glog.V(3).Infof("AP%d ReadMem(0x%08x, %d)", ap.apSel, addr, len(p))
	if len(p) == 0 {
		return nil
	}
	i := 0
	if head := int(addr & 3); head != 0 || len(p) < 4 {
		n := 4 - int(addr&3)
		if n > len(p) {
			n = len(p)
		}
		if err := ap.readMemBytes(ctx, addr, p[:n]); err != nil {
			return errors.Trace(err)
		}
		i += n
	}
	nw := (len(p) - i) / 4
	if nw > 0 {
		if err := ap.readMemWords(ctx, addr+uint32(i), p[i:i+nw*4]); err != nil {
			return errors.Trace(err)
		}
		i += nw * 4
	}
	if i < len(p) {
		if err := ap.readMemBytes(ctx, addr+uint32(i), p[i:]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (ap *AP) readMemBytes(ctx context.Context, addr uint32, p []byte) error {
	if err := ap.setCSW(ctx, CSWSizeByte); err != nil {
		return errors.Trace(err)
	}
	for i := range p {
		a := addr + uint32(i)
		if err := ap.WriteReg(ctx, APTAR, a); err != nil {
			return errors.Trace(err)
		}
		w, err := ap.ReadReg(ctx, APDRW)
		if err != nil {
			return errors.Trace(err)
		}
		// Byte accesses return the data in the byte lane of the address.
		p[i] = byte(w >> (8 * (a & 3)))
	}
	return nil
}

func (ap *AP) readMemWords(ctx context.Context, addr uint32, p []byte) error {
	if addr%4 != 0 || len(p)%4 != 0 {
		return errors.Errorf("addr and length must be word-aligned, got 0x%x/%d", addr, len(p))
	}
	if err := ap.setCSW(ctx, CSWSizeWord); err != nil {
		return errors.Trace(err)
	}
	length := len(p) / 4
	for i := 0; i < length; {
		if err := ap.WriteReg(ctx, APTAR, addr); err != nil {
			return errors.Trace(err)
		}
		cl := int((tarIncBoundary - addr&(tarIncBoundary-1)) / 4)
		if cl > length-i {
			cl = length - i
		}
		values, err := ap.dp.ReadAPRegMulti(ctx, ap.apSel, uint8(APDRW), cl)
		if err != nil {
			return errors.Trace(err)
		}
		for j, w := range values {
			off := (i + j) * 4
			p[off] = byte(w)
			p[off+1] = byte(w >> 8)
			p[off+2] = byte(w >> 16)
			p[off+3] = byte(w >> 24)
		}
		addr += uint32(cl * 4)
		i += cl
	}
	return nil
}

// WriteMem writes len(p) bytes of target memory at addr.
func (ap *AP) WriteMem(ctx context.Context, addr uint32, p []byte) error {
	glog.V(3).Infof("AP%d WriteMem(0x%08x, %d)", ap.apSel, addr, len(p))
	if len(p) == 0 {
		return nil
	}
	i := 0
	if head := int(addr & 3); head != 0 || len(p) < 4 {
		n := 4 - int(addr&3)
		if n > len(p) {
			n = len(p)
		}
		if err := ap.writeMemBytes(ctx, addr, p[:n]); err != nil {
			return errors.Trace(err)
		}
		i += n
	}
	nw := (len(p) - i) / 4
	if nw > 0 {
		if err := ap.writeMemWords(ctx, addr+uint32(i), p[i:i+nw*4]); err != nil {
			return errors.Trace(err)
		}
		i += nw * 4
	}
	if i < len(p) {
		if err := ap.writeMemBytes(ctx, addr+uint32(i), p[i:]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (ap *AP) writeMemBytes(ctx context.Context, addr uint32, p []byte) error {
	if err := ap.setCSW(ctx, CSWSizeByte); err != nil {
		return errors.Trace(err)
	}
	for i, b := range p {
		a := addr + uint32(i)
		if err := ap.WriteReg(ctx, APTAR, a); err != nil {
			return errors.Trace(err)
		}
		if err := ap.WriteReg(ctx, APDRW, uint32(b)<<(8*(a&3))); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (ap *AP) writeMemWords(ctx context.Context, addr uint32, p []byte) error {
	if addr%4 != 0 || len(p)%4 != 0 {
		return errors.Errorf("addr and length must be word-aligned, got 0x%x/%d", addr, len(p))
	}
	if err := ap.setCSW(ctx, CSWSizeWord); err != nil {
		return errors.Trace(err)
	}
	words := make([]uint32, len(p)/4)
	for i := range words {
		off := i * 4
		words[i] = uint32(p[off]) | uint32(p[off+1])<<8 | uint32(p[off+2])<<16 | uint32(p[off+3])<<24
	}
	for i := 0; i < len(words); {
		if err := ap.WriteReg(ctx, APTAR, addr); err != nil {
			return errors.Trace(err)
		}
		cl := int((tarIncBoundary - addr&(tarIncBoundary-1)) / 4)
		if cl > len(words)-i {
			cl = len(words) - i
		}
		if err := ap.dp.WriteAPRegMulti(ctx, ap.apSel, uint8(APDRW), words[i:i+cl]); err != nil {
			return errors.Trace(err)
		}
		addr += uint32(cl * 4)
		i += cl
	}
	return nil
}

func (r APReg) String() string {
	switch r {
	case APCSW:
		return "CSW"
	case APTAR:
		return "TAR"
	case APDRW:
		return "DRW"
	case APBD0:
		return "BD0"
	case APCFG:
		return "CFG"
	case APBASE:
		return "BASE"
	case APIDR:
		return "IDR"
	}
	return fmt.Sprintf("0x%x", uint8(r))
}
