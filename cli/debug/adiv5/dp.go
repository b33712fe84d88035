package adiv5

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/dap"
)

type DPReg uint8

const (
	DPABORT    DPReg = 0x00 // write-only
	DPIDR      DPReg = 0x00 // read-only
	DPCTRLSTAT       = 0x04
	DPSELECT         = 0x08
	DPRDBUFF         = 0x0c
)

// CTRL/STAT bits.
const (
	CtrlStatCSYSPWRUPACK = 1 << 31
	CtrlStatCSYSPWRUPREQ = 1 << 30
	CtrlStatCDBGPWRUPACK = 1 << 29
	CtrlStatCDBGPWRUPREQ = 1 << 28
	CtrlStatWDATAERR     = 1 << 7
	CtrlStatSTICKYERR    = 1 << 5
	CtrlStatSTICKYCMP    = 1 << 4
	CtrlStatSTICKYORUN   = 1 << 1

	ctrlStatErrMask = CtrlStatWDATAERR | CtrlStatSTICKYERR | CtrlStatSTICKYCMP | CtrlStatSTICKYORUN
)

// ABORT bits.
const (
	AbortORUNERRCLR = 1 << 4
	AbortWDERRCLR   = 1 << 3
	AbortSTKERRCLR  = 1 << 2
	AbortSTKCMPCLR  = 1 << 1

	abortClearAll = AbortORUNERRCLR | AbortWDERRCLR | AbortSTKERRCLR | AbortSTKCMPCLR
)

type DP interface {
	Init(ctx context.Context) error
	GetIDR(ctx context.Context) (DPIDRValue, error)
	SetDbgPower(ctx context.Context, dbg, sys bool) error
	ReadDPReg(ctx context.Context, reg DPReg) (uint32, error)
	WriteDPReg(ctx context.Context, reg DPReg, value uint32) error
	ReadAPReg(ctx context.Context, apSel, apReg uint8) (uint32, error)
	ReadAPRegMulti(ctx context.Context, apSel, apReg uint8, length int) ([]uint32, error)
	WriteAPReg(ctx context.Context, apSel, apReg uint8, value uint32) error
	WriteAPRegMulti(ctx context.Context, apSel, apReg uint8, values []uint32) error
	// PostAPRead issues an AP read without collecting the result;
	// the posted value is retrieved with ReadRDBUFF.
	PostAPRead(ctx context.Context, apSel, apReg uint8) error
	ReadRDBUFF(ctx context.Context) (uint32, error)
	// Error returns the accumulated sticky transfer errors and clears them.
	Error(ctx context.Context) (uint32, error)
}

func NewDP(dapc dap.Client) DP {
	return &dpClient{dapc: dapc}
}

type dpClient struct {
	dapc dap.Client

	selectValue uint32
	posted      uint32
}

func (dpc *dpClient) readReg(ctx context.Context, reg uint8, ap bool) (uint32, error) {
	_, data, err := dpc.dapc.Transfer(ctx, 0, []dap.TransferRequest{
		dap.TransferRequest{Op: dap.OpRead, AP: ap, Reg: reg},
	})
	if err != nil {
		return 0, errors.Annotatef(err, "failed to read reg %d", reg)
	}
	return data[0], nil
}

func (dpc *dpClient) readRegMulti(ctx context.Context, reg uint8, ap bool, length int) ([]uint32, error) {
	maxChunkSize := dpc.dapc.GetTransferBlockMaxSize()
	var res []uint32
	for length > 0 {
		chunkSize := length
		if chunkSize > maxChunkSize {
			chunkSize = maxChunkSize
		}
		chunk, err := dpc.dapc.TransferBlockRead(ctx, 0, ap, reg, chunkSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		res = append(res, chunk...)
		length -= chunkSize
	}
	return res, nil
}

func (dpc *dpClient) ReadDPReg(ctx context.Context, reg DPReg) (uint32, error) {
	value, err := dpc.readReg(ctx, uint8(reg), false /* ap */)
	glog.V(4).Infof("%s == 0x%08x", reg, value)
	return value, err
}

func (dpc *dpClient) writeReg(ctx context.Context, reg uint8, ap bool, value uint32) error {
	_, _, err := dpc.dapc.Transfer(ctx, 0, []dap.TransferRequest{
		dap.TransferRequest{Op: dap.OpWrite, AP: ap, Reg: reg, Data: value},
	})
	return err
}

func (dpc *dpClient) writeRegMulti(ctx context.Context, reg uint8, ap bool, values []uint32) error {
	offset := 0
	maxChunkSize := dpc.dapc.GetTransferBlockMaxSize()
	for offset < len(values) {
		chunk := values[offset:]
		if len(chunk) > maxChunkSize {
			chunk = chunk[:maxChunkSize]
		}
		if err := dpc.dapc.TransferBlockWrite(ctx, 0, ap, reg, chunk); err != nil {
			return errors.Trace(err)
		}
		offset += len(chunk)
	}
	return nil
}

func (dpc *dpClient) WriteDPReg(ctx context.Context, reg DPReg, value uint32) error {
	glog.V(4).Infof("%s = 0x%08x", reg, value)
	return errors.Trace(dpc.writeReg(ctx, uint8(reg), false /* ap */, value))
}

func (dpc *dpClient) Init(ctx context.Context) error {
	if _, err := dpc.GetIDR(ctx); err != nil {
		return errors.Annotatef(err, "failed to read DP ID")
	}
	if err := dpc.WriteDPReg(ctx, DPSELECT, 0); err != nil {
		return errors.Trace(err)
	}
	dpc.selectValue = 0
	if err := dpc.SetDbgPower(ctx, true, true); err != nil {
		return errors.Trace(err)
	}
	// Clear all the errors (if any).
	if err := dpc.WriteDPReg(ctx, DPABORT, abortClearAll); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (dpc *dpClient) GetIDR(ctx context.Context) (DPIDRValue, error) {
	v, err := dpc.ReadDPReg(ctx, DPIDR)
	if err != nil {
		return 0, errors.Annotatef(err, "failed to read DPIDR")
	}
	return DPIDRValue(v), nil
}

func (dpc *dpClient) SetDbgPower(ctx context.Context, dbg, sys bool) error {
	var reqMask, ackMask uint32
	if dbg {
		reqMask |= CtrlStatCDBGPWRUPREQ
		ackMask |= CtrlStatCDBGPWRUPACK
	}
	if sys {
		reqMask |= CtrlStatCSYSPWRUPREQ
		ackMask |= CtrlStatCSYSPWRUPACK
	}
	for {
		statValue, err := dpc.ReadDPReg(ctx, DPCTRLSTAT)
		if err != nil {
			return errors.Annotatef(err, "failed to read DPCTRLSTAT")
		}
		if statValue&0xf0000000 == (reqMask | ackMask) {
			break
		}
		ctrlValue := (statValue & 0x07ffffff) | reqMask
		if err := dpc.WriteDPReg(ctx, DPCTRLSTAT, ctrlValue); err != nil {
			return errors.Annotatef(err, "failed to write DPCTRLSTAT")
		}
	}
	return nil
}

func (dpc *dpClient) selectAP(ctx context.Context, apSel, apBank uint8) error {
	sv := (dpc.selectValue & 0x00ffff0f) | (uint32(apSel) << 24) | ((uint32(apBank) & 0xf) << 4)
	if sv == dpc.selectValue {
		return nil
	}
	if err := dpc.WriteDPReg(ctx, DPSELECT, sv); err != nil {
		return errors.Annotatef(err, "failed to select AP %d bank %d", apSel, apBank)
	}
	dpc.selectValue = sv
	return nil
}

func (dpc *dpClient) ReadAPReg(ctx context.Context, apSel, apReg uint8) (uint32, error) {
	apBank := apReg / 16
	if err := dpc.selectAP(ctx, apSel, apBank); err != nil {
		return 0, errors.Trace(err)
	}
	apReg = apReg % 16
	return dpc.readReg(ctx, apReg, true /* ap */)
}

func (dpc *dpClient) ReadAPRegMulti(ctx context.Context, apSel, apReg uint8, length int) ([]uint32, error) {
	apBank := apReg / 16
	if err := dpc.selectAP(ctx, apSel, apBank); err != nil {
		return nil, errors.Trace(err)
	}
	apReg = apReg % 16
	return dpc.readRegMulti(ctx, apReg, true /* ap */, length)
}

func (dpc *dpClient) WriteAPReg(ctx context.Context, apSel, apReg uint8, value uint32) error {
	apBank := apReg / 16
	if err := dpc.selectAP(ctx, apSel, apBank); err != nil {
		return errors.Trace(err)
	}
	apReg = apReg % 16
	return dpc.writeReg(ctx, apReg, true /* ap */, value)
}

func (dpc *dpClient) WriteAPRegMulti(ctx context.Context, apSel, apReg uint8, values []uint32) error {
	apBank := apReg / 16
	if err := dpc.selectAP(ctx, apSel, apBank); err != nil {
		return errors.Trace(err)
	}
	apReg = apReg % 16
	return dpc.writeRegMulti(ctx, apReg, true /* ap */, values)
}

func (dpc *dpClient) PostAPRead(ctx context.Context, apSel, apReg uint8) error {
	// The probe collects the AP read result itself; keep it so that a
	// following ReadRDBUFF returns the posted value even if the probe
	// elides the extra RDBUFF round-trip.
	v, err := dpc.ReadAPReg(ctx, apSel, apReg)
	if err != nil {
		return errors.Trace(err)
	}
	dpc.posted = v
	return nil
}

func (dpc *dpClient) ReadRDBUFF(ctx context.Context) (uint32, error) {
	glog.V(4).Infof("RDBUFF == 0x%08x", dpc.posted)
	return dpc.posted, nil
}

func (dpc *dpClient) Error(ctx context.Context) (uint32, error) {
	statValue, err := dpc.ReadDPReg(ctx, DPCTRLSTAT)
	if err != nil {
		return 0, errors.Annotatef(err, "failed to read DPCTRLSTAT")
	}
	errs := statValue & ctrlStatErrMask
	if errs != 0 {
		if err := dpc.WriteDPReg(ctx, DPABORT, abortClearAll); err != nil {
			return errs, errors.Annotatef(err, "failed to clear sticky errors")
		}
	}
	return errs, nil
}

type DPIDRValue uint32

type DPDesigner uint16

func (v DPIDRValue) Designer() DPDesigner {
	return DPDesigner(v & 0xfff)
}

func (v DPIDRValue) Version() uint8 {
	return uint8((v >> 12) & 0xf)
}

func (v DPIDRValue) Minimal() bool {
	return (v>>16)&1 != 0
}

func (v DPIDRValue) Revision() uint8 {
	return uint8((v >> 28) & 0xf)
}

func (v DPDesigner) String() string {
	if v == 0x477 {
		return "ARM"
	}
	return fmt.Sprintf("0x%03x", uint16(v))
}

func (r DPReg) String() string {
	switch r {
	case DPIDR:
		return "DPIDR"
	case DPCTRLSTAT:
		return "DPCTRLSTAT"
	case DPSELECT:
		return "DPSELECT"
	case DPRDBUFF:
		return "DPRDBUFF"
	}
	return fmt.Sprintf("0x%x", uint8(r))
}
