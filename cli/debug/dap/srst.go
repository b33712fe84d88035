package dap

// nRESET pin control, used as the platform system reset line.
// The pin is active low: asserting reset drives it to 0.

import (
	"context"

	"github.com/juju/errors"
)

func (dapc *client) SetSRST(ctx context.Context, assert bool) error {
	var output uint8
	if !assert {
		output = PinNRESET
	}
	_, err := dapc.SWJPins(ctx, output, PinNRESET, 0)
	return errors.Trace(err)
}

func (dapc *client) SRST(ctx context.Context) (bool, error) {
	pins, err := dapc.SWJPins(ctx, 0, 0, 0)
	if err != nil {
		return false, errors.Trace(err)
	}
	return pins&PinNRESET == 0, nil
}
