//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package main

import (
	"context"
	"io"
	"os"

	"github.com/cesanta/go-serial/serial"
	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/common/ourutil"
)

// console is a pass-through to the target's console UART, typically
// wired to the probe's auxiliary serial port.
func console(ctx context.Context) error {
	sp, err := serial.Open(serial.OpenOptions{
		PortName:        *port,
		BaudRate:        *baudRate,
		DataBits:        8,
		ParityMode:      serial.PARITY_NONE,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return errors.Annotatef(err, "failed to open %s", *port)
	}
	defer sp.Close()
	ourutil.Reportf("Console on %s @ %d, Ctrl-C to exit", *port, *baudRate)

	cctx, cancel := context.WithCancel(ctx)
	go func() { // Serial -> Stdout
		if _, err := io.Copy(os.Stdout, sp); err != nil {
			ourutil.Reportf("read error: %s", err)
		}
		cancel()
	}()
	go func() { // Stdin -> Serial
		if _, err := io.Copy(sp, os.Stdin); err != nil {
			ourutil.Reportf("write error: %s", err)
		}
		cancel()
	}()
	<-cctx.Done()
	return nil
}
