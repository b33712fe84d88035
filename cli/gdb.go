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
	"strings"

	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/adiv5"
	"github.com/mongoose-os/adbg/cli/debug/cortexa"
	"github.com/mongoose-os/adbg/cli/debug/dap"
	"github.com/mongoose-os/adbg/cli/debug/target"
	"github.com/mongoose-os/adbg/cli/devices"
	"github.com/mongoose-os/adbg/cli/gdbserver"
	"github.com/mongoose-os/adbg/common/ourutil"
)

func openProbe(ctx context.Context) (dap.Client, adiv5.DP, error) {
	dapc, err := dap.NewClient(ctx, *vid, *pid, "")
	if err != nil {
		return nil, nil, errors.Annotatef(err, "failed to open probe")
	}
	fw, err := dapc.GetFirmwareVersion(ctx)
	if err == nil {
		ourutil.Reportf("Probe firmware: %s", fw)
	}
	if err := dapc.Connect(ctx, dap.ConnectModeSWD); err != nil {
		dapc.Close(ctx)
		return nil, nil, errors.Annotatef(err, "failed to connect in SWD mode")
	}
	dapc.SetHostStatus(ctx, dap.StatusConnected, true)
	if err := dapc.SWJClock(ctx, *swdClock); err != nil {
		dapc.Close(ctx)
		return nil, nil, errors.Trace(err)
	}
	if err := dapc.TransferConfigure(ctx, 0, 64, 0); err != nil {
		dapc.Close(ctx)
		return nil, nil, errors.Trace(err)
	}
	if err := dapc.SWDConfigure(ctx, 0); err != nil {
		dapc.Close(ctx)
		return nil, nil, errors.Trace(err)
	}
	if err := swjSwitchToSWD(ctx, dapc); err != nil {
		dapc.Close(ctx)
		return nil, nil, errors.Trace(err)
	}
	dpc := adiv5.NewDP(dapc)
	if err := dpc.Init(ctx); err != nil {
		dapc.Close(ctx)
		return nil, nil, errors.Annotatef(err, "failed to init DP")
	}
	return dapc, dpc, nil
}

// swjSwitchToSWD runs the line reset + JTAG-to-SWD select sequence.
func swjSwitchToSWD(ctx context.Context, dapc dap.Client) error {
	ones := []uint8{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if err := dapc.SWJSequence(ctx, 56, ones); err != nil {
		return errors.Trace(err)
	}
	if err := dapc.SWJSequence(ctx, 16, []uint8{0x9e, 0xe7}); err != nil {
		return errors.Trace(err)
	}
	if err := dapc.SWJSequence(ctx, 56, ones); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(dapc.SWJSequence(ctx, 8, []uint8{0x00}))
}

func probeTarget(ctx context.Context, dapc dap.Client, dpc adiv5.DP, list *target.List) (target.Target, error) {
	devs, err := devices.Load(*deviceFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	dev, err := devices.Find(devs, *deviceName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	apb, err := adiv5.NewAP(ctx, dpc, *apbAP)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open APB-AP %d", *apbAP)
	}
	opts := cortexa.Options{
		AHBIndex:  dev.AHBAP,
		CacheLine: dev.CacheLine,
		SRST:      dapc,
		Reset:     dev.Reset,
		GDBOut: func(msg string) {
			ourutil.Reportf("%s", strings.TrimSpace(msg))
		},
		Morse: func(msg string) {
			ourutil.Reportf("%s", msg)
		},
		OnLost: func(ctx context.Context) {
			list.Drop()
		},
	}
	tgt, err := cortexa.Probe(ctx, apb, dev.DebugBase, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to probe %s", dev.Name)
	}
	list.Add(tgt)
	return tgt, nil
}

func gdbServe(ctx context.Context) error {
	dapc, dpc, err := openProbe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer dapc.Close(ctx)

	list := &target.List{}
	defer list.Free(ctx)
	tgt, err := probeTarget(ctx, dapc, dpc, list)
	if err != nil {
		return errors.Trace(err)
	}
	if err := tgt.Attach(ctx); err != nil {
		return errors.Annotatef(err, "failed to attach")
	}
	ourutil.Reportf("Attached to %s", tgt.Driver())

	return errors.Trace(gdbserver.NewServer(tgt).Serve(ctx, *listenAddr))
}

func resetTarget(ctx context.Context) error {
	dapc, dpc, err := openProbe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer dapc.Close(ctx)

	list := &target.List{}
	defer list.Free(ctx)
	tgt, err := probeTarget(ctx, dapc, dpc, list)
	if err != nil {
		return errors.Trace(err)
	}
	if err := tgt.Attach(ctx); err != nil {
		return errors.Annotatef(err, "failed to attach")
	}
	if err := tgt.Reset(ctx); err != nil {
		return errors.Annotatef(err, "failed to reset")
	}
	ourutil.Reportf("Target reset, halted")
	return nil
}
