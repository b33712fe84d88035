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

	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/adiv5"
	"github.com/mongoose-os/adbg/common/ourutil"
)

func info(ctx context.Context) error {
	dapc, dpc, err := openProbe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer dapc.Close(ctx)

	if serial, err := dapc.GetSerialNumber(ctx); err == nil && serial != "" {
		ourutil.Reportf("Probe serial: %s", serial)
	}
	idr, err := dpc.GetIDR(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("DP: designer %s, version %d, rev %d",
		idr.Designer(), idr.Version(), idr.Revision())

	for i := uint8(0); i < 4; i++ {
		ap, err := adiv5.NewAP(ctx, dpc, i)
		if err != nil {
			return errors.Annotatef(err, "failed to read AP %d", i)
		}
		if ap.IDR == 0 {
			continue
		}
		kind := ""
		if ap.IsAHB() {
			kind = " (AHB-AP, system memory)"
		}
		ourutil.Reportf("AP %d: IDR 0x%08x BASE 0x%08x%s", i, ap.IDR, ap.Base, kind)
		ap.Unref()
	}
	return nil
}
