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
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/adbg/common/pflagenv"
	"github.com/mongoose-os/adbg/version"
)

const (
	envPrefix = "ADBG_"
)

var (
	listenAddr = flag.String("listen", "localhost:3333", "Address to serve the GDB remote protocol on")
	deviceName = flag.String("device", "zynq7000", "Target device name")
	deviceFile = flag.String("device-file", "", "YAML file with additional device descriptions")
	vid        = flag.Uint16("vid", 0x0d28, "Probe USB vendor ID")
	pid        = flag.Uint16("pid", 0x0204, "Probe USB product ID")
	swdClock   = flag.Uint32("swd-clock", 1000000, "SWD clock frequency, Hz")
	apbAP      = flag.Uint8("apb-ap", 1, "Index of the debug APB access port")
	port       = flag.String("port", "", "Serial port of the target's console UART")
	baudRate   = flag.Uint("baud-rate", 115200, "Baud rate for the console UART")

	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var (
	// put all commands here
	commands = []command{
		{"gdb", gdbServe, `Attach to the target and serve GDB on --listen`, []string{}, []string{"device", "listen", "vid", "pid", "swd-clock", "apb-ap"}},
		{"reset", resetTarget, `Reset the target and leave it halted`, []string{}, []string{"device", "vid", "pid"}},
		{"info", info, `Print probe and target identification`, []string{}, []string{"device", "vid", "pid"}},
		{"console", console, `Simple serial port console for the target UART`, []string{"port"}, []string{"baud-rate"}},
	}
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func(ctx context.Context) error

func run() error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			// check required flags
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			// run the handler
			if err := c.handler(context.Background()); err != nil {
				return errors.Trace(err)
			}
			return nil
		}
	}
	// not found
	usage()
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	pflagenv.Parse(envPrefix)

	if *helpFull {
		unhideFlags()
		usage()
		return
	} else if *versionFlag {
		fmt.Printf(
			"%s\nVersion: %s\nBuild ID: %s\n",
			"The adbg ARM debug probe tool", version.Version, version.BuildId,
		)
		return
	}

	if err := run(); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
