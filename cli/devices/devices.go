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
package devices

import (
	"io/ioutil"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/mongoose-os/adbg/cli/debug/cortexa"
)

// Device describes one supported part: where its debug registers live
// and how to reset it. Which AP is the system-bus AP is device
// specific, hence ahb_ap is part of the description rather than
// hardcoded.
type Device struct {
	Name      string              `yaml:"name"`
	DebugBase uint32              `yaml:"debug_base"`
	AHBAP     uint8               `yaml:"ahb_ap"`
	CacheLine uint32              `yaml:"cache_line"`
	Reset     cortexa.ResetScheme `yaml:"reset"`
}

var builtin = []Device{
	{
		Name:      "zynq7000",
		DebugBase: 0x80090000,
		AHBAP:     0,
		CacheLine: 32,
		Reset:     cortexa.ZynqReset,
	},
}

// Load returns the device catalog, optionally extended/overridden from
// a YAML file ("devices:" list).
func Load(file string) ([]Device, error) {
	devs := append([]Device{}, builtin...)
	if file == "" {
		return devs, nil
	}
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", file)
	}
	var f struct {
		Devices []Device `yaml:"devices"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Annotatef(err, "failed to parse %s", file)
	}
	for _, d := range f.Devices {
		devs = replaceOrAdd(devs, d)
	}
	return devs, nil
}

// Find looks a device up by name.
func Find(devs []Device, name string) (*Device, error) {
	for i := range devs {
		if devs[i].Name == name {
			return &devs[i], nil
		}
	}
	return nil, errors.NotFoundf("device %q", name)
}

func replaceOrAdd(devs []Device, d Device) []Device {
	for i := range devs {
		if devs[i].Name == d.Name {
			devs[i] = d
			return devs
		}
	}
	return append(devs, d)
}
