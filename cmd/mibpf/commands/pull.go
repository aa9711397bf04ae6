// Copyright (c) 2025 Tigera, Inc. All rights reserved.
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

package commands

import (
	"github.com/spf13/cobra"

	"github.com/mibpf/mibpf/coap"
	"github.com/mibpf/mibpf/toolchain"
)

type pullCmd struct {
	*cobra.Command
	app *app

	Manifest string
	Erase    bool
	deviceFlags
	vmFlags
	helperFlags
}

func newPullCmd(a *app) *cobra.Command {
	pc := &pullCmd{app: a}
	pc.Command = &cobra.Command{
		Use:   "pull [--suit-manifest <file>] [--suit-storage-slot <n>] [--erase]",
		Short: "Tells the RIOT instance to pull a signed program from this host",
		Args:  cobra.NoArgs,
		RunE:  pc.run,
	}

	pc.Flags().StringVar(&pc.Manifest, "suit-manifest", "", "Signed manifest to pull (default the manifest of the storage slot)")
	pc.Flags().BoolVar(&pc.Erase, "erase", false, "Erase the storage slot instead of loading a program")
	pc.deviceFlags.register(pc.Command)
	pc.vmFlags.register(pc.Command)
	pc.helperFlags.register(pc.Command, "Helpers the program may call once loaded")

	return pc.Command
}

func (pc *pullCmd) run(c *cobra.Command, _ []string) error {
	opts, err := pc.options()
	if err != nil {
		return err
	}
	resp, err := coap.Pull(c.Context(), pc.app.coapClient(), opts)
	if err != nil {
		return err
	}
	c.Print(resp)
	return nil
}

func (pc *pullCmd) options() (coap.PullOptions, error) {
	vm, err := pc.configuration()
	if err != nil {
		return coap.PullOptions{}, err
	}
	helpers, err := pc.helpers()
	if err != nil {
		return coap.PullOptions{}, err
	}
	dev := pc.resolve(pc.app.cfg)
	return coap.PullOptions{
		RiotIP:        dev.RiotIP,
		RiotNetIf:     dev.RiotNetIf,
		HostIP:        dev.HostIP,
		HostNetIf:     dev.HostNetIf,
		Manifest:      orDefault(pc.Manifest, toolchain.ManifestName(vm.SuitSlot)),
		Configuration: vm,
		Helpers:       helpers,
		Erase:         pc.Erase,
	}, nil
}
