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
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mibpf/mibpf/bpf/asm"
	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/coap"
	"github.com/mibpf/mibpf/config"
)

var _ pflag.Value = (*image.Layout)(nil)

// helperFlags is the --helper-indices flag shared by several commands.
type helperFlags struct {
	Indices []uint
}

func (h *helperFlags) register(cmd *cobra.Command, usage string) {
	cmd.Flags().UintSliceVar(&h.Indices, "helper-indices", nil, usage)
}

func (h *helperFlags) helpers() ([]asm.Helper, error) {
	helpers := make([]asm.Helper, 0, len(h.Indices))
	for _, id := range h.Indices {
		if id > 0xff {
			return nil, errors.Errorf("helper index %d does not fit in a byte", id)
		}
		helper := asm.Helper(id)
		if !helper.Known() {
			log.WithField("helper", helper).Warn("Helper is not known to the VM.")
		}
		helpers = append(helpers, helper)
	}
	return helpers, nil
}

// vmFlags selects the VM configuration of the device.
type vmFlags struct {
	Target   string
	SuitSlot int
	Layout   image.Layout
}

func (v *vmFlags) register(cmd *cobra.Command) {
	v.Layout = image.DefaultLayout
	cmd.Flags().StringVar(&v.Target, "target", coap.TargetRbpf.String(), "VM that runs the program (rBPF or FemtoContainer)")
	cmd.Flags().IntVar(&v.SuitSlot, "suit-storage-slot", 0, "SUIT storage slot of the program (0 or 1)")
	cmd.Flags().Var(&v.Layout, "binary-layout", "Binary layout of the program")
}

func (v *vmFlags) configuration() (coap.VMConfiguration, error) {
	target, err := coap.ParseTarget(v.Target)
	if err != nil {
		return coap.VMConfiguration{}, err
	}
	c := coap.VMConfiguration{Target: target, SuitSlot: v.SuitSlot, Layout: v.Layout}
	return c, c.Validate()
}

// deviceFlags address the RIOT instance and the host it talks to.  Unset
// flags fall back to the configuration.
type deviceFlags struct {
	RiotIP    string
	RiotNetIf string
	HostIP    string
	HostNetIf string
}

func (d *deviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.RiotIP, "riot-ipv6-addr", "", "IPv6 address of the RIOT instance (default $RIOT_INSTANCE_IP)")
	cmd.Flags().StringVar(&d.RiotNetIf, "riot-network-interface", "", "Network interface of the RIOT instance (default $RIOT_INSTANCE_NET_IF)")
	cmd.Flags().StringVar(&d.HostIP, "host-ipv6-addr", "", "IPv6 address of this host (default $HOST_IP)")
	cmd.Flags().StringVar(&d.HostNetIf, "host-network-interface", "", "Network interface of this host (default $HOST_NET_IF)")
}

func (d *deviceFlags) resolve(cfg *config.Config) deviceFlags {
	return deviceFlags{
		RiotIP:    orDefault(d.RiotIP, cfg.RiotInstanceIP),
		RiotNetIf: orDefault(d.RiotNetIf, cfg.RiotInstanceNetIf),
		HostIP:    orDefault(d.HostIP, cfg.HostIP),
		HostNetIf: orDefault(d.HostNetIf, cfg.HostNetIf),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
