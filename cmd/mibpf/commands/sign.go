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
	"github.com/spf13/cobra"

	"github.com/mibpf/mibpf/toolchain"
)

type signCmd struct {
	*cobra.Command
	app *app

	BinaryName  string
	SuitSlot    int
	HostNetIf   string
	Board       string
	CoapRootDir string
}

func newSignCmd(a *app) *cobra.Command {
	sc := &signCmd{app: a}
	sc.Command = &cobra.Command{
		Use:   "sign [--binary-name <file>] [--suit-storage-slot <n>]",
		Short: "Signs a binary and generates its SUIT manifest",
		Args:  cobra.NoArgs,
		RunE:  sc.run,
	}

	sc.Flags().StringVar(&sc.BinaryName, "binary-name", "a.bin", "Binary to sign")
	sc.Flags().IntVar(&sc.SuitSlot, "suit-storage-slot", 0, "SUIT storage slot the manifest targets")
	sc.Flags().StringVar(&sc.HostNetIf, "host-network-interface", "", "Network interface of this host (default $HOST_NET_IF)")
	sc.Flags().StringVar(&sc.Board, "board-name", "", "RIOT board (default $BOARD_NAME)")
	sc.Flags().StringVar(&sc.CoapRootDir, "coaproot-dir", "", "Directory served over CoAP (default $COAP_ROOT_DIR)")

	return sc.Command
}

func (sc *signCmd) options() toolchain.SignOptions {
	cfg := sc.app.cfg
	return toolchain.SignOptions{
		RootDir:     cfg.RootDir,
		CoapRootDir: orDefault(sc.CoapRootDir, cfg.CoapRootDir),
		Binary:      sc.BinaryName,
		HostNetIf:   orDefault(sc.HostNetIf, cfg.HostNetIf),
		Board:       orDefault(sc.Board, cfg.BoardName),
		SuitSlot:    sc.SuitSlot,
	}
}

func (sc *signCmd) run(c *cobra.Command, _ []string) error {
	if sc.SuitSlot != 0 && sc.SuitSlot != 1 {
		return errors.Errorf("SUIT storage slot must be 0 or 1, not %d", sc.SuitSlot)
	}
	if err := sc.app.toolchain().Sign(c.Context(), sc.options()); err != nil {
		return err
	}
	c.Println(toolchain.ManifestName(sc.SuitSlot))
	return nil
}
