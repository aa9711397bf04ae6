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

	"github.com/mibpf/mibpf/bpf/postprocess"
	"github.com/mibpf/mibpf/coap"
	"github.com/mibpf/mibpf/toolchain"
)

type deployCmd struct {
	*cobra.Command
	app *app

	SourceFile  string
	OutDir      string
	Board       string
	CoapRootDir string
	deviceFlags
	vmFlags
	helperFlags
}

func newDeployCmd(a *app) *cobra.Command {
	dc := &deployCmd{app: a}
	dc.Command = &cobra.Command{
		Use:   "deploy --bpf-source-file <file.c> [--suit-storage-slot <n>] [--binary-layout <layout>]",
		Short: "Compiles, post-processes, signs and pulls a program onto the RIOT instance",
		Args:  cobra.NoArgs,
		RunE:  dc.run,
	}

	dc.Flags().StringVarP(&dc.SourceFile, "bpf-source-file", "f", "", "C source of the program")
	dc.Flags().StringVar(&dc.OutDir, "out-dir", "", "Directory for intermediate files (default $OUT_DIR)")
	dc.Flags().StringVar(&dc.Board, "board-name", "", "RIOT board (default $BOARD_NAME)")
	dc.Flags().StringVar(&dc.CoapRootDir, "coaproot-dir", "", "Directory served over CoAP (default $COAP_ROOT_DIR)")
	dc.deviceFlags.register(dc.Command)
	dc.vmFlags.register(dc.Command)
	dc.helperFlags.register(dc.Command, "Helpers the program may call (default all known helpers)")
	_ = dc.MarkFlagRequired("bpf-source-file")

	return dc.Command
}

func (dc *deployCmd) run(c *cobra.Command, _ []string) error {
	ctx := c.Context()
	cfg := dc.app.cfg
	tc := dc.app.toolchain()

	vm, err := dc.configuration()
	if err != nil {
		return err
	}
	helpers, err := dc.helpers()
	if err != nil {
		return err
	}
	dev := dc.resolve(cfg)
	outDir := orDefault(dc.OutDir, cfg.OutDir)
	logCxt := log.WithFields(log.Fields{"source": dc.SourceFile, "slot": vm.SuitSlot})

	obj, err := tc.Compile(ctx, dc.SourceFile, outDir)
	if err != nil {
		return errors.WithMessage(err, "compile")
	}
	logCxt.WithField("object", obj).Info("Compiled program")

	report, err := postprocess.Run(ctx, postprocess.Options{
		Source:         obj,
		Output:         binaryFileName(obj, outDir),
		Layout:         vm.Layout,
		VerifyHelpers:  len(helpers) > 0,
		AllowedHelpers: helpers,
		Stripper:       tc,
	})
	if err != nil {
		return errors.WithMessage(err, "postprocess")
	}
	printReport(c, report)

	err = tc.Sign(ctx, toolchain.SignOptions{
		RootDir:     cfg.RootDir,
		CoapRootDir: orDefault(dc.CoapRootDir, cfg.CoapRootDir),
		Binary:      report.Output,
		HostNetIf:   dev.HostNetIf,
		Board:       orDefault(dc.Board, cfg.BoardName),
		SuitSlot:    vm.SuitSlot,
	})
	if err != nil {
		return errors.WithMessage(err, "sign")
	}

	resp, err := coap.Pull(ctx, dc.app.coapClient(), coap.PullOptions{
		RiotIP:        dev.RiotIP,
		RiotNetIf:     dev.RiotNetIf,
		HostIP:        dev.HostIP,
		HostNetIf:     dev.HostNetIf,
		Manifest:      toolchain.ManifestName(vm.SuitSlot),
		Configuration: vm,
		Helpers:       helpers,
	})
	if err != nil {
		return errors.WithMessage(err, "pull")
	}
	logCxt.Info("Deployed program")
	c.Print(resp)
	return nil
}
