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
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/reloc"
)

type relocateCmd struct {
	*cobra.Command
	app *app

	SourceObjectFile string
	BinaryFile       string
	LoadAddress      uint32
	StripDebug       bool
}

func newRelocateCmd(a *app) *cobra.Command {
	rc := &relocateCmd{app: a}
	rc.Command = &cobra.Command{
		Use:   "relocate --source-object-file <file.o> --load-address <addr> [--binary-file <file>]",
		Short: "Relocates a raw object file as if it was loaded at the given address",
		Args:  cobra.NoArgs,
		RunE:  rc.run,
	}

	rc.Flags().StringVarP(&rc.SourceObjectFile, "source-object-file", "s", "", "Object file to relocate")
	rc.Flags().StringVarP(&rc.BinaryFile, "binary-file", "o", "a.bin", "Where to write the relocated object")
	rc.Flags().Uint32Var(&rc.LoadAddress, "load-address", 0, "Address the object is loaded at (decimal or 0x hex)")
	rc.Flags().BoolVar(&rc.StripDebug, "strip-debug", false, "Strip debug information before relocating")
	_ = rc.MarkFlagRequired("source-object-file")
	_ = rc.MarkFlagRequired("load-address")

	return rc.Command
}

func (rc *relocateCmd) run(c *cobra.Command, _ []string) error {
	src := rc.SourceObjectFile
	if rc.StripDebug {
		stripped := filepath.Join(filepath.Dir(rc.BinaryFile), "."+filepath.Base(src)+".stripped")
		if err := rc.app.toolchain().StripDebug(c.Context(), src, stripped); err != nil {
			return err
		}
		defer func() {
			if err := os.Remove(stripped); err != nil && !os.IsNotExist(err) {
				log.WithError(err).WithField("file", stripped).Warn("Failed to remove stripped object.")
			}
		}()
		src = stripped
	}

	program, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrap(err, "reading object file")
	}
	patched, err := reloc.ResolveRawObject(program, rc.LoadAddress)
	if err != nil {
		return errors.Wrapf(err, "relocating %s", rc.SourceObjectFile)
	}
	if err := image.NewBinary(program, image.RawObjectFile).WriteToFile(rc.BinaryFile); err != nil {
		return err
	}

	c.Printf("%s -> %s: %d sites relocated to %#x\n", rc.SourceObjectFile, rc.BinaryFile, patched, rc.LoadAddress)
	return nil
}
