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

	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/postprocess"
)

type postprocessCmd struct {
	*cobra.Command
	app *app

	SourceObjectFile string
	BinaryFile       string
	Layout           image.Layout
	VerifyHelpers    bool
	helperFlags
}

func newPostprocessCmd(a *app) *cobra.Command {
	pc := &postprocessCmd{app: a, Layout: image.DefaultLayout}
	pc.Command = &cobra.Command{
		Use:   "postprocess --source-object-file <file.o> [--binary-file <file>] [--binary-layout <layout>]",
		Short: "Turns a compiled eBPF object file into a loadable binary",
		Long: `Turns a compiled eBPF object file into a binary in the given layout.

Layouts:
  OnlyTextSection             the .text section only
  FemtoContainersHeader       header, data, rodata and text, no calls
  FunctionRelocationMetadata  header, data, rodata, text, functions and calls
  RawObjectFile               the object file without debug information`,
		Args: cobra.NoArgs,
		RunE: pc.run,
	}

	pc.Flags().StringVarP(&pc.SourceObjectFile, "source-object-file", "s", "", "Object file produced by the compiler")
	pc.Flags().StringVarP(&pc.BinaryFile, "binary-file", "o", "a.bin", "Where to write the binary")
	pc.Flags().Var(&pc.Layout, "binary-layout", "Binary layout to produce")
	pc.Flags().BoolVar(&pc.VerifyHelpers, "verify-helpers", false, "Refuse programs that call helpers outside --helper-indices")
	pc.register(pc.Command, "Helpers the program may call (default all known helpers)")
	_ = pc.MarkFlagRequired("source-object-file")

	return pc.Command
}

func (pc *postprocessCmd) run(c *cobra.Command, _ []string) error {
	helpers, err := pc.helpers()
	if err != nil {
		return err
	}
	report, err := postprocess.Run(c.Context(), postprocess.Options{
		Source:         pc.SourceObjectFile,
		Output:         pc.BinaryFile,
		Layout:         pc.Layout,
		VerifyHelpers:  pc.VerifyHelpers,
		AllowedHelpers: helpers,
		Stripper:       pc.app.toolchain(),
	})
	if err != nil {
		return err
	}
	printReport(c, report)
	return nil
}

func printReport(c *cobra.Command, r *postprocess.Report) {
	c.Printf("%s -> %s (%s): %d bytes", r.Source, r.Output, r.Layout, r.Size)
	if r.Layout.HasHeader() {
		c.Printf(", %d functions", r.Functions)
	}
	if r.Layout != image.RawObjectFile {
		c.Printf(", %d relocations patched, %d calls", r.Patched, r.Calls)
	}
	if r.Skipped > 0 {
		c.Printf(", %d relocations skipped", r.Skipped)
	}
	c.Println()
}
