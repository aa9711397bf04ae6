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
)

type compileCmd struct {
	*cobra.Command
	app *app

	SourceFile string
	OutDir     string
}

func newCompileCmd(a *app) *cobra.Command {
	cc := &compileCmd{app: a}
	cc.Command = &cobra.Command{
		Use:   "compile --bpf-source-file <file.c> [--out-dir <dir>]",
		Short: "Compiles a C source file into an eBPF object file",
		Args:  cobra.NoArgs,
		RunE:  cc.run,
	}

	cc.Flags().StringVarP(&cc.SourceFile, "bpf-source-file", "f", "", "C source of the program")
	cc.Flags().StringVar(&cc.OutDir, "out-dir", "", "Directory for the object file (default $OUT_DIR)")
	_ = cc.MarkFlagRequired("bpf-source-file")

	return cc.Command
}

func (cc *compileCmd) run(c *cobra.Command, _ []string) error {
	obj, err := cc.app.toolchain().Compile(c.Context(), cc.SourceFile, orDefault(cc.OutDir, cc.app.cfg.OutDir))
	if err != nil {
		return err
	}
	c.Println(obj)
	return nil
}
