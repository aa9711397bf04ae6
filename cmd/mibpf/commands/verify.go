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

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/verifier"
)

type verifyCmd struct {
	*cobra.Command

	Layout image.Layout
	helperFlags
}

func newVerifyCmd() *cobra.Command {
	vc := &verifyCmd{Layout: image.DefaultLayout}
	vc.Command = &cobra.Command{
		Use:   "verify <binary> [--binary-layout <layout>] [--helper-indices <n>,...]",
		Short: "Checks that a binary only calls the allowed helpers",
		Args:  cobra.ExactArgs(1),
		RunE:  vc.run,
	}

	vc.Flags().Var(&vc.Layout, "binary-layout", "Layout of the binary")
	vc.register(vc.Command, "Helpers the program may call (default all known helpers)")

	return vc.Command
}

func (vc *verifyCmd) run(c *cobra.Command, args []string) error {
	helpers, err := vc.helpers()
	if err != nil {
		return err
	}
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "reading binary")
	}
	text, err := verifier.ProgramText(blob, vc.Layout)
	if err != nil {
		return errors.Wrapf(err, "reading %s as %s", args[0], vc.Layout)
	}
	if err := verifier.CheckHelpers(text, helpers); err != nil {
		return err
	}
	c.Printf("%s: all helper calls are allowed\n", args[0])
	return nil
}
