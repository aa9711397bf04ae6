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
	"encoding/json"
	"fmt"
	"io"
	"os"

	ebpfasm "github.com/cilium/ebpf/asm"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/verifier"
)

type inspectCmd struct {
	*cobra.Command

	Output      string
	Disassemble bool
}

func newInspectCmd() *cobra.Command {
	ic := &inspectCmd{}
	ic.Command = &cobra.Command{
		Use:   "inspect <binary> [--output table|yaml|json] [--disassemble]",
		Short: "Shows the header, functions and calls of a post-processed binary",
		Args:  cobra.ExactArgs(1),
		RunE:  ic.run,
	}

	ic.Flags().StringVarP(&ic.Output, "output", "o", "table", "Output format: table, yaml or json")
	ic.Flags().BoolVarP(&ic.Disassemble, "disassemble", "d", false, "Also list the instructions of the program")

	return ic.Command
}

type headerSummary struct {
	Magic        string `json:"magic" yaml:"magic"`
	Version      uint32 `json:"version" yaml:"version"`
	Flags        uint32 `json:"flags" yaml:"flags"`
	DataLen      uint32 `json:"dataLen" yaml:"dataLen"`
	RodataLen    uint32 `json:"rodataLen" yaml:"rodataLen"`
	TextLen      uint32 `json:"textLen" yaml:"textLen"`
	FunctionsLen uint32 `json:"functionsLen" yaml:"functionsLen"`
}

type functionSummary struct {
	Name           string `json:"name" yaml:"name"`
	NameOffset     uint16 `json:"nameOffset" yaml:"nameOffset"`
	Flags          uint16 `json:"flags" yaml:"flags"`
	LocationOffset uint16 `json:"locationOffset" yaml:"locationOffset"`
}

type callSummary struct {
	InstructionOffset  uint32 `json:"instructionOffset" yaml:"instructionOffset"`
	FunctionTextOffset uint32 `json:"functionTextOffset" yaml:"functionTextOffset"`
}

type instructionSummary struct {
	Offset      int    `json:"offset" yaml:"offset"`
	Instruction string `json:"instruction" yaml:"instruction"`
}

type imageSummary struct {
	File         string               `json:"file" yaml:"file"`
	Size         int                  `json:"size" yaml:"size"`
	Header       headerSummary        `json:"header" yaml:"header"`
	Functions    []functionSummary    `json:"functions" yaml:"functions"`
	Calls        []callSummary        `json:"calls" yaml:"calls"`
	Instructions []instructionSummary `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

func summarize(file string, blob []byte, disassemble bool) (*imageSummary, error) {
	p, h, err := image.Parse(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", file)
	}
	s := &imageSummary{
		File: file,
		Size: len(blob),
		Header: headerSummary{
			Magic:        fmt.Sprintf("%#08x", h.Magic),
			Version:      h.Version,
			Flags:        h.Flags,
			DataLen:      h.DataLen,
			RodataLen:    h.RodataLen,
			TextLen:      h.TextLen,
			FunctionsLen: h.FunctionsLen,
		},
		Functions: []functionSummary{},
		Calls:     []callSummary{},
	}
	for i, f := range p.Functions {
		s.Functions = append(s.Functions, functionSummary{
			Name:           p.FunctionName(i),
			NameOffset:     f.NameOffset,
			Flags:          f.Flags,
			LocationOffset: f.LocationOffset,
		})
	}
	for _, c := range p.Calls {
		s.Calls = append(s.Calls, callSummary(c))
	}
	if disassemble {
		insns, err := verifier.Decode(p.Text)
		if err != nil {
			return nil, err
		}
		off := 0
		for _, ins := range insns {
			s.Instructions = append(s.Instructions, instructionSummary{
				Offset:      off,
				Instruction: fmt.Sprint(ins),
			})
			off += ebpfasm.InstructionSize
			if ins.OpCode.IsDWordLoad() {
				off += ebpfasm.InstructionSize
			}
		}
	}
	return s, nil
}

func (ic *inspectCmd) run(c *cobra.Command, args []string) error {
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "reading binary")
	}
	s, err := summarize(args[0], blob, ic.Disassemble)
	if err != nil {
		return err
	}

	out := c.OutOrStdout()
	switch ic.Output {
	case "table":
		printTables(out, s)
		return nil
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return errors.Wrap(err, "encoding yaml")
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(s), "encoding json")
	}
	return errors.Errorf("unknown output format %q", ic.Output)
}

func printTables(out io.Writer, s *imageSummary) {
	table := tablewriter.NewWriter(out)
	table.SetCaption(true, fmt.Sprintf("%s, %d bytes.", s.File, s.Size))
	table.SetHeader([]string{"MAGIC", "VERSION", "FLAGS", "DATA", "RODATA", "TEXT", "FUNCTIONS"})
	table.Append([]string{
		s.Header.Magic,
		fmt.Sprint(s.Header.Version),
		fmt.Sprint(s.Header.Flags),
		fmt.Sprint(s.Header.DataLen),
		fmt.Sprint(s.Header.RodataLen),
		fmt.Sprint(s.Header.TextLen),
		fmt.Sprint(s.Header.FunctionsLen),
	})
	table.Render()

	if len(s.Functions) > 0 {
		table = tablewriter.NewWriter(out)
		table.SetHeader([]string{"FUNCTION", "NAME OFFSET", "FLAGS", "LOCATION"})
		var rows [][]string
		for _, f := range s.Functions {
			rows = append(rows, []string{
				f.Name,
				fmt.Sprint(f.NameOffset),
				fmt.Sprint(f.Flags),
				fmt.Sprint(f.LocationOffset),
			})
		}
		table.AppendBulk(rows)
		table.Render()
	}

	if len(s.Calls) > 0 {
		table = tablewriter.NewWriter(out)
		table.SetHeader([]string{"CALL SITE", "TARGET"})
		var rows [][]string
		for _, c := range s.Calls {
			rows = append(rows, []string{fmt.Sprint(c.InstructionOffset), fmt.Sprint(c.FunctionTextOffset)})
		}
		table.AppendBulk(rows)
		table.Render()
	}

	for _, ins := range s.Instructions {
		fmt.Fprintf(out, "%6d: %s\n", ins.Offset, ins.Instruction)
	}
}
