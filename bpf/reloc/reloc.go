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

// Package reloc turns a parsed object into a program image: it merges the
// read-only regions, rewrites load-double-word instructions that reference
// data so that they address the merged regions, and collects the function
// table and the call sites that the VM resolves at load time.
package reloc

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mibpf/mibpf/bpf/asm"
	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/object"
)

// ErrFieldOverflow is returned when a value does not fit the field of the
// image that has to hold it.
var ErrFieldOverflow = errors.New("value does not fit its field")

// Regions are the three regions of the program being built.  Resolve patches
// Text in place.
type Regions struct {
	Data   []byte
	Rodata []byte
	Text   []byte
}

// Result summarises a Resolve run.  Skipped counts relocations that could not
// be resolved; they are logged but are not fatal.
type Result struct {
	Calls   []image.RelocatedCall
	Patched int
	Skipped int
}

// target is what a relocation refers to; exactly one of the three
// implementations below.
type target interface {
	isTarget()
}

type functionTarget struct {
	name       string
	textOffset uint64
}

type sectionTarget struct {
	section string
}

type objectTarget struct {
	name    string
	section string
	value   uint64
}

func (functionTarget) isTarget() {}
func (sectionTarget) isTarget()  {}
func (objectTarget) isTarget()   {}

// placement is where a section ended up in the merged regions.
type placement struct {
	offset   uint32
	readOnly bool
}

func (p placement) opcode() uint8 {
	if p.readOnly {
		return asm.OpLddwRodata
	}
	return asm.OpLddwData
}

func place(section string, literals object.LiteralOffsets) (placement, bool) {
	switch {
	case object.IsStringLiteralPool(section):
		off, ok := literals[section]
		return placement{offset: off, readOnly: true}, ok
	case section == object.RodataSection:
		return placement{offset: 0, readOnly: true}, true
	case section == object.DataSection:
		return placement{offset: 0, readOnly: false}, true
	}
	return placement{}, false
}

func classify(f *object.File, sym object.Symbol) target {
	switch sym.Kind {
	case object.KindFunction:
		return functionTarget{name: sym.Name, textOffset: sym.Value}
	case object.KindSection:
		return sectionTarget{section: f.SectionName(sym.SectionIndex)}
	case object.KindObject:
		return objectTarget{name: sym.Name, section: f.SectionName(sym.SectionIndex), value: sym.Value}
	}
	return nil
}

// Resolve walks the relocations that apply to .text.  Function references
// become call records; references to rodata, string pools and data have
// their LDDW rewritten to the region-relative variant with the region offset
// added to the immediate.  Literal offsets must already be final.
func Resolve(f *object.File, r *Regions, literals object.LiteralOffsets) (*Result, error) {
	res := &Result{}
	for _, rs := range f.Relocations {
		if name := sectionName(f, rs.Target); name != object.TextSection {
			logrus.WithFields(logrus.Fields{
				"section": rs.Name,
				"target":  name,
			}).Debug("Ignoring relocations that do not apply to .text")
			continue
		}
		for _, rel := range rs.Entries {
			if err := resolveOne(f, r, literals, rel, res); err != nil {
				return nil, err
			}
		}
	}
	logrus.WithFields(logrus.Fields{
		"calls":   len(res.Calls),
		"patched": res.Patched,
		"skipped": res.Skipped,
	}).Debug("Resolved relocations")
	return res, nil
}

func resolveOne(f *object.File, r *Regions, literals object.LiteralOffsets, rel object.Relocation, res *Result) error {
	logCxt := logrus.WithFields(logrus.Fields{
		"offset": rel.Offset,
		"symbol": rel.Symbol,
	})
	if int(rel.Symbol) >= len(f.Symbols) {
		logCxt.Warn("Relocation refers to a symbol that does not exist, skipping.")
		res.Skipped++
		return nil
	}
	sym := f.Symbols[rel.Symbol]

	var p placement
	switch t := classify(f, sym).(type) {
	case functionTarget:
		if !sym.Defined() {
			logCxt.WithField("function", t.name).Warn("Call to undefined function, skipping.")
			res.Skipped++
			return nil
		}
		if rel.Offset > math.MaxUint32 || t.textOffset > math.MaxUint32 {
			return errors.Wrapf(ErrFieldOverflow, "call to %s at offset %d", t.name, rel.Offset)
		}
		res.Calls = append(res.Calls, image.RelocatedCall{
			InstructionOffset:  uint32(rel.Offset),
			FunctionTextOffset: uint32(t.textOffset),
		})
		logCxt.WithFields(logrus.Fields{
			"function":   t.name,
			"textOffset": t.textOffset,
		}).Debug("Recorded call")
		return nil
	case sectionTarget:
		var ok bool
		if p, ok = place(t.section, literals); !ok {
			logCxt.WithField("section", t.section).Warn("Relocation against a section that is not part of the image, skipping.")
			res.Skipped++
			return nil
		}
		logCxt = logCxt.WithField("section", t.section)
	case objectTarget:
		base, ok := place(t.section, literals)
		if !ok {
			logCxt.WithFields(logrus.Fields{
				"object":  t.name,
				"section": t.section,
			}).Warn("Relocation against an object outside the image, skipping.")
			res.Skipped++
			return nil
		}
		if t.value > math.MaxUint32-uint64(base.offset) {
			return errors.Wrapf(ErrFieldOverflow, "%s at %d in %s is beyond the 32-bit immediate", t.name, t.value, t.section)
		}
		p = placement{offset: base.offset + uint32(t.value), readOnly: base.readOnly}
		logCxt = logCxt.WithFields(logrus.Fields{"object": t.name, "section": t.section})
	default:
		return nil
	}

	insn, ok := asm.LddwAt(r.Text, rel.Offset)
	if !ok {
		if rel.Offset < uint64(len(r.Text)) && r.Text[rel.Offset] != asm.OpLddw {
			return nil
		}
		logCxt.WithField("textLen", len(r.Text)).Warn("Relocated instruction runs past the end of .text, skipping.")
		res.Skipped++
		return nil
	}
	if insn.Opcode() != asm.OpLddw {
		return nil
	}
	// REL entries keep their addend in the immediate; RELA entries carry it
	// separately and it has to be folded in here.
	delta := int64(p.offset) + rel.Addend
	if delta < 0 || delta > math.MaxUint32 {
		return errors.Wrapf(ErrFieldOverflow, "region offset %d with addend %d at text offset %d", p.offset, rel.Addend, rel.Offset)
	}
	insn.SetOpcode(p.opcode())
	insn.AddImmLow(uint32(delta))
	res.Patched++
	logCxt.WithFields(logrus.Fields{
		"regionOffset": p.offset,
		"addend":       rel.Addend,
		"readOnly":     p.readOnly,
		"imm":          insn.ImmLow(),
	}).Debug("Patched LDDW")
	return nil
}

func sectionName(f *object.File, idx int) string {
	if idx < 0 || idx >= len(f.Sections) {
		return ""
	}
	return f.Sections[idx].Name
}

// Link runs the whole pipeline on f: string pools are appended to .rodata,
// relocations are resolved against the merged regions and finally the names
// of the global functions are appended to rodata.
func Link(f *object.File) (*image.Program, *Result, error) {
	text, err := f.Text()
	if err != nil {
		return nil, nil, err
	}
	rodata, literals, err := f.AbsorbStringLiterals(f.Extract(object.RodataSection))
	if err != nil {
		return nil, nil, err
	}
	r := &Regions{
		Data:   f.Extract(object.DataSection),
		Rodata: rodata,
		Text:   text,
	}

	res, err := Resolve(f, r, literals)
	if err != nil {
		return nil, nil, err
	}

	rodata, functions, err := BuildFunctionTable(f, r.Rodata, len(r.Text))
	if err != nil {
		return nil, nil, err
	}
	return &image.Program{
		Data:      r.Data,
		Rodata:    rodata,
		Text:      r.Text,
		Functions: functions,
		Calls:     res.Calls,
	}, res, nil
}
