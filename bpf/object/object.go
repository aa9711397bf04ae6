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

// Package object reads relocatable eBPF ELF objects as produced by clang and
// exposes the sections, symbols and relocations that the post-processing
// pipeline needs.  Symbol indices are preserved exactly as they appear in the
// ELF symbol table so that relocation entries can index them directly.
package object

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	TextSection   = ".text"
	DataSection   = ".data"
	RodataSection = ".rodata"

	// StringLiteralMarker is contained in the names of the anonymous string
	// pools that the compiler emits, e.g. ".rodata.str1.1".
	StringLiteralMarker = ".rodata.str"

	relEntrySize  = 16
	relaEntrySize = 24
)

var (
	ErrParse            = errors.New("not a valid relocatable object")
	ErrMissingSection   = errors.New("required section missing")
	ErrDuplicateSection = errors.New("duplicate section name")
)

type SymbolKind int

const (
	KindOther SymbolKind = iota
	KindFunction
	KindObject
	KindSection
)

func (k SymbolKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindObject:
		return "object"
	case KindSection:
		return "section"
	default:
		return "other"
	}
}

type Binding int

const (
	BindOther Binding = iota
	BindLocal
	BindGlobal
)

type Section struct {
	Index  int
	Name   string
	Type   elf.SectionType
	Flags  elf.SectionFlag
	Offset uint64
	Size   uint64
	// Info is sh_info; for relocation sections it is the index of the
	// section the relocations apply to.
	Info uint32
}

type Symbol struct {
	Name         string
	Kind         SymbolKind
	Binding      Binding
	Value        uint64
	SectionIndex elf.SectionIndex
}

// Defined reports whether the symbol lives in a regular section of the object.
func (s Symbol) Defined() bool {
	return s.SectionIndex != elf.SHN_UNDEF && s.SectionIndex < elf.SHN_LORESERVE
}

type Relocation struct {
	// Offset of the instruction to patch, relative to the target section.
	Offset uint64
	// Symbol is the index into File.Symbols.
	Symbol uint32
	Type   uint32
	// Addend is r_addend for SHT_RELA entries and 0 for SHT_REL, whose
	// addend is the value already stored at the site.
	Addend int64
}

type RelocationSection struct {
	Name    string
	Target  int
	Entries []Relocation
}

// LiteralOffsets maps the name of each absorbed string pool to its offset
// within the assembled read-only data region.
type LiteralOffsets map[string]uint32

// File is a parsed view of an object.  It keeps a reference to the raw bytes
// it was parsed from; Extract returns copies.
type File struct {
	raw         []byte
	Machine     elf.Machine
	Sections    []Section
	Symbols     []Symbol
	Relocations []RelocationSection
}

// Parse parses raw as a 64-bit little- or big-endian ELF object.
func Parse(raw []byte) (*File, error) {
	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(ErrParse, "%v", err)
	}
	defer ef.Close()

	if ef.Class != elf.ELFCLASS64 {
		return nil, errors.Wrapf(ErrParse, "elf class is %s, expected %s", ef.Class, elf.ELFCLASS64)
	}
	if ef.Machine != elf.EM_BPF {
		logrus.WithField("machine", ef.Machine).Warn("Object file is not an eBPF object, continuing anyway.")
	}

	f := &File{
		raw:     raw,
		Machine: ef.Machine,
	}

	for i, s := range ef.Sections {
		if s.Type != elf.SHT_NOBITS && s.Type != elf.SHT_NULL {
			if s.Offset > uint64(len(raw)) || uint64(len(raw))-s.Offset < s.Size {
				return nil, errors.Wrapf(ErrParse, "section %q (offset %d, size %d) exceeds file size %d",
					s.Name, s.Offset, s.Size, len(raw))
			}
		}
		f.Sections = append(f.Sections, Section{
			Index:  i,
			Name:   s.Name,
			Type:   s.Type,
			Flags:  s.Flags,
			Offset: s.Offset,
			Size:   s.Size,
			Info:   s.Info,
		})
	}

	if err := f.readSymbols(ef); err != nil {
		return nil, err
	}
	if err := f.readRelocations(ef.ByteOrder); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"sections":    len(f.Sections),
		"symbols":     len(f.Symbols),
		"relocations": len(f.Relocations),
	}).Debug("Parsed object file")
	return f, nil
}

func (f *File) readSymbols(ef *elf.File) error {
	syms, err := ef.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return errors.Wrapf(ErrParse, "reading symbol table: %v", err)
	}

	// debug/elf skips the null symbol at index 0; put it back so that
	// relocation symbol indices can be used as-is.
	f.Symbols = make([]Symbol, 0, len(syms)+1)
	f.Symbols = append(f.Symbols, Symbol{})
	for _, s := range syms {
		sym := Symbol{
			Name:         s.Name,
			Value:        s.Value,
			SectionIndex: s.Section,
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC:
			sym.Kind = KindFunction
		case elf.STT_OBJECT:
			sym.Kind = KindObject
		case elf.STT_SECTION:
			sym.Kind = KindSection
		}
		switch elf.ST_BIND(s.Info) {
		case elf.STB_GLOBAL:
			sym.Binding = BindGlobal
		case elf.STB_LOCAL:
			sym.Binding = BindLocal
		}
		f.Symbols = append(f.Symbols, sym)
	}
	return nil
}

func (f *File) readRelocations(order binary.ByteOrder) error {
	for _, s := range f.Sections {
		var entSize uint64
		switch s.Type {
		case elf.SHT_REL:
			entSize = relEntrySize
		case elf.SHT_RELA:
			entSize = relaEntrySize
		default:
			continue
		}
		data := f.sectionBytes(s)
		if uint64(len(data))%entSize != 0 {
			return errors.Wrapf(ErrParse, "size of relocation table %q is not a multiple of %d", s.Name, entSize)
		}

		rs := RelocationSection{
			Name:   s.Name,
			Target: int(s.Info),
		}
		for off := uint64(0); off < uint64(len(data)); off += entSize {
			info := order.Uint64(data[off+8 : off+16])
			rel := Relocation{
				Offset: order.Uint64(data[off : off+8]),
				Symbol: elf.R_SYM64(info),
				Type:   elf.R_TYPE64(info),
			}
			if s.Type == elf.SHT_RELA {
				rel.Addend = int64(order.Uint64(data[off+16 : off+24]))
			}
			rs.Entries = append(rs.Entries, rel)
		}
		f.Relocations = append(f.Relocations, rs)
	}
	return nil
}

func (f *File) sectionBytes(s Section) []byte {
	if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL {
		return nil
	}
	return f.raw[s.Offset : s.Offset+s.Size]
}

// Section returns the first section with the given name.
func (f *File) Section(name string) (*Section, bool) {
	for i := range f.Sections {
		if f.Sections[i].Name == name {
			return &f.Sections[i], true
		}
	}
	return nil, false
}

// SectionName returns the name of the section at idx, or "" for special and
// out-of-range indices.
func (f *File) SectionName(idx elf.SectionIndex) string {
	if idx == elf.SHN_UNDEF || idx >= elf.SHN_LORESERVE || int(idx) >= len(f.Sections) {
		return ""
	}
	return f.Sections[idx].Name
}

// Extract returns a copy of the contents of the first section called name.
// It returns nil, without error, if there is no such section.
func (f *File) Extract(name string) []byte {
	s, ok := f.Section(name)
	if !ok {
		return nil
	}
	return append([]byte(nil), f.sectionBytes(*s)...)
}

// Text returns a copy of the .text section, failing if it is absent.
func (f *File) Text() ([]byte, error) {
	if _, ok := f.Section(TextSection); !ok {
		return nil, errors.Wrap(ErrMissingSection, TextSection)
	}
	return f.Extract(TextSection), nil
}

// IsStringLiteralPool reports whether name is a compiler emitted string pool.
func IsStringLiteralPool(name string) bool {
	return strings.Contains(name, StringLiteralMarker)
}

// AbsorbStringLiterals appends every string pool section, in section table
// order, to rodata.  It records the offset at which each pool was placed.
// Relocation tables of the pools, such as ".rel.rodata.str1.1", are not pools.
func (f *File) AbsorbStringLiterals(rodata []byte) ([]byte, LiteralOffsets, error) {
	offsets := LiteralOffsets{}
	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || !IsStringLiteralPool(s.Name) {
			continue
		}
		if _, ok := offsets[s.Name]; ok {
			return nil, nil, errors.Wrap(ErrDuplicateSection, s.Name)
		}
		offsets[s.Name] = uint32(len(rodata))
		rodata = append(rodata, f.sectionBytes(s)...)
		logrus.WithFields(logrus.Fields{
			"section": s.Name,
			"offset":  offsets[s.Name],
			"size":    s.Size,
		}).Debug("Absorbed string literal pool")
	}
	return rodata, offsets, nil
}
