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

// Package objtest builds small relocatable eBPF ELF objects in memory so that
// the post-processing pipeline can be tested without a compiler.
package objtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	ehdrSize  = 64
	shdrSize  = 64
	symSize   = 24
	relSize   = 16
	relaSize  = 24
	alignment = 8
)

// Symbol describes one symbol table entry.  Section is the index returned by
// Builder.AddSection, or 0 for an undefined symbol.
type Symbol struct {
	Name    string
	Type    elf.SymType
	Bind    elf.SymBind
	Section int
	Value   uint64
	Size    uint64
}

// Rel is a relocation entry; Symbol is the index returned by AddSymbol.
// Addend is only written for sections added with AddRelaRelocations.
type Rel struct {
	Offset uint64
	Symbol int
	Type   uint32
	Addend int64
}

type section struct {
	name  string
	typ   elf.SectionType
	flags elf.SectionFlag
	data  []byte
	link  uint32
	info  uint32
	entsz uint64
}

// Builder accumulates sections, symbols and relocations.  Sections get ELF
// indices in the order they are added, starting at 1; the symbol table, the
// string tables and the relocation sections are appended after them.
type Builder struct {
	sections []section
	symbols  []Symbol
	rels     map[int][]Rel
	rela     map[int]bool
	relOrder []int
}

func NewBuilder() *Builder {
	return &Builder{rels: map[int][]Rel{}, rela: map[int]bool{}}
}

// AddSection adds a PROGBITS (or other typed) section and returns its index.
func (b *Builder) AddSection(name string, typ elf.SectionType, flags elf.SectionFlag, data []byte) int {
	b.sections = append(b.sections, section{name: name, typ: typ, flags: flags, data: data})
	return len(b.sections)
}

// AddText is shorthand for an executable .text section.
func (b *Builder) AddText(data []byte) int {
	return b.AddSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, data)
}

// AddRodata adds a read-only data section, for example ".rodata" or a
// ".rodata.str1.1" string pool.
func (b *Builder) AddRodata(name string, data []byte) int {
	flags := elf.SHF_ALLOC
	if name != ".rodata" {
		flags |= elf.SHF_MERGE | elf.SHF_STRINGS
	}
	return b.AddSection(name, elf.SHT_PROGBITS, flags, data)
}

// AddData adds a writable .data section.
func (b *Builder) AddData(data []byte) int {
	return b.AddSection(".data", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, data)
}

// AddSymbol appends a symbol and returns its symbol table index.  Index 0 is
// the null symbol so the first added symbol gets index 1.
func (b *Builder) AddSymbol(s Symbol) int {
	b.symbols = append(b.symbols, s)
	return len(b.symbols)
}

// AddSectionSymbol adds an STT_SECTION symbol for the section at idx.
func (b *Builder) AddSectionSymbol(idx int) int {
	return b.AddSymbol(Symbol{Type: elf.STT_SECTION, Bind: elf.STB_LOCAL, Section: idx})
}

// AddFunction adds a global function symbol defined in section idx.
func (b *Builder) AddFunction(name string, idx int, value uint64) int {
	return b.AddSymbol(Symbol{Name: name, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: idx, Value: value})
}

// AddRelocations adds relocation entries applying to the section at target.
func (b *Builder) AddRelocations(target int, rels ...Rel) {
	if _, ok := b.rels[target]; !ok {
		b.relOrder = append(b.relOrder, target)
	}
	b.rels[target] = append(b.rels[target], rels...)
}

// AddRelaRelocations is AddRelocations for an SHT_RELA table, whose entries
// carry an explicit addend.  A target's table is either REL or RELA.
func (b *Builder) AddRelaRelocations(target int, rels ...Rel) {
	b.rela[target] = true
	b.AddRelocations(target, rels...)
}

// Bytes serialises the object.
func (b *Builder) Bytes() []byte {
	le := binary.LittleEndian
	sections := append([]section(nil), b.sections...)

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	var symtab bytes.Buffer
	symtab.Write(make([]byte, symSize))
	firstGlobal := 0
	for i, s := range b.symbols {
		nameOff := uint32(0)
		if s.Name != "" {
			nameOff = uint32(strtab.Len())
			strtab.WriteString(s.Name)
			strtab.WriteByte(0)
		}
		if s.Bind != elf.STB_LOCAL && firstGlobal == 0 {
			firstGlobal = i + 1
		}
		_ = binary.Write(&symtab, le, elf.Sym64{
			Name:  nameOff,
			Info:  elf.ST_INFO(s.Bind, s.Type),
			Shndx: uint16(s.Section),
			Value: s.Value,
			Size:  s.Size,
		})
	}
	if firstGlobal == 0 {
		firstGlobal = len(b.symbols) + 1
	}

	symtabIdx := len(sections) + 1
	strtabIdx := symtabIdx + 1
	sections = append(sections,
		section{name: ".symtab", typ: elf.SHT_SYMTAB, data: symtab.Bytes(), link: uint32(strtabIdx),
			info: uint32(firstGlobal), entsz: symSize},
		section{name: ".strtab", typ: elf.SHT_STRTAB, data: strtab.Bytes()},
	)
	for _, target := range b.relOrder {
		var rel bytes.Buffer
		prefix, typ, entsz := ".rel", elf.SHT_REL, uint64(relSize)
		if b.rela[target] {
			prefix, typ, entsz = ".rela", elf.SHT_RELA, relaSize
		}
		for _, r := range b.rels[target] {
			info := elf.R_INFO(uint32(r.Symbol), r.Type)
			if b.rela[target] {
				_ = binary.Write(&rel, le, elf.Rela64{Off: r.Offset, Info: info, Addend: r.Addend})
			} else {
				_ = binary.Write(&rel, le, elf.Rel64{Off: r.Offset, Info: info})
			}
		}
		sections = append(sections, section{
			name:  prefix + b.sections[target-1].name,
			typ:   typ,
			data:  rel.Bytes(),
			link:  uint32(symtabIdx),
			info:  uint32(target),
			entsz: entsz,
		})
	}

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOffsets := make([]uint32, len(sections)+1)
	for i, s := range sections {
		nameOffsets[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(s.name)
		shstrtab.WriteByte(0)
	}
	nameOffsets[len(sections)] = uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab")
	shstrtab.WriteByte(0)
	sections = append(sections, section{name: ".shstrtab", typ: elf.SHT_STRTAB, data: shstrtab.Bytes()})
	shstrndx := len(sections)

	// Section contents follow the ELF header; section headers go last.
	var body bytes.Buffer
	offsets := make([]uint64, len(sections))
	for i, s := range sections {
		align(&body, ehdrSize)
		offsets[i] = uint64(ehdrSize + body.Len())
		body.Write(s.data)
	}
	align(&body, ehdrSize)
	shoff := uint64(ehdrSize + body.Len())

	var out bytes.Buffer
	_ = binary.Write(&out, le, elf.Header64{
		Ident: [elf.EI_NIDENT]byte{
			0:              0x7f,
			1:              'E',
			2:              'L',
			3:              'F',
			elf.EI_CLASS:   byte(elf.ELFCLASS64),
			elf.EI_DATA:    byte(elf.ELFDATA2LSB),
			elf.EI_VERSION: byte(elf.EV_CURRENT),
		},
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_BPF),
		Version:   uint32(elf.EV_CURRENT),
		Ehsize:    ehdrSize,
		Shoff:     shoff,
		Shentsize: shdrSize,
		Shnum:     uint16(len(sections) + 1),
		Shstrndx:  uint16(shstrndx),
	})
	out.Write(body.Bytes())

	// Null section header.
	_ = binary.Write(&out, le, elf.Section64{})
	for i, s := range sections {
		addralign := uint64(1)
		if s.typ == elf.SHT_SYMTAB || s.typ == elf.SHT_REL || s.typ == elf.SHT_RELA || s.flags&elf.SHF_EXECINSTR != 0 {
			addralign = alignment
		}
		_ = binary.Write(&out, le, elf.Section64{
			Name:      nameOffsets[i],
			Type:      uint32(s.typ),
			Flags:     uint64(s.flags),
			Off:       offsets[i],
			Size:      uint64(len(s.data)),
			Link:      s.link,
			Info:      s.info,
			Addralign: addralign,
			Entsize:   s.entsz,
		})
	}
	return out.Bytes()
}

func align(b *bytes.Buffer, base int) {
	for (base+b.Len())%alignment != 0 {
		b.WriteByte(0)
	}
}

// Insn encodes a single 8-byte instruction.
func Insn(op, regs uint8, off int16, imm int32) []byte {
	b := make([]byte, 8)
	b[0] = op
	b[1] = regs
	binary.LittleEndian.PutUint16(b[2:4], uint16(off))
	binary.LittleEndian.PutUint32(b[4:8], uint32(imm))
	return b
}

// Lddw encodes a 16-byte load-double-word of imm into register dst.
func Lddw(dst uint8, imm uint64) []byte {
	b := Insn(0x18, dst&0x0f, 0, int32(uint32(imm)))
	return append(b, Insn(0, 0, 0, int32(uint32(imm>>32)))...)
}

// Program concatenates instructions.
func Program(insns ...[]byte) []byte {
	var out []byte
	for _, i := range insns {
		out = append(out, i...)
	}
	return out
}
