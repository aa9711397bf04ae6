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

package object_test

import (
	"debug/elf"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/mibpf/mibpf/bpf/object"
	"github.com/mibpf/mibpf/bpf/object/objtest"
)

func TestParse_SymbolsKeepELFIndices(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	text := b.AddText(make([]byte, 16))
	pool := b.AddRodata(".rodata.str1.1", []byte("hi\x00"))
	secSym := b.AddSectionSymbol(pool)
	fn := b.AddFunction("main", text, 8)

	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())
	Expect(f.Machine).To(Equal(elf.EM_BPF))
	Expect(f.Symbols).To(HaveLen(3))
	Expect(f.Symbols[0]).To(Equal(object.Symbol{}))

	Expect(f.Symbols[secSym].Kind).To(Equal(object.KindSection))
	Expect(f.Symbols[secSym].Binding).To(Equal(object.BindLocal))
	Expect(f.SectionName(f.Symbols[secSym].SectionIndex)).To(Equal(".rodata.str1.1"))

	Expect(f.Symbols[fn].Name).To(Equal("main"))
	Expect(f.Symbols[fn].Kind).To(Equal(object.KindFunction))
	Expect(f.Symbols[fn].Binding).To(Equal(object.BindGlobal))
	Expect(f.Symbols[fn].Value).To(Equal(uint64(8)))
	Expect(f.Symbols[fn].Defined()).To(BeTrue())
}

func TestParse_Relocations(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	text := b.AddText(make([]byte, 32))
	fn := b.AddFunction("helper", text, 16)
	b.AddRelocations(text,
		objtest.Rel{Offset: 0, Symbol: fn, Type: 10},
		objtest.Rel{Offset: 8, Symbol: fn, Type: 10},
	)

	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())
	Expect(f.Relocations).To(HaveLen(1))
	rs := f.Relocations[0]
	Expect(rs.Name).To(Equal(".rel.text"))
	Expect(rs.Target).To(Equal(text))
	Expect(rs.Entries).To(Equal([]object.Relocation{
		{Offset: 0, Symbol: uint32(fn), Type: 10},
		{Offset: 8, Symbol: uint32(fn), Type: 10},
	}))
}

func TestParse_RelaAddends(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	text := b.AddText(make([]byte, 32))
	ro := b.AddRodata(".rodata", make([]byte, 16))
	sym := b.AddSectionSymbol(ro)
	b.AddRelaRelocations(text,
		objtest.Rel{Offset: 0, Symbol: sym, Type: 1, Addend: 4},
		objtest.Rel{Offset: 16, Symbol: sym, Type: 1, Addend: -8},
	)

	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())
	Expect(f.Relocations).To(HaveLen(1))
	rs := f.Relocations[0]
	Expect(rs.Name).To(Equal(".rela.text"))
	Expect(rs.Target).To(Equal(text))
	Expect(rs.Entries).To(Equal([]object.Relocation{
		{Offset: 0, Symbol: uint32(sym), Type: 1, Addend: 4},
		{Offset: 16, Symbol: uint32(sym), Type: 1, Addend: -8},
	}))
}

func TestParse_Garbage(t *testing.T) {
	RegisterTestingT(t)
	_, err := object.Parse([]byte("definitely not an object file"))
	Expect(err).To(HaveOccurred())
	Expect(errors.Is(err, object.ErrParse)).To(BeTrue())
}

func TestParse_NoSymbolTableIsNotAnError(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	b.AddText(make([]byte, 8))
	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())
	// Only the null symbol.
	Expect(f.Symbols).To(HaveLen(1))
}

func TestExtract(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	b.AddText([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	b.AddData([]byte{9, 9})

	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())
	Expect(f.Extract(".text")).To(Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	Expect(f.Extract(".data")).To(Equal([]byte{9, 9}))
	Expect(f.Extract(".rodata")).To(BeNil())

	// Extract hands out copies.
	d := f.Extract(".data")
	d[0] = 0
	Expect(f.Extract(".data")).To(Equal([]byte{9, 9}))
}

func TestText_Missing(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	b.AddData([]byte{1})
	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())

	_, err = f.Text()
	Expect(errors.Is(err, object.ErrMissingSection)).To(BeTrue())
}

func TestAbsorbStringLiterals_SectionOrder(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	b.AddText(make([]byte, 8))
	b.AddRodata(".rodata.str1.8", []byte("zzzz\x00\x00\x00\x00"))
	b.AddRodata(".rodata", []byte{0xaa, 0xbb})
	b.AddRodata(".rodata.str1.1", []byte("abc\x00"))

	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())

	rodata, offsets, err := f.AbsorbStringLiterals([]byte{0xaa, 0xbb})
	Expect(err).NotTo(HaveOccurred())
	Expect(offsets).To(Equal(object.LiteralOffsets{
		".rodata.str1.8": 2,
		".rodata.str1.1": 10,
	}))
	Expect(rodata).To(Equal([]byte("\xaa\xbbzzzz\x00\x00\x00\x00abc\x00")))
}

func TestAbsorbStringLiterals_Duplicate(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	b.AddText(make([]byte, 8))
	b.AddRodata(".rodata.str1.1", []byte("a\x00"))
	b.AddRodata(".rodata.str1.1", []byte("b\x00"))

	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())
	_, _, err = f.AbsorbStringLiterals(nil)
	Expect(errors.Is(err, object.ErrDuplicateSection)).To(BeTrue())
}

func TestAbsorbStringLiterals_SkipsRelocationTables(t *testing.T) {
	RegisterTestingT(t)
	b := objtest.NewBuilder()
	text := b.AddText(make([]byte, 8))
	pool := b.AddRodata(".rodata.str1.1", []byte("hi\x00"))
	fn := b.AddFunction("main", text, 0)
	b.AddRelocations(pool, objtest.Rel{Offset: 0, Symbol: fn, Type: 1})

	f, err := object.Parse(b.Bytes())
	Expect(err).NotTo(HaveOccurred())
	_, ok := f.Section(".rel.rodata.str1.1")
	Expect(ok).To(BeTrue())

	rodata, offsets, err := f.AbsorbStringLiterals(nil)
	Expect(err).NotTo(HaveOccurred())
	Expect(offsets).To(Equal(object.LiteralOffsets{".rodata.str1.1": 0}))
	Expect(rodata).To(Equal([]byte("hi\x00")))
}
