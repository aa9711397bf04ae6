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

package image_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/mibpf/mibpf/bpf/image"
)

func TestAssemble_Minimal(t *testing.T) {
	RegisterTestingT(t)
	blob, err := image.Assemble(&image.Program{Text: make([]byte, 8)}, true)
	Expect(err).NotTo(HaveOccurred())
	Expect(blob).To(HaveLen(36))

	h, err := image.ParseHeader(blob)
	Expect(err).NotTo(HaveOccurred())
	Expect(h).To(Equal(image.Header{Magic: image.Magic, TextLen: 8}))
	Expect(blob[:4]).To(Equal([]byte("FPBr")))
}

func TestAssemble_PadsDataAndRodata(t *testing.T) {
	RegisterTestingT(t)
	p := &image.Program{
		Data:   []byte{1, 2, 3},
		Rodata: []byte("hi\x00"),
		Text:   make([]byte, 16),
	}
	blob, err := image.Assemble(p, true)
	Expect(err).NotTo(HaveOccurred())

	h, err := image.ParseHeader(blob)
	Expect(err).NotTo(HaveOccurred())
	Expect(h.DataLen).To(BeEquivalentTo(8))
	Expect(h.RodataLen).To(BeEquivalentTo(8))
	Expect(blob[image.HeaderSize+8 : image.HeaderSize+16]).To(Equal([]byte("hi\x00\x00\x00\x00\x00\x00")))

	// The caller's slices are not modified.
	Expect(p.Data).To(HaveLen(3))
}

func TestAssemble_MisalignedText(t *testing.T) {
	RegisterTestingT(t)
	_, err := image.Assemble(&image.Program{Text: make([]byte, 12)}, true)
	Expect(errors.Is(err, image.ErrMisalignedText)).To(BeTrue())
}

func TestAssemble_HeaderIsSelfConsistent(t *testing.T) {
	RegisterTestingT(t)
	p := &image.Program{
		Data:      make([]byte, 5),
		Rodata:    []byte("mainhelper"),
		Text:      make([]byte, 64),
		Functions: []image.FunctionSymbol{{NameOffset: 0, LocationOffset: 0}, {NameOffset: 4, LocationOffset: 32}},
		Calls:     []image.RelocatedCall{{InstructionOffset: 8, FunctionTextOffset: 32}},
	}
	for _, withCalls := range []bool{true, false} {
		blob, err := image.Assemble(p, withCalls)
		Expect(err).NotTo(HaveOccurred())
		h, err := image.ParseHeader(blob)
		Expect(err).NotTo(HaveOccurred())

		expected := image.HeaderSize + int(h.DataLen) + int(h.RodataLen) + int(h.TextLen) +
			int(h.FunctionsLen)*image.FunctionSymbolSize
		if withCalls {
			expected += len(p.Calls) * image.RelocatedCallSize
		}
		Expect(blob).To(HaveLen(expected))
		Expect(h.DataLen % 8).To(BeZero())
		Expect(h.RodataLen % 8).To(BeZero())
		Expect(h.TextLen % 8).To(BeZero())
	}
}

func TestAssemble_FunctionRecordEncoding(t *testing.T) {
	RegisterTestingT(t)
	p := &image.Program{
		Rodata:    []byte("main"),
		Text:      make([]byte, 8),
		Functions: []image.FunctionSymbol{{NameOffset: 0x0102, Flags: 0, LocationOffset: 0x0304}},
		Calls:     []image.RelocatedCall{{InstructionOffset: 0x10, FunctionTextOffset: 0x40}},
	}
	blob, err := image.Assemble(p, true)
	Expect(err).NotTo(HaveOccurred())

	fnOff := image.HeaderSize + 8 + 8
	Expect(blob[fnOff : fnOff+6]).To(Equal([]byte{0x02, 0x01, 0, 0, 0x04, 0x03}))
	callOff := fnOff + 6
	Expect(binary.LittleEndian.Uint32(blob[callOff:])).To(BeEquivalentTo(0x10))
	Expect(binary.LittleEndian.Uint32(blob[callOff+4:])).To(BeEquivalentTo(0x40))
	Expect(blob).To(HaveLen(callOff + 8))
}

func TestAssemble_Deterministic(t *testing.T) {
	RegisterTestingT(t)
	p := &image.Program{
		Data:      []byte{1},
		Rodata:    []byte("x"),
		Text:      make([]byte, 8),
		Functions: []image.FunctionSymbol{{NameOffset: 0}},
	}
	a, err := image.Assemble(p, true)
	Expect(err).NotTo(HaveOccurred())
	b, err := image.Assemble(p, true)
	Expect(err).NotTo(HaveOccurred())
	Expect(a).To(Equal(b))
}

func TestParse_RoundTrip(t *testing.T) {
	RegisterTestingT(t)
	p := &image.Program{
		Data:      make([]byte, 8),
		Rodata:    []byte("hi\x00\x00\x00\x00\x00\x00mainaux\x00"),
		Text:      make([]byte, 24),
		Functions: []image.FunctionSymbol{{NameOffset: 8, LocationOffset: 0}, {NameOffset: 12, LocationOffset: 16}},
		Calls:     []image.RelocatedCall{{InstructionOffset: 8, FunctionTextOffset: 16}},
	}
	blob, err := image.Assemble(p, true)
	Expect(err).NotTo(HaveOccurred())

	parsed, h, err := image.Parse(blob)
	Expect(err).NotTo(HaveOccurred())
	Expect(h.FunctionsLen).To(BeEquivalentTo(2))
	Expect(parsed).To(Equal(p))
	Expect(parsed.FunctionName(0)).To(Equal("main"))
	Expect(parsed.FunctionName(1)).To(Equal("aux"))
}

func TestParse_WithoutCalls(t *testing.T) {
	RegisterTestingT(t)
	p := &image.Program{
		Text:  make([]byte, 8),
		Calls: []image.RelocatedCall{{InstructionOffset: 0, FunctionTextOffset: 0}},
	}
	blob, err := image.Assemble(p, false)
	Expect(err).NotTo(HaveOccurred())
	parsed, _, err := image.Parse(blob)
	Expect(err).NotTo(HaveOccurred())
	Expect(parsed.Calls).To(BeEmpty())
}

func TestParse_Malformed(t *testing.T) {
	RegisterTestingT(t)
	blob, err := image.Assemble(&image.Program{Text: make([]byte, 16)}, true)
	Expect(err).NotTo(HaveOccurred())

	_, _, err = image.Parse(blob[:20])
	Expect(errors.Is(err, image.ErrMalformed)).To(BeTrue())

	_, _, err = image.Parse(blob[:len(blob)-8])
	Expect(errors.Is(err, image.ErrMalformed)).To(BeTrue())

	_, _, err = image.Parse(append(blob, 1, 2, 3))
	Expect(errors.Is(err, image.ErrMalformed)).To(BeTrue())

	bad := append([]byte(nil), blob...)
	bad[0] = 0
	_, _, err = image.Parse(bad)
	Expect(errors.Is(err, image.ErrMalformed)).To(BeTrue())
}

func TestParseLayout(t *testing.T) {
	RegisterTestingT(t)
	for _, l := range image.Layouts() {
		byName, err := image.ParseLayout(l.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(byName).To(Equal(l))
	}
	l, err := image.ParseLayout("2")
	Expect(err).NotTo(HaveOccurred())
	Expect(l).To(Equal(image.FunctionRelocationMetadata))
	l, err = image.ParseLayout("onlytextsection")
	Expect(err).NotTo(HaveOccurred())
	Expect(l).To(Equal(image.OnlyTextSection))

	_, err = image.ParseLayout("ExtendedHeader")
	Expect(err).To(HaveOccurred())
	Expect(image.Layout(7).String()).To(Equal("Layout(7)"))
	Expect(image.DefaultLayout).To(Equal(image.FunctionRelocationMetadata))
}

func TestBinary_WriteToFile(t *testing.T) {
	RegisterTestingT(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "program.bin")

	blob, err := image.Assemble(&image.Program{Text: make([]byte, 8)}, true)
	Expect(err).NotTo(HaveOccurred())
	Expect(image.NewBinary(blob, image.FunctionRelocationMetadata).WriteToFile(out)).To(Succeed())

	b, err := image.BinaryFromFile(out, image.FunctionRelocationMetadata)
	Expect(err).NotTo(HaveOccurred())
	Expect(b.Bytes()).To(Equal(blob))
	p, _, err := b.Program()
	Expect(err).NotTo(HaveOccurred())
	Expect(p.Text).To(HaveLen(8))

	_, _, err = image.NewBinary(blob, image.OnlyTextSection).Program()
	Expect(err).To(HaveOccurred())

	entries, err := os.ReadDir(dir)
	Expect(err).NotTo(HaveOccurred())
	Expect(entries).To(HaveLen(1))
}
