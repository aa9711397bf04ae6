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

// Package image assembles and parses the header-prefixed program images that
// the microcontroller VM loads.  All multi-byte fields are little-endian.
package image

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	// Magic is "rBPF" read as a little-endian u32.
	Magic   uint32 = 0x72425046
	Version uint32 = 0

	HeaderSize         = 28
	FunctionSymbolSize = 6
	RelocatedCallSize  = 8

	// Alignment of the data, rodata and text regions.
	Alignment = 8
)

var (
	ErrMisalignedText = errors.New("text length is not a multiple of 8")
	ErrMalformed      = errors.New("malformed program image")
)

type Header struct {
	Magic        uint32
	Version      uint32
	Flags        uint32
	DataLen      uint32
	RodataLen    uint32
	TextLen      uint32
	FunctionsLen uint32
}

// FunctionSymbol is one entry of the function table.  NameOffset is relative
// to the start of rodata, LocationOffset to the start of text.
type FunctionSymbol struct {
	NameOffset     uint16
	Flags          uint16
	LocationOffset uint16
}

// RelocatedCall records a call site that the VM must resolve at load time.
type RelocatedCall struct {
	InstructionOffset  uint32
	FunctionTextOffset uint32
}

// Program holds the regions of an assembled image.
type Program struct {
	Data      []byte
	Rodata    []byte
	Text      []byte
	Functions []FunctionSymbol
	Calls     []RelocatedCall
}

// Pad returns b zero-padded to a multiple of Alignment.  b is returned as-is
// if it is already aligned.
func Pad(b []byte) []byte {
	if rem := len(b) % Alignment; rem != 0 {
		return append(b, make([]byte, Alignment-rem)...)
	}
	return b
}

// Assemble serialises p.  Data and Rodata are padded; Text must already be
// aligned.  Call records are only emitted when withCalls is set.
func Assemble(p *Program, withCalls bool) ([]byte, error) {
	if len(p.Text)%Alignment != 0 {
		return nil, errors.Wrapf(ErrMisalignedText, "text is %d bytes", len(p.Text))
	}
	data := Pad(append([]byte(nil), p.Data...))
	rodata := Pad(append([]byte(nil), p.Rodata...))

	h := Header{
		Magic:        Magic,
		Version:      Version,
		DataLen:      uint32(len(data)),
		RodataLen:    uint32(len(rodata)),
		TextLen:      uint32(len(p.Text)),
		FunctionsLen: uint32(len(p.Functions)),
	}

	size := HeaderSize + len(data) + len(rodata) + len(p.Text) + len(p.Functions)*FunctionSymbolSize
	if withCalls {
		size += len(p.Calls) * RelocatedCallSize
	}
	out := make([]byte, 0, size)
	out = h.AppendTo(out)
	out = append(out, data...)
	out = append(out, rodata...)
	out = append(out, p.Text...)
	for _, f := range p.Functions {
		out = binary.LittleEndian.AppendUint16(out, f.NameOffset)
		out = binary.LittleEndian.AppendUint16(out, f.Flags)
		out = binary.LittleEndian.AppendUint16(out, f.LocationOffset)
	}
	if withCalls {
		for _, c := range p.Calls {
			out = binary.LittleEndian.AppendUint32(out, c.InstructionOffset)
			out = binary.LittleEndian.AppendUint32(out, c.FunctionTextOffset)
		}
	}
	return out, nil
}

// AppendTo appends the 28-byte encoding of h to b.
func (h Header) AppendTo(b []byte) []byte {
	for _, v := range []uint32{h.Magic, h.Version, h.Flags, h.DataLen, h.RodataLen, h.TextLen, h.FunctionsLen} {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

// ParseHeader decodes the header at the start of blob.
func ParseHeader(blob []byte) (Header, error) {
	if len(blob) < HeaderSize {
		return Header{}, errors.Wrapf(ErrMalformed, "%d bytes is shorter than the header", len(blob))
	}
	le := binary.LittleEndian
	h := Header{
		Magic:        le.Uint32(blob[0:4]),
		Version:      le.Uint32(blob[4:8]),
		Flags:        le.Uint32(blob[8:12]),
		DataLen:      le.Uint32(blob[12:16]),
		RodataLen:    le.Uint32(blob[16:20]),
		TextLen:      le.Uint32(blob[20:24]),
		FunctionsLen: le.Uint32(blob[24:28]),
	}
	if h.Magic != Magic {
		return Header{}, errors.Wrapf(ErrMalformed, "bad magic %#08x", h.Magic)
	}
	return h, nil
}

func (h Header) String() string {
	return fmt.Sprintf("magic=%#08x version=%d flags=%#x data=%d rodata=%d text=%d functions=%d",
		h.Magic, h.Version, h.Flags, h.DataLen, h.RodataLen, h.TextLen, h.FunctionsLen)
}

// Parse is the inverse of Assemble.  Whatever follows the function table must
// be a whole number of call records; a blob assembled without calls parses
// with an empty Calls slice.
func Parse(blob []byte) (*Program, *Header, error) {
	h, err := ParseHeader(blob)
	if err != nil {
		return nil, nil, err
	}

	rest := uint64(len(blob) - HeaderSize)
	fixed := uint64(h.DataLen) + uint64(h.RodataLen) + uint64(h.TextLen) +
		uint64(h.FunctionsLen)*FunctionSymbolSize
	if fixed > rest {
		return nil, nil, errors.Wrapf(ErrMalformed, "header describes %d bytes but only %d follow it", fixed, rest)
	}
	if (rest-fixed)%RelocatedCallSize != 0 {
		return nil, nil, errors.Wrapf(ErrMalformed, "%d trailing bytes are not a whole number of call records", rest-fixed)
	}

	p := &Program{}
	off := uint32(HeaderSize)
	take := func(n uint32) []byte {
		b := append([]byte(nil), blob[off:off+n]...)
		off += n
		return b
	}
	p.Data = take(h.DataLen)
	p.Rodata = take(h.RodataLen)
	p.Text = take(h.TextLen)

	le := binary.LittleEndian
	for i := uint32(0); i < h.FunctionsLen; i++ {
		b := blob[off : off+FunctionSymbolSize]
		p.Functions = append(p.Functions, FunctionSymbol{
			NameOffset:     le.Uint16(b[0:2]),
			Flags:          le.Uint16(b[2:4]),
			LocationOffset: le.Uint16(b[4:6]),
		})
		off += FunctionSymbolSize
	}
	for int(off) < len(blob) {
		b := blob[off : off+RelocatedCallSize]
		p.Calls = append(p.Calls, RelocatedCall{
			InstructionOffset:  le.Uint32(b[0:4]),
			FunctionTextOffset: le.Uint32(b[4:8]),
		})
		off += RelocatedCallSize
	}
	return p, &h, nil
}

// FunctionName reads the name of f out of rodata.  Names are not terminated
// so the name runs up to the next function's name offset, or to the first NUL
// or the end of rodata for the last one.
func (p *Program) FunctionName(i int) string {
	start := int(p.Functions[i].NameOffset)
	if start > len(p.Rodata) {
		return ""
	}
	end := len(p.Rodata)
	if i+1 < len(p.Functions) {
		if next := int(p.Functions[i+1].NameOffset); next >= start && next <= end {
			end = next
		}
	}
	for j := start; j < end; j++ {
		if p.Rodata[j] == 0 {
			end = j
			break
		}
	}
	return string(p.Rodata[start:end])
}
