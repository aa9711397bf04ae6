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

package asm

import (
	"encoding/binary"
)

const (
	// InstructionSize is the size of a regular instruction slot.
	InstructionSize = 8
	// LddwInstructionSize is the size of a load-double-word, which spans two slots.
	LddwInstructionSize = 2 * InstructionSize
)

// Opcodes that the relocation code needs to recognise or emit.
const (
	OpLddw uint8 = 0x18
	OpCall uint8 = 0x85
	// OpLddwData loads an immediate relative to the start of the program's
	// data region.
	OpLddwData uint8 = 0xb8
	// OpLddwRodata loads an immediate relative to the start of the program's
	// read-only data region.
	OpLddwRodata uint8 = 0xd8
)

// CallRegistersAbsolute is the register byte of a CALL whose immediate is the
// absolute address of the callee (src register 3).
const CallRegistersAbsolute uint8 = 0x3 << 4

// Lddw is a view onto the 16 bytes of a load-double-word instruction.  It
// aliases the slice it was taken from so setters modify the program in place.
//
//	byte 0      opcode
//	byte 1      dst/src registers
//	bytes 2-3   offset
//	bytes 4-7   low 32 bits of the immediate
//	bytes 8-11  reserved (second slot header)
//	bytes 12-15 high 32 bits of the immediate
type Lddw []byte

// LddwAt returns the Lddw view at byte offset off of text, or false if the
// instruction would run past the end of text.
func LddwAt(text []byte, off uint64) (Lddw, bool) {
	if off > uint64(len(text)) || uint64(len(text))-off < LddwInstructionSize {
		return nil, false
	}
	return Lddw(text[off : off+LddwInstructionSize : off+LddwInstructionSize]), true
}

func (i Lddw) Opcode() uint8 {
	return i[0]
}

func (i Lddw) SetOpcode(op uint8) {
	i[0] = op
}

func (i Lddw) Registers() uint8 {
	return i[1]
}

func (i Lddw) ImmLow() uint32 {
	return binary.LittleEndian.Uint32(i[4:8])
}

func (i Lddw) SetImmLow(v uint32) {
	binary.LittleEndian.PutUint32(i[4:8], v)
}

func (i Lddw) ImmHigh() uint32 {
	return binary.LittleEndian.Uint32(i[12:16])
}

// AddImmLow adds delta to the low immediate.  The immediate is additive since
// the compiler may already have encoded a displacement into it.
func (i Lddw) AddImmLow(delta uint32) {
	i.SetImmLow(i.ImmLow() + delta)
}

// Call is a view onto the 8 bytes of a CALL instruction.
type Call []byte

// CallAt returns the Call view at byte offset off of text.
func CallAt(text []byte, off uint64) (Call, bool) {
	if off > uint64(len(text)) || uint64(len(text))-off < InstructionSize {
		return nil, false
	}
	return Call(text[off : off+InstructionSize : off+InstructionSize]), true
}

func (c Call) Opcode() uint8 {
	return c[0]
}

func (c Call) Registers() uint8 {
	return c[1]
}

func (c Call) SetRegisters(r uint8) {
	c[1] = r
}

func (c Call) Offset() int16 {
	return int16(binary.LittleEndian.Uint16(c[2:4]))
}

func (c Call) Imm() uint32 {
	return binary.LittleEndian.Uint32(c[4:8])
}

func (c Call) SetImm(v uint32) {
	binary.LittleEndian.PutUint32(c[4:8], v)
}

// Standardize returns a copy of text in which the region-relative LDDW
// variants are turned back into plain LDDW, so that generic eBPF decoders
// see two-slot instructions where the VM does.
func Standardize(text []byte) []byte {
	out := append([]byte(nil), text...)
	for off := 0; off+InstructionSize <= len(out); {
		switch out[off] {
		case OpLddw, OpLddwData, OpLddwRodata:
			out[off] = OpLddw
			off += LddwInstructionSize
		default:
			off += InstructionSize
		}
	}
	return out
}
