// Copyright (c) 2020 Tigera, Inc. All rights reserved.
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
	"testing"

	. "github.com/onsi/gomega"
)

func TestLddw_AddImmLowIsInPlace(t *testing.T) {
	RegisterTestingT(t)
	text := []uint8{
		0x18, 0x01, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x95, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	insn, ok := LddwAt(text, 0)
	Expect(ok).To(BeTrue())
	Expect(insn.Opcode()).To(Equal(OpLddw))
	Expect(insn.ImmLow()).To(Equal(uint32(5)))

	insn.SetOpcode(OpLddwRodata)
	insn.AddImmLow(0x100)

	Expect(text[:8]).To(Equal([]uint8{0xd8, 0x01, 0x00, 0x00, 0x05, 0x01, 0x00, 0x00}))
	Expect(text[16:]).To(Equal([]uint8{0x95, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}))
}

func TestLddw_ImmLowWraps(t *testing.T) {
	RegisterTestingT(t)
	text := make([]uint8, LddwInstructionSize)
	insn, _ := LddwAt(text, 0)
	insn.SetImmLow(0xffffffff)
	insn.AddImmLow(2)
	Expect(insn.ImmLow()).To(Equal(uint32(1)))
	Expect(insn.ImmHigh()).To(BeZero())
}

func TestLddwAt_OutOfRange(t *testing.T) {
	RegisterTestingT(t)
	text := make([]uint8, 3*InstructionSize)
	_, ok := LddwAt(text, 2*InstructionSize)
	Expect(ok).To(BeFalse())
	_, ok = LddwAt(text, 100)
	Expect(ok).To(BeFalse())
	_, ok = LddwAt(text, InstructionSize)
	Expect(ok).To(BeTrue())
}

func TestLddwAt_DoesNotGrowIntoNextInsn(t *testing.T) {
	RegisterTestingT(t)
	text := make([]uint8, 3*InstructionSize)
	insn, _ := LddwAt(text, 0)
	Expect(cap(insn)).To(Equal(LddwInstructionSize))
}

func TestCall_SetAbsolute(t *testing.T) {
	RegisterTestingT(t)
	text := []uint8{0x85, 0x10, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff}
	c, ok := CallAt(text, 0)
	Expect(ok).To(BeTrue())
	Expect(c.Opcode()).To(Equal(OpCall))
	Expect(c.Imm()).To(Equal(uint32(0xffffffff)))

	c.SetRegisters(CallRegistersAbsolute)
	c.SetImm(0x20001000)
	Expect(text).To(Equal([]uint8{0x85, 0x30, 0x00, 0x00, 0x00, 0x10, 0x00, 0x20}))
}

func TestHelper_String(t *testing.T) {
	RegisterTestingT(t)
	Expect(HelperPrintf.String()).To(Equal("bpf_printf"))
	Expect(Helper(0x7f).String()).To(Equal("helper_0x7f"))
	Expect(Helper(0x7f).Known()).To(BeFalse())
	Expect(HelperStrlen.Known()).To(BeTrue())
}

func TestHelpers_Ordered(t *testing.T) {
	RegisterTestingT(t)
	hs := Helpers()
	Expect(hs).To(HaveLen(len(helperNames)))
	Expect(hs[0]).To(Equal(HelperPrintf))
	Expect(hs[len(hs)-1]).To(Equal(HelperHD44780SetCursor))
	for i := 1; i < len(hs); i++ {
		Expect(hs[i]).To(BeNumerically(">", hs[i-1]))
	}
}

func TestStandardize(t *testing.T) {
	RegisterTestingT(t)
	text := []byte{
		OpLddwRodata, 1, 0, 0, 4, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
		OpLddwData, 2, 0, 0, 0, 0, 0, 0,
		// High word of the immediate looks like an opcode.
		0, 0, 0, 0, 0xd8, 0, 0, 0,
		0x95, 0, 0, 0, 0, 0, 0, 0,
	}
	out := Standardize(text)
	Expect(out[0]).To(Equal(OpLddw))
	Expect(out[16]).To(Equal(OpLddw))
	Expect(out[28]).To(Equal(uint8(0xd8)))
	Expect(out[32]).To(Equal(uint8(0x95)))
	Expect(text[0]).To(Equal(OpLddwRodata))
}
