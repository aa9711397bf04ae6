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

package reloc

import (
	"encoding/binary"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mibpf/mibpf/bpf/asm"
	"github.com/mibpf/mibpf/bpf/object"
)

// ResolveRawObject relocates an unmodified object in place, the way the
// device does after copying it to loadAddress.  Each site gets the absolute
// address of its symbol: loadAddress plus the file offset of the symbol's
// section plus the symbol value.  It returns the number of patched sites.
func ResolveRawObject(program []byte, loadAddress uint32) (int, error) {
	f, err := object.Parse(program)
	if err != nil {
		return 0, err
	}

	patched := 0
	for _, rs := range f.Relocations {
		if rs.Target <= 0 || rs.Target >= len(f.Sections) {
			logrus.WithField("section", rs.Name).Warn("Relocation section has no valid target, skipping.")
			continue
		}
		tgt := f.Sections[rs.Target]
		if isDebugSection(tgt.Name) {
			logrus.WithField("section", rs.Name).Debug("Ignoring relocations of debug section")
			continue
		}

		for _, rel := range rs.Entries {
			logCxt := logrus.WithFields(logrus.Fields{
				"section": tgt.Name,
				"offset":  rel.Offset,
				"symbol":  rel.Symbol,
			})
			if int(rel.Symbol) >= len(f.Symbols) {
				logCxt.Error("Relocation refers to a symbol that does not exist, skipping.")
				continue
			}
			sym := f.Symbols[rel.Symbol]
			if !sym.Defined() || int(sym.SectionIndex) >= len(f.Sections) {
				logCxt.WithField("name", sym.Name).Error("Relocation against undefined symbol, skipping.")
				continue
			}
			// Addresses are 32-bit on the device, so the sum wraps like it does there.
			value := loadAddress + uint32(f.Sections[sym.SectionIndex].Offset) + uint32(sym.Value) + uint32(rel.Addend)

			site := tgt.Offset + rel.Offset
			if rel.Offset >= tgt.Size || site >= uint64(len(program)) {
				logCxt.Error("Relocation site is outside its section, skipping.")
				continue
			}

			switch op := program[site]; op {
			case asm.OpLddw:
				insn, ok := asm.LddwAt(program, site)
				if !ok {
					logCxt.Error("LDDW runs past the end of the object, skipping.")
					continue
				}
				insn.AddImmLow(value)
			case asm.OpCall:
				call, ok := asm.CallAt(program, site)
				if !ok {
					logCxt.Error("CALL runs past the end of the object, skipping.")
					continue
				}
				call.SetRegisters(asm.CallRegistersAbsolute)
				call.SetImm(value)
			case 0:
				if uint64(len(program))-site < 4 {
					logCxt.Error("Data relocation runs past the end of the object, skipping.")
					continue
				}
				binary.LittleEndian.PutUint32(program[site:site+4], value)
			default:
				logCxt.WithField("opcode", op).Error("Unsupported instruction at relocation site, skipping.")
				continue
			}
			patched++
			logCxt.WithField("value", value).Debug("Relocated site")
		}
	}
	return patched, nil
}

func isDebugSection(name string) bool {
	return strings.HasPrefix(name, ".BTF") || strings.HasPrefix(name, ".debug")
}
