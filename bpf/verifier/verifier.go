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

// Package verifier checks post-processed programs before they are shipped to
// a device.  The VM refuses to run programs that call helpers outside the
// allow-list of the execution request, so catching that on the build host
// saves a round trip.
package verifier

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ebpfasm "github.com/cilium/ebpf/asm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mibpf/mibpf/bpf/asm"
	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/object"
)

// DisallowedHelperError reports the first call to a helper that is not
// allowed.
type DisallowedHelperError struct {
	// Index is the instruction index, counting LDDW as one instruction.
	Index int
	// Offset is the byte offset of the call within the text.
	Offset uint64
	ID     int64
}

func (e *DisallowedHelperError) Error() string {
	name := fmt.Sprintf("helper %d", e.ID)
	if e.ID >= 0 && e.ID <= 0xff {
		name = asm.Helper(e.ID).String()
	}
	return fmt.Sprintf("instruction %d (offset %d) calls %s which is not allowed", e.Index, e.Offset, name)
}

// Decode decodes text with the generic eBPF decoder.  Region-relative LDDWs
// are presented as plain LDDWs.
func Decode(text []byte) (ebpfasm.Instructions, error) {
	var insns ebpfasm.Instructions
	if err := insns.Unmarshal(bytes.NewReader(asm.Standardize(text)), binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "decoding program text")
	}
	return insns, nil
}

// CheckHelpers fails with a *DisallowedHelperError if text calls a helper
// that is not in allowed.  An empty allow-list permits every known helper.
func CheckHelpers(text []byte, allowed []asm.Helper) error {
	insns, err := Decode(text)
	if err != nil {
		return err
	}

	permitted := map[int64]bool{}
	if len(allowed) == 0 {
		allowed = asm.Helpers()
	}
	for _, h := range allowed {
		permitted[int64(h)] = true
	}

	calls := 0
	iter := insns.Iterate()
	for iter.Next() {
		if !iter.Ins.IsBuiltinCall() {
			continue
		}
		calls++
		if !permitted[iter.Ins.Constant] {
			return &DisallowedHelperError{
				Index:  iter.Index,
				Offset: uint64(iter.Offset) * asm.InstructionSize,
				ID:     iter.Ins.Constant,
			}
		}
	}
	logrus.WithFields(logrus.Fields{
		"instructions": len(insns),
		"helperCalls":  calls,
	}).Debug("Helper calls verified")
	return nil
}

// ProgramText locates the instructions inside a post-processed binary.
func ProgramText(blob []byte, layout image.Layout) ([]byte, error) {
	switch {
	case layout == image.OnlyTextSection:
		return blob, nil
	case layout.HasHeader():
		p, _, err := image.Parse(blob)
		if err != nil {
			return nil, err
		}
		return p.Text, nil
	case layout == image.RawObjectFile:
		f, err := object.Parse(blob)
		if err != nil {
			return nil, err
		}
		return f.Text()
	}
	return nil, errors.Errorf("unknown layout %s", layout)
}
