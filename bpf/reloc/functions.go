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
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/object"
)

// BuildFunctionTable appends the name of every defined global function to
// rodata, in symbol table order, and returns the extended rodata together
// with one FunctionSymbol per function.  Names are not NUL terminated.
func BuildFunctionTable(f *object.File, rodata []byte, textLen int) ([]byte, []image.FunctionSymbol, error) {
	if textLen > math.MaxUint16 {
		return nil, nil, errors.Wrapf(ErrFieldOverflow, ".text is %d bytes", textLen)
	}

	var functions []image.FunctionSymbol
	for _, sym := range f.Symbols {
		if sym.Kind != object.KindFunction || sym.Binding != object.BindGlobal || !sym.Defined() {
			continue
		}
		if len(functions) == math.MaxUint16 {
			return nil, nil, errors.Wrap(ErrFieldOverflow, "more than 65535 global functions")
		}
		nameOff := len(rodata)
		if nameOff > math.MaxUint16 {
			return nil, nil, errors.Wrapf(ErrFieldOverflow, "name of %s would start at rodata offset %d", sym.Name, nameOff)
		}
		if nameOff+len(sym.Name) > math.MaxUint16 {
			return nil, nil, errors.Wrapf(ErrFieldOverflow, "name of %s would end at rodata offset %d",
				sym.Name, nameOff+len(sym.Name))
		}
		if sym.Value > math.MaxUint16 {
			return nil, nil, errors.Wrapf(ErrFieldOverflow, "%s is at text offset %d", sym.Name, sym.Value)
		}

		rodata = append(rodata, sym.Name...)
		functions = append(functions, image.FunctionSymbol{
			NameOffset:     uint16(nameOff),
			LocationOffset: uint16(sym.Value),
		})
		logrus.WithFields(logrus.Fields{
			"function":   sym.Name,
			"nameOffset": nameOff,
			"location":   sym.Value,
		}).Debug("Added function to table")
	}
	return rodata, functions, nil
}
