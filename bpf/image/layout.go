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

package image

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Layout selects the shape of the post-processed output.  The values are the
// 2-bit layout codes that the device understands.
type Layout uint8

const (
	// OnlyTextSection emits the raw .text bytes.
	OnlyTextSection Layout = iota
	// FemtoContainersHeader emits the header and regions plus the function
	// table, without call records.
	FemtoContainersHeader
	// FunctionRelocationMetadata is the full image including call records.
	FunctionRelocationMetadata
	// RawObjectFile is the object itself, stripped of debug information.
	RawObjectFile
)

const DefaultLayout = FunctionRelocationMetadata

var layoutNames = []string{
	OnlyTextSection:            "OnlyTextSection",
	FemtoContainersHeader:      "FemtoContainersHeader",
	FunctionRelocationMetadata: "FunctionRelocationMetadata",
	RawObjectFile:              "RawObjectFile",
}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("Layout(%d)", uint8(l))
}

func (l Layout) Valid() bool {
	return int(l) < len(layoutNames)
}

// HasHeader reports whether outputs of this layout start with a Header.
func (l Layout) HasHeader() bool {
	return l == FemtoContainersHeader || l == FunctionRelocationMetadata
}

// Layouts returns all layouts in code order.
func Layouts() []Layout {
	return []Layout{OnlyTextSection, FemtoContainersHeader, FunctionRelocationMetadata, RawObjectFile}
}

// ParseLayout accepts a layout name (case-insensitive) or its numeric code.
func ParseLayout(s string) (Layout, error) {
	for _, l := range Layouts() {
		if strings.EqualFold(s, l.String()) || s == fmt.Sprint(uint8(l)) {
			return l, nil
		}
	}
	return 0, errors.Errorf("unknown binary layout %q, expected one of %v", s, Layouts())
}

// Set and Type make *Layout usable as a pflag.Value.
func (l *Layout) Set(s string) error {
	v, err := ParseLayout(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

func (l *Layout) Type() string {
	return "layout"
}
