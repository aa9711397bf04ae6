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
	"bytes"
	"os"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Binary is an in memory representation of a post-processed program, in any
// layout.
type Binary struct {
	raw    []byte
	layout Layout
}

func NewBinary(raw []byte, layout Layout) *Binary {
	return &Binary{raw: raw, layout: layout}
}

// BinaryFromFile reads a binary from a file
func BinaryFromFile(ifile string, layout Layout) (*Binary, error) {
	raw, err := os.ReadFile(ifile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", ifile)
	}
	return NewBinary(raw, layout), nil
}

func (b *Binary) Bytes() []byte {
	return b.raw
}

func (b *Binary) Layout() Layout {
	return b.layout
}

// Program parses the binary.  Only layouts that carry a header can be parsed.
func (b *Binary) Program() (*Program, *Header, error) {
	if !b.layout.HasHeader() {
		return nil, nil, errors.Errorf("layout %s has no header", b.layout)
	}
	return Parse(b.raw)
}

// WriteToFile writes the binary to a file.  The file is replaced atomically
// so a failed write never leaves a truncated binary behind.
func (b *Binary) WriteToFile(ofile string) error {
	if err := atomic.WriteFile(ofile, bytes.NewReader(b.raw)); err != nil {
		return errors.Wrapf(err, "writing %s", ofile)
	}
	logrus.WithFields(logrus.Fields{
		"file":   ofile,
		"size":   len(b.raw),
		"layout": b.layout,
	}).Debug("Wrote binary")
	return nil
}
