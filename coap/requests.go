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

// Package coap builds the requests that are sent to the device over CoAP:
// SUIT pulls, which make the device fetch a signed program, and execution
// requests, which start a VM on a loaded program.
package coap

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mibpf/mibpf/bpf/asm"
	"github.com/mibpf/mibpf/bpf/image"
)

// Target is the VM implementation that runs the program.
type Target uint8

const (
	TargetRbpf Target = iota
	TargetFemtoContainer
)

func (t Target) String() string {
	switch t {
	case TargetRbpf:
		return "rBPF"
	case TargetFemtoContainer:
		return "FemtoContainer"
	}
	return fmt.Sprintf("Target(%d)", uint8(t))
}

func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(s) {
	case "rbpf":
		return TargetRbpf, nil
	case "femtocontainer", "femto-containers", "femtocontainers":
		return TargetFemtoContainer, nil
	}
	return 0, errors.Errorf("unknown target VM %q", s)
}

// VMConfiguration is packed into a single byte:
//
//	bit 0     target VM
//	bit 1     SUIT storage slot
//	bits 2-3  binary layout
type VMConfiguration struct {
	Target   Target
	SuitSlot int
	Layout   image.Layout
}

func (c VMConfiguration) Validate() error {
	if c.Target > TargetFemtoContainer {
		return errors.Errorf("unknown target %s", c.Target)
	}
	if c.SuitSlot != 0 && c.SuitSlot != 1 {
		return errors.Errorf("SUIT storage slot must be 0 or 1, not %d", c.SuitSlot)
	}
	if !c.Layout.Valid() {
		return errors.Errorf("unknown layout %s", c.Layout)
	}
	if c.Target == TargetFemtoContainer && c.Layout != image.FemtoContainersHeader {
		return errors.Errorf("the %s VM only loads the %s layout", c.Target, image.FemtoContainersHeader)
	}
	return nil
}

func (c VMConfiguration) Encode() uint8 {
	return uint8(c.Target)&0b1 |
		uint8(c.SuitSlot&0b1)<<1 |
		uint8(c.Layout&0b11)<<2
}

func DecodeVMConfiguration(b uint8) VMConfiguration {
	return VMConfiguration{
		Target:   Target(b & 0b1),
		SuitSlot: int(b>>1) & 0b1,
		Layout:   image.Layout(b>>2) & 0b11,
	}
}

// ExecutionModel selects how the device runs the program.
type ExecutionModel int

const (
	// ShortLived runs the program to completion and responds with its
	// return value.
	ShortLived ExecutionModel = iota
	// WithAccessToCoapPacket lets the program write the CoAP response.
	WithAccessToCoapPacket
	// LongRunning starts the program in its own thread.
	LongRunning
)

var executionModelNames = []string{
	ShortLived:             "ShortLived",
	WithAccessToCoapPacket: "WithAccessToCoapPacket",
	LongRunning:            "LongRunning",
}

var executionModelPaths = []string{
	ShortLived:             "/short-execution",
	WithAccessToCoapPacket: "/with_coap_pkt",
	LongRunning:            "/long-running",
}

func (m ExecutionModel) String() string {
	if m >= 0 && int(m) < len(executionModelNames) {
		return executionModelNames[m]
	}
	return fmt.Sprintf("ExecutionModel(%d)", int(m))
}

// Path is the URL path of the device endpoint for the model.
func (m ExecutionModel) Path() string {
	return executionModelPaths[m]
}

func ParseExecutionModel(s string) (ExecutionModel, error) {
	for i, name := range executionModelNames {
		if strings.EqualFold(s, name) {
			return ExecutionModel(i), nil
		}
	}
	return 0, errors.Errorf("unknown execution model %q, expected one of %v", s, executionModelNames)
}

// ExecutionRequest asks the device to run the program in the configured
// slot with access to the listed helpers only.
type ExecutionRequest struct {
	Configuration  VMConfiguration
	AllowedHelpers []asm.Helper
}

// Encode returns the configuration byte followed by one byte per helper, as
// lowercase hex.  The device limits the payload size so the encoding is
// kept compact.
func (r ExecutionRequest) Encode() string {
	raw := make([]byte, 0, 1+len(r.AllowedHelpers))
	raw = append(raw, r.Configuration.Encode())
	for _, h := range r.AllowedHelpers {
		raw = append(raw, uint8(h))
	}
	return hex.EncodeToString(raw)
}

// DecodeExecutionRequest is the inverse of Encode.  Helper ids that are not
// known are dropped.
func DecodeExecutionRequest(s string) (ExecutionRequest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ExecutionRequest{}, errors.Wrap(err, "decoding execution request")
	}
	if len(raw) == 0 {
		return ExecutionRequest{}, errors.New("empty execution request")
	}
	req := ExecutionRequest{Configuration: DecodeVMConfiguration(raw[0])}
	for _, b := range raw[1:] {
		if h := asm.Helper(b); h.Known() {
			req.AllowedHelpers = append(req.AllowedHelpers, h)
		}
	}
	return req, nil
}

// EncodeHelpers is the hex encoding of a helper list used in pull requests.
func EncodeHelpers(helpers []asm.Helper) string {
	raw := make([]byte, len(helpers))
	for i, h := range helpers {
		raw[i] = uint8(h)
	}
	return hex.EncodeToString(raw)
}

// SuitPullRequest asks the device to fetch a signed manifest, and the binary
// it describes, from the CoAP fileserver at IP.
type SuitPullRequest struct {
	IP        string
	Manifest  string
	RiotNetIf string
	Config    uint8
	Helpers   string
	Erase     bool
}

const pullRequestFields = 6

// Encode drops the colons from the IPv6 address; the device puts them back.
func (r SuitPullRequest) Encode() string {
	erase := "0"
	if r.Erase {
		erase = "1"
	}
	return strings.Join([]string{
		strings.ReplaceAll(r.IP, ":", ""),
		r.Manifest,
		r.RiotNetIf,
		strconv.Itoa(int(r.Config)),
		r.Helpers,
		erase,
	}, "|")
}

// DecodeSuitPullRequest is the inverse of Encode for link-local style
// addresses, "xxxx::xxxx:xxxx:xxxx:xxxx": the first group is followed by
// "::" and the remaining 4-digit groups are separated by ":".
func DecodeSuitPullRequest(s string) (SuitPullRequest, error) {
	fields := strings.Split(s, "|")
	if len(fields) != pullRequestFields {
		return SuitPullRequest{}, errors.Errorf("pull request has %d fields, expected %d", len(fields), pullRequestFields)
	}
	ip, err := decodeIP(fields[0])
	if err != nil {
		return SuitPullRequest{}, err
	}
	config, err := strconv.ParseUint(fields[3], 10, 8)
	if err != nil {
		return SuitPullRequest{}, errors.Wrap(err, "parsing VM configuration")
	}
	return SuitPullRequest{
		IP:        ip,
		Manifest:  fields[1],
		RiotNetIf: fields[2],
		Config:    uint8(config),
		Helpers:   fields[4],
		Erase:     fields[5] == "1",
	}, nil
}

func decodeIP(s string) (string, error) {
	if len(s) == 0 || len(s)%4 != 0 {
		return "", errors.Errorf("encoded address %q is not a sequence of 4-digit groups", s)
	}
	var groups []string
	for i := 0; i < len(s); i += 4 {
		groups = append(groups, s[i:i+4])
	}
	return groups[0] + "::" + strings.Join(groups[1:], ":"), nil
}
