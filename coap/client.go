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

package coap

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mibpf/mibpf/bpf/asm"
	"github.com/mibpf/mibpf/toolchain"
)

const (
	PullPath      = "/suit/pull"
	BenchmarkPath = "/benchmark"
)

// URL builds a CoAP URL for the device at ip, reachable through the host
// interface netIf.
func URL(ip, netIf, path string) string {
	return fmt.Sprintf("coap://[%s%%%s]%s", ip, netIf, path)
}

// Client posts payloads to CoAP endpoints.
type Client interface {
	Post(ctx context.Context, url, payload string) (string, error)
}

// CommandClient posts using an external CoAP client program, which can
// address link-local IPv6 devices through a zone.
type CommandClient struct {
	Runner toolchain.Runner
	Binary string
}

func NewCommandClient(runner toolchain.Runner, binary string) *CommandClient {
	if binary == "" {
		binary = "aiocoap-client"
	}
	return &CommandClient{Runner: runner, Binary: binary}
}

// Post fails if the client writes anything to stderr, even when it exits
// successfully.
func (c *CommandClient) Post(ctx context.Context, url, payload string) (string, error) {
	out, err := c.Runner.Run(ctx, toolchain.Command{
		Name: c.Binary,
		Args: []string{"-m", "POST", url, "--payload", payload},
	})
	if err != nil {
		return "", errors.Wrapf(err, "sending request to %s", url)
	}
	if stderr := strings.TrimSpace(string(out.Stderr)); stderr != "" {
		return "", errors.Errorf("%s failed: %s", c.Binary, stderr)
	}
	return string(out.Stdout), nil
}

type PullOptions struct {
	RiotIP        string
	RiotNetIf     string
	HostIP        string
	HostNetIf     string
	Manifest      string
	Configuration VMConfiguration
	Helpers       []asm.Helper
	Erase         bool
}

// Pull asks the device to fetch a signed program.  It returns the device's
// response.
func Pull(ctx context.Context, c Client, opts PullOptions) (string, error) {
	if err := opts.Configuration.Validate(); err != nil {
		return "", err
	}
	req := SuitPullRequest{
		IP:        opts.HostIP,
		Manifest:  opts.Manifest,
		RiotNetIf: opts.RiotNetIf,
		Config:    opts.Configuration.Encode(),
		Helpers:   EncodeHelpers(opts.Helpers),
		Erase:     opts.Erase,
	}
	url := URL(opts.RiotIP, opts.HostNetIf, PullPath)
	payload := req.Encode()
	log.WithFields(log.Fields{"url": url, "payload": payload}).Debug("Sending pull request")

	resp, err := c.Post(ctx, url, payload)
	if err != nil {
		return "", err
	}
	log.WithField("response", resp).Debug("Pull request answered")
	return resp, nil
}

type ExecuteOptions struct {
	RiotIP         string
	HostNetIf      string
	Configuration  VMConfiguration
	ExecutionModel ExecutionModel
	// Helpers the program may call.  Empty allows all known helpers.
	Helpers   []asm.Helper
	Benchmark bool
}

// Execute asks the device to run the program in the configured slot and
// returns the device's response.
func Execute(ctx context.Context, c Client, opts ExecuteOptions) (string, error) {
	if err := opts.Configuration.Validate(); err != nil {
		return "", err
	}
	if opts.ExecutionModel < ShortLived || opts.ExecutionModel > LongRunning {
		return "", errors.Errorf("unknown execution model %s", opts.ExecutionModel)
	}
	helpers := opts.Helpers
	if len(helpers) == 0 {
		helpers = asm.Helpers()
	}
	req := ExecutionRequest{Configuration: opts.Configuration, AllowedHelpers: helpers}

	path := opts.ExecutionModel.Path()
	if opts.Benchmark {
		path = BenchmarkPath + path
	}
	url := URL(opts.RiotIP, opts.HostNetIf, path)
	payload := req.Encode()
	log.WithFields(log.Fields{"url": url, "payload": payload}).Debug("Sending execution request")
	return c.Post(ctx, url, payload)
}
