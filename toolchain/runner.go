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

// Package toolchain runs the external programs that surround post-processing:
// the eBPF compiler, strip, and the SUIT signing script.
package toolchain

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Command describes one invocation of an external program.
type Command struct {
	Name string
	Args []string
	// Env is appended to the environment of the current process.
	Env []string
	Dir string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

type Output struct {
	Stdout []byte
	Stderr []byte
}

// Runner runs commands.  Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout, if non-zero, bounds each command.
	Timeout time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	logCxt := log.WithField("cmd", cmd.String())
	logCxt.Debug("Running command")
	start := time.Now()
	err := c.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	logCxt = logCxt.WithField("duration", time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			err = errors.Wrap(ctx.Err(), err.Error())
		}
		logCxt.WithError(err).WithField("stderr", stderr.String()).Debug("Command failed")
		return out, errors.Wrapf(err, "%s failed: %s", cmd.Name, strings.TrimSpace(stderr.String()))
	}
	logCxt.Debug("Command finished")
	return out, nil
}
