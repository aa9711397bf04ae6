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

package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Toolchain knows where the external tools are.
type Toolchain struct {
	Runner      Runner
	Clang       string
	Strip       string
	IncludeDirs []string
}

func New(runner Runner) *Toolchain {
	return &Toolchain{
		Runner: runner,
		Clang:  "clang",
		Strip:  "strip",
	}
}

// ObjectFileName returns the object file that compiling src into outDir
// produces: the base name of src up to its first dot, with a .o suffix.
func ObjectFileName(src, outDir string) (string, error) {
	base := filepath.Base(src)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if base == "" || base == string(filepath.Separator) {
		return "", errors.Errorf("cannot derive an object file name from %q", src)
	}
	return filepath.Join(outDir, base+".o"), nil
}

// Compile compiles the C source src to an eBPF object in outDir, creating
// outDir if needed, and returns the path of the object.
func (t *Toolchain) Compile(ctx context.Context, src, outDir string) (string, error) {
	obj, err := ObjectFileName(src, outDir)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(src); err != nil {
		return "", errors.Wrap(err, "eBPF source file")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", errors.Wrap(err, "creating output directory")
	}

	args := []string{"-target", "bpf", "-O2", "-Wall"}
	for _, dir := range t.IncludeDirs {
		args = append(args, "-I", dir)
	}
	args = append(args, "-c", src, "-o", obj)
	if _, err := t.Runner.Run(ctx, Command{Name: t.Clang, Args: args}); err != nil {
		return "", errors.Wrapf(err, "compiling %s", src)
	}
	log.WithFields(log.Fields{"source": src, "object": obj}).Info("Compiled eBPF program")
	return obj, nil
}

// StripDebug writes a copy of the object src without debug and BTF sections
// to dst.
func (t *Toolchain) StripDebug(ctx context.Context, src, dst string) error {
	cmd := Command{
		Name: t.Strip,
		Args: []string{src, "-d", "-R", ".BTF", "-R", ".BTF.ext", "-o", dst},
	}
	if _, err := t.Runner.Run(ctx, cmd); err != nil {
		return errors.Wrapf(err, "stripping %s", src)
	}
	return nil
}

type SignOptions struct {
	// RootDir is the root of the mibpf checkout.
	RootDir     string
	CoapRootDir string
	Binary      string
	HostNetIf   string
	Board       string
	SuitSlot    int
}

// ManifestName is the name of the signed manifest that Sign produces for a
// storage slot.
func ManifestName(slot int) string {
	return fmt.Sprintf("suit_manifest%d.signed", slot)
}

// Sign moves the binary into the CoAP root and runs the signing script, which
// generates and signs the SUIT manifest next to it.
func (t *Toolchain) Sign(ctx context.Context, opts SignOptions) error {
	placed, err := moveInto(opts.Binary, opts.CoapRootDir)
	if err != nil {
		return err
	}
	cmd := Command{
		Name: "bash",
		Args: []string{
			filepath.Join(opts.RootDir, "scripts", "sign-binary.sh"),
			opts.HostNetIf,
			opts.Board,
			opts.CoapRootDir,
			placed,
			fmt.Sprint(opts.SuitSlot),
		},
		Env: []string{"RIOT_HOME=" + filepath.Join(opts.RootDir, "RIOT")},
	}
	if _, err := t.Runner.Run(ctx, cmd); err != nil {
		return errors.Wrap(err, "signing binary")
	}
	log.WithFields(log.Fields{
		"binary":   placed,
		"manifest": ManifestName(opts.SuitSlot),
	}).Info("Signed binary")
	return nil
}

// moveInto moves file into dir and returns its new path.  A rename across
// file systems falls back to an atomic copy.
func moveInto(file, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "creating CoAP root directory")
	}
	dst := filepath.Join(dir, filepath.Base(file))
	if err := os.Rename(file, dst); err == nil {
		return dst, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return "", errors.Wrap(err, "opening binary")
	}
	defer f.Close()
	if err := atomic.WriteFile(dst, f); err != nil {
		return "", errors.Wrapf(err, "copying binary to %s", dir)
	}
	if err := os.Remove(file); err != nil {
		log.WithError(err).WithField("file", file).Warn("Failed to remove binary after copying it.")
	}
	return dst, nil
}
