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

// Package postprocess turns compiled eBPF objects into the binaries that the
// VM loads, in any of the supported layouts.
package postprocess

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mibpf/mibpf/bpf/asm"
	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/object"
	"github.com/mibpf/mibpf/bpf/reloc"
	"github.com/mibpf/mibpf/bpf/verifier"
)

// ErrNeedsStrip is returned by Process for RawObjectFile; that layout is
// produced by an external tool, see Run.
var ErrNeedsStrip = errors.New("layout is produced by stripping the object")

// Stripper removes debug information from an object file.
type Stripper interface {
	StripDebug(ctx context.Context, src, dst string) error
}

// Process transforms the object raw into the given layout in memory.  The
// relocation result is nil for OnlyTextSection.
func Process(raw []byte, layout image.Layout) ([]byte, *reloc.Result, error) {
	if layout == image.RawObjectFile {
		return nil, nil, ErrNeedsStrip
	}
	if !layout.Valid() {
		return nil, nil, errors.Errorf("unknown layout %s", layout)
	}

	f, err := object.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if layout == image.OnlyTextSection {
		text, err := f.Text()
		return text, nil, err
	}

	p, res, err := reloc.Link(f)
	if err != nil {
		return nil, nil, err
	}
	blob, err := image.Assemble(p, layout == image.FunctionRelocationMetadata)
	if err != nil {
		return nil, nil, err
	}
	return blob, res, nil
}

type Options struct {
	Source string
	Output string
	Layout image.Layout
	// VerifyHelpers checks that the program only calls AllowedHelpers before
	// anything is written.
	VerifyHelpers  bool
	AllowedHelpers []asm.Helper
	// Stripper is required for RawObjectFile.
	Stripper Stripper
}

// Report describes a successful run.
type Report struct {
	Source    string
	Output    string
	Layout    image.Layout
	Size      int
	Functions int
	Calls     int
	Patched   int
	Skipped   int
	Duration  time.Duration
}

// Run post-processes opts.Source into opts.Output.  The output is replaced
// atomically and only once everything else has succeeded.
func Run(ctx context.Context, opts Options) (report *Report, err error) {
	start := time.Now()
	logCxt := log.WithFields(log.Fields{
		"source": opts.Source,
		"layout": opts.Layout,
	})
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		countObjectsProcessed.WithLabelValues(opts.Layout.String(), result).Inc()
		histogramProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	var blob []byte
	var res *reloc.Result
	if opts.Layout == image.RawObjectFile {
		blob, err = strip(ctx, opts)
	} else {
		var raw []byte
		raw, err = os.ReadFile(opts.Source)
		if err != nil {
			return nil, errors.Wrap(err, "reading object file")
		}
		blob, res, err = Process(raw, opts.Layout)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "post-processing %s", opts.Source)
	}

	if opts.VerifyHelpers {
		text, err := verifier.ProgramText(blob, opts.Layout)
		if err != nil {
			return nil, err
		}
		if err := verifier.CheckHelpers(text, opts.AllowedHelpers); err != nil {
			return nil, err
		}
	}

	if err := image.NewBinary(blob, opts.Layout).WriteToFile(opts.Output); err != nil {
		return nil, err
	}

	report = &Report{
		Source:   opts.Source,
		Output:   opts.Output,
		Layout:   opts.Layout,
		Size:     len(blob),
		Duration: time.Since(start),
	}
	if res != nil {
		report.Calls = len(res.Calls)
		report.Patched = res.Patched
		report.Skipped = res.Skipped
		countRelocations.WithLabelValues("patched").Add(float64(res.Patched))
		countRelocations.WithLabelValues("call").Add(float64(len(res.Calls)))
		countRelocations.WithLabelValues("skipped").Add(float64(res.Skipped))
	}
	if opts.Layout.HasHeader() {
		if h, err := image.ParseHeader(blob); err == nil {
			report.Functions = int(h.FunctionsLen)
		}
	}
	gaugeOutputBytes.Set(float64(len(blob)))

	logCxt = logCxt.WithFields(log.Fields{
		"output":  opts.Output,
		"size":    report.Size,
		"patched": report.Patched,
		"calls":   report.Calls,
	})
	if report.Skipped > 0 {
		logCxt.WithField("skipped", report.Skipped).Warn("Some relocations could not be resolved.")
	}
	logCxt.Info("Post-processed object file")
	return report, nil
}

// strip runs the stripper into a temporary file next to the output and
// returns its contents.
func strip(ctx context.Context, opts Options) ([]byte, error) {
	if opts.Stripper == nil {
		return nil, errors.Errorf("layout %s needs a stripper", opts.Layout)
	}
	if _, err := os.Stat(opts.Source); err != nil {
		return nil, errors.Wrap(err, "object file")
	}
	tmp, err := os.CreateTemp(filepath.Dir(opts.Output), ".mibpf-strip-*")
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary file")
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("file", tmpName).Warn("Failed to remove temporary file.")
		}
	}()

	if err := opts.Stripper.StripDebug(ctx, opts.Source, tmpName); err != nil {
		return nil, err
	}
	return os.ReadFile(tmpName)
}
