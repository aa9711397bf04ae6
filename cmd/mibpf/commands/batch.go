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

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/postprocess"
	"github.com/mibpf/mibpf/logutils"
)

type batchCmd struct {
	*cobra.Command
	app *app

	OutDir string
	Layout image.Layout
	Jobs   int
}

func newBatchCmd(a *app) *cobra.Command {
	bc := &batchCmd{app: a, Layout: image.DefaultLayout}
	bc.Command = &cobra.Command{
		Use:   "batch <object.o>... [--out-dir <dir>] [--binary-layout <layout>] [--jobs <n>]",
		Short: "Post-processes many object files in parallel",
		Args:  cobra.MinimumNArgs(1),
		RunE:  bc.run,
	}

	bc.Flags().StringVar(&bc.OutDir, "out-dir", "", "Directory for the binaries (default $OUT_DIR)")
	bc.Flags().Var(&bc.Layout, "binary-layout", "Binary layout to produce")
	bc.Flags().IntVarP(&bc.Jobs, "jobs", "j", runtime.NumCPU(), "Number of objects to process at once")

	return bc.Command
}

// binaryFileName maps src to <outDir>/<name>.bin.
func binaryFileName(src, outDir string) string {
	base := filepath.Base(src)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return filepath.Join(outDir, base+".bin")
}

func (bc *batchCmd) run(c *cobra.Command, args []string) error {
	if bc.Jobs < 1 {
		return errors.Errorf("--jobs must be at least 1, not %d", bc.Jobs)
	}
	outDir := orDefault(bc.OutDir, bc.app.cfg.OutDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	seen := map[string]string{}
	for _, src := range args {
		out := binaryFileName(src, outDir)
		if other, ok := seen[out]; ok {
			return errors.Errorf("%s and %s would both be written to %s", other, src, out)
		}
		seen[out] = src
	}

	summarizer := logutils.NewSummarizer("post-processing objects")
	reports := make([]*postprocess.Report, len(args))
	failures := make([]error, len(args))
	stripper := bc.app.toolchain()

	// Each object is independent, so a failure does not cancel the others.
	var g errgroup.Group
	g.SetLimit(bc.Jobs)
	for i, src := range args {
		g.Go(func() error {
			start := time.Now()
			report, err := postprocess.Run(c.Context(), postprocess.Options{
				Source:   src,
				Output:   binaryFileName(src, outDir),
				Layout:   bc.Layout,
				Stripper: stripper,
			})
			var notes []string
			if report != nil && report.Skipped > 0 {
				notes = append(notes, fmt.Sprintf("%d relocations skipped", report.Skipped))
			}
			summarizer.Record(src, time.Since(start), err, notes...)
			if err != nil {
				log.WithError(err).WithField("source", src).Error("Failed to post-process object file.")
			}
			reports[i], failures[i] = report, err
			return nil
		})
	}
	_ = g.Wait()
	summarizer.DoLog()

	table := tablewriter.NewWriter(c.OutOrStdout())
	table.SetHeader([]string{"SOURCE", "BINARY", "SIZE", "PATCHED", "CALLS", "SKIPPED", "RESULT"})
	var rows [][]string
	for i, src := range args {
		if failures[i] != nil {
			rows = append(rows, []string{src, "", "", "", "", "", "failed"})
			continue
		}
		r := reports[i]
		rows = append(rows, []string{
			src,
			r.Output,
			fmt.Sprint(r.Size),
			fmt.Sprint(r.Patched),
			fmt.Sprint(r.Calls),
			fmt.Sprint(r.Skipped),
			"ok",
		})
	}
	table.AppendBulk(rows)
	succeeded, failed := summarizer.Counts()
	table.SetCaption(true, fmt.Sprintf("%d succeeded, %d failed.", succeeded, failed))
	table.Render()

	if failed > 0 {
		return errors.Errorf("%d of %d objects failed", failed, len(args))
	}
	return nil
}
