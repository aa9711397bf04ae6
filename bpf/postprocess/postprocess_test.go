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

package postprocess_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/mibpf/mibpf/bpf/asm"
	"github.com/mibpf/mibpf/bpf/image"
	"github.com/mibpf/mibpf/bpf/object/objtest"
	"github.com/mibpf/mibpf/bpf/postprocess"
	"github.com/mibpf/mibpf/bpf/verifier"
)

var exit = objtest.Insn(0x95, 0, 0, 0)

// helloObject looks like clang's output for a program with a main function
// that calls bpf_printf("hello") and a local function.
func helloObject() ([]byte, []byte) {
	code := objtest.Program(
		objtest.Lddw(1, 0),                                      // 0: r1 = "hello"
		objtest.Insn(asm.OpCall, 0, 0, int32(asm.HelperPrintf)), // 16
		objtest.Insn(asm.OpCall, 0x10, 0, -1),                   // 24: call local
		exit,                                                    // 32
		objtest.Insn(0xb7, 0, 0, 1),                             // 40: local
		exit,                                                    // 48
	)
	b := objtest.NewBuilder()
	text := b.AddText(code)
	pool := b.AddRodata(".rodata.str1.1", []byte("hello\x00"))
	local := b.AddFunction("local", text, 40)
	b.AddFunction("main", text, 0)
	b.AddRelocations(text,
		objtest.Rel{Offset: 0, Symbol: b.AddSectionSymbol(pool), Type: 1},
		objtest.Rel{Offset: 24, Symbol: local, Type: 10},
	)
	return b.Bytes(), code
}

type copyStripper struct {
	calls int
	err   error
}

func (c *copyStripper) StripDebug(_ context.Context, src, dst string) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, raw, 0644)
}

var _ = Describe("Process", func() {
	var raw, code []byte
	BeforeEach(func() {
		raw, code = helloObject()
	})

	It("should emit only the text for OnlyTextSection", func() {
		blob, res, err := postprocess.Process(raw, image.OnlyTextSection)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(BeNil())
		Expect(blob).To(Equal(code))
	})

	It("should emit the full image for FunctionRelocationMetadata", func() {
		blob, res, err := postprocess.Process(raw, image.FunctionRelocationMetadata)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Patched).To(Equal(1))

		p, h, err := image.Parse(blob)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.FunctionsLen).To(BeEquivalentTo(2))
		Expect(p.Calls).To(Equal([]image.RelocatedCall{{InstructionOffset: 24, FunctionTextOffset: 40}}))
		Expect(p.Text[0]).To(Equal(asm.OpLddwRodata))
		Expect(p.FunctionName(0)).To(Equal("local"))
		Expect(p.FunctionName(1)).To(Equal("main"))
		Expect(p.Functions[1].LocationOffset).To(BeZero())
	})

	It("should omit call records for FemtoContainersHeader", func() {
		full, _, err := postprocess.Process(raw, image.FunctionRelocationMetadata)
		Expect(err).NotTo(HaveOccurred())
		blob, _, err := postprocess.Process(raw, image.FemtoContainersHeader)
		Expect(err).NotTo(HaveOccurred())
		Expect(blob).To(Equal(full[:len(full)-image.RelocatedCallSize]))
	})

	It("should refuse RawObjectFile", func() {
		_, _, err := postprocess.Process(raw, image.RawObjectFile)
		Expect(errors.Is(err, postprocess.ErrNeedsStrip)).To(BeTrue())
	})

	It("should be deterministic", func() {
		a, _, err := postprocess.Process(raw, image.FunctionRelocationMetadata)
		Expect(err).NotTo(HaveOccurred())
		b, _, err := postprocess.Process(raw, image.FunctionRelocationMetadata)
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})
})

var _ = Describe("Run", func() {
	var dir, src, out string
	var code []byte

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		src = filepath.Join(dir, "hello.o")
		out = filepath.Join(dir, "program.bin")
		var raw []byte
		raw, code = helloObject()
		Expect(os.WriteFile(src, raw, 0644)).To(Succeed())
	})

	It("should write the binary and report on it", func() {
		report, err := postprocess.Run(context.Background(), postprocess.Options{
			Source: src,
			Output: out,
			Layout: image.FunctionRelocationMetadata,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Functions).To(Equal(2))
		Expect(report.Calls).To(Equal(1))
		Expect(report.Patched).To(Equal(1))
		Expect(report.Skipped).To(BeZero())

		blob, err := os.ReadFile(out)
		Expect(err).NotTo(HaveOccurred())
		Expect(blob).To(HaveLen(report.Size))
		_, _, err = image.Parse(blob)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should write the text for OnlyTextSection", func() {
		_, err := postprocess.Run(context.Background(), postprocess.Options{
			Source: src,
			Output: out,
			Layout: image.OnlyTextSection,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(os.ReadFile(out)).To(Equal(code))
	})

	It("should strip raw objects through the stripper", func() {
		s := &copyStripper{}
		_, err := postprocess.Run(context.Background(), postprocess.Options{
			Source:   src,
			Output:   out,
			Layout:   image.RawObjectFile,
			Stripper: s,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.calls).To(Equal(1))
		Expect(os.ReadFile(out)).To(Equal(must(os.ReadFile(src))))

		// The temporary file is gone.
		entries, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
	})

	It("should check helpers on a raw object", func() {
		_, err := postprocess.Run(context.Background(), postprocess.Options{
			Source:         src,
			Output:         out,
			Layout:         image.RawObjectFile,
			Stripper:       &copyStripper{},
			VerifyHelpers:  true,
			AllowedHelpers: []asm.Helper{asm.HelperPrintf},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should write nothing when the stripper fails", func() {
		_, err := postprocess.Run(context.Background(), postprocess.Options{
			Source:   src,
			Output:   out,
			Layout:   image.RawObjectFile,
			Stripper: &copyStripper{err: errors.New("strip: not found")},
		})
		Expect(err).To(HaveOccurred())
		Expect(out).NotTo(BeAnExistingFile())
	})

	It("should write nothing when a helper is not allowed", func() {
		_, err := postprocess.Run(context.Background(), postprocess.Options{
			Source:         src,
			Output:         out,
			Layout:         image.FunctionRelocationMetadata,
			VerifyHelpers:  true,
			AllowedHelpers: []asm.Helper{asm.HelperNowMs},
		})
		var dhe *verifier.DisallowedHelperError
		Expect(errors.As(err, &dhe)).To(BeTrue())
		Expect(dhe.ID).To(BeEquivalentTo(asm.HelperPrintf))
		Expect(out).NotTo(BeAnExistingFile())
	})

	It("should leave an existing output alone on failure", func() {
		Expect(os.WriteFile(out, []byte("previous"), 0644)).To(Succeed())
		b := objtest.NewBuilder()
		b.AddData([]byte{1})
		Expect(os.WriteFile(src, b.Bytes(), 0644)).To(Succeed())

		_, err := postprocess.Run(context.Background(), postprocess.Options{
			Source: src,
			Output: out,
			Layout: image.FunctionRelocationMetadata,
		})
		Expect(err).To(HaveOccurred())
		Expect(os.ReadFile(out)).To(Equal([]byte("previous")))
	})

	It("should export metrics", func() {
		_, err := postprocess.Run(context.Background(), postprocess.Options{
			Source: src,
			Output: out,
			Layout: image.FemtoContainersHeader,
		})
		Expect(err).NotTo(HaveOccurred())

		metrics := filepath.Join(dir, "mibpf.prom")
		Expect(postprocess.WriteMetrics(metrics)).To(Succeed())
		contents, err := os.ReadFile(metrics)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(contents)).To(ContainSubstring(`mibpf_postprocess_objects{layout="FemtoContainersHeader",result="success"}`))
		Expect(string(contents)).To(ContainSubstring("mibpf_postprocess_relocations"))
	})
})

func must(b []byte, err error) []byte {
	Expect(err).NotTo(HaveOccurred())
	return b
}
