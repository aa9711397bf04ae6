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

package logutils_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"

	. "github.com/mibpf/mibpf/logutils"
)

var _ = DescribeTable("Formatter",
	func(component string, entry log.Entry, expectedLog string) {
		f := &Formatter{Component: component}
		out, err := f.Format(&entry)
		Expect(err).NotTo(HaveOccurred())
		expectedLog = strings.Replace(expectedLog, "<PID>", fmt.Sprintf("%v", os.Getpid()), 1)
		Expect(string(out)).To(Equal(expectedLog))
	},
	Entry("Empty", "", log.Entry{},
		"0001-01-01 00:00:00.000 [PANIC][<PID>] \n"),
	Entry("Basic", "mibpf",
		log.Entry{
			Level:   log.InfoLevel,
			Time:    theTime(),
			Message: "Wrote binary",
		},
		"2017-03-15 11:22:33.123 [INFO][<PID>] mibpf: Wrote binary\n",
	),
	Entry("With fields", "mibpf",
		log.Entry{
			Level: log.WarnLevel,
			Time:  theTime(),
			Data: log.Fields{
				"size":   36,
				"file":   "a.bin",
				"layout": stringer("FunctionRelocationMetadata"),
				"err":    errors.New("an error"),
			},
			Message: "Wrote binary",
		},
		"2017-03-15 11:22:33.123 [WARNING][<PID>] mibpf: Wrote binary err=an error file=\"a.bin\" layout=FunctionRelocationMetadata size=36\n"),
)

type stringer string

func (s stringer) String() string {
	return string(s)
}

func theTime() time.Time {
	theTime, err := time.Parse("2006-01-02 15:04:05.000", "2017-03-15 11:22:33.123")
	if err != nil {
		panic(err)
	}
	return theTime
}

var _ = Describe("SafeParseLogLevel", func() {
	It("should parse valid levels", func() {
		Expect(SafeParseLogLevel("debug")).To(Equal(log.DebugLevel))
		Expect(SafeParseLogLevel("Warning")).To(Equal(log.WarnLevel))
	})
	It("should default to info", func() {
		Expect(SafeParseLogLevel("")).To(Equal(log.InfoLevel))
		Expect(SafeParseLogLevel("loud")).To(Equal(log.InfoLevel))
	})
})

var _ = Describe("ConfigureLogging", func() {
	var savedWriter io.Writer
	var savedLevel log.Level
	BeforeEach(func() {
		savedWriter = log.StandardLogger().Out
		savedLevel = log.GetLevel()
	})
	AfterEach(func() {
		log.SetOutput(savedWriter)
		log.SetLevel(savedLevel)
	})

	It("should also write to the log file", func() {
		logFile := filepath.Join(GinkgoT().TempDir(), "logs", "mibpf.log")
		closer, err := ConfigureLogging("debug", logFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(log.GetLevel()).To(Equal(log.DebugLevel))

		log.Info("hello from the test")
		Expect(closer.Close()).To(Succeed())
		log.SetOutput(savedWriter)

		contents, err := os.ReadFile(logFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(contents)).To(ContainSubstring("hello from the test"))
	})
})

var _ = Describe("Summarizer", func() {
	var buf *bytes.Buffer
	var savedWriter io.Writer
	BeforeEach(func() {
		savedWriter = log.StandardLogger().Out
		buf = &bytes.Buffer{}
		log.SetOutput(buf)
	})
	AfterEach(func() {
		log.SetOutput(savedWriter)
	})

	It("should count concurrent records", func() {
		s := NewSummarizer("objects")
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%5 == 0 {
					err = errors.New("boom")
				}
				s.Record(fmt.Sprintf("obj%02d.o", i), time.Duration(i)*time.Millisecond, err)
			}(i)
		}
		wg.Wait()

		ok, failed := s.Counts()
		Expect(ok).To(Equal(16))
		Expect(failed).To(Equal(4))
	})

	It("should log the slowest run", func() {
		s := NewSummarizer("objects")
		s.Record("fast.o", time.Millisecond, nil)
		s.Record("slow.o", 50*time.Millisecond, nil, "skipped=2")
		s.Record("broken.o", 0, errors.New("boom"))
		s.DoLog()

		Expect(buf.String()).To(ContainSubstring("Summarising 3 objects"))
		Expect(buf.String()).To(ContainSubstring("slow.o (skipped=2)"))
		Expect(buf.String()).To(ContainSubstring("failures"))
	})

	It("should not log without records", func() {
		NewSummarizer("objects").DoLog()
		Expect(buf.String()).To(BeEmpty())
	})
})
