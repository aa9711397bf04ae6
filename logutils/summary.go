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

package logutils

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Summarizer collects the outcome of many independent runs of an operation
// (for example post-processing each object of a batch) and logs one line
// that summarises them.  It is safe for concurrent use.
type Summarizer struct {
	lock      sync.Mutex
	startTime time.Time
	runs      []run
	opName    string
}

type run struct {
	Name     string
	Duration time.Duration
	Failed   bool
	Notes    []string
}

func NewSummarizer(opName string) *Summarizer {
	return &Summarizer{
		startTime: time.Now(),
		opName:    opName,
	}
}

// Record records one run.  notes are short remarks, such as the number of
// skipped relocations, that are reported for the slowest run.
func (l *Summarizer) Record(name string, duration time.Duration, err error, notes ...string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.runs = append(l.runs, run{Name: name, Duration: duration, Failed: err != nil, Notes: notes})
}

func (l *Summarizer) Reset() {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.runs = l.runs[:0]
	l.startTime = time.Now()
}

// Counts returns the number of successful and failed runs.
func (l *Summarizer) Counts() (succeeded, failed int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for _, r := range l.runs {
		if r.Failed {
			failed++
		} else {
			succeeded++
		}
	}
	return
}

func (l *Summarizer) DoLog() {
	l.lock.Lock()
	defer l.lock.Unlock()

	numRuns := len(l.runs)
	var longest *run
	var sumOfDurations time.Duration
	var failed []string
	for i := range l.runs {
		r := &l.runs[i]
		sumOfDurations += r.Duration
		if longest == nil || r.Duration > longest.Duration {
			longest = r
		}
		if r.Failed {
			failed = append(failed, r.Name)
		}
	}
	if longest == nil {
		return
	}
	avgDuration := (sumOfDurations / time.Duration(numRuns)).Round(time.Millisecond)
	notes := append([]string(nil), longest.Notes...)
	sort.Strings(notes)
	sort.Strings(failed)

	logCxt := logrus.WithFields(logrus.Fields{
		"failed": len(failed),
	})
	if len(failed) > 0 {
		logCxt = logCxt.WithField("failures", strings.Join(failed, ","))
	}
	logCxt.Infof("Summarising %d %s over %v: avg=%v longest=%v %s (%v)",
		numRuns, l.opName, time.Since(l.startTime).Round(100*time.Millisecond), avgDuration,
		longest.Duration.Round(time.Millisecond), longest.Name,
		strings.Join(notes, ","))
}
