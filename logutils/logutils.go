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
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// EnvLogLevel is consulted by ConfigureEarlyLogging, before the rest of the
// configuration has been loaded.
const EnvLogLevel = "MIBPF_LOG_LEVEL"

// Formatter is our logrus formatter.  Lines look like
//
//	2017-03-15 11:22:33.123 [INFO][1234] mibpf: Wrote binary file="a.bin" size=36
type Formatter struct {
	// Component is printed before the message, if set.
	Component string
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	stamp := entry.Time.Format("2006-01-02 15:04:05.000")
	levelStr := strings.ToUpper(entry.Level.String())
	pid := os.Getpid()
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}
	if f.Component != "" {
		fmt.Fprintf(b, "%s [%s][%d] %s: %v", stamp, levelStr, pid, f.Component, entry.Message)
	} else {
		fmt.Fprintf(b, "%s [%s][%d] %v", stamp, levelStr, pid, entry.Message)
	}
	appendKVsAndNewLine(b, entry)
	return b.Bytes(), nil
}

func appendKVsAndNewLine(b *bytes.Buffer, entry *log.Entry) {
	// Sort the keys for consistent output.
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := entry.Data[key]
		var stringifiedValue string
		if err, ok := value.(error); ok {
			stringifiedValue = err.Error()
		} else if stringer, ok := value.(fmt.Stringer); ok {
			stringifiedValue = stringer.String()
		} else {
			// No string method, use %#v to get a more thorough dump.
			fmt.Fprintf(b, " %v=%#v", key, value)
			continue
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(stringifiedValue)
	}
	b.WriteByte('\n')
}

// SafeParseLogLevel parses logLevel, defaulting to info if it is empty or
// invalid.
func SafeParseLogLevel(logLevel string) log.Level {
	defaultedLevel := log.InfoLevel
	if logLevel != "" {
		parsedLevel, err := log.ParseLevel(logLevel)
		if err == nil {
			defaultedLevel = parsedLevel
		} else {
			log.WithField("raw level", logLevel).Warn("Invalid log level, defaulting to info")
		}
	}
	return defaultedLevel
}

// ConfigureEarlyLogging installs our formatter and takes the level from the
// environment so that config loading itself can be debugged.
func ConfigureEarlyLogging() {
	log.SetFormatter(&Formatter{Component: "mibpf"})
	log.SetOutput(os.Stderr)

	logLevel := log.WarnLevel
	if raw := os.Getenv(EnvLogLevel); raw != "" {
		logLevel = SafeParseLogLevel(raw)
	}
	log.SetLevel(logLevel)
}

// ConfigureLogging completes the logging configuration once the config is
// known.  If logFile is set, logs go to the file as well as to stderr.
func ConfigureLogging(logLevel, logFile string) (io.Closer, error) {
	log.SetLevel(SafeParseLogLevel(logLevel))
	if logFile == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, errors.Wrap(err, "creating log file directory")
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "opening log file")
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.WithField("file", logFile).Debug("Logging to file")
	return f, nil
}
