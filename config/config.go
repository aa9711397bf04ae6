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

// Package config holds the settings shared by the mibpf commands.  They come
// from the environment, optionally seeded from a .env file, and can be
// overridden by command line flags.
package config

import (
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EnvDotenv names the environment variable that points at the .env file.
const (
	EnvDotenv      = "DOTENV"
	DefaultEnvFile = ".env"
)

type Config struct {
	// RootDir is the root of the mibpf checkout; the signing script lives
	// under it.
	RootDir string `envconfig:"MIBPF_ROOT_DIR" default:".."`

	// CoapRootDir is served by the CoAP fileserver.  Signed binaries and
	// manifests are placed there.
	CoapRootDir string `envconfig:"COAP_ROOT_DIR" default:"../coaproot"`

	// OutDir receives compiled objects.
	OutDir string `envconfig:"OUT_DIR" default:"../out"`

	RiotInstanceNetIf string `envconfig:"RIOT_INSTANCE_NET_IF" default:"6"`
	RiotInstanceIP    string `envconfig:"RIOT_INSTANCE_IP" default:"fe80::a0d9:ebff:fed5:986b"`
	HostNetIf         string `envconfig:"HOST_NET_IF" default:"tapbr0"`
	HostIP            string `envconfig:"HOST_IP" default:"fe80::cc9a:73ff:fe4a:47f6"`
	BoardName         string `envconfig:"BOARD_NAME" default:"native"`

	LogLevel string `envconfig:"MIBPF_LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"MIBPF_LOG_FILE"`

	// CommandTimeout bounds every external command.
	CommandTimeout time.Duration `envconfig:"MIBPF_COMMAND_TIMEOUT" default:"60s"`

	Clang       string   `envconfig:"MIBPF_CLANG" default:"clang"`
	IncludeDirs []string `envconfig:"MIBPF_INCLUDE_DIRS"`
	Strip       string   `envconfig:"MIBPF_STRIP" default:"strip"`
	CoapClient  string   `envconfig:"MIBPF_COAP_CLIENT" default:"aiocoap-client"`

	// MetricsFile, if set, receives the post-processing metrics in the
	// Prometheus text format when a command finishes.
	MetricsFile string `envconfig:"MIBPF_METRICS_FILE"`
}

// Load reads envFile into the environment, without overriding variables that
// are already set, and then processes the environment.  An empty envFile
// means $DOTENV or, failing that, ".env".  A missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = os.Getenv(EnvDotenv)
	}
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, errors.Wrap(err, "processing environment")
	}
	logrus.WithField("config", *cfg).Debug("Loaded config")
	return cfg, nil
}

func loadEnvFile(envFile string) error {
	logCxt := logrus.WithField("file", envFile)
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		logCxt.Debug("No env file")
		return nil
	}
	items, err := godotenv.Read(envFile)
	if err != nil {
		return errors.Wrapf(err, "reading env file %s", envFile)
	}
	for k, v := range items {
		if os.Getenv(k) != "" {
			logCxt.WithField("key", k).Debug("Environment overrides env file")
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return errors.Wrapf(err, "setting %s", k)
		}
	}
	logCxt.WithField("keys", len(items)).Debug("Loaded env file")
	return nil
}

// Usage writes a table of the variables that Config understands, with their
// types and defaults, to w.
func Usage(w io.Writer) error {
	return envconfig.Usagef("", &Config{}, w, envconfig.DefaultTableFormat)
}
