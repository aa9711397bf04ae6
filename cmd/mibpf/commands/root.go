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
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mibpf/mibpf/bpf/postprocess"
	"github.com/mibpf/mibpf/coap"
	"github.com/mibpf/mibpf/config"
	"github.com/mibpf/mibpf/logutils"
	"github.com/mibpf/mibpf/toolchain"
)

// app carries the state shared by all commands.  runner and client may be
// set before Execute to replace the external processes.
type app struct {
	EnvFile     string
	LogLevel    string
	MetricsFile string

	cfg       *config.Config
	runner    toolchain.Runner
	client    coap.Client
	logCloser io.Closer
}

// Execute runs the mibpf command line and exits non-zero on failure.
func Execute() {
	logutils.ConfigureEarlyLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(&app{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		log.WithError(err).Error("Command failed.")
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mibpf",
		Short: "Builds eBPF programs and deploys them to RIOT devices",
		Long: `mibpf compiles eBPF programs, post-processes the object files into the
binary layouts understood by the on-device VMs, and signs and deploys them
to RIOT instances over CoAP.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setUp,
		PersistentPostRunE: a.tearDown,
	}

	rootCmd.PersistentFlags().StringVar(&a.EnvFile, "env-file", "", "File to load the environment from (default $DOTENV or .env)")
	rootCmd.PersistentFlags().StringVar(&a.LogLevel, "log-level", "", "Log level, overrides MIBPF_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&a.MetricsFile, "metrics-file", "", "Write post-processing metrics to this file, overrides MIBPF_METRICS_FILE")

	rootCmd.AddCommand(
		newPostprocessCmd(a),
		newBatchCmd(a),
		newInspectCmd(),
		newRelocateCmd(a),
		newVerifyCmd(),
		newCompileCmd(a),
		newSignCmd(a),
		newPullCmd(a),
		newExecuteCmd(a),
		newDeployCmd(a),
		newEnvCmd(),
	)
	return rootCmd
}

func (a *app) setUp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.EnvFile)
	if err != nil {
		return err
	}
	if a.LogLevel != "" {
		cfg.LogLevel = a.LogLevel
	}
	if a.MetricsFile != "" {
		cfg.MetricsFile = a.MetricsFile
	}
	a.cfg = cfg

	closer, err := logutils.ConfigureLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return errors.Wrap(err, "configuring logging")
	}
	a.logCloser = closer

	log.WithField("command", cmd.CommandPath()).Debug("Configuration loaded")
	return nil
}

func (a *app) tearDown(*cobra.Command, []string) error {
	var err error
	if a.cfg != nil && a.cfg.MetricsFile != "" {
		err = postprocess.WriteMetrics(a.cfg.MetricsFile)
	}
	if a.logCloser != nil {
		if cerr := a.logCloser.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.logCloser = nil
	}
	return err
}

func (a *app) toolchain() *toolchain.Toolchain {
	runner := a.runner
	if runner == nil {
		runner = &toolchain.ExecRunner{Timeout: a.cfg.CommandTimeout}
	}
	tc := toolchain.New(runner)
	tc.Clang = a.cfg.Clang
	tc.Strip = a.cfg.Strip
	tc.IncludeDirs = a.cfg.IncludeDirs
	return tc
}

func (a *app) coapClient() coap.Client {
	if a.client != nil {
		return a.client
	}
	runner := a.runner
	if runner == nil {
		runner = &toolchain.ExecRunner{Timeout: a.cfg.CommandTimeout}
	}
	return coap.NewCommandClient(runner, a.cfg.CoapClient)
}
