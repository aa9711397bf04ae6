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
	"github.com/spf13/cobra"

	"github.com/mibpf/mibpf/coap"
)

type executeCmd struct {
	*cobra.Command
	app *app

	ExecutionModel string
	Benchmark      bool
	deviceFlags
	vmFlags
	helperFlags
}

func newExecuteCmd(a *app) *cobra.Command {
	ec := &executeCmd{app: a}
	ec.Command = &cobra.Command{
		Use:   "execute [--suit-storage-slot <n>] [--execution-model <model>] [--benchmark]",
		Short: "Runs the program in a storage slot of the RIOT instance",
		Args:  cobra.NoArgs,
		RunE:  ec.run,
	}

	ec.Flags().StringVar(&ec.ExecutionModel, "execution-model", coap.ShortLived.String(),
		"ShortLived, WithAccessToCoapPacket or LongRunning")
	ec.Flags().BoolVar(&ec.Benchmark, "benchmark", false, "Use the benchmarking endpoint")
	ec.deviceFlags.register(ec.Command)
	ec.vmFlags.register(ec.Command)
	ec.helperFlags.register(ec.Command, "Helpers the program may call (default all known helpers)")

	return ec.Command
}

func (ec *executeCmd) run(c *cobra.Command, _ []string) error {
	vm, err := ec.configuration()
	if err != nil {
		return err
	}
	model, err := coap.ParseExecutionModel(ec.ExecutionModel)
	if err != nil {
		return err
	}
	helpers, err := ec.helpers()
	if err != nil {
		return err
	}
	dev := ec.resolve(ec.app.cfg)
	resp, err := coap.Execute(c.Context(), ec.app.coapClient(), coap.ExecuteOptions{
		RiotIP:         dev.RiotIP,
		HostNetIf:      dev.HostNetIf,
		Configuration:  vm,
		ExecutionModel: model,
		Helpers:        helpers,
		Benchmark:      ec.Benchmark,
	})
	if err != nil {
		return err
	}
	c.Print(resp)
	return nil
}
