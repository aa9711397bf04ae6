// Copyright (c) 2020 Tigera, Inc. All rights reserved.
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

package asm

import "fmt"

// Helper is the immediate operand of a CALL instruction that invokes a helper
// function provided by the VM on the device.  The ids are shared with the
// Femto-Containers VM.
type Helper uint8

// noinspection GoUnusedConst
const (
	HelperPrintf           Helper = 0x01
	HelperMemcpy           Helper = 0x02
	HelperDebugPrint       Helper = 0x03
	HelperStoreLocal       Helper = 0x10
	HelperStoreGlobal      Helper = 0x11
	HelperFetchLocal       Helper = 0x12
	HelperFetchGlobal      Helper = 0x13
	HelperNowMs            Helper = 0x20
	HelperSaulFindNth      Helper = 0x30
	HelperSaulFindType     Helper = 0x31
	HelperSaulRead         Helper = 0x32
	HelperSaulWrite        Helper = 0x33
	HelperGcoapRespInit    Helper = 0x40
	HelperCoapOptFinish    Helper = 0x41
	HelperCoapAddFormat    Helper = 0x42
	HelperCoapGetPdu       Helper = 0x43
	HelperFmtS16Dfp        Helper = 0x50
	HelperFmtU32Dec        Helper = 0x51
	HelperStrlen           Helper = 0x52
	HelperZtimerNow        Helper = 0x60
	HelperPeriodicWakeup   Helper = 0x61
	HelperGpioReadInput    Helper = 0x70
	HelperGpioReadRaw      Helper = 0x71
	HelperGpioWrite        Helper = 0x72
	HelperHD44780Init      Helper = 0x80
	HelperHD44780Clear     Helper = 0x81
	HelperHD44780Print     Helper = 0x82
	HelperHD44780SetCursor Helper = 0x83
)

var helperNames = map[Helper]string{
	HelperPrintf:           "bpf_printf",
	HelperMemcpy:           "bpf_memcpy",
	HelperDebugPrint:       "bpf_debug_print",
	HelperStoreLocal:       "bpf_store_local",
	HelperStoreGlobal:      "bpf_store_global",
	HelperFetchLocal:       "bpf_fetch_local",
	HelperFetchGlobal:      "bpf_fetch_global",
	HelperNowMs:            "bpf_now_ms",
	HelperSaulFindNth:      "bpf_saul_reg_find_nth",
	HelperSaulFindType:     "bpf_saul_reg_find_type",
	HelperSaulRead:         "bpf_saul_reg_read",
	HelperSaulWrite:        "bpf_saul_reg_write",
	HelperGcoapRespInit:    "bpf_gcoap_resp_init",
	HelperCoapOptFinish:    "bpf_coap_opt_finish",
	HelperCoapAddFormat:    "bpf_coap_add_format",
	HelperCoapGetPdu:       "bpf_coap_get_pdu",
	HelperFmtS16Dfp:        "bpf_fmt_s16_dfp",
	HelperFmtU32Dec:        "bpf_fmt_u32_dec",
	HelperStrlen:           "bpf_strlen",
	HelperZtimerNow:        "bpf_ztimer_now",
	HelperPeriodicWakeup:   "bpf_ztimer_periodic_wakeup",
	HelperGpioReadInput:    "bpf_gpio_read_input",
	HelperGpioReadRaw:      "bpf_gpio_read_raw",
	HelperGpioWrite:        "bpf_gpio_write",
	HelperHD44780Init:      "bpf_hd44780_init",
	HelperHD44780Clear:     "bpf_hd44780_clear",
	HelperHD44780Print:     "bpf_hd44780_print",
	HelperHD44780SetCursor: "bpf_hd44780_set_cursor",
}

// Helpers returns every known helper in ascending id order.
func Helpers() []Helper {
	var hs []Helper
	for id := 0; id <= 0xff; id++ {
		if _, ok := helperNames[Helper(id)]; ok {
			hs = append(hs, Helper(id))
		}
	}
	return hs
}

// Known reports whether h is a helper the VM provides.
func (h Helper) Known() bool {
	_, ok := helperNames[h]
	return ok
}

func (h Helper) String() string {
	if name, ok := helperNames[h]; ok {
		return name
	}
	return fmt.Sprintf("helper_0x%02x", uint8(h))
}
