// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad
//
// canloop - Thermal loop controller node
//
// A controller node, plant simulator and bus tools for a pump and fan
// cooling loop driven over CAN.

package main

import (
	"os"

	"github.com/Thermoquad/canloop/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
