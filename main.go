// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Command vsensor reads and controls VSensor pressure
// controllers over Modbus RTU or TCP.

package main

import (
	"os"

	"github.com/Thermoquad/vsensor/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
