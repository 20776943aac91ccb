// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

import "fmt"

// Telemetry is one pass over the four primary quantities. Fields are read one
// after another, so a device-side change between reads may show up partially.
type Telemetry struct {
	PressurePa    float64
	OutputPercent float64
	AutoSetpoint  float64
	Mode          Mode
}

func (t Telemetry) String() string {
	return fmt.Sprintf("Pressure: %.2f Pa, Output: %.1f%%, Setpoint: %.2f, Mode: %s",
		t.PressurePa, t.OutputPercent, t.AutoSetpoint, t.Mode)
}

// Alarms holds the configured low/high alarm thresholds.
type Alarms struct {
	Low  float64
	High float64
}
