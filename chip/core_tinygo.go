//go:build tinygo

package chip

import (
	"device/arm"

	"github.com/ardnew/f4core/mmio"
)

// Hardware is the Cortex-M4 core the program runs on.
var Hardware Core = hardwareCore{}

type hardwareCore struct{}

func (hardwareCore) DisableInterrupts() uintptr { return arm.DisableInterrupts() }

func (hardwareCore) RestoreInterrupts(state uintptr) { arm.EnableInterrupts(state) }

func (hardwareCore) WaitForInterrupt() { arm.Asm("wfi") }

func (hardwareCore) WaitForEvent() { arm.Asm("wfe") }

func (hardwareCore) SendEvent() { arm.Asm("sev") }

func (hardwareCore) DataSyncBarrier() { arm.Asm("dsb 0xF") }

// Target returns the MCU the program runs on: volatile register access
// and the real core instructions.
func Target() *MCU { return New(mmio.Hardware, Hardware) }
