//go:build tinygo

package chip

import (
	"testing"

	"github.com/ardnew/f4core/mmio"
)

func TestTarget(t *testing.T) {
	m := Target()
	if m.Bus != mmio.Hardware || m.Core != Hardware {
		t.Fatalf("Target() = {%v, %v}, want the hardware bus and core", m.Bus, m.Core)
	}
	if m.Clocks().SYSCLK != HSIFrequency {
		t.Errorf("Clocks().SYSCLK = %v, want %v", m.Clocks().SYSCLK, HSIFrequency)
	}
}

func TestHardwareCriticalSectionNests(t *testing.T) {
	outer := Hardware.DisableInterrupts()
	inner := Hardware.DisableInterrupts()
	Hardware.DataSyncBarrier()
	Hardware.RestoreInterrupts(inner)
	Hardware.RestoreInterrupts(outer)
	if inner&1 == 0 {
		t.Errorf("nested DisableInterrupts() = %#x, want PRIMASK set", inner)
	}
}
