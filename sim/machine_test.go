package sim

import (
	"testing"
	"time"

	"github.com/ardnew/f4core/chip"
)

func TestNewMCU(t *testing.T) {
	mcu, m := NewMCU()
	if mcu == nil || m == nil {
		t.Fatal("NewMCU() returned nil")
	}
	if got := m.SYSCLK(); got != chip.HSIFrequency {
		t.Errorf("SYSCLK() = %v, want %v", got, chip.HSIFrequency)
	}
	if got := m.EXTIPending(); got != 0 {
		t.Errorf("EXTIPending() = %#x after power-on, want 0", got)
	}
	if m.Resets() != 0 {
		t.Errorf("Resets() = %d after power-on, want 0", m.Resets())
	}
}

func TestPowerOnRegisters(t *testing.T) {
	m := New()
	tests := []struct {
		name string
		addr uintptr
		want uint32
	}{
		{"IWDG_RLR", chip.IWDGBase + 0x8, 0xFFF},
		{"SCB_CCR", chip.SCBBase + 0x14, 0x200},
	}
	for _, tt := range tests {
		if got := m.Peek(tt.addr); got != tt.want {
			t.Errorf("%s = %#x, want %#x", tt.name, got, tt.want)
		}
	}
	if m.pwr.cr != pwrCRRst {
		t.Errorf("PWR_CR = %#x, want %#x", m.pwr.cr, pwrCRRst)
	}
	if m.wwdg.cr != 0x7F {
		t.Errorf("WWDG_CR = %#x, want 0x7f", m.wwdg.cr)
	}
}

func TestIdleMachineDoesNotReset(t *testing.T) {
	m := New()
	m.Advance(time.Second)
	if m.Resets() != 0 {
		t.Errorf("Resets() = %d after 1s idle, want 0 (%v)", m.Resets(), m.LastReset())
	}
}
