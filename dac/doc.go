// Package dac drives the two-channel 12-bit DAC.
//
// Each channel loads its holding register into the output one APB1 cycle
// after a write, or three cycles after a trigger when one is selected.
// Triggers come from software, a timer TRGO or EXTI line 9. With DMA
// enabled, every trigger requests the next sample; a trigger arriving
// before the previous request was served is an underrun.
package dac
