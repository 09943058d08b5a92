// Package sim is a deterministic register-level model of an STM32F4 used to
// exercise the drivers on a host.
//
// A [Machine] implements [mmio.Bus] and [chip.Core]. Every bus access costs
// one HCLK cycle of simulated time; peripherals schedule their own activity
// (oscillator start-up, shift registers, counters, DMA beats) on an event
// queue, and interrupts are taken between bus accesses exactly where a
// Cortex-M4 would take them, by calling the handler installed in the
// [chip.MCU] vector table. WaitForInterrupt jumps straight to the next
// scheduled event.
//
// The models implement the documented side effects the drivers rely on:
// read-to-clear and write-0-to-clear flags, key-unlocked registers,
// ready-flag latencies, clock gating (a peripheral with its RCC enable bit
// clear reads as zero and ignores writes), and level-sensitive interrupt
// lines that pend again when a handler returns without clearing their
// source.
//
// External stimuli are injected through typed accessors: [Machine.GPIO]
// drives pins, [Machine.USART] injects received bytes, [Machine.I2CBus]
// records the wire trace, [Machine.Flash] is the QUADSPI flash part and
// [Machine.USBHost] enumerates the OTG FS device.
package sim
