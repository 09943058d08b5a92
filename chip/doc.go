// Package chip describes the STM32F4 silicon: the memory map, the
// interrupt vector table, peripheral clock gates, the fixed DMA request
// routing, and the [MCU] value that every driver is constructed from.
//
// An MCU bundles the register [mmio.Bus], the processor [Core] primitives,
// the vector table, a claim registry that keeps two handles from owning the
// same peripheral or pin, and the bus frequencies frozen by the last clock
// configuration.
//
// On target, wire each used interrupt to the MCU once:
//
//	interrupt.New(stm32.IRQ_TIM2, func(interrupt.Interrupt) { mcu.Dispatch(chip.IRQTIM2) })
//
// On a host the simulator calls Dispatch itself.
package chip
