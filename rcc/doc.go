// Package rcc configures the STM32F4 clock tree and peripheral clock gates.
//
// A [Plan] names the system clock source, the PLL dividers, the bus
// prescalers and the regulator scale. [Validate] checks a plan against the
// datasheet limits without touching hardware; [Configure] applies it in the
// order the silicon requires:
//
//  1. enable the PWR interface and program the regulator scale (VOS)
//  2. start the selected oscillator and wait for its ready flag
//  3. program the PLL while it is off, start it and wait for lock
//  4. program the AHB and APB prescalers
//  5. raise the flash wait states for the new HCLK
//  6. switch SYSCLK and wait for the switch status to follow
//  7. wait for VOSRDY when the PLL is in use
//  8. lower the flash wait states if the frequency went down
//
// Every wait is bounded. An oscillator that never becomes ready is turned
// off again and the call fails with [pkg.ErrClockNotReady]; an invalid plan
// fails with a [*pkg.PlanError] before any register is written.
//
// Peripheral clock gates are switched with [Enable], [Disable] and pulsed
// with [Reset].
package rcc
