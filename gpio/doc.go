// Package gpio configures STM32F4 pins.
//
// A pin is claimed once with [Claim] and then moved between modes. Each
// mode is its own handle type: [Pin.Output] consumes the generic [Pin] and
// returns an [Output], which can only drive levels; [Output.Release] gives
// the generic pin back. Code that must pick the mode at run time erases the
// handle into a [Dynamic], whose operations check the mode and fail with
// pkg.ErrInvalidMode instead.
//
// Levels are periph.io gpio.Level values.
package gpio
