// Package tim drives the STM32F4 timers.
//
// A claimed [Timer] is turned into one mode handle: [Periodic] for update
// ticks, [Output] for output compare and PWM, [Capture] for input capture,
// [PulseMeter] for period and pulse-width measurement, [Encoder] for
// quadrature decoding and [External] for counting or triggering on the ETR
// pin. Every mode handle hands the timer back with Release.
//
// Counter frequency is f = TIMxCLK / ((PSC+1) * (ARR+1)); TIMxCLK comes
// from the clocks frozen on the MCU.
package tim
