// Package adc drives ADC1.
//
// Conversions run in a regular group of up to sixteen channels and an
// injected group of up to four, each started by software or by a timer
// or EXTI trigger. The ADC clock is PCLK2 divided by 2, 4, 6 or 8 and must
// stay within [MinClock, MaxClock]; New picks the smallest divider that
// does when the caller leaves it to it.
//
// Channels 17 and 18 are the internal reference and the temperature
// sensor (shared with VBAT/4 on this family); [ADC.EnableInternal] and
// [ADC.EnableVBAT] connect them.
package adc
