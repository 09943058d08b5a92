// Package rtc drives the real-time clock and its backup registers.
//
// The RTC lives in the backup domain, so writes need two unlocks: DBP in
// PWR for the domain and the 0xCA, 0x53 key sequence for the RTC itself.
// The calendar is loaded in initialization mode, where it stops counting.
// It keeps running through a system reset; [Open] reports through
// [RTC.Initialized] whether it was set earlier and leaves it alone in
// that case.
//
// Alarms reach the NVIC and the event logic through EXTI line 17, the
// wake-up timer through line 22.
package rtc
