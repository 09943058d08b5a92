// Package pwr controls the regulator scale, backup-domain access and the
// low-power modes of the STM32F4.
//
// Sleep stops only the CPU clock; any enabled interrupt wakes it. Stop
// halts every clock of the 1.2 V domain and only EXTI-routed sources wake
// it; on return SYSCLK runs from HSI and [Stop] records the resulting
// clocks on the MCU. Standby powers the core domain down: the program
// restarts from reset and [ResetCause] reports [CauseStandby].
package pwr
