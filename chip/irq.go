package chip

import "strconv"

// IRQ is an exception or interrupt number in CMSIS numbering: system
// exceptions are negative, device interrupts index the NVIC from 0.
type IRQ int16

// Exception and interrupt numbers, in vector-table order.
const (
	IRQNMI             IRQ = -14
	IRQHardFault       IRQ = -13
	IRQMemManage       IRQ = -12
	IRQBusFault        IRQ = -11
	IRQUsageFault      IRQ = -10
	IRQSVCall          IRQ = -5
	IRQDebugMon        IRQ = -4
	IRQPendSV          IRQ = -2
	IRQSysTick         IRQ = -1
	IRQWWDG            IRQ = 0
	IRQPVD             IRQ = 1
	IRQTAMPSTAMP       IRQ = 2
	IRQRTCWKUP         IRQ = 3
	IRQFLASH           IRQ = 4
	IRQRCC             IRQ = 5
	IRQEXTI0           IRQ = 6
	IRQEXTI1           IRQ = 7
	IRQEXTI2           IRQ = 8
	IRQEXTI3           IRQ = 9
	IRQEXTI4           IRQ = 10
	IRQDMA1Stream0     IRQ = 11
	IRQDMA1Stream1     IRQ = 12
	IRQDMA1Stream2     IRQ = 13
	IRQDMA1Stream3     IRQ = 14
	IRQDMA1Stream4     IRQ = 15
	IRQDMA1Stream5     IRQ = 16
	IRQDMA1Stream6     IRQ = 17
	IRQADC             IRQ = 18
	IRQCAN1TX          IRQ = 19
	IRQCAN1RX0         IRQ = 20
	IRQCAN1RX1         IRQ = 21
	IRQCAN1SCE         IRQ = 22
	IRQEXTI95          IRQ = 23
	IRQTIM1BRKTIM9     IRQ = 24
	IRQTIM1UPTIM10     IRQ = 25
	IRQTIM1TRGCOMTIM11 IRQ = 26
	IRQTIM1CC          IRQ = 27
	IRQTIM2            IRQ = 28
	IRQTIM3            IRQ = 29
	IRQTIM4            IRQ = 30
	IRQI2C1EV          IRQ = 31
	IRQI2C1ER          IRQ = 32
	IRQI2C2EV          IRQ = 33
	IRQI2C2ER          IRQ = 34
	IRQSPI1            IRQ = 35
	IRQSPI2            IRQ = 36
	IRQUSART1          IRQ = 37
	IRQUSART2          IRQ = 38
	IRQUSART3          IRQ = 39
	IRQEXTI1510        IRQ = 40
	IRQRTCAlarm        IRQ = 41
	IRQOTGFSWKUP       IRQ = 42
	IRQTIM8BRKTIM12    IRQ = 43
	IRQTIM8UPTIM13     IRQ = 44
	IRQTIM8TRGCOMTIM14 IRQ = 45
	IRQTIM8CC          IRQ = 46
	IRQDMA1Stream7     IRQ = 47
	IRQFSMC            IRQ = 48
	IRQSDIO            IRQ = 49
	IRQTIM5            IRQ = 50
	IRQSPI3            IRQ = 51
	IRQTIM6DAC         IRQ = 54
	IRQTIM7            IRQ = 55
	IRQDMA2Stream0     IRQ = 56
	IRQDMA2Stream1     IRQ = 57
	IRQDMA2Stream2     IRQ = 58
	IRQDMA2Stream3     IRQ = 59
	IRQDMA2Stream4     IRQ = 60
	IRQDFSDM1FLT0      IRQ = 61
	IRQDFSDM1FLT1      IRQ = 62
	IRQCAN2TX          IRQ = 63
	IRQCAN2RX0         IRQ = 64
	IRQCAN2RX1         IRQ = 65
	IRQCAN2SCE         IRQ = 66
	IRQOTGFS           IRQ = 67
	IRQDMA2Stream5     IRQ = 68
	IRQDMA2Stream6     IRQ = 69
	IRQDMA2Stream7     IRQ = 70
	IRQUSART6          IRQ = 71
	IRQI2C3EV          IRQ = 72
	IRQI2C3ER          IRQ = 73
	IRQRNG             IRQ = 80
	IRQFPU             IRQ = 81
	IRQSPI4            IRQ = 84
	IRQSPI5            IRQ = 85
	IRQQUADSPI         IRQ = 92
	IRQFMPI2C1EV       IRQ = 95
	IRQFMPI2C1ER       IRQ = 96
)

// NumIRQ is the number of NVIC interrupt lines.
const NumIRQ = 97

// VectorCount is the number of vector-table entries after the initial stack
// pointer and reset handler.
const VectorCount = 14 + NumIRQ

var irqNames = map[IRQ]string{
	IRQNMI:             "NMI",
	IRQHardFault:       "HardFault",
	IRQMemManage:       "MemManage",
	IRQBusFault:        "BusFault",
	IRQUsageFault:      "UsageFault",
	IRQSVCall:          "SVCall",
	IRQDebugMon:        "DebugMon",
	IRQPendSV:          "PendSV",
	IRQSysTick:         "SysTick",
	IRQWWDG:            "WWDG",
	IRQPVD:             "PVD",
	IRQTAMPSTAMP:       "TAMP_STAMP",
	IRQRTCWKUP:         "RTC_WKUP",
	IRQFLASH:           "FLASH",
	IRQRCC:             "RCC",
	IRQEXTI0:           "EXTI0",
	IRQEXTI1:           "EXTI1",
	IRQEXTI2:           "EXTI2",
	IRQEXTI3:           "EXTI3",
	IRQEXTI4:           "EXTI4",
	IRQDMA1Stream0:     "DMA1_Stream0",
	IRQDMA1Stream1:     "DMA1_Stream1",
	IRQDMA1Stream2:     "DMA1_Stream2",
	IRQDMA1Stream3:     "DMA1_Stream3",
	IRQDMA1Stream4:     "DMA1_Stream4",
	IRQDMA1Stream5:     "DMA1_Stream5",
	IRQDMA1Stream6:     "DMA1_Stream6",
	IRQADC:             "ADC",
	IRQCAN1TX:          "CAN1_TX",
	IRQCAN1RX0:         "CAN1_RX0",
	IRQCAN1RX1:         "CAN1_RX1",
	IRQCAN1SCE:         "CAN1_SCE",
	IRQEXTI95:          "EXTI9_5",
	IRQTIM1BRKTIM9:     "TIM1_BRK_TIM9",
	IRQTIM1UPTIM10:     "TIM1_UP_TIM10",
	IRQTIM1TRGCOMTIM11: "TIM1_TRG_COM_TIM11",
	IRQTIM1CC:          "TIM1_CC",
	IRQTIM2:            "TIM2",
	IRQTIM3:            "TIM3",
	IRQTIM4:            "TIM4",
	IRQI2C1EV:          "I2C1_EV",
	IRQI2C1ER:          "I2C1_ER",
	IRQI2C2EV:          "I2C2_EV",
	IRQI2C2ER:          "I2C2_ER",
	IRQSPI1:            "SPI1",
	IRQSPI2:            "SPI2",
	IRQUSART1:          "USART1",
	IRQUSART2:          "USART2",
	IRQUSART3:          "USART3",
	IRQEXTI1510:        "EXTI15_10",
	IRQRTCAlarm:        "RTC_Alarm",
	IRQOTGFSWKUP:       "OTG_FS_WKUP",
	IRQTIM8BRKTIM12:    "TIM8_BRK_TIM12",
	IRQTIM8UPTIM13:     "TIM8_UP_TIM13",
	IRQTIM8TRGCOMTIM14: "TIM8_TRG_COM_TIM14",
	IRQTIM8CC:          "TIM8_CC",
	IRQDMA1Stream7:     "DMA1_Stream7",
	IRQFSMC:            "FSMC",
	IRQSDIO:            "SDIO",
	IRQTIM5:            "TIM5",
	IRQSPI3:            "SPI3",
	IRQTIM6DAC:         "TIM6_DAC",
	IRQTIM7:            "TIM7",
	IRQDMA2Stream0:     "DMA2_Stream0",
	IRQDMA2Stream1:     "DMA2_Stream1",
	IRQDMA2Stream2:     "DMA2_Stream2",
	IRQDMA2Stream3:     "DMA2_Stream3",
	IRQDMA2Stream4:     "DMA2_Stream4",
	IRQDFSDM1FLT0:      "DFSDM1_FLT0",
	IRQDFSDM1FLT1:      "DFSDM1_FLT1",
	IRQCAN2TX:          "CAN2_TX",
	IRQCAN2RX0:         "CAN2_RX0",
	IRQCAN2RX1:         "CAN2_RX1",
	IRQCAN2SCE:         "CAN2_SCE",
	IRQOTGFS:           "OTG_FS",
	IRQDMA2Stream5:     "DMA2_Stream5",
	IRQDMA2Stream6:     "DMA2_Stream6",
	IRQDMA2Stream7:     "DMA2_Stream7",
	IRQUSART6:          "USART6",
	IRQI2C3EV:          "I2C3_EV",
	IRQI2C3ER:          "I2C3_ER",
	IRQRNG:             "RNG",
	IRQFPU:             "FPU",
	IRQSPI4:            "SPI4",
	IRQSPI5:            "SPI5",
	IRQQUADSPI:         "QUADSPI",
	IRQFMPI2C1EV:       "FMPI2C1_EV",
	IRQFMPI2C1ER:       "FMPI2C1_ER",
}

// String returns the reference-manual name of the vector.
func (i IRQ) String() string {
	if s, ok := irqNames[i]; ok {
		return s
	}
	return "IRQ" + strconv.Itoa(int(i))
}

// Vector returns the vector-table position (0 is the initial stack pointer,
// 1 the reset handler).
func (i IRQ) Vector() int { return int(i) + 16 }

// IsException reports whether i is a Cortex-M system exception.
func (i IRQ) IsException() bool { return i < 0 }

// Valid reports whether i names a vector-table slot.
func (i IRQ) Valid() bool { return i >= IRQNMI && i < NumIRQ }

// DMAStreamIRQ returns the interrupt of stream s (0..7) on DMA controller
// ctrl (1 or 2).
func DMAStreamIRQ(ctrl, s uint8) IRQ {
	switch {
	case ctrl == 1 && s < 7:
		return IRQDMA1Stream0 + IRQ(s)
	case ctrl == 1:
		return IRQDMA1Stream7
	case s < 5:
		return IRQDMA2Stream0 + IRQ(s)
	default:
		return IRQDMA2Stream5 + IRQ(s-5)
	}
}

// EXTIIRQ returns the interrupt serving EXTI line n, or an invalid IRQ for
// lines that only generate events.
func EXTIIRQ(n uint8) IRQ {
	switch {
	case n <= 4:
		return IRQEXTI0 + IRQ(n)
	case n <= 9:
		return IRQEXTI95
	case n <= 15:
		return IRQEXTI1510
	}
	switch n {
	case 16:
		return IRQPVD
	case 17:
		return IRQRTCAlarm
	case 18:
		return IRQOTGFSWKUP
	case 21:
		return IRQTAMPSTAMP
	case 22:
		return IRQRTCWKUP
	}
	return -16
}
