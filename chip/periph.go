package chip

// Bus is the interconnect a peripheral's clock gate and reset live on.
type Bus uint8

// Peripheral buses. BusNone marks blocks without an RCC gate.
const (
	BusNone Bus = iota
	AHB1
	AHB2
	AHB3
	APB1
	APB2
)

var busNames = [...]string{"none", "AHB1", "AHB2", "AHB3", "APB1", "APB2"}

func (b Bus) String() string {
	if int(b) < len(busNames) {
		return busNames[b]
	}
	return "bus?"
}

// ENR returns the RCC offset of the bus clock-enable register.
func (b Bus) ENR() uintptr {
	switch b {
	case AHB1:
		return RCCAHB1ENR
	case AHB2:
		return RCCAHB2ENR
	case AHB3:
		return RCCAHB3ENR
	case APB1:
		return RCCAPB1ENR
	case APB2:
		return RCCAPB2ENR
	}
	return 0
}

// RSTR returns the RCC offset of the bus reset register.
func (b Bus) RSTR() uintptr {
	switch b {
	case AHB1:
		return RCCAHB1RSTR
	case AHB2:
		return RCCAHB2RSTR
	case AHB3:
		return RCCAHB3RSTR
	case APB1:
		return RCCAPB1RSTR
	case APB2:
		return RCCAPB2RSTR
	}
	return 0
}

// Periph identifies a peripheral instance.
type Periph uint8

// Peripheral instances.
const (
	GPIOA Periph = iota
	GPIOB
	GPIOC
	GPIOD
	GPIOE
	GPIOF
	GPIOG
	GPIOH
	CRC
	DMA1
	DMA2
	RNG
	OTGFS
	QSPI
	TIM2
	TIM3
	TIM4
	TIM5
	TIM6
	TIM7
	WWDG
	SPI2
	SPI3
	USART2
	USART3
	I2C1
	I2C2
	I2C3
	PWR
	DAC
	TIM1
	TIM8
	USART1
	USART6
	ADC1
	SPI1
	SPI4
	SYSCFG
	TIM9
	TIM10
	TIM11
	SPI5
	RTC
	IWDG
	numPeriph
)

// NumPeriph is the number of Periph values.
const NumPeriph = int(numPeriph)

// PeriphInfo is the static description of a peripheral instance.
type PeriphInfo struct {
	Name string
	Bus  Bus
	Bit  uint8
	Base uintptr
}

var periphInfo = [NumPeriph]PeriphInfo{
	GPIOA:  {"GPIOA", AHB1, 0, GPIOBase + 0*GPIOSpan},
	GPIOB:  {"GPIOB", AHB1, 1, GPIOBase + 1*GPIOSpan},
	GPIOC:  {"GPIOC", AHB1, 2, GPIOBase + 2*GPIOSpan},
	GPIOD:  {"GPIOD", AHB1, 3, GPIOBase + 3*GPIOSpan},
	GPIOE:  {"GPIOE", AHB1, 4, GPIOBase + 4*GPIOSpan},
	GPIOF:  {"GPIOF", AHB1, 5, GPIOBase + 5*GPIOSpan},
	GPIOG:  {"GPIOG", AHB1, 6, GPIOBase + 6*GPIOSpan},
	GPIOH:  {"GPIOH", AHB1, 7, GPIOBase + 7*GPIOSpan},
	CRC:    {"CRC", AHB1, 12, CRCBase},
	DMA1:   {"DMA1", AHB1, 21, DMA1Base},
	DMA2:   {"DMA2", AHB1, 22, DMA2Base},
	RNG:    {"RNG", AHB2, 6, RNGBase},
	OTGFS:  {"OTG_FS", AHB2, 7, OTGFSBase},
	QSPI:   {"QUADSPI", AHB3, 1, QSPIBase},
	TIM2:   {"TIM2", APB1, 0, TIM2Base},
	TIM3:   {"TIM3", APB1, 1, TIM3Base},
	TIM4:   {"TIM4", APB1, 2, TIM4Base},
	TIM5:   {"TIM5", APB1, 3, TIM5Base},
	TIM6:   {"TIM6", APB1, 4, TIM6Base},
	TIM7:   {"TIM7", APB1, 5, TIM7Base},
	WWDG:   {"WWDG", APB1, 11, WWDGBase},
	SPI2:   {"SPI2", APB1, 14, SPI2Base},
	SPI3:   {"SPI3", APB1, 15, SPI3Base},
	USART2: {"USART2", APB1, 17, USART2Base},
	USART3: {"USART3", APB1, 18, USART3Base},
	I2C1:   {"I2C1", APB1, 21, I2C1Base},
	I2C2:   {"I2C2", APB1, 22, I2C2Base},
	I2C3:   {"I2C3", APB1, 23, I2C3Base},
	PWR:    {"PWR", APB1, 28, PWRBase},
	DAC:    {"DAC", APB1, 29, DACBase},
	TIM1:   {"TIM1", APB2, 0, TIM1Base},
	TIM8:   {"TIM8", APB2, 1, TIM8Base},
	USART1: {"USART1", APB2, 4, USART1Base},
	USART6: {"USART6", APB2, 5, USART6Base},
	ADC1:   {"ADC1", APB2, 8, ADC1Base},
	SPI1:   {"SPI1", APB2, 12, SPI1Base},
	SPI4:   {"SPI4", APB2, 13, SPI4Base},
	SYSCFG: {"SYSCFG", APB2, 14, SYSCFGBase},
	TIM9:   {"TIM9", APB2, 16, TIM9Base},
	TIM10:  {"TIM10", APB2, 17, TIM10Base},
	TIM11:  {"TIM11", APB2, 18, TIM11Base},
	SPI5:   {"SPI5", APB2, 20, SPI5Base},
	RTC:    {"RTC", BusNone, 0, RTCBase},
	IWDG:   {"IWDG", BusNone, 0, IWDGBase},
}

// Info returns the static description of p.
func (p Periph) Info() PeriphInfo {
	if int(p) < NumPeriph {
		return periphInfo[p]
	}
	return PeriphInfo{Name: "?"}
}

func (p Periph) String() string { return p.Info().Name }

// Bus returns the bus carrying p's clock gate.
func (p Periph) Bus() Bus { return p.Info().Bus }

// Mask returns p's bit in its bus ENR and RSTR registers.
func (p Periph) Mask() uint32 { return 1 << p.Info().Bit }

// Base returns p's register block address.
func (p Periph) Base() uintptr { return p.Info().Base }

// PeriphAt returns the gated peripheral whose register block contains addr.
func PeriphAt(addr uintptr) (Periph, bool) {
	for p := Periph(0); p < numPeriph; p++ {
		base, span := periphInfo[p].Base, uintptr(0x400)
		if p == OTGFS {
			span = 0x4_0000
		}
		if addr >= base && addr < base+span {
			return p, true
		}
	}
	return 0, false
}

// TimerIRQ returns the interrupt lines serving the update, capture/compare,
// trigger and break events of timer p. Timers with a single line return it
// four times. Lines of TIM1 and TIM8 are shared with TIM9..TIM14.
func TimerIRQ(p Periph) (up, cc, trg, brk IRQ) {
	switch p {
	case TIM1:
		return IRQTIM1UPTIM10, IRQTIM1CC, IRQTIM1TRGCOMTIM11, IRQTIM1BRKTIM9
	case TIM8:
		return IRQTIM8UPTIM13, IRQTIM8CC, IRQTIM8TRGCOMTIM14, IRQTIM8BRKTIM12
	}
	var l IRQ
	switch p {
	case TIM2:
		l = IRQTIM2
	case TIM3:
		l = IRQTIM3
	case TIM4:
		l = IRQTIM4
	case TIM5:
		l = IRQTIM5
	case TIM6:
		l = IRQTIM6DAC
	case TIM7:
		l = IRQTIM7
	case TIM9:
		l = IRQTIM1BRKTIM9
	case TIM10:
		l = IRQTIM1UPTIM10
	case TIM11:
		l = IRQTIM1TRGCOMTIM11
	default:
		l = -16
	}
	return l, l, l, l
}
