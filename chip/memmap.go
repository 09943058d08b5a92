package chip

// Peripheral register block base addresses.
const (
	TIM2Base   = 0x4000_0000
	TIM3Base   = 0x4000_0400
	TIM4Base   = 0x4000_0800
	TIM5Base   = 0x4000_0C00
	TIM6Base   = 0x4000_1000
	TIM7Base   = 0x4000_1400
	RTCBase    = 0x4000_2800
	WWDGBase   = 0x4000_2C00
	IWDGBase   = 0x4000_3000
	SPI2Base   = 0x4000_3800
	SPI3Base   = 0x4000_3C00
	USART2Base = 0x4000_4400
	USART3Base = 0x4000_4800
	I2C1Base   = 0x4000_5400
	I2C2Base   = 0x4000_5800
	I2C3Base   = 0x4000_5C00
	PWRBase    = 0x4000_7000
	DACBase    = 0x4000_7400

	TIM1Base      = 0x4001_0000
	TIM8Base      = 0x4001_0400
	USART1Base    = 0x4001_1000
	USART6Base    = 0x4001_1400
	ADC1Base      = 0x4001_2000
	ADCCommonBase = 0x4001_2300
	SPI1Base      = 0x4001_3000
	SPI4Base      = 0x4001_3400
	SYSCFGBase    = 0x4001_3800
	EXTIBase      = 0x4001_3C00
	TIM9Base      = 0x4001_4000
	TIM10Base     = 0x4001_4400
	TIM11Base     = 0x4001_4800
	SPI5Base      = 0x4001_5000

	GPIOBase  = 0x4002_0000
	GPIOSpan  = 0x400
	CRCBase   = 0x4002_3000
	RCCBase   = 0x4002_3800
	FlashBase = 0x4002_3C00
	DMA1Base  = 0x4002_6000
	DMA2Base  = 0x4002_6400

	OTGFSBase = 0x5000_0000
	RNGBase   = 0x5006_0800

	QSPIBase   = 0xA000_1000
	QSPIWindow = 0x9000_0000

	DBGMCUBase  = 0xE004_2000
	SysTickBase = 0xE000_E010
	NVICBase    = 0xE000_E100
	SCBBase     = 0xE000_ED00
)

// Memory regions.
const (
	FlashMemBase = 0x0800_0000
	SRAMBase     = 0x2000_0000
	SRAMSize     = 256 * 1024
	BackupRegs   = 20
)

// RCC register offsets shared by the clock driver and the bus-level gates.
const (
	RCCCR       = 0x00
	RCCPLLCFGR  = 0x04
	RCCCFGR     = 0x08
	RCCCIR      = 0x0C
	RCCAHB1RSTR = 0x10
	RCCAHB2RSTR = 0x14
	RCCAHB3RSTR = 0x18
	RCCAPB1RSTR = 0x20
	RCCAPB2RSTR = 0x24
	RCCAHB1ENR  = 0x30
	RCCAHB2ENR  = 0x34
	RCCAHB3ENR  = 0x38
	RCCAPB1ENR  = 0x40
	RCCAPB2ENR  = 0x44
	RCCBDCR     = 0x70
	RCCCSR      = 0x74
	RCCDCKCFGR  = 0x8C
)
