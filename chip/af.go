package chip

// Signal names a peripheral pin function.
type Signal uint8

// Peripheral signals.
const (
	CH1 Signal = iota
	CH2
	CH3
	CH4
	CH1N
	CH2N
	CH3N
	ETR
	BKIN
	SCK
	MISO
	MOSI
	NSS
	SCL
	SDA
	SMBA
	TX
	RX
	CK
	CTS
	RTS
	MCO
	DM
	DP
	ID
	SOF
	CLK
	NCS
	IO0
	IO1
	IO2
	IO3
)

var signalNames = [...]string{
	"CH1", "CH2", "CH3", "CH4", "CH1N", "CH2N", "CH3N", "ETR", "BKIN",
	"SCK", "MISO", "MOSI", "NSS", "SCL", "SDA", "SMBA",
	"TX", "RX", "CK", "CTS", "RTS", "MCO", "DM", "DP", "ID", "SOF",
	"CLK", "NCS", "IO0", "IO1", "IO2", "IO3",
}

func (s Signal) String() string {
	if int(s) < len(signalNames) {
		return signalNames[s]
	}
	return "signal?"
}

// AltFunc is one row of the alternate function table.
type AltFunc struct {
	Pin    Pin
	Periph Periph
	Signal Signal
	AF     uint8
}

// Periph value used for the MCO outputs, which belong to RCC.
const mcoOwner = numPeriph

var altFuncs = []AltFunc{
	{PA8, mcoOwner, MCO, 0},
	{PC9, mcoOwner, MCO, 0},

	{PA8, TIM1, CH1, 1}, {PE9, TIM1, CH1, 1},
	{PA9, TIM1, CH2, 1}, {PE11, TIM1, CH2, 1},
	{PA10, TIM1, CH3, 1}, {PE13, TIM1, CH3, 1},
	{PA11, TIM1, CH4, 1}, {PE14, TIM1, CH4, 1},
	{PA7, TIM1, CH1N, 1}, {PB13, TIM1, CH1N, 1},
	{PB0, TIM1, CH2N, 1}, {PB14, TIM1, CH2N, 1},
	{PB1, TIM1, CH3N, 1}, {PB15, TIM1, CH3N, 1},
	{PA12, TIM1, ETR, 1}, {PE7, TIM1, ETR, 1},
	{PA6, TIM1, BKIN, 1}, {PB12, TIM1, BKIN, 1},

	{PA0, TIM2, CH1, 1}, {PA5, TIM2, CH1, 1}, {PA15, TIM2, CH1, 1},
	{PA1, TIM2, CH2, 1}, {PB3, TIM2, CH2, 1},
	{PA2, TIM2, CH3, 1}, {PB10, TIM2, CH3, 1},
	{PA3, TIM2, CH4, 1}, {PB11, TIM2, CH4, 1},
	{PA0, TIM2, ETR, 1}, {PA5, TIM2, ETR, 1}, {PA15, TIM2, ETR, 1},

	{PA6, TIM3, CH1, 2}, {PB4, TIM3, CH1, 2}, {PC6, TIM3, CH1, 2},
	{PA7, TIM3, CH2, 2}, {PB5, TIM3, CH2, 2}, {PC7, TIM3, CH2, 2},
	{PB0, TIM3, CH3, 2}, {PC8, TIM3, CH3, 2},
	{PB1, TIM3, CH4, 2}, {PC9, TIM3, CH4, 2},
	{PD2, TIM3, ETR, 2},

	{PB6, TIM4, CH1, 2}, {PD12, TIM4, CH1, 2},
	{PB7, TIM4, CH2, 2}, {PD13, TIM4, CH2, 2},
	{PB8, TIM4, CH3, 2}, {PD14, TIM4, CH3, 2},
	{PB9, TIM4, CH4, 2}, {PD15, TIM4, CH4, 2},
	{PE0, TIM4, ETR, 2},

	{PA0, TIM5, CH1, 2}, {PA1, TIM5, CH2, 2}, {PA2, TIM5, CH3, 2}, {PA3, TIM5, CH4, 2},

	{PC6, TIM8, CH1, 3}, {PC7, TIM8, CH2, 3}, {PC8, TIM8, CH3, 3}, {PC9, TIM8, CH4, 3},
	{PA0, TIM8, ETR, 3},

	{PA2, TIM9, CH1, 3}, {PE5, TIM9, CH1, 3},
	{PA3, TIM9, CH2, 3}, {PE6, TIM9, CH2, 3},
	{PB8, TIM10, CH1, 3},
	{PB9, TIM11, CH1, 3},

	{PB6, I2C1, SCL, 4}, {PB8, I2C1, SCL, 4},
	{PB7, I2C1, SDA, 4}, {PB9, I2C1, SDA, 4},
	{PB10, I2C2, SCL, 4}, {PB11, I2C2, SDA, 4}, {PB3, I2C2, SDA, 9},
	{PA8, I2C3, SCL, 4}, {PC9, I2C3, SDA, 4}, {PB4, I2C3, SDA, 9},

	{PA4, SPI1, NSS, 5}, {PA15, SPI1, NSS, 5},
	{PA5, SPI1, SCK, 5}, {PB3, SPI1, SCK, 5},
	{PA6, SPI1, MISO, 5}, {PB4, SPI1, MISO, 5},
	{PA7, SPI1, MOSI, 5}, {PB5, SPI1, MOSI, 5},
	{PB12, SPI2, NSS, 5}, {PB9, SPI2, NSS, 5},
	{PB13, SPI2, SCK, 5}, {PB10, SPI2, SCK, 5},
	{PB14, SPI2, MISO, 5}, {PC2, SPI2, MISO, 5},
	{PB15, SPI2, MOSI, 5}, {PC3, SPI2, MOSI, 5},
	{PA4, SPI3, NSS, 6}, {PA15, SPI3, NSS, 6},
	{PB3, SPI3, SCK, 6}, {PC10, SPI3, SCK, 6},
	{PB4, SPI3, MISO, 6}, {PC11, SPI3, MISO, 6},
	{PB5, SPI3, MOSI, 6}, {PC12, SPI3, MOSI, 6},
	{PE4, SPI4, NSS, 5}, {PE2, SPI4, SCK, 5}, {PE5, SPI4, MISO, 5}, {PE6, SPI4, MOSI, 5},
	{PB1, SPI5, NSS, 6}, {PB0, SPI5, SCK, 6}, {PA12, SPI5, MISO, 6}, {PA10, SPI5, MOSI, 6},

	{PA9, USART1, TX, 7}, {PB6, USART1, TX, 7},
	{PA10, USART1, RX, 7}, {PB7, USART1, RX, 7},
	{PA8, USART1, CK, 7}, {PA11, USART1, CTS, 7}, {PA12, USART1, RTS, 7},
	{PA2, USART2, TX, 7}, {PD5, USART2, TX, 7},
	{PA3, USART2, RX, 7}, {PD6, USART2, RX, 7},
	{PA4, USART2, CK, 7}, {PA0, USART2, CTS, 7}, {PA1, USART2, RTS, 7},
	{PB10, USART3, TX, 7}, {PC10, USART3, TX, 7},
	{PB11, USART3, RX, 7}, {PC11, USART3, RX, 7},
	{PC6, USART6, TX, 8}, {PA11, USART6, TX, 8},
	{PC7, USART6, RX, 8}, {PA12, USART6, RX, 8},

	{PA8, OTGFS, SOF, 10}, {PA10, OTGFS, ID, 10},
	{PA11, OTGFS, DM, 10}, {PA12, OTGFS, DP, 10},

	{PB2, QSPI, CLK, 9}, {PB6, QSPI, NCS, 10},
	{PC9, QSPI, IO0, 9}, {PC10, QSPI, IO1, 9}, {PC8, QSPI, IO2, 9}, {PA1, QSPI, IO3, 9},
}

// FindAF returns the alternate function number connecting pin to signal s
// of p.
func FindAF(pin Pin, p Periph, s Signal) (uint8, bool) {
	for _, a := range altFuncs {
		if a.Pin == pin && a.Periph == p && a.Signal == s {
			return a.AF, true
		}
	}
	return 0, false
}

// MCOAF returns the alternate function of an MCO pin (PA8 or PC9).
func MCOAF(pin Pin) (uint8, bool) { return FindAF(pin, mcoOwner, MCO) }

// PinFunction returns the peripheral signal pin carries when af is
// selected.
func PinFunction(pin Pin, af uint8) (Periph, Signal, bool) {
	for _, a := range altFuncs {
		if a.Pin == pin && a.AF == af && a.Periph != mcoOwner {
			return a.Periph, a.Signal, true
		}
	}
	return 0, 0, false
}

// SignalPins returns every pin able to carry signal s of p.
func SignalPins(p Periph, s Signal) []Pin {
	var pins []Pin
	for _, a := range altFuncs {
		if a.Periph == p && a.Signal == s {
			pins = append(pins, a.Pin)
		}
	}
	return pins
}
