package chip

// Port is a GPIO port letter, A=0.
type Port uint8

// GPIO ports.
const (
	PortA Port = iota
	PortB
	PortC
	PortD
	PortE
	PortF
	PortG
	PortH
)

func (p Port) String() string { return "GPIO" + string(rune('A'+p)) }

// Periph returns the port's clock-gated peripheral.
func (p Port) Periph() Periph { return GPIOA + Periph(p) }

// Base returns the port's register block address.
func (p Port) Base() uintptr { return GPIOBase + uintptr(p)*GPIOSpan }

// Pin identifies one GPIO pin as port*16 + index.
type Pin uint8

// NumPins is the number of Pin values.
const NumPins = 8 * 16

// NewPin returns the pin with the given port and index (0..15).
func NewPin(port Port, n uint8) Pin { return Pin(uint8(port)<<4 | n&15) }

// Port returns the pin's port.
func (p Pin) Port() Port { return Port(p >> 4) }

// Index returns the pin number within its port.
func (p Pin) Index() uint8 { return uint8(p) & 15 }

// Mask returns the pin's bit in its port's IDR and ODR.
func (p Pin) Mask() uint32 { return 1 << p.Index() }

func (p Pin) String() string {
	i := p.Index()
	s := "P" + string(rune('A'+p.Port()))
	if i >= 10 {
		return s + "1" + string(rune('0'+i-10))
	}
	return s + string(rune('0'+i))
}

// Pins of ports A to E and H.
const (
	PA0  Pin = 0
	PA1  Pin = 1
	PA2  Pin = 2
	PA3  Pin = 3
	PA4  Pin = 4
	PA5  Pin = 5
	PA6  Pin = 6
	PA7  Pin = 7
	PA8  Pin = 8
	PA9  Pin = 9
	PA10 Pin = 10
	PA11 Pin = 11
	PA12 Pin = 12
	PA13 Pin = 13
	PA14 Pin = 14
	PA15 Pin = 15
	PB0  Pin = 16
	PB1  Pin = 17
	PB2  Pin = 18
	PB3  Pin = 19
	PB4  Pin = 20
	PB5  Pin = 21
	PB6  Pin = 22
	PB7  Pin = 23
	PB8  Pin = 24
	PB9  Pin = 25
	PB10 Pin = 26
	PB11 Pin = 27
	PB12 Pin = 28
	PB13 Pin = 29
	PB14 Pin = 30
	PB15 Pin = 31
	PC0  Pin = 32
	PC1  Pin = 33
	PC2  Pin = 34
	PC3  Pin = 35
	PC4  Pin = 36
	PC5  Pin = 37
	PC6  Pin = 38
	PC7  Pin = 39
	PC8  Pin = 40
	PC9  Pin = 41
	PC10 Pin = 42
	PC11 Pin = 43
	PC12 Pin = 44
	PC13 Pin = 45
	PC14 Pin = 46
	PC15 Pin = 47
	PD0  Pin = 48
	PD1  Pin = 49
	PD2  Pin = 50
	PD3  Pin = 51
	PD4  Pin = 52
	PD5  Pin = 53
	PD6  Pin = 54
	PD7  Pin = 55
	PD8  Pin = 56
	PD9  Pin = 57
	PD10 Pin = 58
	PD11 Pin = 59
	PD12 Pin = 60
	PD13 Pin = 61
	PD14 Pin = 62
	PD15 Pin = 63
	PE0  Pin = 64
	PE1  Pin = 65
	PE2  Pin = 66
	PE3  Pin = 67
	PE4  Pin = 68
	PE5  Pin = 69
	PE6  Pin = 70
	PE7  Pin = 71
	PE8  Pin = 72
	PE9  Pin = 73
	PE10 Pin = 74
	PE11 Pin = 75
	PE12 Pin = 76
	PE13 Pin = 77
	PE14 Pin = 78
	PE15 Pin = 79
	PH0  Pin = 112
	PH1  Pin = 113
)
