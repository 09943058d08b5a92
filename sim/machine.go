package sim

import (
	"fmt"
	"sort"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// device is a memory-mapped register model. off is relative to the
// region base and size is the access width in bytes.
type device interface {
	read(off uint32, size int) uint32
	write(off uint32, size int, v uint32)
}

type region struct {
	base, size uintptr
	gate       chip.Periph
	gated      bool
	dev        device
}

// Access is one recorded bus access.
type Access struct {
	At    time.Duration
	Addr  uintptr
	Size  int
	Value uint32
	Write bool
}

func (a Access) String() string {
	op := "R"
	if a.Write {
		op = "W"
	}
	return fmt.Sprintf("%v %s%d %#08x = %#x", a.At, op, a.Size*8, a.Addr, a.Value)
}

// ResetCause is the reason of a simulated system reset.
type ResetCause uint8

// Reset causes, matching the RCC_CSR reset flags.
const (
	ResetSoftware ResetCause = iota
	ResetIWDG
	ResetWWDG
	ResetLowPower
	ResetPin
	ResetStandby
)

var resetNames = [...]string{"software", "iwdg", "wwdg", "low-power", "pin", "standby"}

func (c ResetCause) String() string {
	if int(c) < len(resetNames) {
		return resetNames[c]
	}
	return "reset?"
}

// Option configures a Machine.
type Option func(*Machine)

// WithHSE sets the frequency of the external crystal. Zero means no crystal
// is fitted and HSERDY never asserts.
func WithHSE(f physic.Frequency) Option { return func(m *Machine) { m.hse = f } }

// WithHSEStartup sets the crystal start-up time.
func WithHSEStartup(d time.Duration) Option { return func(m *Machine) { m.hseStartup = ps(d) } }

// WithLSE fits a 32.768 kHz crystal.
func WithLSE() Option { return func(m *Machine) { m.lse = true } }

// WithTrace records every CPU bus access.
func WithTrace() Option { return func(m *Machine) { m.tracing = true } }

// WithStormLimit sets how many back-to-back entries of one interrupt count
// as an interrupt storm.
func WithStormLimit(n int) Option { return func(m *Machine) { m.stormLimit = n } }

// WithFlash replaces the QUADSPI flash part.
func WithFlash(f *W25Q) Option { return func(m *Machine) { m.flashPart = f } }

// Machine is a simulated STM32F4.
type Machine struct {
	now    int64 // picoseconds
	seq    uint64
	events eventQueue

	regions []*region
	mcu     *chip.MCU

	hse        physic.Frequency
	hseStartup int64
	lse        bool
	stormLimit int

	tracing bool
	trace   []Access

	resets     int
	lastReset  ResetCause
	onReset    []func(ResetCause)
	taken      uint64
	eventReg   bool
	sleepDepth int
	shared     map[chip.IRQ]map[string]bool

	// stopped holds interrupts back while the core is in Stop mode so
	// that only WaitForInterrupt can wake it.
	stopped bool

	sram  *memory
	flash *memory

	rcc       *rccModel
	pwr       *pwrModel
	fif       *flashIF
	dbg       *dbgModel
	nvic      *nvicModel
	scb       *scbModel
	systick   *systickModel
	gpio      *GPIO
	exti      *extiModel
	syscfg    *syscfgModel
	tims      map[chip.Periph]*Timer
	spis      map[chip.Periph]*SPI
	i2cs      map[chip.Periph]*i2cModel
	i2cBus    *I2CBus
	usarts    map[chip.Periph]*USART
	adc       *ADC
	dac       *DAC
	rtc       *RTC
	crc       *crcModel
	iwdg      *iwdgModel
	wwdg      *wwdgModel
	rng       *rngModel
	dmas      [2]*dmaModel
	dmaPulses []chip.DMARequest
	dmaBusy   bool
	dmaAgain  bool
	qspi      *qspiModel
	flashPart *W25Q
	otg       *otgModel
	host      *USBHost
}

// New returns a machine in its power-on reset state.
func New(opts ...Option) *Machine {
	m := &Machine{
		hse:        8 * physic.MegaHertz,
		hseStartup: ps(100 * time.Microsecond),
		stormLimit: 10000,
	}
	for _, o := range opts {
		o(m)
	}
	if m.flashPart == nil {
		m.flashPart = NewW25Q32()
	}
	m.build()
	m.rcc.csr |= csrPORRSTF | csrPINRSTF
	return m
}

// NewMCU returns a simulated machine and an MCU wired to it.
func NewMCU(opts ...Option) (*chip.MCU, *Machine) {
	m := New(opts...)
	mcu := chip.New(m, m)
	m.Attach(mcu)
	return mcu, m
}

// Attach routes interrupts to the vector table of mcu.
func (m *Machine) Attach(mcu *chip.MCU) { m.mcu = mcu }

func (m *Machine) build() {
	m.sram = newMemory(chip.SRAMSize, false)
	m.flash = newMemory(512*1024, true)
	m.mapDevice(chip.SRAMBase, chip.SRAMSize, 0, false, m.sram)
	m.mapDevice(chip.FlashMemBase, 512*1024, 0, false, m.flash)
	m.mapDevice(0x2200_0000, 0x0200_0000, 0, false, &bitBand{m: m, region: chip.SRAMBase, alias: 0x2200_0000})
	m.mapDevice(0x4200_0000, 0x0200_0000, 0, false, &bitBand{m: m, region: 0x4000_0000, alias: 0x4200_0000})

	m.rcc = newRCC(m)
	m.mapDevice(chip.RCCBase, 0x400, 0, false, m.rcc)
	m.pwr = &pwrModel{m: m}
	m.pwr.reset(false)
	m.mapDevice(chip.PWRBase, 0x400, chip.PWR, true, m.pwr)
	m.fif = &flashIF{m: m}
	m.mapDevice(chip.FlashBase, 0x400, 0, false, m.fif)
	m.dbg = &dbgModel{}
	m.mapDevice(chip.DBGMCUBase, 0x10, 0, false, m.dbg)

	m.nvic = newNVIC(m)
	m.mapDevice(chip.NVICBase, 0x400, 0, false, m.nvic)
	m.scb = &scbModel{m: m}
	m.scb.reset()
	m.mapDevice(chip.SCBBase, 0x40, 0, false, m.scb)
	m.systick = &systickModel{m: m}
	m.mapDevice(chip.SysTickBase, 0x10, 0, false, m.systick)

	// GPIO reset drives pin levels into EXTI through the SYSCFG routing.
	m.exti = &extiModel{m: m}
	m.mapDevice(chip.EXTIBase, 0x400, 0, false, m.exti)
	m.syscfg = &syscfgModel{m: m}
	m.mapDevice(chip.SYSCFGBase, 0x400, chip.SYSCFG, true, m.syscfg)
	m.gpio = newGPIO(m)
	for p := chip.PortA; p <= chip.PortH; p++ {
		m.mapDevice(p.Base(), chip.GPIOSpan, p.Periph(), true, &gpioPort{g: m.gpio, port: p})
	}

	m.tims = map[chip.Periph]*Timer{}
	for _, p := range []chip.Periph{chip.TIM1, chip.TIM2, chip.TIM3, chip.TIM4, chip.TIM5,
		chip.TIM6, chip.TIM7, chip.TIM8, chip.TIM9, chip.TIM10, chip.TIM11} {
		t := newTimer(m, p)
		m.tims[p] = t
		m.mapDevice(p.Base(), 0x400, p, true, t)
	}
	m.spis = map[chip.Periph]*SPI{}
	for _, p := range []chip.Periph{chip.SPI1, chip.SPI2, chip.SPI3, chip.SPI4, chip.SPI5} {
		s := newSPI(m, p)
		m.spis[p] = s
		m.mapDevice(p.Base(), 0x400, p, true, s)
	}
	m.i2cBus = &I2CBus{m: m}
	m.i2cs = map[chip.Periph]*i2cModel{}
	for _, p := range []chip.Periph{chip.I2C1, chip.I2C2, chip.I2C3} {
		c := newI2C(m, p)
		m.i2cs[p] = c
		m.mapDevice(p.Base(), 0x400, p, true, c)
	}
	m.usarts = map[chip.Periph]*USART{}
	for _, p := range []chip.Periph{chip.USART1, chip.USART2, chip.USART3, chip.USART6} {
		u := newUSART(m, p)
		m.usarts[p] = u
		m.mapDevice(p.Base(), 0x400, p, true, u)
	}
	m.adc = newADC(m)
	m.mapDevice(chip.ADC1Base, 0x400, chip.ADC1, true, m.adc)
	m.dac = &DAC{m: m}
	m.dac.reset()
	m.mapDevice(chip.DACBase, 0x400, chip.DAC, true, m.dac)
	m.rtc = newRTC(m)
	m.mapDevice(chip.RTCBase, 0x400, 0, false, m.rtc)
	m.crc = &crcModel{m: m, dr: 0xFFFF_FFFF}
	m.mapDevice(chip.CRCBase, 0x400, chip.CRC, true, m.crc)
	m.iwdg = &iwdgModel{m: m}
	m.iwdg.reset()
	m.mapDevice(chip.IWDGBase, 0x400, 0, false, m.iwdg)
	m.wwdg = &wwdgModel{m: m}
	m.wwdg.reset()
	m.mapDevice(chip.WWDGBase, 0x400, chip.WWDG, true, m.wwdg)
	m.rng = &rngModel{m: m, state: 0x2545_F491}
	m.mapDevice(chip.RNGBase, 0x400, chip.RNG, true, m.rng)
	for i, p := range []chip.Periph{chip.DMA1, chip.DMA2} {
		d := newDMA(m, uint8(i+1))
		m.dmas[i] = d
		m.mapDevice(p.Base(), 0x400, p, true, d)
	}
	m.qspi = newQSPI(m, m.flashPart)
	m.mapDevice(chip.QSPIBase, 0x400, chip.QSPI, true, m.qspi)
	m.mapDevice(chip.QSPIWindow, 0x1000_0000, chip.QSPI, true, &qspiWindow{q: m.qspi})
	m.otg = newOTG(m)
	m.mapDevice(chip.OTGFSBase, 0x4_0000, chip.OTGFS, true, m.otg)
	m.host = &USBHost{m: m, otg: m.otg}

	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
}

func (m *Machine) mapDevice(base, size uintptr, gate chip.Periph, gated bool, dev device) {
	m.regions = append(m.regions, &region{base: base, size: size, gate: gate, gated: gated, dev: dev})
}

func (m *Machine) find(addr uintptr) *region {
	i := sort.Search(len(m.regions), func(i int) bool {
		r := m.regions[i]
		return r.base+r.size > addr
	})
	if i < len(m.regions) && m.regions[i].base <= addr {
		return m.regions[i]
	}
	return nil
}

// access performs a device access without consuming CPU time.
func (m *Machine) access(addr uintptr, size int, v uint32, write bool) uint32 {
	r := m.find(addr)
	if r == nil {
		panic(fmt.Sprintf("sim: bus fault at %#08x", addr))
	}
	if r.gated && !m.rcc.enabled(r.gate) {
		return 0
	}
	off := uint32(addr - r.base)
	if write {
		r.dev.write(off, size, v)
		return v
	}
	return r.dev.read(off, size)
}

func (m *Machine) cpu(addr uintptr, size int, v uint32, write bool) uint32 {
	v = m.access(addr, size, v, write)
	if m.tracing {
		m.trace = append(m.trace, Access{At: m.Now(), Addr: addr, Size: size, Value: v, Write: write})
	}
	m.now += m.rcc.hclkPeriod
	m.runDue()
	m.checkInterrupts()
	return v
}

func (m *Machine) LoadUint32(a uintptr) uint32     { return m.cpu(a, 4, 0, false) }
func (m *Machine) StoreUint32(a uintptr, v uint32) { m.cpu(a, 4, v, true) }
func (m *Machine) LoadUint16(a uintptr) uint16     { return uint16(m.cpu(a, 2, 0, false)) }
func (m *Machine) StoreUint16(a uintptr, v uint16) { m.cpu(a, 2, uint32(v), true) }
func (m *Machine) LoadUint8(a uintptr) uint8       { return uint8(m.cpu(a, 1, 0, false)) }
func (m *Machine) StoreUint8(a uintptr, v uint8)   { m.cpu(a, 1, uint32(v), true) }

// Peek reads addr without consuming time or triggering read side effects
// of memories; register models still see the read.
func (m *Machine) Peek(addr uintptr) uint32 { return m.access(addr, 4, 0, false) }

// Poke writes addr without consuming time.
func (m *Machine) Poke(addr uintptr, v uint32) { m.access(addr, 4, v, true) }

// Now returns the simulated time since power-on.
func (m *Machine) Now() time.Duration { return time.Duration(m.now / 1000) }

// Advance runs the machine for d with the CPU idle, taking interrupts as
// they become pending.
func (m *Machine) Advance(d time.Duration) {
	end := m.now + ps(d)
	for len(m.events) > 0 && m.events[0].at <= end {
		m.runNext()
	}
	if m.now < end {
		m.now = end
	}
	m.checkInterrupts()
}

// RunUntil advances until cond holds or limit elapses. It reports whether
// cond became true.
func (m *Machine) RunUntil(cond func() bool, limit time.Duration) bool {
	end := m.now + ps(limit)
	for !cond() {
		if len(m.events) == 0 || m.events[0].at > end {
			m.now = end
			return cond()
		}
		m.runNext()
	}
	return true
}

// Trace returns the recorded accesses and clears the record.
func (m *Machine) Trace() []Access {
	t := m.trace
	m.trace = nil
	return t
}

// After runs fn once d of simulated time has passed, like an external
// stimulus arriving while the firmware waits: a button press, a host
// request, a line changing level. A system reset drops it.
func (m *Machine) After(d time.Duration, fn func()) { m.schedule(ps(d), fn) }

// SetTrace enables or disables access recording.
func (m *Machine) SetTrace(on bool) { m.tracing = on }

// OnReset registers fn to run after every simulated system reset.
func (m *Machine) OnReset(fn func(ResetCause)) { m.onReset = append(m.onReset, fn) }

// Resets returns the number of system resets since power-on.
func (m *Machine) Resets() int { return m.resets }

// LastReset returns the cause of the last system reset.
func (m *Machine) LastReset() ResetCause { return m.lastReset }

// systemReset resets every model outside the backup domain and records the
// cause in RCC_CSR.
func (m *Machine) systemReset(cause ResetCause) {
	pkg.LogInfo(pkg.ComponentSim, "system reset", "cause", cause, "at", m.Now())
	m.resets++
	m.lastReset = cause
	m.events = m.events[:0]
	csr := m.rcc.csr
	bdcr := m.rcc.bdcr
	m.rcc.reset()
	m.rcc.bdcr = bdcr
	m.rcc.csr = csr | csrPINRSTF | resetFlag(cause)
	m.pwr.reset(cause == ResetStandby)
	m.fif.acr = 0
	m.nvic.reset()
	m.shared = nil
	m.scb.reset()
	m.systick.reset()
	m.gpio.reset()
	m.exti.reset()
	m.syscfg.reset()
	for _, t := range m.tims {
		t.reset()
	}
	for _, s := range m.spis {
		s.reset()
	}
	for _, c := range m.i2cs {
		c.reset()
	}
	for _, u := range m.usarts {
		u.reset()
	}
	m.adc.reset()
	m.dac.reset()
	m.rtc.systemReset()
	m.crc.dr = 0xFFFF_FFFF
	m.iwdg.reset()
	m.wwdg.reset()
	m.rng.reset()
	for _, d := range m.dmas {
		d.reset()
	}
	m.dmaPulses = nil
	m.qspi.reset()
	m.otg.reset()
	m.eventReg = false
	if m.mcu != nil {
		m.mcu.SetClocks(chip.ResetClocks())
	}
	for _, fn := range m.onReset {
		fn(cause)
	}
}

// ps converts d to picoseconds.
func ps(d time.Duration) int64 { return int64(d) * 1000 }

// period returns the period of f in picoseconds.
func period(f physic.Frequency) int64 {
	if f <= 0 {
		return 0
	}
	return int64(1e12) * int64(physic.Hertz) / int64(f)
}
