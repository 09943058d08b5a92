package tim

// ETRPrescaler divides the ETR input before the filter output is used.
type ETRPrescaler uint8

// ETR prescalers. The values match SMCR.ETPS.
const (
	ETRDiv1 ETRPrescaler = iota
	ETRDiv2
	ETRDiv4
	ETRDiv8
)

// ETRMode selects what an accepted ETR edge does.
type ETRMode uint8

// ETR modes.
const (
	// ExternalClock1 counts ETRF edges through the slave controller
	// (SMS=7, TS=ETRF). The trigger flag is set on every counted edge.
	ExternalClock1 ETRMode = iota
	// ExternalClock2 counts ETRF edges directly (ECE). The slave
	// controller stays free.
	ExternalClock2
	// ResetOnETR restarts the counter on every edge.
	ResetOnETR
	// StartOnETR starts the counter on the first edge.
	StartOnETR
)

// ETRConfig configures the external trigger input.
type ETRConfig struct {
	Mode ETRMode

	// Inverted counts falling edges instead of rising ones.
	Inverted  bool
	Prescaler ETRPrescaler
	Filter    Filter

	// Reload is ARR; zero means the full counter range.
	Reload     uint32
	Prescaler2 uint16
}

// External is a timer driven by its ETR pin. With a filter this makes a
// hardware debouncer: an edge counts only after the input held its level
// for the filter's sample count.
type External struct {
	t *Timer
	c ETRConfig
}

// External configures the ETR path. The counter is left stopped.
func (t *Timer) External(c ETRConfig) (*External, error) {
	if !t.k.etr {
		return nil, errNotSupported
	}
	if c.Mode > StartOnETR || c.Prescaler > ETRDiv8 || c.Filter > FilterDTS32N8 {
		return nil, errOutOfRange
	}
	if c.Reload == 0 {
		c.Reload = t.MaxReload()
	}
	if err := t.setup(Timebase{Prescaler: c.Prescaler2, Reload: c.Reload, OverflowOnly: true}); err != nil {
		return nil, err
	}
	smcr := smcrEF.Put(0, uint8(c.Filter))
	smcr = smcrEP.Put(smcr, uint8(c.Prescaler))
	if c.Inverted {
		smcr |= smcrETP
	}
	switch c.Mode {
	case ExternalClock1:
		smcr = smcrTS.Put(smcrSM.Put(smcr, smsExtClock), tsETRF)
	case ExternalClock2:
		smcr |= smcrECE
	case ResetOnETR:
		smcr = smcrTS.Put(smcrSM.Put(smcr, smsReset), tsETRF)
	case StartOnETR:
		smcr = smcrTS.Put(smcrSM.Put(smcr, smsTrigger), tsETRF)
	}
	t.reg(regSMCR).Set(smcr)
	t.reg(regSR).Set(0)
	return &External{t: t, c: c}, nil
}

// Start enables the counter. In StartOnETR mode the first edge does it.
func (e *External) Start() { e.t.start() }

// Stop disables the counter.
func (e *External) Stop() { e.t.stop() }

// Running reports whether the counter is enabled.
func (e *External) Running() bool { return e.t.reg(regCR1).HasBits(cr1CEN) }

// Count returns the number of accepted edges (modulo Reload+1).
func (e *External) Count() uint32 { return e.t.Count() }

// SetCount writes the counter.
func (e *External) SetCount(v uint32) { e.t.SetCount(v) }

// Triggered tests and clears the trigger flag.
func (e *External) Triggered() bool { return e.t.flag(srTIF) }

// Listen enables or disables the trigger interrupt. On TIM1 and TIM8 it
// arrives on the TRG_COM interrupt.
func (e *External) Listen(on bool) { e.t.listen(dierTIE, on) }

// Release stops the timer and returns it unconfigured.
func (e *External) Release() *Timer { return e.t.release() }
