package tim

// EncoderMode selects which inputs count. The values match SMCR.SMS.
type EncoderMode uint8

// Encoder modes.
const (
	// EncoderTI1 counts on TI1 edges only.
	EncoderTI1 EncoderMode = smsEncoder1 + iota
	// EncoderTI2 counts on TI2 edges only.
	EncoderTI2
	// EncoderBoth counts on every edge of TI1 and TI2 (x4 resolution).
	EncoderBoth
)

// EncoderConfig configures quadrature decoding on TI1 and TI2.
type EncoderConfig struct {
	Mode   EncoderMode
	Filter Filter

	// Invert1 and Invert2 invert TI1 and TI2, reversing the direction.
	Invert1, Invert2 bool

	// Reload bounds the position; zero means the full counter range.
	Reload uint32
}

// Encoder is a timer counting quadrature encoder steps.
type Encoder struct {
	t *Timer
}

// Encoder configures the timer as a quadrature decoder and starts it.
func (t *Timer) Encoder(c EncoderConfig) (*Encoder, error) {
	if !t.k.slave || t.k.channels < 2 {
		return nil, errNotSupported
	}
	if c.Mode < EncoderTI1 || c.Mode > EncoderBoth || c.Filter > FilterDTS32N8 {
		return nil, errOutOfRange
	}
	if c.Reload == 0 {
		c.Reload = t.MaxReload()
	}
	if err := t.setup(Timebase{Reload: c.Reload}); err != nil {
		return nil, err
	}
	t.setCCMR(0, uint8(Direct)|uint8(c.Filter)<<4)
	t.setCCMR(1, uint8(Direct)|uint8(c.Filter)<<4)
	var p1, p2 uint8
	if c.Invert1 {
		p1 = Falling.ccer()
	}
	if c.Invert2 {
		p2 = Falling.ccer()
	}
	t.setCCER(0, p1)
	t.setCCER(1, p2)
	t.reg(regSMCR).Set(smcrSM.Put(0, uint8(c.Mode)))
	t.SetCount(0)
	t.start()
	return &Encoder{t: t}, nil
}

// Position returns the counter.
func (e *Encoder) Position() uint32 { return e.t.Count() }

// SetPosition writes the counter.
func (e *Encoder) SetPosition(v uint32) { e.t.SetCount(v) }

// Direction returns the direction of the last step.
func (e *Encoder) Direction() Direction {
	if e.t.reg(regCR1).HasBits(cr1DIR) {
		return Down
	}
	return Up
}

// Release stops the timer and returns it unconfigured.
func (e *Encoder) Release() *Timer { return e.t.release() }
