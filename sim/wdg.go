package sim

import (
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/pkg"
)

// iwdgModel is the independent watchdog. Once started it cannot be
// stopped; it is cleared only by a system reset.
type iwdgModel struct {
	m        *Machine
	running  bool
	unlocked bool
	pr, rlr  uint32
	sr       uint32
	expire   *event
	busy     *event
	feeds    int
}

func (w *iwdgModel) reset() {
	w.m.cancel(w.expire)
	w.m.cancel(w.busy)
	*w = iwdgModel{m: w.m, rlr: 0xFFF}
}

// lsiPeriod is the LSI period in ps.
func lsiPeriod() int64 { return period(chip.LSIFrequency) }

// timeout is the time from a reload to the reset.
func (w *iwdgModel) timeout() int64 {
	return int64(w.rlr+1) * int64(4<<w.pr) * lsiPeriod()
}

func (w *iwdgModel) reload() {
	w.m.cancel(w.expire)
	w.feeds++
	w.expire = w.m.schedule(w.timeout(), func() {
		w.expire = nil
		pkg.LogWarn(pkg.ComponentSim, "IWDG timeout", "at", w.m.Now())
		w.m.pwr.standby = false
		w.m.systemReset(ResetIWDG)
	})
}

func (w *iwdgModel) read(off uint32, _ int) uint32 {
	switch off {
	case 0x4:
		return w.pr
	case 0x8:
		return w.rlr
	case 0xC:
		return w.sr
	}
	return 0
}

func (w *iwdgModel) write(off uint32, _ int, v uint32) {
	switch off {
	case 0x0:
		switch v & 0xFFFF {
		case 0x5555:
			w.unlocked = true
		case 0xAAAA:
			w.unlocked = false
			if w.running {
				w.reload()
			}
		case 0xCCCC:
			w.unlocked = false
			if !w.running {
				w.running = true
				w.m.rcc.startLSI()
				w.reload()
			}
		default:
			w.unlocked = false
		}
	case 0x4, 0x8:
		if !w.unlocked {
			return
		}
		bit := uint32(1)
		if off == 0x4 {
			w.pr = v & 7
		} else {
			w.rlr = v & 0xFFF
			bit = 2
		}
		// PVU/RVU stay set for five LSI periods
		w.sr |= bit
		w.m.cancel(w.busy)
		w.busy = w.m.schedule(5*lsiPeriod(), func() {
			w.busy = nil
			w.sr = 0
		})
	}
}

// wwdgModel is the window watchdog, a 7-bit down counter clocked by
// PCLK1/4096/2^WDGTB.
type wwdgModel struct {
	m      *Machine
	cr     uint32
	cfr    uint32
	sr     uint32
	loadAt int64
	early  *event
	expire *event
	feeds  int
}

func (w *wwdgModel) reset() {
	w.m.cancel(w.early)
	w.m.cancel(w.expire)
	*w = wwdgModel{m: w.m, cr: 0x7F, cfr: 0x7F}
	w.sync()
}

func (w *wwdgModel) sync() {
	w.m.line(chip.IRQWWDG, w.cfr&(1<<9) != 0 && w.sr&1 != 0)
}

func (w *wwdgModel) tick() int64 {
	return period(w.m.rcc.pclk(chip.APB1)) * 4096 << (w.cfr >> 7 & 3)
}

// counter returns the current T[6:0].
func (w *wwdgModel) counter() uint32 {
	t := w.cr & 0x7F
	if w.cr&0x80 == 0 {
		return t
	}
	n := (w.m.now - w.loadAt) / w.tick()
	if n > int64(t) {
		return 0
	}
	return t - uint32(n)
}

func (w *wwdgModel) load(t uint32) {
	w.m.cancel(w.early)
	w.m.cancel(w.expire)
	w.cr = w.cr&0x80 | t&0x7F
	w.loadAt = w.m.now
	if w.cr&0x80 == 0 {
		return
	}
	w.feeds++
	if t < 0x40 {
		w.fire()
		return
	}
	w.early = w.m.schedule(int64(t-0x40)*w.tick(), func() {
		w.early = nil
		w.sr |= 1
		w.sync()
	})
	w.expire = w.m.schedule(int64(t-0x3F)*w.tick(), func() {
		w.expire = nil
		w.fire()
	})
}

func (w *wwdgModel) fire() {
	pkg.LogWarn(pkg.ComponentSim, "WWDG reset", "counter", w.counter(), "at", w.m.Now())
	w.m.systemReset(ResetWWDG)
}

func (w *wwdgModel) read(off uint32, _ int) uint32 {
	switch off {
	case 0x0:
		return w.cr&0x80 | w.counter()
	case 0x4:
		return w.cfr
	case 0x8:
		return w.sr
	}
	return 0
}

func (w *wwdgModel) write(off uint32, _ int, v uint32) {
	switch off {
	case 0x0:
		if w.cr&0x80 != 0 && w.counter() > w.cfr&0x7F {
			pkg.LogWarn(pkg.ComponentSim, "WWDG refreshed outside window",
				"counter", w.counter(), "window", w.cfr&0x7F)
			w.m.systemReset(ResetWWDG)
			return
		}
		w.cr |= v & 0x80
		w.load(v & 0x7F)
	case 0x4:
		w.cfr = v & 0x3FF
	case 0x8:
		w.sr &^= ^v & 1
	}
	w.sync()
}

// IWDGFeeds returns the number of IWDG reloads since the last reset.
func (m *Machine) IWDGFeeds() int { return m.iwdg.feeds }

// WWDGCounter returns the current WWDG counter.
func (m *Machine) WWDGCounter() uint32 { return m.wwdg.counter() }
