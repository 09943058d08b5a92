// Package irq holds the interrupt plumbing shared by every driver: the
// critical section, the [Cell] through which handlers reach driver state,
// the NVIC and the EXTI controller.
//
// A handler never keeps a reference to driver state between runs. The
// foreground moves a driver into a Cell once, and the handler borrows it
// inside a critical section:
//
//	var led irq.Cell[gpio.Output]
//
//	irq.Free(m.Core, func(cs irq.CS) { led.Init(cs, out) })
//	m.Handle(chip.IRQTIM2, func() {
//		irq.Free(m.Core, func(cs irq.CS) {
//			led.With(cs, func(o *gpio.Output) { o.Toggle() })
//		})
//	})
package irq
