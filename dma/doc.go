// Package dma drives the two DMA controllers.
//
// A [Stream] is one of the sixteen streams, claimed from the MCU and
// programmed from a [Config]. Configure checks the whole configuration
// before the first register write, so a FIFO threshold that cannot hold
// the memory burst is reported as a [pkg.DMAError] while the stream is
// still idle rather than as a FIFO error flag after it is enabled.
//
// Every flag of a stream is cleared before it is enabled: a leftover TCIF
// makes the hardware ignore the enable. Streams that serve a peripheral
// are started with [Stream.StartWith], which enables the stream before the
// peripheral's request and stops them in the opposite order, so no request
// is latched while the stream cannot take it.
//
//	st, _ := dma.ClaimFor(m, chip.ReqUSART1TX)
//	tx, _ := uart.TxDMA()
//	st.Configure(dma.Config{
//		Channel:   st.Channel(),
//		Direction: dma.MemToPeriph,
//		Periph:    tx.Addr(),
//		Memory:    buf,
//		Count:     n,
//		MInc:      true,
//	})
//	st.StartWith(tx)
//	err := st.Wait()
package dma
