// Package spi drives the SPI1..SPI5 blocks in master or slave mode.
//
// A [Master] owns the bus clock; it implements the periph.io spi.Port and
// spi.Conn interfaces, so device drivers written against periph.io run on
// it unchanged. A [Slave] answers frames clocked by another master.
//
// Every blocking call polls the status register a bounded number of times
// (chip.MCU.Spin) and returns pkg.ErrBusTimeout when the budget runs out.
// Latched faults surface as pkg.SPIError and are cleared by the sequence
// the hardware prescribes for each flag.
package spi
