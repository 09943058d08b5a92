// Package i2c drives the I2C1..I2C3 blocks.
//
// [Master] is polled and implements the periph.io i2c.Bus interface. It
// follows the reference manual's receive sequences for one, two and
// three-or-more bytes, so the last byte of every read is NACKed before
// STOP. [Slave] is interrupt driven: call [Slave.Service] from both the
// event and error handlers; it drains every coalesced status flag with
// its prescribed clear sequence before returning.
package i2c
