// Package mmio is the register layer: volatile 8/16/32-bit access to
// memory-mapped peripheral blocks through a [Bus].
//
// On target the bus is [Hardware], a thin shim over runtime/volatile. On a
// host the bus is a register-level simulator. Drivers never dereference
// peripheral addresses themselves; they build [Register32] values from a
// [Block] and use the read-modify-write helpers.
//
// Several STM32F4 status registers clear bits as a side effect of being read
// or written. Such fields are annotated where the driver packages declare
// them, with one of these tags:
//
//	rc_r    cleared by reading (possibly in a documented sequence)
//	rc_w0   cleared by writing 0, writing 1 has no effect
//	rc_w1   cleared by writing 1, writing 0 has no effect
//	key     writes are ignored until an unlock key sequence
//
// A plain SetBits/ClearBits on a register holding rc_w0 bits can clear a
// flag raised between the load and the store, so such registers are written
// whole with the mask of bits to clear.
package mmio
