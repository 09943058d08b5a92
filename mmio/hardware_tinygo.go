//go:build tinygo

package mmio

import (
	"runtime/volatile"
	"unsafe"
)

// Hardware is the target bus: every access is a volatile load or store of
// the physical address.
var Hardware Bus = hardware{}

type hardware struct{}

func (hardware) LoadUint32(a uintptr) uint32 {
	return volatile.LoadUint32((*uint32)(unsafe.Pointer(a)))
}
func (hardware) StoreUint32(a uintptr, v uint32) {
	volatile.StoreUint32((*uint32)(unsafe.Pointer(a)), v)
}
func (hardware) LoadUint16(a uintptr) uint16 {
	return volatile.LoadUint16((*uint16)(unsafe.Pointer(a)))
}
func (hardware) StoreUint16(a uintptr, v uint16) {
	volatile.StoreUint16((*uint16)(unsafe.Pointer(a)), v)
}
func (hardware) LoadUint8(a uintptr) uint8     { return volatile.LoadUint8((*uint8)(unsafe.Pointer(a))) }
func (hardware) StoreUint8(a uintptr, v uint8) { volatile.StoreUint8((*uint8)(unsafe.Pointer(a)), v) }

// Bytes returns the window as a slice aliasing the mapped memory. Only
// valid while the mapping is active.
func (w Window) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(w.base)), w.size)
}
