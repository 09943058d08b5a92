// Package otgfs is the device mode driver of the STM32F4 USB OTG FS core.
//
// The core shares 320 words of packet memory between one receive FIFO and a
// transmit FIFO per IN endpoint. The receive FIFO is fixed at
// [RxFIFOWords]; each IN endpoint takes its share when it is allocated, and
// [HAL.Enable] writes the partition once.
//
// OUT packets and SETUP packets are drained from the receive FIFO by
// [HAL.Poll] into per-endpoint buffers; an OUT endpoint stays NAKed until
// its packet is taken with [HAL.Read]. The 48 MHz clock from PLLQ must be
// running before [HAL.Init].
package otgfs
