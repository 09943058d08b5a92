// Package hal defines the controller contract of the USB device stack.
//
// The stack owns the USB protocol; a [DeviceHAL] moves packets and reports
// bus events. The contract follows a poll model suited to bare metal: the
// application calls the stack's Poll from its main loop or from the USB
// interrupt handler, the stack calls [DeviceHAL.Poll], and every read or
// write returns at once with ErrWouldBlock when the controller is not
// ready.
//
// # Implementing a HAL
//
//  1. Init resets the controller and leaves it detached.
//  2. AllocEndpoint reserves endpoint numbers and packet memory while the
//     classes are constructed.
//  3. Enable partitions the packet memory once and attaches.
//  4. Poll drains the controller's receive queue into per-endpoint
//     buffers and reports what happened as a [PollResult].
//
// The OTG FS controller of the STM32F4 is implemented in
// [github.com/ardnew/f4core/device/hal/otgfs].
package hal
