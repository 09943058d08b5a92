// Package device implements a USB 2.0 full speed device stack for bare
// metal.
//
// The stack is platform-agnostic and reaches the hardware through the
// [hal.DeviceHAL] interface of [github.com/ardnew/f4core/device/hal]. It
// follows a poll model: nothing runs in the background, and the
// application calls [Stack.Poll] from its main loop or from the USB
// interrupt handler.
//
// # Architecture
//
//   - [Allocator] hands out interface numbers, string indices and
//     endpoints while classes are constructed
//   - [Class] is a USB function: it writes descriptors and answers the
//     control requests and endpoint events addressed to it
//   - [Stack] owns the device state, assembles the standard descriptors,
//     answers standard requests and runs the control endpoint
//
// # Device States
//
//	Powered → Default → Addressed → Configured
//
// A bus reset returns to Default from any state. Suspend is entered from
// any state and resumes to the state it was entered from.
//
// # Control Requests
//
// Every control request is offered to the classes in the order they are
// passed to Poll, then to the standard request handler. A request nobody
// accepts is answered with STALL. Data stages longer than
// [MaxControlDataSize] are refused.
//
// # Example
//
//	h := otgfs.New(mcu)
//	if err := h.Init(ctx); err != nil {
//	    return err
//	}
//	alloc := device.NewAllocator(h)
//	fn, err := raw.New(alloc, raw.Config{})
//	if err != nil {
//	    return err
//	}
//	stack, err := device.New(alloc, device.Config{
//	    VendorID:  device.PlaceholderVID,
//	    ProductID: device.PlaceholderPID,
//	    Product:   "f4core",
//	})
//	if err != nil {
//	    return err
//	}
//	for {
//	    stack.Poll(fn)
//	}
//
// All buffers are fixed arrays inside the Stack; nothing is allocated
// after New.
package device
