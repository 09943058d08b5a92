// Package cdc implements the USB Communications Device Class (CDC)
// Abstract Control Model, the class hosts bind to a virtual serial port.
//
// A CDC-ACM function consists of two interfaces grouped by an interface
// association descriptor:
//
//   - Control Interface (Communications Class): Handles CDC-specific requests
//     like SET_LINE_CODING and SET_CONTROL_LINE_STATE, and carries the
//     SERIAL_STATE notification endpoint
//   - Data Interface (Data Class): Handles bulk data transfer via IN and OUT
//     endpoints
//
// # Usage
//
//	alloc := device.NewAllocator(h)
//	acm, err := cdc.New(alloc, cdc.Config{Name: "Console"})
//	...
//	stack, err := device.New(alloc, device.Config{Product: "f4 serial"})
//	...
//	for {
//	    stack.Poll(acm)
//	    n, err := acm.Read(buf)
//	    if err == nil {
//	        acm.Write(buf[:n])
//	    }
//	}
//
// Read and Write fail with pkg.ErrWouldBlock instead of waiting; data
// moves between the buffers and the endpoints during Stack.Poll.
package cdc
