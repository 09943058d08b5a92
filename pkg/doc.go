// Package pkg provides shared utilities for the f4core drivers.
//
// This package contains functionality used by every layer, from the
// register map up to the USB device framework:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors and typed bus-fault errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentRCC, "clocks frozen", "sysclk", clk.SYSCLK)
//
// # Errors
//
// Conditions are sentinel values; bus faults are small structs whose
// boolean fields mirror the status bits that produced them and which
// match their family sentinel:
//
//	var se pkg.SPIError
//	if errors.As(err, &se) && se.Overrun {
//	    // drain DR and SR to clear OVR
//	}
//	if errors.Is(err, pkg.ErrBusTimeout) {
//	    // a bounded spin-wait gave up
//	}
package pkg
