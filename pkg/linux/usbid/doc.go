//go:build linux

// Package usbid reads the usb.ids database shipped with usbutils so that
// descriptor dumps can print vendor, product and class names next to the
// numbers.
//
//	db := usbid.New()
//	if db.Load() {
//		fmt.Println(db.LookupVendor(0x0483)) // STMicroelectronics
//	}
//
// Load takes the first file found in DefaultPaths. Without one every lookup
// returns "", which callers print as nothing. Lookups may run concurrently
// with each other; Load and Parse take the write lock.
package usbid
