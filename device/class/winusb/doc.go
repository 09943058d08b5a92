// Package winusb publishes Microsoft OS 2.0 descriptors so Windows binds
// the WinUSB driver to a device, or to chosen functions of a composite
// device, without an INF file.
//
// The device advertises a platform capability in its BOS carrying the
// vendor code and the length of the descriptor set. Windows then issues a
// vendor request with that code and wIndex 7 and reads the set, which
// holds a WINUSB compatible ID and optionally a DeviceInterfaceGUIDs
// registry property.
//
// A single-interface device uses New, which also provides the vendor
// interface. A composite device builds a FunctionSet naming the first
// interface of each function and polls NewDescriptors beside its classes:
//
//	set, err := winusb.FunctionSet(
//	    winusb.Function{Interface: a.Interface()},
//	    winusb.Function{Interface: b.Interface(), GUID: guid},
//	)
//	...
//	ms := winusb.NewDescriptors(winusb.DefaultVendorCode, set)
//	stack.Poll(a, b, ms)
package winusb
