//go:build !linux

package main

// Without a usb.ids database the dump shows numbers only.

func vendorName(uint16) string          { return "" }
func productName(uint16, uint16) string { return "" }
func className(uint8) string            { return "" }
func subclassName(uint8, uint8) string  { return "" }
