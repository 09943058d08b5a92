//go:build linux

package main

import "github.com/ardnew/f4core/pkg/linux/usbid"

var ids = usbid.New()

// db loads usb.ids on first use.
func db() *usbid.Database {
	ids.Load()
	return ids
}

func vendorName(vid uint16) string       { return db().LookupVendor(vid) }
func productName(vid, pid uint16) string { return db().LookupProduct(vid, pid) }
func className(c uint8) string           { return db().LookupClass(c) }
func subclassName(c, s uint8) string     { return db().LookupSubclass(c, s) }
