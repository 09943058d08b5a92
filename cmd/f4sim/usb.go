package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ardnew/f4core/board"
	"github.com/ardnew/f4core/chip"
	"github.com/ardnew/f4core/device"
	"github.com/ardnew/f4core/device/class/cdc"
	"github.com/ardnew/f4core/device/class/raw"
	"github.com/ardnew/f4core/device/class/webusb"
	"github.com/ardnew/f4core/device/class/winusb"
	"github.com/ardnew/f4core/device/hal/otgfs"
	"github.com/ardnew/f4core/pkg"
	"github.com/ardnew/f4core/sim"
)

var (
	usbOpts = struct {
		class   string
		address uint8
		landing string
		echo    string
	}{class: "winusb", address: 5}

	usbCmd = &cobra.Command{
		Use:   "usb",
		Short: "Enumerate a device function and dump its descriptors",
		Long: `Build a USB device on the OTG_FS controller, enumerate it with the
simulated host and print the descriptors the host read, lsusb style.

Classes: acm, winusb, raw and webusb (a raw interface with a WebUSB landing page).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, s := cur.fresh()
			return enumerate(m, s, cur.board, usbOpts.class, cur.out)
		},
	}
)

func init() {
	f := usbCmd.Flags()
	f.StringVarP(&usbOpts.class, "class", "c", usbOpts.class, "device function: acm, winusb, raw or webusb")
	f.Uint8VarP(&usbOpts.address, "address", "a", usbOpts.address, "address the host assigns")
	f.StringVar(&usbOpts.landing, "landing", "https://github.com/ardnew/f4core", "WebUSB landing page")
	f.StringVarP(&usbOpts.echo, "echo", "e", "ping", "data sent through the function and back, none when empty")
	rootCmd.AddCommand(usbCmd)
}

// rw is the data side every function offers.
type rw interface {
	io.Reader
	io.Writer
}

func buildFunction(alloc *device.Allocator, class string) ([]device.Class, rw, bool, error) {
	switch class {
	case "acm":
		a, err := cdc.New(alloc, cdc.Config{Name: "f4core console"})
		return []device.Class{a}, a, true, err
	case "winusb":
		w, err := winusb.New(alloc, winusb.Config{
			GUID:          "{88BAE032-5A81-49F0-BC3D-A4FF138216D6}",
			Name:          "f4core bulk",
			MaxPacketSize: 64,
		})
		return []device.Class{w}, w, false, err
	case "raw", "webusb":
		r, err := raw.New(alloc, raw.Config{Name: "f4core raw"})
		if err != nil || class == "raw" {
			return []device.Class{r}, r, false, err
		}
		wu, err := webusb.New(webusb.Config{URL: usbOpts.landing})
		return []device.Class{r, wu}, r, false, err
	}
	return nil, nil, false, fmt.Errorf("usb class %q: %w", class, pkg.ErrNotSupported)
}

func enumerate(m *chip.MCU, s *sim.Machine, b *board.Board, class string, w io.Writer) error {
	if _, err := b.Configure(m); err != nil {
		return err
	}
	h := otgfs.New(m)
	if err := h.Init(context.Background()); err != nil {
		return err
	}
	alloc := device.NewAllocator(h)
	classes, data, composite, err := buildFunction(alloc, class)
	if err != nil {
		return err
	}
	stack, err := device.New(alloc, device.Config{
		VendorID:     device.PlaceholderVID,
		ProductID:    device.PlaceholderPID,
		Manufacturer: "ardnew",
		Product:      "f4core " + class,
		SerialNumber: "0001",
		Composite:    composite,
		RemoteWakeup: true,
	})
	if err != nil {
		return err
	}
	host := s.USBHost()
	host.Service = func() { stack.Poll(classes...) }
	e, err := host.Enumerate(usbOpts.address)
	if err != nil {
		return err
	}
	if err := dump(w, e); err != nil {
		return err
	}
	fmt.Fprintf(w, "Device Status: %v at address %d\n", stack.State(), stack.Address())

	if usbOpts.echo == "" {
		return nil
	}
	out, in := dataEndpoints(e.Configuration)
	if out == 0 || in == 0 {
		return nil
	}
	if err := host.Out(out&0x0F, []byte(usbOpts.echo)); err != nil {
		return err
	}
	stack.Poll(classes...)
	buf := make([]byte, 64)
	n, err := data.Read(buf)
	if err != nil {
		return err
	}
	if _, err := data.Write(buf[:n]); err != nil {
		return err
	}
	got, err := host.In(in & 0x0F)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Echo: EP 0x%02x -> EP 0x%02x %q\n", out, in, got)
	if !bytes.Equal(got, []byte(usbOpts.echo)) {
		return fmt.Errorf("echo returned %q", got)
	}
	return nil
}

// dataEndpoints picks the OUT and IN endpoints carrying data, preferring
// bulk endpoints over interrupt ones.
func dataEndpoints(config []byte) (out, in uint8) {
	var outBulk, inBulk bool
	device.Walk(config, func(typ uint8, d []byte) bool {
		if typ != device.DescriptorTypeEndpoint {
			return true
		}
		ep, err := device.ParseEndpointDescriptor(d)
		if err != nil {
			return true
		}
		bulk := ep.Attributes&3 == 2
		if ep.EndpointAddress&0x80 != 0 {
			if in == 0 || bulk && !inBulk {
				in, inBulk = ep.EndpointAddress, bulk
			}
		} else if out == 0 || bulk && !outBulk {
			out, outBulk = ep.EndpointAddress, bulk
		}
		return true
	})
	return out, in
}

func bcd(v uint16) string { return fmt.Sprintf("%x.%02x", v>>8, v&0xFF) }

func named(v uint8, name string) string {
	if name == "" {
		return fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("%d %s", v, name)
}

var transferTypes = [4]string{"Control", "Isochronous", "Bulk", "Interrupt"}

// dump prints an enumeration the way lsusb -v prints a device.
func dump(w io.Writer, e *sim.Enumeration) error {
	d, err := device.ParseDeviceDescriptor(e.Device)
	if err != nil {
		return err
	}
	str := func(i uint8) string {
		if i == 0 {
			return "0"
		}
		return fmt.Sprintf("%d %s", i, e.Strings[i])
	}
	fmt.Fprintf(w, "Device %03d: ID %04x:%04x %s %s\n", e.Address, d.VendorID, d.ProductID,
		vendorName(d.VendorID), productName(d.VendorID, d.ProductID))
	fmt.Fprintln(w, "Device Descriptor:")
	fmt.Fprintf(w, "  bcdUSB             %s\n", bcd(d.USBVersion))
	fmt.Fprintf(w, "  bDeviceClass       %s\n", named(d.DeviceClass, className(d.DeviceClass)))
	fmt.Fprintf(w, "  bDeviceSubClass    %s\n", named(d.DeviceSubClass, subclassName(d.DeviceClass, d.DeviceSubClass)))
	fmt.Fprintf(w, "  bDeviceProtocol    %d\n", d.DeviceProtocol)
	fmt.Fprintf(w, "  bMaxPacketSize0    %d\n", d.MaxPacketSize0)
	fmt.Fprintf(w, "  idVendor           0x%04x\n", d.VendorID)
	fmt.Fprintf(w, "  idProduct          0x%04x\n", d.ProductID)
	fmt.Fprintf(w, "  bcdDevice          %s\n", bcd(d.DeviceVersion))
	fmt.Fprintf(w, "  iManufacturer      %s\n", str(d.ManufacturerIndex))
	fmt.Fprintf(w, "  iProduct           %s\n", str(d.ProductIndex))
	fmt.Fprintf(w, "  iSerial            %s\n", str(d.SerialNumberIndex))
	fmt.Fprintf(w, "  bNumConfigurations %d\n", d.NumConfigurations)

	var derr error
	err = device.Walk(e.Configuration, func(typ uint8, b []byte) bool {
		switch typ {
		case device.DescriptorTypeConfiguration:
			c, err := device.ParseConfigurationDescriptor(b)
			if derr = err; err != nil {
				return false
			}
			fmt.Fprintln(w, "  Configuration Descriptor:")
			fmt.Fprintf(w, "    wTotalLength       0x%04x\n", c.TotalLength)
			fmt.Fprintf(w, "    bNumInterfaces     %d\n", c.NumInterfaces)
			fmt.Fprintf(w, "    bConfigurationValue %d\n", c.ConfigurationValue)
			fmt.Fprintf(w, "    bmAttributes       0x%02x\n", c.Attributes)
			if c.Attributes&device.ConfigAttrSelfPowered != 0 {
				fmt.Fprintln(w, "      Self Powered")
			}
			if c.Attributes&device.ConfigAttrRemoteWakeup != 0 {
				fmt.Fprintln(w, "      Remote Wakeup")
			}
			fmt.Fprintf(w, "    MaxPower           %dmA\n", 2*int(c.MaxPower))
		case device.DescriptorTypeInterfaceAssociation:
			fmt.Fprintln(w, "    Interface Association:")
			fmt.Fprintf(w, "      bFirstInterface    %d\n", b[2])
			fmt.Fprintf(w, "      bInterfaceCount    %d\n", b[3])
			fmt.Fprintf(w, "      bFunctionClass     %s\n", named(b[4], className(b[4])))
		case device.DescriptorTypeInterface:
			i, err := device.ParseInterfaceDescriptor(b)
			if derr = err; err != nil {
				return false
			}
			fmt.Fprintln(w, "    Interface Descriptor:")
			fmt.Fprintf(w, "      bInterfaceNumber   %d\n", i.InterfaceNumber)
			fmt.Fprintf(w, "      bAlternateSetting  %d\n", i.AlternateSetting)
			fmt.Fprintf(w, "      bNumEndpoints      %d\n", i.NumEndpoints)
			fmt.Fprintf(w, "      bInterfaceClass    %s\n", named(i.InterfaceClass, className(i.InterfaceClass)))
			fmt.Fprintf(w, "      bInterfaceSubClass %s\n", named(i.InterfaceSubClass, subclassName(i.InterfaceClass, i.InterfaceSubClass)))
			fmt.Fprintf(w, "      bInterfaceProtocol %d\n", i.InterfaceProtocol)
			fmt.Fprintf(w, "      iInterface         %s\n", str(i.InterfaceIndex))
		case device.DescriptorTypeEndpoint:
			ep, err := device.ParseEndpointDescriptor(b)
			if derr = err; err != nil {
				return false
			}
			dir := "OUT"
			if ep.EndpointAddress&0x80 != 0 {
				dir = "IN"
			}
			fmt.Fprintln(w, "      Endpoint Descriptor:")
			fmt.Fprintf(w, "        bEndpointAddress 0x%02x  EP %d %s\n", ep.EndpointAddress, ep.EndpointAddress&0x0F, dir)
			fmt.Fprintf(w, "        bmAttributes     %d %s\n", ep.Attributes, transferTypes[ep.Attributes&3])
			fmt.Fprintf(w, "        wMaxPacketSize   0x%04x\n", ep.MaxPacketSize)
			fmt.Fprintf(w, "        bInterval        %d\n", ep.Interval)
		case device.DescriptorTypeCSInterface:
			fmt.Fprintf(w, "      Class-specific Interface: subtype 0x%02x, % x\n", b[2], b[3:])
		}
		return true
	})
	if err == nil {
		err = derr
	}
	if err != nil {
		return err
	}
	return dumpBOS(w, e.BOS)
}

func dumpBOS(w io.Writer, bos []byte) error {
	if len(bos) == 0 {
		return nil
	}
	fmt.Fprintln(w, "Binary Object Store Descriptor:")
	fmt.Fprintf(w, "  wTotalLength       0x%04x\n", binary.LittleEndian.Uint16(bos[2:]))
	fmt.Fprintf(w, "  bNumDeviceCaps     %d\n", bos[4])
	return device.Walk(bos, func(typ uint8, b []byte) bool {
		if typ != device.DescriptorTypeDeviceCapability || len(b) < 3 {
			return true
		}
		switch b[2] {
		case device.CapabilityUSB20Extension:
			fmt.Fprintln(w, "  USB 2.0 Extension Device Capability:")
			fmt.Fprintf(w, "    bmAttributes     0x%08x\n", binary.LittleEndian.Uint32(b[3:]))
		case device.CapabilityPlatform:
			var uuid device.UUID
			copy(uuid[:], b[4:20])
			fmt.Fprintln(w, "  Platform Device Capability:")
			fmt.Fprintf(w, "    PlatformCapabilityUUID %s\n", platformName(uuid))
			fmt.Fprintf(w, "    CapabilityData   % x\n", b[20:])
		default:
			fmt.Fprintf(w, "  Capability 0x%02x: % x\n", b[2], b[3:])
		}
		return true
	})
}

func platformName(u device.UUID) string {
	switch u {
	case winusb.PlatformUUID:
		return "{" + u.String() + "} (Microsoft OS 2.0)"
	case webusb.PlatformUUID:
		return "{" + u.String() + "} (WebUSB)"
	}
	return "{" + u.String() + "}"
}
