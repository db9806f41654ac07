// Package usb locates the serial port of a modem attached over USB by its
// vendor and product id
package usb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/LeoCommon/altcom/pkg/log"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

type Device struct {
	VendorID  uint16
	ProductID uint16
	// Serial selects one port of a composite device by the suffix of its
	// USB serial number, empty takes the first match
	Serial string
}

func (d Device) String() string {
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

func ParseHexUINT16(str string) (uint16, error) {
	val, err := strconv.ParseUint(str, 16, 16)
	if err != nil {
		return 0, err
	}

	return uint16(val), nil
}

// ParseDevice reads the "vid:pid" notation used by lsusb
func ParseDevice(s string) (Device, error) {
	vid, pid, ok := strings.Cut(s, ":")
	if !ok {
		return Device{}, fmt.Errorf("device %q is not vid:pid", s)
	}
	v, err := ParseHexUINT16(vid)
	if err != nil {
		return Device{}, fmt.Errorf("vendor id of %q: %w", s, err)
	}
	p, err := ParseHexUINT16(pid)
	if err != nil {
		return Device{}, fmt.Errorf("product id of %q: %w", s, err)
	}
	return Device{VendorID: v, ProductID: p}, nil
}

func (d Device) matches(port *enumerator.PortDetails) bool {
	if !port.IsUSB {
		return false
	}
	vid, err := ParseHexUINT16(port.VID)
	if err != nil {
		return false
	}
	pid, err := ParseHexUINT16(port.PID)
	if err != nil {
		return false
	}
	if vid != d.VendorID || pid != d.ProductID {
		return false
	}
	return d.Serial == "" || strings.HasSuffix(port.SerialNumber, d.Serial)
}

type PortLister func() ([]*enumerator.PortDetails, error)

// Finder searches the serial ports of the system, List defaults to the
// enumerator of go.bug.st/serial
type Finder struct {
	List PortLister
}

// FindSerialPort returns the name of the first port belonging to d
func (f Finder) FindSerialPort(d Device) (string, error) {
	list := f.List
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}

	ports, err := list()
	if err != nil {
		log.Error("error while enumerating serial ports", zap.Error(err))
		return "", err
	}

	for _, port := range ports {
		if d.matches(port) {
			log.Info("found modem port", zap.String("device", d.String()), zap.String("port", port.Name))
			return port.Name, nil
		}
		log.Debug("skipping serial port", zap.String("port", port.Name), zap.String("vid", port.VID), zap.String("pid", port.PID))
	}
	return "", NewNotFoundError(fmt.Sprintf("no serial port for usb device %s", d))
}
