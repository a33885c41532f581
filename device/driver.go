// Package device keeps the registry of device drivers probed at boot.
package device

import (
	"io"

	"github.com/zhangkepi/my-os/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder controls the order in which registered drivers are probed.
type DetectOrder int

const (
	// DetectOrderEarly drivers are probed before anything else.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderBeforeACPI drivers are probed before the platform
	// firmware tables are parsed.
	DetectOrderBeforeACPI = -127

	// DetectOrderACPI drivers depend on the platform firmware tables.
	DetectOrderACPI = 0

	// DetectOrderLast drivers are probed after all other drivers.
	DetectOrderLast = 127
)

// DriverInfo describes a registered driver.
type DriverInfo struct {
	// Order specifies when the driver is probed.
	Order DetectOrder

	// Probe detects the device and returns its driver, or nil if the
	// device is not present.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface by detection order.
type DriverInfoList []*DriverInfo

// Len implements sort.Interface.
func (l DriverInfoList) Len() int { return len(l) }

// Less implements sort.Interface.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// Swap implements sort.Interface.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

var registeredDrivers DriverInfoList

// RegisterDriver adds info to the list of drivers probed at boot.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns a copy of the registered driver list.
func DriverList() DriverInfoList {
	return append(DriverInfoList(nil), registeredDrivers...)
}
