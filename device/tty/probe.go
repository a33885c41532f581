package tty

import (
	"io"
	"os"

	"github.com/zhangkepi/my-os/device"
)

// ConsoleOutput is the host stream backing the boot console. Setting it to
// nil disables console detection.
var ConsoleOutput io.Writer = os.Stdout

func probeForConsole() device.Driver {
	if ConsoleOutput == nil {
		return nil
	}
	return NewConsole("tty0", ConsoleOutput)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForConsole,
	})
}
