// Package tty provides the boot console driver: a line-disciplined terminal
// bound to the host output stream.
package tty

import (
	"fmt"
	"io"

	"github.com/zhangkepi/my-os/kernel"
	"github.com/zhangkepi/my-os/kernel/vfs"
)

// Console is a terminal device driver. Once initialized it can be mounted
// as a character device and used as the kernel log sink.
type Console struct {
	*vfs.TTY

	out io.Writer
}

// NewConsole returns a console named name that writes to out.
func NewConsole(name string, out io.Writer) *Console {
	return &Console{TTY: vfs.NewTTY(name, out), out: out}
}

// DriverVersion implements device.Driver.
func (c *Console) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit implements device.Driver.
func (c *Console) DriverInit(w io.Writer) *kernel.Error {
	if c.out == nil {
		return errNoOutput
	}

	fmt.Fprintf(w, "line discipline ready, echo on\n")
	return nil
}

// LogWriter returns an io.Writer that sends kernel log output to the
// console.
func (c *Console) LogWriter() io.Writer {
	return logWriter{c}
}

type logWriter struct {
	cons *Console
}

func (w logWriter) Write(p []byte) (int, error) {
	n, err := w.cons.TTY.Write(p)
	if err != nil {
		return n, err
	}
	return n, nil
}

var errNoOutput = &kernel.Error{Module: "tty", Message: "console has no output stream"}
