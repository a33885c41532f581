package vfs

import (
	"io"

	"github.com/zhangkepi/my-os/kernel"
)

// TTY ioctl commands.
const (
	TTYCmdEcho = 1
)

// TTY is a terminal device. Output is written to an io.Writer with "\n"
// expanded to "\r\n"; input is queued with Feed and consumed one line at a
// time. Reading an empty input queue returns 0 bytes.
type TTY struct {
	name string
	out  io.Writer
	in   []byte
	echo bool
	crlf bool
}

// NewTTY returns a terminal writing its output to out.
func NewTTY(name string, out io.Writer) *TTY {
	return &TTY{name: name, out: out, echo: true, crlf: true}
}

// DriverName implements Device.
func (t *TTY) DriverName() string { return t.name }

// IsTTY implements Device.
func (t *TTY) IsTTY() bool { return true }

// Feed queues input as if it was typed on the keyboard.
func (t *TTY) Feed(input []byte) {
	t.in = append(t.in, input...)
}

// Write implements Device.
func (t *TTY) Write(p []byte) (int, *kernel.Error) {
	var written int
	for _, c := range p {
		var chunk []byte
		if c == '\n' && t.crlf {
			chunk = []byte{'\r', '\n'}
		} else {
			chunk = []byte{c}
		}

		if _, err := t.out.Write(chunk); err != nil {
			return written, &kernel.Error{Module: "tty", Message: err.Error()}
		}
		written++
	}

	return written, nil
}

// Read implements Device. It stops after a line terminator; DEL erases the
// previous character.
func (t *TTY) Read(p []byte) (int, *kernel.Error) {
	var n int
	for n < len(p) && len(t.in) > 0 {
		c := t.in[0]
		t.in = t.in[1:]

		switch c {
		case 0x7f:
			if n == 0 {
				continue
			}
			n--
		default:
			p[n] = c
			n++
		}

		if t.echo {
			if _, err := t.Write([]byte{c}); err != nil {
				return n, err
			}
		}

		if c == '\r' || c == '\n' {
			break
		}
	}

	return n, nil
}

// Ioctl implements Device.
func (t *TTY) Ioctl(cmd int, arg0, _ uint32) (int, *kernel.Error) {
	switch cmd {
	case TTYCmdEcho:
		t.echo = arg0 != 0
		return 0, nil
	default:
		return -1, ErrUnsupported
	}
}
