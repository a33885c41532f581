package kfmt

import (
	"bytes"
	"fmt"
	"io"
)

// PrefixWriter is an io.Writer that tags every line sent to Sink with
// Prefix. Blank lines receive the prefix without its trailing blanks.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set when the last write did not end with a line feed.
	midLine bool
}

// NewPrefixWriter returns a PrefixWriter for sink whose prefix is built from
// format and args.
func NewPrefixWriter(sink io.Writer, format string, args ...interface{}) *PrefixWriter {
	return &PrefixWriter{Sink: sink, Prefix: []byte(fmt.Sprintf(format, args...))}
}

// Write sends p to the sink, injecting the prefix at the start of each line.
// The returned count covers the bytes of p only.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		line := p
		if idx := bytes.IndexByte(p, '\n'); idx >= 0 {
			line = p[:idx+1]
		}

		if !w.midLine {
			prefix := w.Prefix
			if line[0] == '\n' {
				prefix = bytes.TrimRight(prefix, " \t")
			}

			if _, err := w.Sink.Write(prefix); err != nil {
				return written, err
			}
		}

		n, err := w.Sink.Write(line)
		written += n
		if err != nil {
			return written, err
		}

		w.midLine = line[len(line)-1] != '\n'
		p = p[len(line):]
	}

	return written, nil
}
