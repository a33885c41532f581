package kfmt

import (
	"bytes"
	"io"
)

// historySize is the number of log records kept by a logHistory.
const historySize = 256

// logHistory is a ring of the most recent log records, one line each. While
// no output sink is attached new records are also marked pending so they can
// be replayed once a sink shows up. When the ring is full the oldest record
// is overwritten.
type logHistory struct {
	records     [historySize][]byte
	head, count int

	// pending counts the newest records that no sink has seen yet.
	pending int

	// dropped counts records overwritten since boot.
	dropped int

	// partial holds a record whose line feed has not been written yet.
	partial []byte

	// live is set while the records are also delivered to a sink.
	live bool
}

// Write splits p into line records and appends them to the history.
func (h *logHistory) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			h.partial = append(h.partial, p...)
			break
		}

		h.push(append(h.partial, p[:idx+1]...))
		h.partial, p = nil, p[idx+1:]
	}

	return n, nil
}

func (h *logHistory) push(rec []byte) {
	if h.count == historySize {
		h.records[h.head] = rec
		h.head = (h.head + 1) % historySize
		h.dropped++
	} else {
		h.records[(h.head+h.count)%historySize] = rec
		h.count++
	}

	if !h.live && h.pending < h.count {
		h.pending++
	}
}

// record returns the i-th oldest retained record.
func (h *logHistory) record(i int) []byte {
	return h.records[(h.head+i)%historySize]
}

// replay writes the pending records to w, oldest first. Records that were
// delivered stop being pending even if a later write fails.
func (h *logHistory) replay(w io.Writer) error {
	for ; h.pending > 0; h.pending-- {
		if _, err := w.Write(h.record(h.count - h.pending)); err != nil {
			return err
		}
	}

	return nil
}

// WriteTo writes every retained record to w, oldest first, without
// consuming them.
func (h *logHistory) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for i := 0; i < h.count; i++ {
		n, err := w.Write(h.record(i))
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// reset discards all records.
func (h *logHistory) reset() {
	*h = logHistory{live: h.live}
}
