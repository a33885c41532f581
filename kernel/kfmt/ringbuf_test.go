package kfmt

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestLogHistoryRecords(t *testing.T) {
	var h logHistory

	// logrus emits whole lines but raw dumps may arrive in pieces
	for _, chunk := range []string{"level=info msg=\"[boot] ", "ram ok\"\nlevel=info", " msg=\"[boot] idle\"\n", "[fault] EAX"} {
		if n, err := h.Write([]byte(chunk)); err != nil || n != len(chunk) {
			t.Fatalf("expected Write to accept %d bytes; got %d, %v", len(chunk), n, err)
		}
	}

	if h.count != 2 || h.pending != 2 {
		t.Fatalf("expected 2 complete records, all pending; got %d records, %d pending", h.count, h.pending)
	}

	var buf bytes.Buffer
	if _, err := h.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	exp := "level=info msg=\"[boot] ram ok\"\nlevel=info msg=\"[boot] idle\"\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected history:\n%q\ngot:\n%q", exp, got)
	}

	if h.pending != 2 {
		t.Error("expected WriteTo to leave pending records untouched")
	}

	h.Write([]byte(" = 00000000\n"))
	if got := string(h.record(2)); got != "[fault] EAX = 00000000\n" {
		t.Errorf("expected the partial record to be completed; got %q", got)
	}
}

func TestLogHistoryOverflow(t *testing.T) {
	var h logHistory

	total := historySize + 10
	for i := 0; i < total; i++ {
		fmt.Fprintf(&h, "record %d\n", i)
	}

	if h.count != historySize || h.dropped != 10 {
		t.Fatalf("expected %d records and 10 dropped; got %d records, %d dropped", historySize, h.count, h.dropped)
	}

	if h.pending != historySize {
		t.Fatalf("expected pending records to be capped at %d; got %d", historySize, h.pending)
	}

	specs := []struct {
		index int
		exp   string
	}{
		{0, "record 10\n"},
		{historySize / 2, fmt.Sprintf("record %d\n", 10+historySize/2)},
		{historySize - 1, fmt.Sprintf("record %d\n", total-1)},
	}

	for specIndex, spec := range specs {
		if got := string(h.record(spec.index)); got != spec.exp {
			t.Errorf("[spec %d] expected record %d to be %q; got %q", specIndex, spec.index, spec.exp, got)
		}
	}
}

func TestLogHistoryReplay(t *testing.T) {
	var h logHistory
	fmt.Fprint(&h, "early 1\nearly 2\n")

	t.Run("sink error keeps the record pending", func(t *testing.T) {
		expErr := errors.New("console gone")
		if err := h.replay(writerThatAlwaysErrors{expErr}); err != expErr {
			t.Fatalf("expected error %v; got %v", expErr, err)
		}

		if h.pending != 2 {
			t.Fatalf("expected both records to stay pending; got %d", h.pending)
		}
	})

	t.Run("replay once", func(t *testing.T) {
		var buf bytes.Buffer
		if err := h.replay(&buf); err != nil {
			t.Fatal(err)
		}

		if got := buf.String(); got != "early 1\nearly 2\n" {
			t.Fatalf("expected the early records to be replayed; got %q", got)
		}

		buf.Reset()
		h.live = true
		fmt.Fprint(&h, "live\n")
		if err := h.replay(&buf); err != nil || buf.Len() != 0 {
			t.Fatalf("expected delivered records not to be replayed again; got %q, %v", buf.String(), err)
		}
	})

	t.Run("records logged while detached", func(t *testing.T) {
		var buf bytes.Buffer
		h.live = false
		fmt.Fprint(&h, "detached\n")

		if err := h.replay(&buf); err != nil || buf.String() != "detached\n" {
			t.Fatalf("expected only the detached record to be replayed; got %q, %v", buf.String(), err)
		}
	})

	h.reset()
	if h.count != 0 || h.pending != 0 || h.dropped != 0 {
		t.Error("expected reset to discard all records")
	}
}

type writerThatAlwaysErrors struct {
	err error
}

func (w writerThatAlwaysErrors) Write(_ []byte) (int, error) {
	return 0, w.err
}
