package kfmt

import (
	"io"

	log "github.com/sirupsen/logrus"
)

var (
	// Log is the kernel logger. Every record is kept in history; until an
	// output sink is attached history is its only destination.
	Log = log.New()

	// history keeps the most recent log records and replays the ones
	// emitted before an output sink was attached.
	history logHistory
)

func init() {
	Log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})
	Log.SetOutput(&history)
	Log.SetLevel(log.InfoLevel)
}

// SetOutputSink sets the default target for the kernel log to w and replays
// the records that no sink has seen yet. Passing nil detaches the sink; the
// log is then only recorded in history until the next sink is attached.
func SetOutputSink(w io.Writer) {
	history.live = w != nil
	if w == nil {
		Log.SetOutput(&history)
		return
	}

	if err := history.replay(w); err != nil {
		Module("kfmt").WithError(err).Warn("[kfmt] unable to replay early log")
	}
	Log.SetOutput(io.MultiWriter(&history, w))
}

// GetOutputSink returns the writer that kernel log output currently goes to.
// Raw dumps written to it are recorded in history like any log record.
func GetOutputSink() io.Writer {
	return Log.Out
}

// WriteHistory writes the retained kernel log records to w, oldest first.
func WriteHistory(w io.Writer) (int64, error) {
	return history.WriteTo(w)
}

// DroppedRecords returns the number of log records that were overwritten
// because the history was full.
func DroppedRecords() int {
	return history.dropped
}

// Module returns a log entry tagged with the name of the kernel subsystem
// that emits it.
func Module(name string) *log.Entry {
	return Log.WithField("module", name)
}
