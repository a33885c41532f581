// Package config holds the tunable kernel parameters.
package config

import (
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
)

// Config holds the tunable kernel parameters.
type Config struct {
	// TickMS is the timer period in milliseconds.
	TickMS int

	// TimeSlice is the default number of ticks a task runs before it is
	// rotated to the tail of the ready list.
	TimeSlice int

	// TaskCount is the capacity of the task table.
	TaskCount int

	// TaskNameSize bounds the length of task names (including the
	// terminating NUL of the C ABI).
	TaskNameSize int

	// TaskBase is the user/kernel split. Addresses below it are shared by
	// every address space; user mappings live at or above it.
	TaskBase uintptr

	// StackTop is the top of the user stack and StackPages its size.
	StackTop   uintptr
	StackPages int

	// ArgPages is the size of the argument block reserved at the top of
	// the user stack.
	ArgPages int

	// FirstTaskPages is the size of the area backing the first task image.
	FirstTaskPages int

	// GDTSize is the number of descriptor slots.
	GDTSize int

	// LogLevel is the kernel log verbosity.
	LogLevel log.Level
}

var errInvalidValue = &kernel.Error{Module: "config", Message: "invalid command line value"}

// Default returns the stock kernel configuration.
func Default() Config {
	return Config{
		TickMS:         10,
		TimeSlice:      10,
		TaskCount:      128,
		TaskNameSize:   32,
		TaskBase:       0x80000000,
		StackTop:       0xE0000000,
		StackPages:     500,
		ArgPages:       4,
		FirstTaskPages: 10,
		GDTSize:        256,
		LogLevel:       log.InfoLevel,
	}
}

// FromCmdLine returns the default configuration overridden by the values
// found in the kernel command line key-value pairs. Unknown keys are
// ignored.
func FromCmdLine(kv map[string]string) (Config, *kernel.Error) {
	cfg := Default()

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{"tick_ms", &cfg.TickMS, 1},
		{"time_slice", &cfg.TimeSlice, 1},
		{"tasks", &cfg.TaskCount, 1},
		{"stack_pages", &cfg.StackPages, 1},
		{"arg_pages", &cfg.ArgPages, 1},
	}

	for _, opt := range ints {
		value, ok := kv[opt.key]
		if !ok {
			continue
		}

		n, err := strconv.Atoi(value)
		if err != nil || n < opt.min {
			return cfg, errInvalidValue
		}
		*opt.dst = n
	}

	if value, ok := kv["loglevel"]; ok {
		level, err := log.ParseLevel(value)
		if err != nil {
			return cfg, errInvalidValue
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}
