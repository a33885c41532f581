package config

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestFromCmdLine(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := FromCmdLine(map[string]string{"noquiet": "noquiet"})
		if err != nil {
			t.Fatal(err)
		}

		if cfg != Default() {
			t.Fatalf("expected default config; got %+v", cfg)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		cfg, err := FromCmdLine(map[string]string{
			"tick_ms":     "20",
			"time_slice":  "5",
			"tasks":       "16",
			"stack_pages": "8",
			"loglevel":    "debug",
		})
		if err != nil {
			t.Fatal(err)
		}

		if cfg.TickMS != 20 || cfg.TimeSlice != 5 || cfg.TaskCount != 16 || cfg.StackPages != 8 {
			t.Fatalf("expected overrides to be applied; got %+v", cfg)
		}

		if cfg.LogLevel != log.DebugLevel {
			t.Fatalf("expected log level to be debug; got %s", cfg.LogLevel)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		specs := []map[string]string{
			{"tick_ms": "fast"},
			{"tasks": "0"},
			{"time_slice": "-1"},
			{"loglevel": "chatty"},
		}

		for specIndex, spec := range specs {
			if _, err := FromCmdLine(spec); err != errInvalidValue {
				t.Errorf("[spec %d] expected to get errInvalidValue; got %v", specIndex, err)
			}
		}
	})
}
