//go:build !release
// +build !release

package kfmt

import (
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/zhangkepi/my-os/kernel"
)

var errAssertFailed = &kernel.Error{Module: "kfmt", Message: "assertion failed"}

// Assert halts the kernel if cond is false. Assertions guard kernel
// invariants and are compiled out of release builds.
func Assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}

	_, file, line, _ := runtime.Caller(1)
	Log.WithFields(log.Fields{
		"file": file,
		"line": line,
	}).Errorf("assert failed: %s", fmt.Sprintf(format, args...))

	Panic(errAssertFailed)
}
