//go:build release
// +build release

package kfmt

// Assert is a no-op in release builds.
func Assert(cond bool, format string, args ...interface{}) {}
