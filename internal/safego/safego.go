// Package safego launches named background goroutines that survive panics.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a new goroutine. A panic in fn is recovered and logged with the goroutine's
// name and stack instead of taking the process down.
func Go(name string, fn func()) {
	go Run(name, fn)
}

// Run calls fn on the current goroutine and recovers any panic. It reports whether fn
// returned normally.
func Run(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"goroutine", name,
				"panic", r,
				"stack", string(debug.Stack()))
			ok = false
		}
	}()
	fn()
	return true
}
