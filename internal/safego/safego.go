// Package safego launches background tasks that must outlive the request that
// started them without letting a panic take the process down.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/consejo-social/veeduria/internal/telemetry"
)

// Go runs fn in a new goroutine. A panic is recovered, logged with its stack
// and counted in background_panics_total under task.
func Go(task string, fn func()) {
	go Run(task, fn)
}

// Run calls fn on the current goroutine with the same recovery as Go. It
// reports whether fn returned normally.
func Run(task string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			telemetry.BackgroundPanicsTotal.WithLabelValues(task).Inc()
			slog.Error("recovered panic in background task",
				"task", task,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
	return true
}
