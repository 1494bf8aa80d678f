package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic must be deferred directly. It logs a recovered panic with its
// stack and lets the goroutine return normally.
//
//	defer observability.RecoverPanic(logger, "invitation dispatch")
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback behaves like RecoverPanic and then runs callback,
// but only when a panic was recovered.
func RecoverPanicWithCallback(logger *Logger, where string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if callback != nil {
			callback(r)
		}
	}
}

func logPanic(logger *Logger, where string, r interface{}) {
	OrDefault(logger).WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
