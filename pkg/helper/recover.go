package helper

import (
	"fmt"
	"runtime/debug"

	"github.com/huangyocai/mihomo-installer/pkg/logger"
)

// RecoverPanic recovers from a panic, logs the stack trace and, when errp is
// set, turns the panic into an error.
// Usage: defer helper.RecoverPanic(logger, "install", &err)
func RecoverPanic(log *logger.Logger, name string, errp *error) {
	if r := recover(); r != nil {
		log.Errorf("PANIC recovered in %s: %v\nStack: %s", name, r, debug.Stack())
		if errp != nil {
			*errp = fmt.Errorf("%s: panic: %v", name, r)
		}
	}
}
