// internal/recovery/recovery.go
package recovery

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// ErrPanic is wrapped by the error Guard returns after a panic
var ErrPanic = errors.New("panic")

// HandlePanic should be deferred at the top of main().
// It logs panic details and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("FATAL: %v", r)
		os.Exit(1)
	}
}

// Guard runs fn and turns a panic inside it into an error carrying the
// panic value and stack, so one failing worker cannot take down the others.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n\nStack trace:\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn()
}
