package go_func_utils

import (
	"log"
	"runtime/debug"
	"sync"
)

// SafeGo runs fn on a new goroutine. A panic is written to logger together
// with its stack before being re-raised, so it is not lost when stderr is
// owned by the terminal dashboard.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}

// SafeGoWG is SafeGo with wg.Add/Done bookkeeping around fn.
func SafeGoWG(wg *sync.WaitGroup, logger *log.Logger, fn func()) {
	wg.Add(1)
	SafeGo(logger, func() {
		defer wg.Done()
		fn()
	})
}

// Recover logs a recovered panic and swallows it. Use as `defer Recover(logger, "what")`
// in loops that must survive a misbehaving callback.
func Recover(logger *log.Logger, what string) {
	if r := recover(); r != nil {
		logger.Printf("PANIC in %s (recovered): %v\n%s", what, r, debug.Stack())
	}
}
