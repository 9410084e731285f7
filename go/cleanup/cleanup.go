// Package cleanup provides a shared graceful-shutdown mechanism: a context
// that is canceled on SIGINT/SIGTERM, periodic tick functions that are
// stopped on shutdown, and functions to run at exit.
package cleanup

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.pixelhawk.org/hawk/go/sklog"
	"go.pixelhawk.org/hawk/go/util"
)

var (
	mutex     sync.Mutex
	cancel    context.CancelFunc
	ctx       context.Context
	wg        sync.WaitGroup
	atExitFns []func()
	enabled   bool
)

func init() {
	resetContext()
}

// resetContext is in a non-init function for testing purposes.
func resetContext() {
	newContext, newCancel := context.WithCancel(context.Background())
	ctx = newContext
	cancel = newCancel
}

// Enable installs the signal handler. Called by common.InitWithMust; safe to
// call more than once.
func Enable() {
	mutex.Lock()
	defer mutex.Unlock()
	if enabled {
		return
	}
	enabled = true
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		sklog.Warningf("Caught %s", sig)
		Cleanup()
		sklog.Flush()
		os.Exit(0)
	}()
}

// Context returns a context which is canceled when a shutdown signal arrives
// or Cleanup is called.
func Context() context.Context {
	return ctx
}

// AtExit registers a function to run when Cleanup is called.
func AtExit(fn func()) {
	mutex.Lock()
	defer mutex.Unlock()
	atExitFns = append(atExitFns, fn)
}

// Repeat runs the tick function immediately and on the given timer. When
// Cleanup is called, the optional cleanup function is run after waiting for
// the tick function to finish.
func Repeat(tickFrequency time.Duration, tick, cleanup func()) {
	wg.Add(1)
	go func() {
		// Returns after ctx is canceled AND tick is finished.
		util.RepeatCtx(tickFrequency, ctx, tick)
		if cleanup != nil {
			cleanup()
		}
		wg.Done()
	}()
}

// Cleanup cancels all tick functions registered via Repeat, waits for them to
// fully stop running, then runs the AtExit functions.
func Cleanup() {
	sklog.Warningf("Shutdown request received")
	cancel()
	wg.Wait()
	mutex.Lock()
	fns := atExitFns
	atExitFns = nil
	mutex.Unlock()
	for _, fn := range fns {
		fn()
	}
	sklog.Warningf("Finished clean shutdown procedure.")
	resetContext()
}
