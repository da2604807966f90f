package dispatcher

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Launcher runs jobs outside the dispatch loop
type Launcher interface {
	// Launch starts fn and returns without waiting for it
	Launch(fn func())
	// Wait blocks until every launched job has returned
	Wait()
}

// NewLauncher returns an unbounded launcher for limit <= 0 and a pool of
// limit concurrent jobs otherwise
func NewLauncher(limit int, logger *slog.Logger) Launcher {
	if limit <= 0 {
		return NewGoLauncher(logger)
	}
	return NewPoolLauncher(limit, logger)
}

// GoLauncher starts one goroutine per job
type GoLauncher struct {
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewGoLauncher creates an unbounded launcher
func NewGoLauncher(logger *slog.Logger) *GoLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoLauncher{logger: logger}
}

// Launch implements Launcher
func (l *GoLauncher) Launch(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		runRecovered(fn, l.logger)
	}()
}

// Wait implements Launcher
func (l *GoLauncher) Wait() {
	l.wg.Wait()
}

// PoolLauncher runs at most a fixed number of jobs at once. Jobs over the
// limit wait for a free slot; Launch itself never blocks.
type PoolLauncher struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPoolLauncher creates a launcher running up to limit jobs concurrently
func NewPoolLauncher(limit int, logger *slog.Logger) *PoolLauncher {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolLauncher{
		slots:  make(chan struct{}, limit),
		logger: logger,
	}
}

// Launch implements Launcher
func (l *PoolLauncher) Launch(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.slots <- struct{}{}
		defer func() { <-l.slots }()
		runRecovered(fn, l.logger)
	}()
}

// Wait implements Launcher
func (l *PoolLauncher) Wait() {
	l.wg.Wait()
}

// runRecovered runs fn and logs a panic instead of crashing the process
func runRecovered(fn func(), logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked",
				"component", "dispatcher",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
