// Package shutdown coordinates graceful process termination: a single
// start() triggered by SIGINT, SIGTERM (unless suppressed), POST
// /shutdown, or a SetupFailed health transition, fanned out to every
// long-lived task in the process.
//
// The signal plumbing is grounded on Pepperjack's cmd/server/signals.go
// and signals_unix.go (a portable os.Interrupt baseline extended with
// SIGTERM via a unix-only build-tagged init()); the single-start,
// many-waiters shape is grounded on original_source/src/shutdown.rs's
// Shutdown/Agent split, translated from a tokio mpsc channel to a
// closed-once Go channel. Run fans tasks out with
// golang.org/x/sync/errgroup, the way the rest of the pack reaches for
// errgroup instead of hand-rolled WaitGroups; cmd/cogrunner passes it the
// HTTP server's listen and graceful-shutdown tasks, and the Worker's
// predict loop is not one of them.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Coordinator is constructed at most once per process; Start is
// idempotent and safe to call from multiple goroutines (a signal
// handler, an HTTP handler, and the Worker's setup-failure path may all
// race to call it).
type Coordinator struct {
	Logger *logrus.Logger

	once sync.Once
	done chan struct{}
}

// New builds a Coordinator. awaitExplicitShutdown suppresses SIGTERM as
// a trigger, matching --await-explicit-shutdown: only SIGINT or an
// explicit Start() (via /shutdown or a SetupFailed transition) will
// fire it.
func New(awaitExplicitShutdown bool, logger *logrus.Logger) *Coordinator {
	c := &Coordinator{
		Logger: logger,
		done:   make(chan struct{}),
	}
	c.watchSignals(awaitExplicitShutdown)
	return c
}

// watchSignals installs the OS signal handlers and starts the
// background goroutine that turns the first one received into a Start.
func (c *Coordinator) watchSignals(awaitExplicitShutdown bool) {
	sigs := []os.Signal{os.Interrupt}
	if !awaitExplicitShutdown {
		sigs = append(sigs, syscall.SIGTERM)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		c.logf("shutdown signal received", sig)
		c.Start()
	}()
}

// Start triggers shutdown. Only the first call has any effect; later
// calls (another signal, a second /shutdown POST, a SetupFailed
// transition racing a signal) are silently absorbed.
func (c *Coordinator) Start() {
	c.once.Do(func() {
		c.logf("shutdown requested", nil)
		close(c.done)
	})
}

// Done returns a channel that closes exactly once, when shutdown has
// been triggered. Every long-lived task in the process selects on it
// alongside its own work.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run starts every task concurrently via errgroup, derives a context
// that is canceled the moment Done() closes, and waits for all tasks to
// return. The first non-nil task error fails the group, cancels the
// remaining tasks' context early, and is what Run returns — the same
// early-exit behavior errgroup.WithContext gives every other caller in
// the pack. A task that returns ctx.Err() on shutdown therefore makes
// Run return context.Canceled.
func (c *Coordinator) Run(parent context.Context, tasks ...func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}
	return g.Wait()
}

func (c *Coordinator) logf(msg string, sig os.Signal) {
	if c.Logger == nil {
		return
	}
	entry := c.Logger.WithField("component", "shutdown")
	if sig != nil {
		entry = entry.WithField("signal", sig.String())
	}
	entry.Info(msg)
}
