package graceful

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Shutdownable is a target that can be closed gracefully
type Shutdownable interface {
	Shutdown(context.Context) error
}

// ShutdownFunc adapts a function to Shutdownable.
type ShutdownFunc func(context.Context) error

// Shutdown implements Shutdownable.
func (f ShutdownFunc) Shutdown(ctx context.Context) error { return f(ctx) }

type target struct {
	name    string
	shut    Shutdownable
	timeout time.Duration
}

// Closer handles shutdown of producers and connections. The zero value is
// ready to use.
type Closer struct {
	targets      []target
	targetsMutex sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	doneBool int32

	finished     chan struct{}
	finishedOnce sync.Once
}

var defaultCloser = &Closer{}

// DefaultCloser returns the process wide closer.
func DefaultCloser() *Closer {
	return defaultCloser
}

// Register inserts a target in the process wide closer.
func Register(name string, shut Shutdownable, timeout time.Duration) {
	defaultCloser.Register(name, shut, timeout)
}

// Shutdown runs the targets of the process wide closer.
func Shutdown(log logrus.FieldLogger) error {
	return defaultCloser.Shutdown(log)
}

// DetectShutdown waits for a signal on the process wide closer.
func DetectShutdown(log logrus.FieldLogger) func() {
	return defaultCloser.DetectShutdown(log)
}

// Register inserts a target to shutdown gracefully. A timeout that is not
// positive lets the target take as long as it needs.
func (cc *Closer) Register(name string, shut Shutdownable, timeout time.Duration) {
	cc.targetsMutex.Lock()
	cc.targets = append(cc.targets, target{
		name:    name,
		shut:    shut,
		timeout: timeout,
	})
	cc.targetsMutex.Unlock()
}

// Len returns the number of registered targets.
func (cc *Closer) Len() int {
	cc.targetsMutex.Lock()
	defer cc.targetsMutex.Unlock()
	return len(cc.targets)
}

// Shutdown shuts all targets down concurrently and waits for them. Only the
// first call does any work; later calls block until it is finished.
func (cc *Closer) Shutdown(log logrus.FieldLogger) error {
	finished := cc.finishedChan()
	if atomic.SwapInt32(&cc.doneBool, 1) == 1 {
		<-finished
		return nil
	}
	defer close(finished)

	cc.targetsMutex.Lock()
	targets := append([]target(nil), cc.targets...)
	cc.targetsMutex.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, targ := range targets {
		wg.Add(1)
		go func(targ target, log logrus.FieldLogger) {
			defer wg.Done()

			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if targ.timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, targ.timeout)
			}
			defer cancel()

			if err := targ.shut.Shutdown(ctx); err != nil {
				log.WithError(err).Error("Graceful shutdown failed")
				mu.Lock()
				result = multierror.Append(result, errors.Wrapf(err, "shutting down %s", targ.name))
				mu.Unlock()
				return
			}
			log.Info("Shutdown finished")
		}(targ, log.WithField("target", targ.name))
	}
	wg.Wait()

	return result.ErrorOrNil()
}

func (cc *Closer) finishedChan() chan struct{} {
	cc.finishedOnce.Do(func() {
		cc.finished = make(chan struct{})
	})
	return cc.finished
}

func (cc *Closer) doneChan() chan struct{} {
	cc.doneOnce.Do(func() {
		cc.done = make(chan struct{})
	})
	return cc.done
}

// DetectShutdown asynchronously waits for a shutdown signal and then shuts down gracefully
// Returns a function to trigger a shutdown from the outside, like cancelling a context
func (cc *Closer) DetectShutdown(log logrus.FieldLogger) func() {
	done := cc.doneChan()
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-signals:
			log.Infof("Triggering shutdown from signal %s", sig)
		case <-done:
			log.Infof("Shutting down...")
		}

		if err := cc.Shutdown(log); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
