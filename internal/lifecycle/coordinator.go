// Package lifecycle synchronizes an app instance with the host shell's
// lifecycle signals and owns its teardown.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/metrics"
	"github.com/xiaot623/paybridge/internal/protocol"
	"github.com/xiaot623/paybridge/internal/session"
)

// DefaultGrace is the delay between closing the connection and acknowledging stop.
const DefaultGrace = 500 * time.Millisecond

// Toast identity shared by every lifecycle status message.
const (
	ToastID    = "lifecycleDemo-statusMsg"
	ToastTitle = "Interaction App - Lifecycle Demo"
)

// ErrNotBootstrapping is returned by Ready outside the Bootstrapping state.
var ErrNotBootstrapping = errors.New("instance is not bootstrapping")

// Shell is the host side of the lifecycle contract.
type Shell interface {
	Bootstrapped()
	Stopped()
	Toast(t domain.Toast)
	StateChanged(state domain.State)
}

// Pipeline runs the bootstrap chain. It is expected to call Ready as its last stage.
type Pipeline interface {
	Run(ctx context.Context) error
}

// Connection is the event connection torn down on stop.
type Connection interface {
	Close() bool
}

// Options tunes a Coordinator.
type Options struct {
	// Grace is waited after the connection closes and before the stop ack.
	Grace time.Duration
	// OnTransition observes every state change.
	OnTransition func(from, to domain.State)
}

// Coordinator is the per-instance lifecycle state machine.
type Coordinator struct {
	sess      *session.Context
	pipeline  Pipeline
	conn      Connection
	shell     Shell
	listeners *Listeners
	log       *zap.Logger
	opts      Options

	mu          sync.Mutex
	state       domain.State
	removeFocus func()
	removeBlur  func()
	done        chan struct{}
}

// New creates a coordinator in the Uninitialized state and registers its
// handlers for the four host signals.
func New(sess *session.Context, pipeline Pipeline, conn Connection, shell Shell, log *zap.Logger, opts Options) *Coordinator {
	c := &Coordinator{
		sess:      sess,
		pipeline:  pipeline,
		conn:      conn,
		shell:     shell,
		listeners: NewListeners(),
		log:       log.Named("lifecycle").With(zap.String("instance_id", sess.ID())),
		opts:      opts,
		state:     domain.StateUninitialized,
		done:      make(chan struct{}),
	}

	c.listeners.Add(domain.SignalBootstrap, func(ctx context.Context) {
		go func() {
			if err := c.Bootstrap(context.WithoutCancel(ctx)); err != nil {
				c.log.Warn("bootstrap halted", zap.Error(err))
			}
		}()
	})
	c.removeFocus = c.listeners.Add(domain.SignalFocus, func(context.Context) {
		c.visibility(domain.StateFocused, "App Focused")
	})
	c.removeBlur = c.listeners.Add(domain.SignalBlur, func(context.Context) {
		c.visibility(domain.StateBlurred, "App Blurred")
	})
	c.listeners.Add(domain.SignalStop, func(context.Context) {
		go c.Stop()
	})
	return c
}

// Signal relays a host signal to the registered handlers. It reports whether
// any handler ran; focus and blur have none once stopping has begun.
func (c *Coordinator) Signal(ctx context.Context, sig domain.Signal) bool {
	metrics.RecordSignal(string(sig))
	c.log.Debug("lifecycle signal", zap.String("signal", string(sig)))
	return c.listeners.Emit(ctx, sig) > 0
}

// Listeners exposes the signal registry.
func (c *Coordinator) Listeners() *Listeners {
	return c.listeners
}

// State returns the current state.
func (c *Coordinator) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed after the stop acknowledgement has been sent.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Bootstrap moves Uninitialized to Bootstrapping and runs the pipeline. Any
// other starting state makes it a no-op.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.StateUninitialized {
		c.mu.Unlock()
		c.log.Debug("bootstrap ignored", zap.String("state", string(c.State())))
		return nil
	}
	notify := c.transitionLocked(domain.StateBootstrapping)
	c.mu.Unlock()
	notify()

	return c.pipeline.Run(ctx)
}

// Ready is the pipeline's final stage: Bootstrapping moves to Ready and the
// host is told bootstrap completed.
func (c *Coordinator) Ready(context.Context) error {
	c.mu.Lock()
	if c.state != domain.StateBootstrapping {
		state := c.state
		c.mu.Unlock()
		if state.Terminal() {
			return domain.ErrStopped
		}
		return ErrNotBootstrapping
	}
	notify := c.transitionLocked(domain.StateReady)
	c.mu.Unlock()
	notify()

	c.shell.Bootstrapped()
	c.shell.Toast(domain.Toast{
		ID:      ToastID,
		Title:   ToastTitle,
		Message: "Bootstrap Complete",
		Type:    protocol.ToastSuccess,
	})
	return nil
}

func (c *Coordinator) visibility(to domain.State, message string) {
	notify := func() {}
	c.mu.Lock()
	if c.state.Operational() {
		notify = c.transitionLocked(to)
	}
	c.mu.Unlock()
	notify()

	c.shell.Toast(domain.Toast{ID: ToastID, Title: ToastTitle, Message: message})
}

// Stop tears the instance down from any state: focus and blur handlers are
// removed, the connection is closed, and the stop ack follows the grace delay.
// Only the first call does anything; it reports whether this call stopped.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	notify := c.transitionLocked(domain.StateStopping)
	c.removeFocus()
	c.removeBlur()
	c.mu.Unlock()
	notify()

	c.sess.MarkStopped()
	c.conn.Close()
	closedAt := time.Now()

	if c.opts.Grace > 0 {
		time.Sleep(c.opts.Grace)
	}

	c.mu.Lock()
	notify = c.transitionLocked(domain.StateStopped)
	c.mu.Unlock()
	notify()

	c.shell.Stopped()
	c.shell.Toast(domain.Toast{
		ID:              ToastID,
		Title:           ToastTitle,
		Message:         "App Stopped",
		Type:            protocol.ToastError,
		ShowCloseButton: true,
	})
	c.log.Info("instance stopped", zap.Duration("grace", time.Since(closedAt)))
	close(c.done)
	return true
}

// transitionLocked sets the state and returns the notification to run once
// the lock is released.
func (c *Coordinator) transitionLocked(to domain.State) func() {
	from := c.state
	if from == to {
		return func() {}
	}
	c.state = to
	return func() {
		c.log.Debug("state changed", zap.String("from", string(from)), zap.String("to", string(to)))
		c.shell.StateChanged(to)
		if c.opts.OnTransition != nil {
			c.opts.OnTransition(from, to)
		}
	}
}
