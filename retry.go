package authsession

import (
	"context"
	"sync"
	"time"
)

// DefaultRetryDelays is the backoff schedule between attempts. The delay
// after failed attempt n is DefaultRetryDelays[n-1], clamped to the last entry.
var DefaultRetryDelays = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// RetryStatus is the lifecycle position of a RetryController.
type RetryStatus string

const (
	RetryIdle     RetryStatus = "idle"
	RetryRunning  RetryStatus = "running"
	RetryRetrying RetryStatus = "retrying"
	RetryWaiting  RetryStatus = "waiting"
	RetrySuccess  RetryStatus = "success"
	RetryFailed   RetryStatus = "failed"
)

// RetryState is the externally visible state of a RetryController. While
// waiting, Attempt is the attempt that failed and Err its error.
type RetryState struct {
	Status         RetryStatus
	Attempt        int
	Err            error
	NextAttemptAt  time.Time
	IdempotencyKey string
}

// RetryContext is handed to every attempt of one logical operation.
type RetryContext struct {
	Attempt        int
	IdempotencyKey string
}

// RetryOptions configures a RetryController.
type RetryOptions[A, R any] struct {
	// Action performs one attempt. ctx is cancelled when the attempt is
	// aborted by Cancel, Reset, Close or a new Start.
	Action func(ctx context.Context, args A, rc RetryContext) (R, error)
	// ShouldRetry defaults to DefaultShouldRetry.
	ShouldRetry func(error) bool
	// Delays defaults to DefaultRetryDelays.
	Delays []time.Duration
	// MaxAttempts defaults to len(Delays)+1.
	MaxAttempts int
	// IdempotencyKey is computed once per Start and reused by every attempt.
	IdempotencyKey func(args A) string

	OnResolved    func(R)
	OnRejected    func(error)
	OnStateChange func(RetryState)

	// Network triggers an immediate retry when it transitions to online.
	Network NetworkStatus
	// Foreground triggers an immediate retry when the app becomes active.
	Foreground ForegroundSource

	Telemetry TelemetryHooks
	Now       func() time.Time
}

func (o RetryOptions[A, R]) normalized() RetryOptions[A, R] {
	cfg := o
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	if len(cfg.Delays) == 0 {
		cfg.Delays = DefaultRetryDelays
	}
	cfg.Delays = append([]time.Duration(nil), cfg.Delays...)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = len(cfg.Delays) + 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

func (o RetryOptions[A, R]) delay(failedAttempt int) time.Duration {
	idx := failedAttempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(o.Delays) {
		idx = len(o.Delays) - 1
	}
	return o.Delays[idx]
}

type retryEvent[R any] struct {
	state    RetryState
	resolved bool
	value    R
	rejected error
}

// RetryController runs one logical operation at a time, retrying transient
// failures on a backoff schedule. Waiting retries fire early when the network
// comes back or the app returns to the foreground.
//
// Callbacks run on controller goroutines, one at a time and in commit order.
// They may call controller methods.
type RetryController[A, R any] struct {
	opts RetryOptions[A, R]

	mu            sync.Mutex
	state         RetryState
	gen           uint64
	taskCtx       context.Context
	args          A
	cancelAttempt context.CancelFunc
	timer         *time.Timer
	online        bool
	closed        bool

	pending  []retryEvent[R]
	flushing bool

	unsubscribe []func()
}

// NewRetryController validates opts and subscribes to the network and
// foreground sources. Call Close to release the subscriptions.
func NewRetryController[A, R any](opts RetryOptions[A, R]) (*RetryController[A, R], error) {
	if opts.Action == nil {
		return nil, ConfigError{Reason: "retry action is required"}
	}
	for _, d := range opts.Delays {
		if d < 0 {
			return nil, ConfigError{Reason: "retry delays must not be negative"}
		}
	}
	c := &RetryController[A, R]{
		opts:  opts.normalized(),
		state: RetryState{Status: RetryIdle},
	}
	if c.opts.Network != nil {
		c.online = c.opts.Network.IsOnline()
		c.unsubscribe = append(c.unsubscribe, c.opts.Network.Subscribe(c.onNetwork))
	}
	if c.opts.Foreground != nil {
		c.unsubscribe = append(c.unsubscribe, c.opts.Foreground.Subscribe(c.onForeground))
	}
	return c, nil
}

// State returns the current state.
func (c *RetryController[A, R]) State() RetryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start aborts any operation in progress and runs attempt 1 with args. ctx
// bounds the whole operation; when it is done the controller returns to idle
// without invoking OnResolved or OnRejected.
func (c *RetryController[A, R]) Start(ctx context.Context, args A) {
	key := ""
	if c.opts.IdempotencyKey != nil {
		key = c.opts.IdempotencyKey(args)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.abortLocked()
	c.taskCtx = ctx
	c.args = args
	c.state = RetryState{IdempotencyKey: key}
	c.launchLocked(1, RetryRunning)
	c.mu.Unlock()
	c.flush()
}

// RetryNow skips the remaining backoff when waiting. Otherwise it does nothing.
func (c *RetryController[A, R]) RetryNow() {
	c.mu.Lock()
	if c.closed || c.state.Status != RetryWaiting {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.launchLocked(c.state.Attempt+1, RetryRetrying)
	c.mu.Unlock()
	c.flush()
}

// Cancel aborts the attempt in flight and any pending retry and returns to
// idle. Neither OnResolved nor OnRejected is invoked.
func (c *RetryController[A, R]) Cancel() {
	c.stop(false)
}

// Reset is Cancel, but publishes the idle state even when already idle.
func (c *RetryController[A, R]) Reset() {
	c.stop(true)
}

// Close cancels any operation and drops the network and foreground
// subscriptions. The controller ignores Start afterwards.
func (c *RetryController[A, R]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	c.stop(false)
}

func (c *RetryController[A, R]) stop(always bool) {
	c.mu.Lock()
	c.abortLocked()
	if always || c.state.Status != RetryIdle {
		c.commitLocked(retryEvent[R]{state: RetryState{Status: RetryIdle}})
	}
	c.taskCtx = nil
	var zero A
	c.args = zero
	c.mu.Unlock()
	c.flush()
}

// abortLocked invalidates the current task so late results and timers are dropped.
func (c *RetryController[A, R]) abortLocked() {
	c.gen++
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.stopTimerLocked()
}

func (c *RetryController[A, R]) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *RetryController[A, R]) launchLocked(attempt int, status RetryStatus) {
	parent := c.taskCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancelAttempt = cancel
	key := c.state.IdempotencyKey
	c.commitLocked(retryEvent[R]{state: RetryState{Status: status, Attempt: attempt, IdempotencyKey: key}})
	go c.run(ctx, cancel, c.gen, attempt, c.args, key)
}

func (c *RetryController[A, R]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, attempt int, args A, key string) {
	defer cancel()
	value, err := c.opts.Action(ctx, args, RetryContext{Attempt: attempt, IdempotencyKey: key})

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.cancelAttempt = nil
	if ctx.Err() != nil {
		// The operation's context ended underneath the attempt.
		c.gen++
		c.taskCtx = nil
		c.commitLocked(retryEvent[R]{state: RetryState{Status: RetryIdle}})
		c.mu.Unlock()
		c.flush()
		return
	}

	switch {
	case err == nil:
		c.commitLocked(retryEvent[R]{
			state:    RetryState{Status: RetrySuccess, Attempt: attempt, IdempotencyKey: key},
			resolved: true,
			value:    value,
		})
		c.countAttempt("success")
	case c.opts.ShouldRetry(err) && attempt+1 <= c.opts.MaxAttempts:
		delay := c.opts.delay(attempt)
		next := c.opts.Now().Add(delay)
		c.commitLocked(retryEvent[R]{state: RetryState{
			Status:         RetryWaiting,
			Attempt:        attempt,
			Err:            err,
			NextAttemptAt:  next,
			IdempotencyKey: key,
		}})
		c.timer = time.AfterFunc(delay, func() { c.fire(gen) })
		c.countAttempt("retry")
		c.opts.Telemetry.log(ctx, LogLevelDebug, "retry_scheduled", map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	default:
		c.commitLocked(retryEvent[R]{
			state:    RetryState{Status: RetryFailed, Attempt: attempt, Err: err, IdempotencyKey: key},
			rejected: err,
		})
		c.countAttempt("failed")
	}
	c.mu.Unlock()
	c.flush()
}

func (c *RetryController[A, R]) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state.Status != RetryWaiting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.taskCtx != nil && c.taskCtx.Err() != nil {
		c.gen++
		c.taskCtx = nil
		c.commitLocked(retryEvent[R]{state: RetryState{Status: RetryIdle}})
		c.mu.Unlock()
		c.flush()
		return
	}
	c.launchLocked(c.state.Attempt+1, RetryRetrying)
	c.mu.Unlock()
	c.flush()
}

func (c *RetryController[A, R]) onNetwork(s NetworkSnapshot) {
	c.mu.Lock()
	cameOnline := !c.online && s.IsOnline
	c.online = s.IsOnline
	c.mu.Unlock()
	if cameOnline {
		c.RetryNow()
	}
}

func (c *RetryController[A, R]) onForeground(state AppState) {
	if state == AppStateActive {
		c.RetryNow()
	}
}

func (c *RetryController[A, R]) countAttempt(outcome string) {
	c.opts.Telemetry.metric(context.Background(), MetricCounter, MetricRetryAttempts, 1, map[string]string{"outcome": outcome})
}

func (c *RetryController[A, R]) commitLocked(ev retryEvent[R]) {
	c.state = ev.state
	c.pending = append(c.pending, ev)
}

// flush delivers queued events. Only one goroutine delivers at a time; events
// committed by callbacks are picked up by the same loop.
func (c *RetryController[A, R]) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, ev := range batch {
			c.deliver(ev)
		}
		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}

func (c *RetryController[A, R]) deliver(ev retryEvent[R]) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(ev.state)
	}
	switch {
	case ev.resolved && c.opts.OnResolved != nil:
		c.opts.OnResolved(ev.value)
	case ev.rejected != nil && c.opts.OnRejected != nil:
		c.opts.OnRejected(ev.rejected)
	}
}
