// Package breakpoint implements cooperative pause points for agent runs. The
// orchestrator gates on a Controller before acting on each lifecycle event;
// armed points and global pauses block the gate until an external controller
// releases it. All waiting is in-process and channel based, so a debugger UI
// or test can single-step a run without touching orchestrator internals.
package breakpoint

import (
	"context"
	"sync"
	"time"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
)

// Point identifies a gated position in the turn lifecycle. Point names match
// the event type emitted at that position.
type Point string

// Lifecycle gate points.
const (
	PointStart                 Point = Point(core.EventStart)
	PointInstruct              Point = Point(core.EventInstruct)
	PointMessageCompletion     Point = Point(core.EventMessageCompletion)
	PointPostMessageCompletion Point = Point(core.EventPostMessageCompletion)
	PointToolExecution         Point = Point(core.EventToolExecution)
	PointPostToolExecution     Point = Point(core.EventPostToolExecution)
	PointHandoff               Point = Point(core.EventHandoff)
)

// PointFor maps an event type to its gate point.
func PointFor(t core.EventType) Point { return Point(t) }

// Outcome reports how a wait at a gate point ended.
type Outcome int

const (
	// Resumed means the wait ended because the point was released or was not
	// blocked in the first place. The caller must re-check the gate.
	Resumed Outcome = iota
	// TimedOut means the wait expired without a release; the gate is still closed.
	TimedOut
	// Cancelled means the controller or the caller's context was cancelled.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Resumed:
		return "resumed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Controller tracks armed points, the global pause flag and the turn-interval
// auto pause. It is safe for concurrent use: runs block in Gate while control
// clients call Arm, Release, Pause and Resume from other goroutines.
//
// Release semantics: releasing a point wakes every run currently parked at
// it, exactly once. Runs arriving after the release park on a fresh channel
// and wait for the next release. Arming is sticky; a point stays armed across
// releases until Disarm.
type Controller struct {
	mu       sync.Mutex
	armed    map[Point]bool
	waiters  map[Point]chan struct{}
	paused   bool
	pauseCh  chan struct{}
	interval int

	cancelled bool
	cancelCh  chan struct{}

	logger logging.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates an idle controller with nothing armed.
func NewController(optFns ...Option) *Controller {
	c := &Controller{
		armed:    map[Point]bool{},
		waiters:  map[Point]chan struct{}{},
		cancelCh: make(chan struct{}),
		logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(c)
	}
	return c
}

// Arm enables blocking at the given point.
func (c *Controller) Arm(point Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed[point] = true
}

// Disarm disables the point and wakes anything parked at it.
func (c *Controller) Disarm(point Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.armed, point)
	c.releaseLocked(point)
}

// IsArmed reports whether the point is armed.
func (c *Controller) IsArmed(point Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed[point]
}

// Armed returns the currently armed points in lifecycle order.
func (c *Controller) Armed() []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Point
	for _, t := range core.EventTypes() {
		if c.armed[Point(t)] {
			out = append(out, Point(t))
		}
	}
	return out
}

// Release wakes every run currently parked at the point. The point stays
// armed, so the next arrival at it blocks again.
func (c *Controller) Release(point Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(point)
}

func (c *Controller) releaseLocked(point Point) {
	if ch, ok := c.waiters[point]; ok {
		close(ch)
		delete(c.waiters, point)
	}
}

// Pause blocks every gate regardless of armed points until Resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.pauseCh = make(chan struct{})
		c.logger.Info("execution paused")
	}
}

// Resume lifts a global pause.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.pauseCh)
		c.pauseCh = nil
		c.logger.Info("execution resumed")
	}
}

// Paused reports whether a global pause is in effect.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SetTurnInterval makes TurnTick trigger a global pause every n turns.
// Zero disables interval pausing.
func (c *Controller) SetTurnInterval(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 {
		n = 0
	}
	c.interval = n
}

// TurnInterval returns the configured interval, zero when disabled.
func (c *Controller) TurnInterval() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// TurnTick is called by the orchestrator at each turn boundary with the
// 1-based turn number just completed. When an interval is set and the tick
// lands on it, the controller enters a global pause before the next turn.
func (c *Controller) TurnTick(turn int) {
	c.mu.Lock()
	interval := c.interval
	c.mu.Unlock()
	if interval > 0 && turn%interval == 0 {
		c.logger.Info("turn interval reached", "turn", turn, "interval", interval)
		c.Pause()
	}
}

// Cancel collapses every current and future wait. Gates return immediately
// afterwards; the controller cannot be reused.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.cancelCh)
	for p := range c.waiters {
		c.releaseLocked(p)
	}
}

// AwaitRelease waits at the point for up to timeout. It returns Resumed when
// the gate is open or was opened while waiting, TimedOut when the wait
// expired with the gate still closed, and Cancelled when either the
// controller or ctx was cancelled. A timeout of zero waits indefinitely.
//
// Resumed does not guarantee the gate is open now (an armed point can be
// re-blocked by a global pause); callers that need a hard guarantee use Gate.
func (c *Controller) AwaitRelease(ctx context.Context, point Point, timeout time.Duration) Outcome {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return Cancelled
	}
	armed := c.armed[point]
	paused := c.paused
	if !armed && !paused {
		c.mu.Unlock()
		return Resumed
	}
	var waitCh chan struct{}
	if armed {
		waitCh = c.waiters[point]
		if waitCh == nil {
			waitCh = make(chan struct{})
			c.waiters[point] = waitCh
		}
	} else {
		waitCh = c.pauseCh
	}
	cancelCh := c.cancelCh
	c.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-waitCh:
		return Resumed
	case <-cancelCh:
		return Cancelled
	case <-ctx.Done():
		return Cancelled
	case <-timeoutCh:
		return TimedOut
	}
}

// Gate blocks until the run may pass the point: an armed point holds the run
// until the next Release (or Disarm), then a global pause holds it until
// Resume. It returns nil when the run may proceed (including after controller
// Cancel, which the caller observes separately) and ctx.Err when the caller's
// context ended.
func (c *Controller) Gate(ctx context.Context, point Point) error {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return nil
	}
	var waitCh chan struct{}
	if c.armed[point] {
		waitCh = c.waiters[point]
		if waitCh == nil {
			waitCh = make(chan struct{})
			c.waiters[point] = waitCh
		}
	}
	cancelCh := c.cancelCh
	c.mu.Unlock()

	if waitCh != nil {
		c.logger.Info("breakpoint hit", "point", string(point))
		select {
		case <-waitCh:
		case <-cancelCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		c.mu.Lock()
		if c.cancelled || !c.paused {
			c.mu.Unlock()
			return nil
		}
		pauseCh := c.pauseCh
		c.mu.Unlock()

		c.logger.Info("run paused", "point", string(point))
		select {
		case <-pauseCh:
		case <-cancelCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
