package search

import (
	"context"
	"math"
	"time"

	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"

	"github.com/corvidchess/corvid/pkg/board"
)

// TimeControl carries the remaining clock for both sides and, optionally, the number of moves
// left until the next time control resets (0 == rest of game).
type TimeControl struct {
	White, Black time.Duration
	Increment    time.Duration
	Moves        int
}

// ClockState is the time manager's state machine, per the material-based deadline contract.
type ClockState int

const (
	Idle ClockState = iota
	Running
	Extended
	Expired
)

func (s ClockState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Extended:
		return "extended"
	case Expired:
		return "expired"
	default:
		return "?"
	}
}

// Clock computes a search deadline from remaining time and material, and arms a one-shot halt
// timer against it. Grounded on the original material-based estimator for the arithmetic and
// on the teacher's searchctl.EnforceTimeControl/time.AfterFunc mechanism for the timer shape,
// generalized from the teacher's fixed hard=3*soft heuristic to the material-based formula.
type Clock struct {
	state ClockState
	timer *time.Timer

	deadline time.Duration
	started  time.Time
}

// NewDeadline computes the search deadline for the given options and position.
//
//  1. Infinite search never deadlines.
//  2. A fixed movetime deadlines at movetime - moveOverhead.
//  3. Otherwise, the deadline is derived from remaining time, a material-based estimate of the
//     half-moves left in the game, and the configured opening-time and extra-budget factors.
func NewDeadline(infinite bool, movetime time.Duration, tc lang.Optional[TimeControl], turn board.Color, materialInPawns int, moveOverhead time.Duration, extraBudget, openingTimeFactor float64) (time.Duration, bool) {
	if infinite {
		return 0, false
	}
	if movetime > 0 {
		return clampNonNegative(movetime - moveOverhead), true
	}

	c, ok := tc.V()
	if !ok {
		return 0, false
	}

	remaining := c.White
	if turn == board.Black {
		remaining = c.Black
	}

	estMoves := estimateRemainingHalfMoves(materialInPawns)
	ideal := (float64(remaining)/float64(estMoves) + float64(c.Increment)) * (1 + extraBudget) * openingTimeFactor

	hard := float64(remaining - moveOverhead)
	deadline := ideal
	if hard < deadline {
		deadline = hard
	}
	return clampNonNegative(time.Duration(deadline)), true
}

// estimateRemainingHalfMoves estimates the half-moves left in the game from the total material
// still on the board, in pawns, per the original's three-segment piecewise formula.
func estimateRemainingHalfMoves(material int) int {
	m := float64(material)
	switch {
	case material < 20:
		return material + 10
	case material <= 60:
		return int(math.Round(0.375*m)) + 22
	default:
		return int(math.Round(1.25*m)) - 30
	}
}

func clampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// NewClock arms a one-shot timer against deadline. If ok is false (infinite search), no timer
// is armed and the returned Clock never halts on its own. On the first deadline fire, inconclusive
// is consulted: if it reports the result is still inconclusive and returns a positive extension,
// the clock moves to Extended and re-arms for that long instead of halting; a second timeout (or
// an inconclusive report of false) halts for good, per the {Idle, Running, Extended, Expired}
// state machine.
func NewClock(ctx context.Context, deadline time.Duration, ok bool, halt func(), inconclusive func() (time.Duration, bool)) *Clock {
	c := &Clock{state: Running, started: time.Now(), deadline: deadline}
	if !ok {
		return c
	}

	var onFirstTimeout func()
	onFirstTimeout = func() {
		if c.state == Running && inconclusive != nil {
			if extra, stillInconclusive := inconclusive(); stillInconclusive && extra > 0 {
				c.extend(ctx, extra, halt)
				return
			}
		}
		c.state = Expired
		logw.Debugf(ctx, "search clock expired after %v", deadline)
		halt()
	}
	c.timer = time.AfterFunc(deadline, onFirstTimeout)
	return c
}

// extend moves the clock into the Extended state and arms a second, final timer: per the state
// machine, a timeout from Extended always halts, regardless of what inconclusive would now say.
func (c *Clock) extend(ctx context.Context, extra time.Duration, halt func()) {
	c.state = Extended
	c.timer = time.AfterFunc(extra, func() {
		c.state = Expired
		logw.Debugf(ctx, "search clock expired after extension of %v", extra)
		halt()
	})
}

// Stop cancels the outstanding timer, idempotent. Deferred by Engine.run, so it runs whichever
// path ended the search and the timer does not fire uselessly.
func (c *Clock) Stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.state == Running || c.state == Extended {
		c.state = Idle
	}
}

func (c *Clock) State() ClockState {
	return c.state
}

func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.started)
}

// Remaining returns the time left before the clock's own deadline fires, and false for an
// infinite search (no deadline was ever armed).
func (c *Clock) Remaining() (time.Duration, bool) {
	if c.timer == nil {
		return 0, false
	}
	r := c.deadline - c.Elapsed()
	return clampNonNegative(r), true
}
