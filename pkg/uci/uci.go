// Package uci contains a driver for using the engine under the UCI protocol.
//
// See: http://wbec-ridderkerk.nl/html/UCIProtocol.html
// See: https://en.wikipedia.org/wiki/Universal_Chess_Interface
package uci

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/seekerror/logw"
	"github.com/seekerror/stdlib/pkg/lang"
	"go.uber.org/atomic"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/board/fen"
	"github.com/corvidchess/corvid/pkg/engine"
	"github.com/corvidchess/corvid/pkg/search"
)

// ProtocolName is the line a front-end sends to select this protocol.
const ProtocolName = "uci"

// Driver implements a UCI driver for an engine. It is activated if sent "uci".
type Driver struct {
	e *engine.Engine

	out chan<- string

	active       atomic.Bool    // user is waiting for engine to move
	ponder       chan search.PV // chan for intermediate search information
	lastPosition string         // last position line (empty if no last position)

	quit   chan struct{}
	closed atomic.Bool
}

// NewDriver starts a driver reading UCI commands off in and writing protocol lines to the
// returned channel, until in closes or Close is called.
func NewDriver(ctx context.Context, e *engine.Engine, in <-chan string) (*Driver, <-chan string) {
	out := make(chan string, 100)
	d := &Driver{
		e:      e,
		out:    out,
		ponder: make(chan search.PV, 400),
		quit:   make(chan struct{}),
	}
	go d.process(ctx, in)

	return d, out
}

func (d *Driver) Close() {
	if d.closed.CAS(false, true) {
		close(d.quit)
	}
}

func (d *Driver) Closed() <-chan struct{} {
	return d.quit
}

func (d *Driver) process(ctx context.Context, in <-chan string) {
	defer d.Close()
	defer close(d.out)

	logw.Infof(ctx, "UCI protocol initialized")

	d.out <- fmt.Sprintf("id name %v", d.e.Name())
	d.out <- fmt.Sprintf("id author %v", d.e.Author())
	for _, line := range d.e.Options().Advertise() {
		d.out <- line
	}
	d.out <- "uciok"

	for {
		select {
		case line, ok := <-in:
			if !ok {
				logw.Infof(ctx, "Input stream broken. Exiting")
				return
			}

			parts := strings.Split(strings.TrimSpace(line), " ")
			if len(parts) == 0 {
				break
			}

			cmd := parts[0]
			args := parts[1:]

			switch strings.ToLower(cmd) {
			case "isready":
				d.out <- "readyok"

			case "debug":
				// Accepted, no-op: this engine does not have a separate debug logging mode
				// beyond what logw.Debugf already emits.

			case "setoption":
				// "setoption name <id> [value <x>]"
				name, value := parseSetOption(args)
				if err := d.e.Options().Set(name, value); err != nil {
					logw.Errorf(ctx, "Invalid setoption %q: %v", line, err)
				}

			case "register":
				// No registration scheme; accepted as a no-op.

			case "ucinewgame":
				d.ensureInactive(ctx)
				d.lastPosition = ""

			case "position":
				d.ensureInactive(ctx)

				if d.lastPosition != "" && strings.HasPrefix(line, d.lastPosition) {
					// Continuation of game.

					moves := strings.TrimSpace(strings.TrimPrefix(line, d.lastPosition))
					for _, arg := range strings.Split(moves, " ") {
						if arg == "" || arg == "moves" {
							continue
						}
						if err := d.e.Move(ctx, arg); err != nil {
							logw.Errorf(ctx, "Invalid position move %q: %v: %v", arg, line, err)
							break
						}
					}

					d.lastPosition = line
					break
				}

				// New position.

				position := fen.Initial
				if len(args) >= 7 && args[0] == "fen" {
					position = strings.Join(args[1:7], " ")
				}

				if err := d.e.Reset(ctx, position); err != nil {
					logw.Errorf(ctx, "Invalid position: %v", line)
					break
				}

				move := false
				for _, arg := range args {
					if arg == "moves" {
						move = true
						continue
					}
					if !move {
						continue
					}
					if err := d.e.Move(ctx, arg); err != nil {
						logw.Errorf(ctx, "Invalid position move %q: %v: %v", arg, line, err)
						break
					}
				}
				d.lastPosition = line

			case "go":
				d.ensureInactive(ctx)

				opt, timeout, err := parseGo(args)
				if err != nil {
					logw.Errorf(ctx, "Invalid go command %q: %v", line, err)
					break
				}

				out, err := d.e.Analyze(ctx, opt)
				if err != nil {
					logw.Errorf(ctx, "Analyze failed: %v", err)
					break
				}
				d.active.Store(true)

				// Forward ponder info. Complete search if it ends, unless infinite.

				go func() {
					var last search.PV
					for pv := range out {
						last = pv
						d.ponder <- pv
					}
					if !opt.Infinite {
						d.searchCompleted(ctx, last)
					}
				}()

				if timeout > 0 {
					time.AfterFunc(timeout, func() {
						_, _ = d.e.Halt(ctx)
					})
				}

			case "stop":
				pv, err := d.e.Halt(ctx)
				if err == nil {
					d.searchCompleted(ctx, pv)
				}

			case "ponderhit":
				// The engine does not distinguish pondering from normal search internally, so
				// there is nothing to switch: the running search simply continues.

			case "quit":
				return

			default:
				logw.Warningf(ctx, "Unknown command %q: %v", cmd, args)
			}

		case pv := <-d.ponder:
			if d.active.Load() {
				d.out <- printPV(pv)
			}

		case <-d.quit:
			d.ensureInactive(ctx)

			logw.Infof(ctx, "Driver closed")
			return
		}
	}
}

func (d *Driver) ensureInactive(ctx context.Context) {
	d.active.Store(false)
	_, _ = d.e.Halt(ctx)
}

func (d *Driver) searchCompleted(ctx context.Context, pv search.PV) {
	if d.active.CAS(true, false) {
		if len(pv.Moves) > 0 {
			d.out <- printPV(pv)
			d.out <- fmt.Sprintf("bestmove %v", pv.Moves[0])
		} else {
			d.out <- "bestmove 0000"
		}
	} // else: stale or duplicate result
}

// parseSetOption extracts the name and value tokens from a "setoption name <id> [value <x>]"
// command's argument list.
func parseSetOption(args []string) (name, value string) {
	if len(args) > 1 {
		name = args[1]
	}
	if len(args) > 3 {
		value = strings.Join(args[3:], " ")
	}
	return name, value
}

// parseGo translates a "go" command's argument list into search.Options, plus a fixed-movetime
// timeout (0 if none) the driver arms independently via time.AfterFunc, matching the teacher's
// pattern of enforcing the hard movetime deadline at the protocol layer.
func parseGo(args []string) (search.Options, time.Duration, error) {
	var opt search.Options
	var tc search.TimeControl
	haveTC := false
	timeout := time.Duration(0)

	for i := 0; i < len(args); i++ {
		cmd := args[i]
		switch cmd {
		case "wtime", "btime", "winc", "binc", "movestogo", "depth", "nodes", "movetime":
			i++
			if i == len(args) {
				return search.Options{}, 0, fmt.Errorf("no argument for %v", cmd)
			}
			n, err := strconv.Atoi(args[i])
			if err != nil {
				return search.Options{}, 0, fmt.Errorf("invalid argument for %v: %w", cmd, err)
			}

			switch cmd {
			case "depth":
				opt.DepthLimit = lang.Some(uint32(n))
			case "nodes":
				opt.NodesLimit = lang.Some(uint64(n))
			case "wtime":
				haveTC = true
				tc.White = time.Millisecond * time.Duration(n)
			case "btime":
				haveTC = true
				tc.Black = time.Millisecond * time.Duration(n)
			case "winc", "binc":
				haveTC = true
				tc.Increment = time.Millisecond * time.Duration(n)
			case "movestogo":
				haveTC = true
				tc.Moves = n
			case "movetime":
				opt.MoveTime = time.Millisecond * time.Duration(n)
				timeout = opt.MoveTime
			}

		case "infinite":
			opt.Infinite = true

		case "ponder":
			opt.Ponder = true

		case "searchmoves":
			for i++; i < len(args); i++ {
				m, err := board.ParseMove(args[i])
				if err != nil {
					return search.Options{}, 0, fmt.Errorf("invalid searchmoves entry %q: %w", args[i], err)
				}
				opt.SearchMoves = append(opt.SearchMoves, m)
			}

		default:
			// Silently ignore anything not handled (mate, etc.), per the malformed-input-ignored
			// error handling policy.
		}
	}

	if haveTC {
		opt.TimeControl = lang.Some(tc)
	}
	return opt, timeout, nil
}

func printPV(pv search.PV) string {
	parts := []string{"info"}
	if pv.Depth > 0 {
		parts = append(parts, fmt.Sprintf("depth %v", pv.Depth))
	}
	parts = append(parts, fmt.Sprintf("score cp %v", int(pv.Score*100)))
	if pv.Nodes > 0 {
		parts = append(parts, fmt.Sprintf("nodes %v", pv.Nodes))
	}
	if pv.Time > 0 {
		parts = append(parts, fmt.Sprintf("time %v", pv.Time.Milliseconds()))
	}
	if pv.Nodes > 0 && pv.Time > 0 {
		parts = append(parts, fmt.Sprintf("nps %v", uint64(time.Second)*pv.Nodes/uint64(pv.Time)))
	}
	parts = append(parts, fmt.Sprintf("hashfull %v", int(pv.Hash*10)))
	if len(pv.Moves) > 0 {
		parts = append(parts, "pv")
		parts = append(parts, board.PrintMoves(pv.Moves))
	}

	return strings.Join(parts, " ")
}
