// Package console contains a plain-text driver for interactive debugging, as an alternative to
// the UCI protocol: free-form commands plus a tree-dump affordance the UCI protocol has no
// command for. Adapted from the teacher's pkg/engine/console Driver.
package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/seekerror/logw"
	"go.uber.org/atomic"

	"github.com/corvidchess/corvid/pkg/board/fen"
	"github.com/corvidchess/corvid/pkg/engine"
	"github.com/corvidchess/corvid/pkg/search"
)

// ProtocolName is the line a front-end sends to select this protocol.
const ProtocolName = "console"

// Driver implements a plain-text console driver for debugging.
type Driver struct {
	e *engine.Engine

	out chan<- string

	active atomic.Bool
	closed atomic.Bool
	quit   chan struct{}
}

func NewDriver(ctx context.Context, e *engine.Engine, in <-chan string) (*Driver, <-chan string) {
	out := make(chan string, 100)
	d := &Driver{
		e:    e,
		out:  out,
		quit: make(chan struct{}),
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

	logw.Infof(ctx, "Console protocol initialized")
	d.out <- fmt.Sprintf("engine %v (%v)", d.e.Name(), d.e.Author())

	for {
		select {
		case line, ok := <-in:
			if !ok {
				logw.Infof(ctx, "Input stream broken. Exiting")
				return
			}

			parts := strings.Split(strings.TrimSpace(line), " ")
			cmd := parts[0]
			args := parts[1:]

			switch strings.ToLower(cmd) {
			case "reset", "r":
				d.ensureInactive(ctx)

				pos := fen.Initial
				if len(args) >= 6 {
					pos = strings.Join(args[0:6], " ")
				}
				if err := d.e.Reset(ctx, pos); err != nil {
					d.out <- fmt.Sprintf("invalid position: %v", err)
				}

			case "undo", "u":
				d.ensureInactive(ctx)
				_ = d.e.TakeBack(ctx)

			case "analyze", "a":
				d.ensureInactive(ctx)

				out, err := d.e.Analyze(ctx, search.Options{})
				if err != nil {
					d.out <- fmt.Sprintf("analyze failed: %v", err)
					break
				}
				d.active.Store(true)

				go func() {
					var last search.PV
					for pv := range out {
						last = pv
						d.out <- pv.String()
					}
					d.searchCompleted(last)
				}()

			case "tree":
				// tree <path> [maxnodes]
				if len(args) < 1 {
					d.out <- "usage: tree <path> [maxnodes]"
					break
				}
				maxNodes := 0
				if len(args) > 1 {
					maxNodes, _ = strconv.Atoi(args[1])
				}
				if err := d.e.DumpTree(args[0], maxNodes); err != nil {
					d.out <- fmt.Sprintf("dumptree failed: %v", err)
				} else {
					d.out <- fmt.Sprintf("tree written to %v", args[0])
				}

			case "halt", "stop":
				pv, err := d.e.Halt(ctx)
				if err == nil {
					d.searchCompleted(pv)
				}

			case "quit", "exit", "q":
				d.ensureInactive(ctx)
				return

			case "":
				// ignore empty command

			default:
				d.ensureInactive(ctx)
				if err := d.e.Move(ctx, cmd); err != nil {
					d.out <- fmt.Sprintf("invalid move: %q", cmd)
				}
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

func (d *Driver) searchCompleted(pv search.PV) {
	if d.active.CAS(true, false) && len(pv.Moves) > 0 {
		d.out <- fmt.Sprintf("bestmove %v", pv.Moves[0])
	}
}
