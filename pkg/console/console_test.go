package console_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidchess/corvid/pkg/console"
	"github.com/corvidchess/corvid/pkg/engine"
	"github.com/corvidchess/corvid/pkg/options"
)

func newTestEngine(t *testing.T) *engine.Engine {
	reg := options.New()
	require.NoError(t, reg.Set(options.Hash, "1"))
	require.NoError(t, reg.Set(options.Cache, "1024"))
	return engine.New(context.Background(), "Corvid", "corvidchess", reg)
}

func TestConsoleBannerAndQuit(t *testing.T) {
	e := newTestEngine(t)
	in := make(chan string, 4)
	driver, out := console.NewDriver(context.Background(), e, in)

	banner := readLine(t, out)
	assert.Contains(t, banner, "engine Corvid")

	in <- "quit"

	select {
	case <-driver.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not close after quit")
	}
}

func TestConsoleResetRejectsInvalidFEN(t *testing.T) {
	e := newTestEngine(t)
	in := make(chan string, 4)
	driver, out := console.NewDriver(context.Background(), e, in)
	readLine(t, out) // banner

	in <- "reset not a fen at all really"
	line := readLine(t, out)
	assert.Contains(t, line, "invalid position")

	in <- "quit"
	<-driver.Closed()
}

func TestConsoleTreeRequiresPath(t *testing.T) {
	e := newTestEngine(t)
	in := make(chan string, 4)
	driver, out := console.NewDriver(context.Background(), e, in)
	readLine(t, out) // banner

	in <- "tree"
	line := readLine(t, out)
	assert.Contains(t, line, "usage: tree")

	in <- "quit"
	<-driver.Closed()
}

func readLine(t *testing.T, out <-chan string) string {
	t.Helper()
	select {
	case line := <-out:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for output line")
		return ""
	}
}
