package uci_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidchess/corvid/pkg/engine"
	"github.com/corvidchess/corvid/pkg/options"
	"github.com/corvidchess/corvid/pkg/uci"
)

func newTestEngine(t *testing.T) *engine.Engine {
	reg := options.New()
	require.NoError(t, reg.Set(options.Hash, "1"))
	require.NoError(t, reg.Set(options.Cache, "1024"))
	return engine.New(context.Background(), "Corvid", "corvidchess", reg)
}

func TestDriverHandshake(t *testing.T) {
	e := newTestEngine(t)
	in := make(chan string, 4)
	driver, out := uci.NewDriver(context.Background(), e, in)

	assert.Contains(t, readLine(t, out), "id name Corvid")
	assert.Contains(t, readLine(t, out), "id author corvidchess")

	// Drain the "option ..." advertisement lines up to "uciok".
	for {
		line := readLine(t, out)
		if line == "uciok" {
			break
		}
		assert.Contains(t, line, "option name")
	}

	in <- "isready"
	assert.Equal(t, "readyok", readLine(t, out))

	in <- "quit"
	select {
	case <-driver.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not close after quit")
	}
}

func TestDriverSetOption(t *testing.T) {
	e := newTestEngine(t)
	in := make(chan string, 4)
	driver, out := uci.NewDriver(context.Background(), e, in)
	drainHandshake(t, out)

	in <- "setoption name CpuctInit value 1.5"
	in <- "isready"
	assert.Equal(t, "readyok", readLine(t, out))
	assert.Equal(t, "1.5", e.Options().String(options.CpuctInit))

	in <- "quit"
	<-driver.Closed()
}

func drainHandshake(t *testing.T, out <-chan string) {
	t.Helper()
	for {
		line := readLine(t, out)
		if line == "uciok" {
			return
		}
	}
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
