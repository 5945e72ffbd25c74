package uci

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/corvidchess/corvid/pkg/board"
	"github.com/corvidchess/corvid/pkg/search"
)

func TestParseSetOption(t *testing.T) {
	name, value := parseSetOption(strSplit("setoption name Hash value 256"))
	assert.Equal(t, "Hash", name)
	assert.Equal(t, "256", value)
}

func TestParseSetOptionNoValue(t *testing.T) {
	name, value := parseSetOption(strSplit("setoption name Ponder"))
	assert.Equal(t, "Ponder", name)
	assert.Equal(t, "", value)
}

func TestParseGoMoveTimeSetsTimeout(t *testing.T) {
	opt, timeout, err := parseGo(strSplit("go movetime 5000"))
	assert.NoError(t, err)
	assert.Equal(t, 5*time.Second, opt.MoveTime)
	assert.Equal(t, 5*time.Second, timeout)
}

func TestParseGoTimeControl(t *testing.T) {
	opt, timeout, err := parseGo(strSplit("go wtime 60000 btime 60000 winc 1000 binc 1000 movestogo 30"))
	assert.NoError(t, err)
	assert.Equal(t, time.Duration(0), timeout)

	tc, ok := opt.TimeControl.V()
	assert.True(t, ok)
	assert.Equal(t, 60*time.Second, tc.White)
	assert.Equal(t, 60*time.Second, tc.Black)
	assert.Equal(t, time.Second, tc.Increment)
	assert.Equal(t, 30, tc.Moves)
}

func TestParseGoDepthAndNodes(t *testing.T) {
	opt, _, err := parseGo(strSplit("go depth 12 nodes 100000"))
	assert.NoError(t, err)

	depth, ok := opt.DepthLimit.V()
	assert.True(t, ok)
	assert.Equal(t, uint32(12), depth)

	nodes, ok := opt.NodesLimit.V()
	assert.True(t, ok)
	assert.Equal(t, uint64(100000), nodes)
}

func TestParseGoInfiniteAndPonder(t *testing.T) {
	opt, _, err := parseGo(strSplit("go infinite ponder"))
	assert.NoError(t, err)
	assert.True(t, opt.Infinite)
	assert.True(t, opt.Ponder)
}

func TestParseGoSearchMoves(t *testing.T) {
	opt, _, err := parseGo(strSplit("go searchmoves e2e4 d2d4"))
	assert.NoError(t, err)
	assert.Len(t, opt.SearchMoves, 2)
}

func TestParseGoInvalidArgument(t *testing.T) {
	_, _, err := parseGo(strSplit("go depth notanumber"))
	assert.Error(t, err)
}

func TestPrintPVIncludesMandatoryFields(t *testing.T) {
	pv := search.PV{
		Nodes: 1000,
		Depth: 4,
		Score: 0.5,
		Moves: []board.Move{{From: board.E2, To: board.E4}},
		Time:  time.Second,
		Hash:  12.3,
	}

	line := printPV(pv)
	assert.Contains(t, line, "info")
	assert.Contains(t, line, "depth 4")
	assert.Contains(t, line, "score cp 50")
	assert.Contains(t, line, "nodes 1000")
	assert.Contains(t, line, "hashfull 123")
	assert.Contains(t, line, "pv")
}

func TestPrintPVWithoutMoves(t *testing.T) {
	line := printPV(search.PV{})
	assert.NotContains(t, line, "pv")
}

// strSplit mirrors the space-split the driver itself performs on an incoming protocol line,
// dropping the leading command token the way the process loop's args slice already does.
func strSplit(line string) []string {
	parts := splitOnSpace(line)
	if len(parts) == 0 {
		return nil
	}
	return parts[1:]
}

func splitOnSpace(s string) []string {
	var fields []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	return fields
}
