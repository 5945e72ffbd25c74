// Package engine wires together the NN backend, tablebase, and options registry the protocol
// front-end needs, and wraps the resulting search.Engine with the version-qualified UCI identity
// (id name/id author). The Reset/Move/TakeBack/Analyze/Halt surface itself already lives on
// search.Engine; this package is the construction/identity layer the teacher's own engine.Engine
// occupies above its search.Search root.
package engine

import (
	"context"
	"fmt"

	"github.com/seekerror/build"
	"github.com/seekerror/logw"

	"github.com/corvidchess/corvid/pkg/encoding"
	"github.com/corvidchess/corvid/pkg/nn"
	"github.com/corvidchess/corvid/pkg/options"
	"github.com/corvidchess/corvid/pkg/rules"
	"github.com/corvidchess/corvid/pkg/search"
)

var version = build.NewVersion(0, 1, 0)

// Engine is a search.Engine plus the version-qualified name the UCI "id" handshake reports.
type Engine struct {
	*search.Engine

	name string
}

// New constructs an engine wired from reg's WeightsFile option: a GorgoniaNetwork if a weights
// file is configured and loadable, the deterministic StubNetwork otherwise. The tablebase is
// always rules.NoTablebase and SyzygyPath is not read, since the corpus carries no Syzygy probing
// library (see DESIGN.md).
func New(ctx context.Context, name, author string, reg *options.Registry) *Engine {
	if reg == nil {
		reg = options.New()
	}

	network := loadNetwork(ctx, reg)

	e := &Engine{
		name:   name,
		Engine: search.New(ctx, name, author, search.WithNetwork(network), search.WithTablebase(rules.NoTablebase{}), search.WithRegistry(reg)),
	}

	logw.Infof(ctx, "Initialized %v", e.Name())
	return e
}

func loadNetwork(ctx context.Context, reg *options.Registry) nn.Network {
	path := reg.String(options.WeightsFile)
	if path == "" {
		return nn.NewStubNetwork(encoding.MoveSpace)
	}

	net, err := nn.LoadWeights(path)
	if err != nil {
		logw.Errorf(ctx, "Failed to load weights from %q, falling back to stub network: %v", path, err)
		return nn.NewStubNetwork(encoding.MoveSpace)
	}
	return net
}

// Name returns the engine name and version, for the UCI "id name" line.
func (e *Engine) Name() string {
	return fmt.Sprintf("%v %v", e.name, version)
}
