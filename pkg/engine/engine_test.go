package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvidchess/corvid/pkg/engine"
	"github.com/corvidchess/corvid/pkg/options"
)

func newTestRegistry() *options.Registry {
	reg := options.New()
	// Keep the backing arena/cache small: tests only exercise construction and identity, not
	// real search throughput.
	_ = reg.Set(options.Hash, "1")
	_ = reg.Set(options.Cache, "1024")
	return reg
}

func TestNewFallsBackToStubNetworkWithoutWeightsFile(t *testing.T) {
	reg := newTestRegistry()
	e := engine.New(context.Background(), "Corvid", "corvidchess", reg)

	assert.Contains(t, e.Name(), "Corvid")
	assert.Equal(t, "corvidchess", e.Author())
}

func TestNewFallsBackToStubNetworkOnUnreadableWeightsFile(t *testing.T) {
	reg := newTestRegistry()
	_ = reg.Set(options.WeightsFile, "/nonexistent/path/weights.gob")

	e := engine.New(context.Background(), "Corvid", "corvidchess", reg)
	assert.Contains(t, e.Name(), "Corvid")
}

func TestNewDefaultsRegistryWhenNil(t *testing.T) {
	e := engine.New(context.Background(), "Corvid", "corvidchess", nil)
	assert.NotNil(t, e.Options())
}
