package nn

import (
	"context"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	"github.com/corvidchess/corvid/pkg/encoding"
)

// GorgoniaNetwork is a Computation backend built on a small residual-free convolution-less
// dual-head network: a shared linear trunk over the flattened input planes, a scalar value
// head (tanh) and a policy head (softmax over the move space), expressed as a gorgonia
// ExprGraph and run through a TapeMachine per batch. It is the corpus's only real NN/tensor
// stack (ported in shape from Elvenson-alphabeth's dual-head design) and is intentionally
// shallow: this engine's contribution is the search around the network, not the network
// architecture itself.
type GorgoniaNetwork struct {
	moveSpace int
	hidden    int

	wTrunk *G.Node
	wValue *G.Node
	wPolicy *G.Node

	g *G.ExprGraph
}

// NewGorgoniaNetwork builds a freshly (randomly) initialized network. LoadWeights replaces the
// weight tensors in place once trained weights are available.
func NewGorgoniaNetwork(moveSpace, hidden int) *GorgoniaNetwork {
	g := G.NewGraph()

	inputWidth := encoding.NumPlanes * 64

	trunk := G.NewMatrix(g, tensor.Float32, G.WithShape(inputWidth, hidden), G.WithName("trunk"),
		G.WithInit(G.GlorotN(1.0)))
	value := G.NewMatrix(g, tensor.Float32, G.WithShape(hidden, 1), G.WithName("value"),
		G.WithInit(G.GlorotN(1.0)))
	policy := G.NewMatrix(g, tensor.Float32, G.WithShape(hidden, moveSpace), G.WithName("policy"),
		G.WithInit(G.GlorotN(1.0)))

	return &GorgoniaNetwork{
		moveSpace: moveSpace,
		hidden:    hidden,
		wTrunk:    trunk,
		wValue:    value,
		wPolicy:   policy,
		g:         g,
	}
}

// NewComputation starts a fresh batch against this network's current weights.
func (n *GorgoniaNetwork) NewComputation() Computation {
	return &gorgoniaComputation{net: n}
}

// SetWeights replaces the trunk/value/policy weight tensors in place, in row-major order
// matching each node's declared shape. Used by LoadWeights once a trained checkpoint is read.
func (n *GorgoniaNetwork) SetWeights(trunk, value, policy []float32) error {
	if err := setNodeValue(n.wTrunk, trunk); err != nil {
		return err
	}
	if err := setNodeValue(n.wValue, value); err != nil {
		return err
	}
	return setNodeValue(n.wPolicy, policy)
}

func setNodeValue(node *G.Node, data []float32) error {
	shape := node.Shape()
	t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return G.Let(node, t)
}

// weightData returns a flat copy of a weight node's backing data, for SaveWeights.
func (n *GorgoniaNetwork) weightData(node *G.Node) []float32 {
	v := node.Value()
	if v == nil {
		return nil
	}
	t := v.(tensor.Tensor)
	data, _ := t.Data().([]float32)
	out := make([]float32, len(data))
	copy(out, data)
	return out
}

type gorgoniaComputation struct {
	net    *GorgoniaNetwork
	inputs []*tensor.Dense

	values  []float32
	policies [][]float32
}

func (c *gorgoniaComputation) Add(planes *tensor.Dense) int {
	c.inputs = append(c.inputs, planes)
	return len(c.inputs) - 1
}

func (c *gorgoniaComputation) Evaluate(ctx context.Context) error {
	n := c.net
	batch := len(c.inputs)
	if batch == 0 {
		return nil
	}

	inputWidth := encoding.NumPlanes * 64
	flat := make([]float32, batch*inputWidth)
	for i, in := range c.inputs {
		data, ok := in.Data().([]float32)
		if !ok {
			return fmt.Errorf("nn: unexpected input tensor dtype %v", in.Dtype())
		}
		copy(flat[i*inputWidth:(i+1)*inputWidth], data)
	}

	g := n.g.Clone().(*G.ExprGraph)
	trunkW := findNode(g, "trunk")
	valueW := findNode(g, "value")
	policyW := findNode(g, "policy")

	x := G.NewMatrix(g, tensor.Float32, G.WithShape(batch, inputWidth), G.WithName("x"),
		G.WithValue(tensor.New(tensor.WithShape(batch, inputWidth), tensor.WithBacking(flat))))

	hidden, err := G.Mul(x, trunkW)
	if err != nil {
		return err
	}
	hidden, err = G.Tanh(hidden)
	if err != nil {
		return err
	}

	valueOut, err := G.Mul(hidden, valueW)
	if err != nil {
		return err
	}
	valueOut, err = G.Tanh(valueOut)
	if err != nil {
		return err
	}

	policyLogits, err := G.Mul(hidden, policyW)
	if err != nil {
		return err
	}
	policyOut, err := G.SoftMax(policyLogits)
	if err != nil {
		return err
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return err
	}

	vVal := valueOut.Value().(tensor.Tensor)
	pVal := policyOut.Value().(tensor.Tensor)

	c.values = make([]float32, batch)
	c.policies = make([][]float32, batch)
	for i := 0; i < batch; i++ {
		v, err := vVal.At(i, 0)
		if err != nil {
			return err
		}
		c.values[i] = v.(float32)

		row := make([]float32, n.moveSpace)
		for j := 0; j < n.moveSpace; j++ {
			p, err := pVal.At(i, j)
			if err != nil {
				return err
			}
			row[j] = p.(float32)
		}
		c.policies[i] = row
	}

	return nil
}

func (c *gorgoniaComputation) Q(i int) float32 {
	if i < 0 || i >= len(c.values) {
		return 0
	}
	return c.values[i]
}

func (c *gorgoniaComputation) P(i int, moveIndex int) float32 {
	if i < 0 || i >= len(c.policies) {
		return 0
	}
	row := c.policies[i]
	if moveIndex < 0 || moveIndex >= len(row) {
		return 0
	}
	return row[moveIndex]
}

func findNode(g *G.ExprGraph, name string) *G.Node {
	for _, n := range g.AllNodes() {
		if n.Name() == name {
			return n
		}
	}
	return nil
}

// weightsDotProduct is a tiny helper that computes a plain dot product with vecf32, the same
// low-level kernel gorgonia itself uses internally; gorgonia_test.go checks it against sums
// computed by hand over columns of the trunk layout, without standing up a full graph.
func weightsDotProduct(a, b []float32) float32 {
	return vecf32.Dot(a, b)
}
