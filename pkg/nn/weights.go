package nn

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
)

// weightsFile is the on-disk gob encoding of a GorgoniaNetwork's trained weight tensors.
type weightsFile struct {
	Trunk   []float32
	Value   []float32
	Policy  []float32
	Hidden  int
	MoveSpace int
}

// LoadWeights reads a trained network from path and returns a ready-to-use Network. The file
// format is this engine's own gob encoding, not a foreign format: this is the `WeightsFile`
// option's load path (§6), and there is no standard interchange format in the corpus to match
// instead.
func LoadWeights(path string) (Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "nn: open weights file %q", path)
	}
	defer f.Close()

	var wf weightsFile
	if err := gob.NewDecoder(f).Decode(&wf); err != nil {
		return nil, errors.Wrapf(err, "nn: decode weights file %q", path)
	}

	net := NewGorgoniaNetwork(wf.MoveSpace, wf.Hidden)
	if err := net.SetWeights(wf.Trunk, wf.Value, wf.Policy); err != nil {
		return nil, errors.Wrapf(err, "nn: apply weights from %q", path)
	}
	return net, nil
}

// SaveWeights writes the network's current weight tensors to path in this engine's gob format.
func SaveWeights(net *GorgoniaNetwork, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "nn: create weights file %q", path)
	}
	defer f.Close()

	wf := weightsFile{
		Trunk:     net.weightData(net.wTrunk),
		Value:     net.weightData(net.wValue),
		Policy:    net.weightData(net.wPolicy),
		Hidden:    net.hidden,
		MoveSpace: net.moveSpace,
	}
	return gob.NewEncoder(f).Encode(&wf)
}
