// Package checkpoints serializes model state to disk and restores it. The
// format is a single JSON document holding the architecture spec, every
// parameter tensor, and enough training state to resume or compare runs.
package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/xiaogengen-007/prj-covid-scoring/model"
)

// BestWeightsFile is the file name a training run overwrites whenever
// validation improves.
const BestWeightsFile = "best_weights.json"

// Checkpoint is a complete snapshot of a model plus the training state at
// the moment it was taken.
type Checkpoint struct {
	Spec          *model.Spec        `json:"model_spec"`
	Weights       []WeightTensor     `json:"weights"`
	TrainingState TrainingState      `json:"training_state"`
	Metadata      CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one named parameter with its full data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState records where in the run the snapshot was taken and the best
// validation score seen so far.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	BestIoU      float64 `json:"best_iou"`
}

// CheckpointMetadata identifies the writer and creation time.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Saver writes and reads checkpoints.
type Saver struct{}

// NewSaver creates a checkpoint saver.
func NewSaver() *Saver {
	return &Saver{}
}

// Save writes checkpoint to path atomically: the document lands in a temp
// file first and is renamed over any existing checkpoint, so a crash
// mid-write never corrupts the previous best weights.
func (s *Saver) Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "prj-covid-scoring"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint file")
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		tmp.Close()
		return errors.Wrap(err, "encode checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp checkpoint file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace checkpoint")
	}
	return nil
}

// Load reads a checkpoint from path.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint file")
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	return &checkpoint, nil
}

// Snapshot captures a network's current parameters and training state into a
// checkpoint ready to save.
func Snapshot(network *model.Network, state TrainingState) (*Checkpoint, error) {
	params := network.Parameters()
	names := []string{"head.weight", "head.bias"}
	if len(params) != len(names) {
		return nil, errors.Errorf("expected %d parameter tensors, got %d", len(names), len(params))
	}

	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		data, err := p.Float32Data()
		if err != nil {
			return nil, errors.Wrapf(err, "extract %s", names[i])
		}
		copied := make([]float32, len(data))
		copy(copied, data)
		shape := make([]int, len(p.Shape))
		copy(shape, p.Shape)
		weights[i] = WeightTensor{Name: names[i], Shape: shape, Data: copied}
	}

	return &Checkpoint{
		Spec:          network.Spec(),
		Weights:       weights,
		TrainingState: state,
	}, nil
}

// Restore loads a checkpoint's parameters into network. Shapes must match
// the network's current parameters.
func Restore(checkpoint *Checkpoint, network *model.Network) error {
	byName := make(map[string]WeightTensor, len(checkpoint.Weights))
	for _, w := range checkpoint.Weights {
		byName[w.Name] = w
	}

	weight, ok := byName["head.weight"]
	if !ok {
		return errors.New("checkpoint missing head.weight")
	}
	bias, ok := byName["head.bias"]
	if !ok {
		return errors.New("checkpoint missing head.bias")
	}
	return network.LoadParameters(weight.Data, bias.Data)
}
