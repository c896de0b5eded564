package training

import (
	"math"

	"github.com/pkg/errors"

	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

// epsilon guards logs and divisions against saturated predictions.
const epsilon = 1e-7

// Loss scores predictions against binary targets and produces the gradient
// of that score with respect to the predictions. Predictions are expected in
// (0,1); targets in {0,1}.
type Loss interface {
	Name() string
	Forward(pred, target *tensor.Tensor) (float64, error)
	Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error)
}

// ParseLoss resolves a loss by its configuration name.
func ParseLoss(name string) (Loss, error) {
	switch name {
	case "dice":
		return NewDiceLoss(), nil
	case "bce":
		return NewBCELoss(), nil
	default:
		return nil, errors.Errorf("unknown loss %q, expected one of: bce, dice", name)
	}
}

func lossOperands(pred, target *tensor.Tensor) ([]float32, []float32, error) {
	p, err := pred.Float32Data()
	if err != nil {
		return nil, nil, errors.Wrap(err, "predictions")
	}
	t, err := target.Float32Data()
	if err != nil {
		return nil, nil, errors.Wrap(err, "targets")
	}
	if len(p) != len(t) {
		return nil, nil, errors.Errorf("prediction size %d does not match target size %d", len(p), len(t))
	}
	if len(p) == 0 {
		return nil, nil, errors.New("empty prediction tensor")
	}
	return p, t, nil
}

// BCELoss is mean binary cross entropy over every pixel.
type BCELoss struct{}

func NewBCELoss() *BCELoss {
	return &BCELoss{}
}

func (l *BCELoss) Name() string {
	return "bce"
}

func (l *BCELoss) Forward(pred, target *tensor.Tensor) (float64, error) {
	p, t, err := lossOperands(pred, target)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i := range p {
		pi := clamp(float64(p[i]))
		sum += -(float64(t[i])*math.Log(pi) + (1-float64(t[i]))*math.Log(1-pi))
	}
	return sum / float64(len(p)), nil
}

func (l *BCELoss) Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	p, t, err := lossOperands(pred, target)
	if err != nil {
		return nil, err
	}

	n := float64(len(p))
	grad := make([]float32, len(p))
	for i := range p {
		pi := clamp(float64(p[i]))
		grad[i] = float32((pi - float64(t[i])) / (pi * (1 - pi) * n))
	}
	return tensor.NewTensor(pred.Shape, tensor.Float32, grad)
}

// DiceLoss is 1 minus the soft Dice coefficient, computed over the whole
// batch. It directly optimizes region overlap, which tolerates the heavy
// class imbalance of lesion masks better than plain cross entropy.
type DiceLoss struct{}

func NewDiceLoss() *DiceLoss {
	return &DiceLoss{}
}

func (l *DiceLoss) Name() string {
	return "dice"
}

func (l *DiceLoss) Forward(pred, target *tensor.Tensor) (float64, error) {
	p, t, err := lossOperands(pred, target)
	if err != nil {
		return 0, err
	}

	var intersection, total float64
	for i := range p {
		intersection += float64(p[i]) * float64(t[i])
		total += float64(p[i]) + float64(t[i])
	}
	dice := (2*intersection + epsilon) / (total + epsilon)
	return 1 - dice, nil
}

func (l *DiceLoss) Backward(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	p, t, err := lossOperands(pred, target)
	if err != nil {
		return nil, err
	}

	var intersection, total float64
	for i := range p {
		intersection += float64(p[i]) * float64(t[i])
		total += float64(p[i]) + float64(t[i])
	}
	numer := 2*intersection + epsilon
	denom := total + epsilon

	grad := make([]float32, len(p))
	for i := range p {
		// d(1 - numer/denom)/dp_i with numer and denom both depending
		// on p_i.
		grad[i] = float32(-(2*float64(t[i])*denom - numer) / (denom * denom))
	}
	return tensor.NewTensor(pred.Shape, tensor.Float32, grad)
}

func clamp(v float64) float64 {
	if v < epsilon {
		return epsilon
	}
	if v > 1-epsilon {
		return 1 - epsilon
	}
	return v
}
