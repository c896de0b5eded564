// Package training runs the optimization loop: loss computation, parameter
// updates, learning rate scheduling, validation metrics, and best-weights
// checkpointing.
package training

import (
	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

// Module is anything trainable: it maps inputs to predictions, propagates
// output gradients back into its parameters, and switches between training
// and evaluation behavior.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOutput *tensor.Tensor) error
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}
