package training

import (
	"math"

	"github.com/pkg/errors"

	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

// Optimizer updates module parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
}

// SGD is stochastic gradient descent with optional momentum and weight
// decay.
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   [][]float32
}

// NewSGD creates an SGD optimizer over parameters.
func NewSGD(parameters []*tensor.Tensor, lr, momentum, weightDecay float64) *SGD {
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
	}
	if momentum > 0 {
		sgd.velocities = make([][]float32, len(parameters))
		for i, param := range parameters {
			sgd.velocities[i] = make([]float32, param.NumElems)
		}
	}
	return sgd
}

func (sgd *SGD) Step() error {
	for i, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		data, err := param.Float32Data()
		if err != nil {
			return errors.Wrapf(err, "parameter %d", i)
		}
		grad, err := param.Grad().Float32Data()
		if err != nil {
			return errors.Wrapf(err, "parameter %d gradient", i)
		}

		for j := range data {
			g := float64(grad[j]) + sgd.weightDecay*float64(data[j])
			if sgd.momentum > 0 {
				v := sgd.momentum*float64(sgd.velocities[i][j]) + g
				sgd.velocities[i][j] = float32(v)
				g = v
			}
			data[j] -= float32(sgd.learningRate * g)
		}
	}
	return nil
}

func (sgd *SGD) ZeroGrad() {
	for _, param := range sgd.parameters {
		param.ZeroGrad()
	}
}

func (sgd *SGD) GetLR() float64 {
	return sgd.learningRate
}

func (sgd *SGD) SetLR(lr float64) {
	sgd.learningRate = lr
}

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	parameters   []*tensor.Tensor
	learningRate float64
	beta1        float64
	beta2        float64
	eps          float64
	weightDecay  float64
	step         int
	m            [][]float32
	v            [][]float32
}

// NewAdam creates an Adam optimizer with the standard beta and epsilon
// defaults.
func NewAdam(parameters []*tensor.Tensor, lr float64) *Adam {
	adam := &Adam{
		parameters:   parameters,
		learningRate: lr,
		beta1:        0.9,
		beta2:        0.999,
		eps:          1e-8,
		m:            make([][]float32, len(parameters)),
		v:            make([][]float32, len(parameters)),
	}
	for i, param := range parameters {
		adam.m[i] = make([]float32, param.NumElems)
		adam.v[i] = make([]float32, param.NumElems)
	}
	return adam
}

func (adam *Adam) Step() error {
	adam.step++
	bc1 := 1 - math.Pow(adam.beta1, float64(adam.step))
	bc2 := 1 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		data, err := param.Float32Data()
		if err != nil {
			return errors.Wrapf(err, "parameter %d", i)
		}
		grad, err := param.Grad().Float32Data()
		if err != nil {
			return errors.Wrapf(err, "parameter %d gradient", i)
		}

		for j := range data {
			g := float64(grad[j]) + adam.weightDecay*float64(data[j])
			m := adam.beta1*float64(adam.m[i][j]) + (1-adam.beta1)*g
			v := adam.beta2*float64(adam.v[i][j]) + (1-adam.beta2)*g*g
			adam.m[i][j] = float32(m)
			adam.v[i][j] = float32(v)

			mHat := m / bc1
			vHat := v / bc2
			data[j] -= float32(adam.learningRate * mHat / (math.Sqrt(vHat) + adam.eps))
		}
	}
	return nil
}

func (adam *Adam) ZeroGrad() {
	for _, param := range adam.parameters {
		param.ZeroGrad()
	}
}

func (adam *Adam) GetLR() float64 {
	return adam.learningRate
}

func (adam *Adam) SetLR(lr float64) {
	adam.learningRate = lr
}
