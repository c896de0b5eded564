package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Tensor is a dense, row-major numeric array. Data is either []float32 or
// []int32 depending on DType. Gradients are plain tensors accumulated by
// whoever computes them; there is no autograd graph.
type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Data         interface{}
	NumElems     int
	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient tensor, or nil if none has been set.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad clears the accumulated gradient in place.
func (t *Tensor) ZeroGrad() {
	if t.grad == nil {
		return
	}
	data := t.grad.Data.([]float32)
	for i := range data {
		data[i] = 0
	}
}

// AccumulateGrad adds delta element-wise into the gradient, allocating it on
// first use. Only Float32 tensors carry gradients.
func (t *Tensor) AccumulateGrad(delta []float32) error {
	if t.DType != Float32 {
		return fmt.Errorf("gradients require Float32 tensor, got %s", t.DType)
	}
	if len(delta) != t.NumElems {
		return fmt.Errorf("gradient size mismatch: expected %d, got %d", t.NumElems, len(delta))
	}
	if t.grad == nil {
		g, err := Zeros(t.Shape, Float32)
		if err != nil {
			return err
		}
		t.grad = g
	}
	gradData := t.grad.Data.([]float32)
	for i, d := range delta {
		gradData[i] += d
	}
	return nil
}

// Float32Data returns the backing slice of a Float32 tensor.
func (t *Tensor) Float32Data() ([]float32, error) {
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Float32", t.DType)
	}
	return data, nil
}

// Int32Data returns the backing slice of an Int32 tensor.
func (t *Tensor) Int32Data() ([]int32, error) {
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Int32", t.DType)
	}
	return data, nil
}

// Clone returns a deep copy of the tensor. Gradient state is not copied.
func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		DType:    t.DType,
		NumElems: t.NumElems,
	}
	switch data := t.Data.(type) {
	case []float32:
		clone.Data = append([]float32(nil), data...)
	case []int32:
		clone.Data = append([]int32(nil), data...)
	}
	return clone
}

// Equal reports whether two tensors have identical shape, dtype and
// bit-identical contents.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || t.DType != other.DType || len(t.Shape) != len(other.Shape) {
		return false
	}
	for i, dim := range t.Shape {
		if other.Shape[i] != dim {
			return false
		}
	}
	switch a := t.Data.(type) {
	case []float32:
		b, ok := other.Data.([]float32)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	case []int32:
		b, ok := other.Data.([]int32)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
