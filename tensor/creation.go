package tensor

import (
	"fmt"
)

// NewTensor creates a tensor over the provided backing data. Passing nil data
// leaves the tensor unallocated; use Zeros for an allocated zero tensor.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	strides := calculateStrides(shape)

	tensor := &Tensor{
		Shape:    shape,
		Strides:  strides,
		DType:    dtype,
		NumElems: numElems,
	}

	if data != nil {
		if err := tensor.setData(data); err != nil {
			return nil, err
		}
	}

	return tensor, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// Zeros creates a zero-initialized tensor.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	t, err := NewTensor(shape, dtype, nil)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case Float32:
		t.Data = make([]float32, t.NumElems)
	case Int32:
		t.Data = make([]int32, t.NumElems)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
	return t, nil
}

// Full creates a Float32 tensor filled with the given value.
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := Zeros(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = value
	}
	return t, nil
}
