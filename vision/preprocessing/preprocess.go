// Package preprocessing converts raw image/mask pairs into fixed-size float
// tensors matching a pretrained encoder's input contract. Images are resized
// with a smooth kernel and normalized per channel; masks are resized with
// nearest-neighbor only, so they stay binary.
package preprocessing

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/xiaogengen-007/prj-covid-scoring/model"
	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

// ErrMissingStats is returned when a preprocessor is constructed without the
// encoder's normalization statistics. Skipping normalization silently would
// feed the encoder inputs it was never trained on, so this fails fast.
var ErrMissingStats = errors.New("missing normalization statistics (mean/std)")

const channels = 3

// Preprocessor applies the per-model input transform. It is immutable after
// construction and safe for concurrent use.
type Preprocessor struct {
	width  int
	height int
	mean   []float64
	std    []float64
	lo, hi float64
}

// New creates a preprocessor producing width x height tensors normalized with
// the given encoder statistics.
func New(width, height int, params model.PreprocessingParams) (*Preprocessor, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid input size %dx%d", width, height)
	}
	if len(params.Mean) == 0 || len(params.Std) == 0 {
		return nil, ErrMissingStats
	}
	if len(params.Mean) != channels || len(params.Std) != channels {
		return nil, errors.Errorf("expected %d-channel statistics, got mean=%d std=%d",
			channels, len(params.Mean), len(params.Std))
	}
	for i, s := range params.Std {
		if s == 0 {
			return nil, errors.Errorf("std for channel %d is zero", i)
		}
	}
	lo, hi := params.InputRange[0], params.InputRange[1]
	if lo == 0 && hi == 0 {
		lo, hi = 0, 1
	}
	if hi <= lo {
		return nil, errors.Errorf("invalid input range [%g, %g]", lo, hi)
	}
	return &Preprocessor{
		width:  width,
		height: height,
		mean:   params.Mean,
		std:    params.Std,
		lo:     lo,
		hi:     hi,
	}, nil
}

// Size returns the output spatial dimensions as (width, height).
func (p *Preprocessor) Size() (int, int) {
	return p.width, p.height
}

// Image resizes with a bilinear kernel, scales pixel intensities into the
// encoder's input range and normalizes per channel. The result is a CHW
// float32 tensor shaped [3, height, width].
func (p *Preprocessor) Image(img image.Image) (*tensor.Tensor, error) {
	resized := imaging.Resize(img, p.width, p.height, imaging.Linear)

	out, err := tensor.Zeros([]int{channels, p.height, p.width}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	data, _ := out.Float32Data()

	plane := p.height * p.width
	span := p.hi - p.lo
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			px := resized.NRGBAAt(x, y)
			idx := y*p.width + x
			for c, v := range [channels]uint8{px.R, px.G, px.B} {
				scaled := p.lo + float64(v)/255.0*span
				data[c*plane+idx] = float32((scaled - p.mean[c]) / p.std[c])
			}
		}
	}
	return out, nil
}

// Mask resizes with nearest-neighbor and emits a float32 tensor shaped
// [1, height, width] holding only 0 and 1. Nearest-neighbor is mandatory: a
// smooth kernel would introduce fractional class values.
func (p *Preprocessor) Mask(mask *image.Gray) (*tensor.Tensor, error) {
	resized := imaging.Resize(mask, p.width, p.height, imaging.NearestNeighbor)

	out, err := tensor.Zeros([]int{1, p.height, p.width}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	data, _ := out.Float32Data()
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			if resized.NRGBAAt(x, y).R >= 128 {
				data[y*p.width+x] = 1
			}
		}
	}
	return out, nil
}
