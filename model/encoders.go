package model

import (
	"github.com/pkg/errors"
)

// PreprocessingParams describes the input statistics an encoder's pretrained
// weights were produced with. Inputs fed to the encoder must be scaled to
// InputRange and normalized per channel with Mean and Std.
type PreprocessingParams struct {
	Mean       []float64
	Std        []float64
	InputRange [2]float64
}

type encoderKey struct {
	encoder string
	weights string
}

// ImageNet-family statistics shared by all supervised and semi-supervised
// ResNet weight sets.
var imagenetStats = PreprocessingParams{
	Mean:       []float64{0.485, 0.456, 0.406},
	Std:        []float64{0.229, 0.224, 0.225},
	InputRange: [2]float64{0, 1},
}

var encoderParams = map[encoderKey]PreprocessingParams{
	{"resnet18", "imagenet"}:  imagenetStats,
	{"resnet18", "ssl"}:       imagenetStats,
	{"resnet18", "swsl"}:      imagenetStats,
	{"resnet34", "imagenet"}:  imagenetStats,
	{"resnet50", "imagenet"}:  imagenetStats,
	{"resnet50", "ssl"}:       imagenetStats,
	{"resnet50", "swsl"}:      imagenetStats,
	{"resnet101", "imagenet"}: imagenetStats,
	{"se_resnet50", "imagenet"}: {
		Mean:       []float64{0.485, 0.456, 0.406},
		Std:        []float64{0.229, 0.224, 0.225},
		InputRange: [2]float64{0, 1},
	},
}

// GetPreprocessingParams looks up the normalization contract for an encoder
// and weight set. The statistics must be applied verbatim by the
// preprocessing pipeline; there is no fallback for unknown pairs.
func GetPreprocessingParams(encoderName, encoderWeights string) (PreprocessingParams, error) {
	params, ok := encoderParams[encoderKey{encoderName, encoderWeights}]
	if !ok {
		return PreprocessingParams{}, errors.Errorf(
			"no pretrained statistics for encoder %q with weights %q", encoderName, encoderWeights)
	}
	return params, nil
}
