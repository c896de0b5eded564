package model

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

func testConfig() Config {
	return Config{
		EncoderName:    "resnet18",
		EncoderWeights: "imagenet",
		InChannels:     3,
		Classes:        1,
		Activation:     "sigmoid",
	}
}

func TestParseArch(t *testing.T) {
	for _, name := range []string{"Unet", "Unet++", "DeepLabV3", "DeepLabV3+", "FPN", "Linknet", "PSPNet"} {
		arch, err := ParseArch(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, arch.String())
	}

	_, err := ParseArch("ResNet")
	require.Error(t, err)
	// The error must list the recognized set.
	for _, name := range ArchNames() {
		assert.Contains(t, err.Error(), name)
	}
}

func TestBuildAllArchitectures(t *testing.T) {
	for _, name := range ArchNames() {
		arch, err := ParseArch(name)
		require.NoError(t, err)

		net, err := Build(arch, testConfig())
		require.NoError(t, err, name)
		assert.Equal(t, arch, net.Arch())
		assert.NotEmpty(t, net.Spec().Encoder, name)
		assert.NotEmpty(t, net.Spec().Decoder, name)
		assert.Len(t, net.Parameters(), 2)
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Activation = "softmax"
	_, err := Build(Unet, cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.InChannels = 0
	_, err = Build(Unet, cfg)
	require.Error(t, err)
}

func TestArchDirName(t *testing.T) {
	assert.Equal(t, "UnetPlusPlus", UnetPlusPlus.DirName())
	assert.Equal(t, "DeepLabV3Plus", DeepLabV3Plus.DirName())
	assert.False(t, strings.ContainsAny(Unet.DirName(), "+/"))
}

func TestGetPreprocessingParams(t *testing.T) {
	params, err := GetPreprocessingParams("resnet18", "imagenet")
	require.NoError(t, err)
	assert.InDelta(t, 0.485, params.Mean[0], 1e-9)
	assert.InDelta(t, 0.229, params.Std[0], 1e-9)
	assert.Equal(t, [2]float64{0, 1}, params.InputRange)

	_, err = GetPreprocessingParams("resnet18", "nonsense")
	require.Error(t, err)
}

func TestForwardShapeAndRange(t *testing.T) {
	SetRandomSeed(7)
	net, err := Build(Unet, testConfig())
	require.NoError(t, err)

	input, err := tensor.Zeros([]int{2, 3, 4, 4}, tensor.Float32)
	require.NoError(t, err)
	data, _ := input.Float32Data()
	for i := range data {
		data[i] = float32(i%7) / 7.0
	}

	out, err := net.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 4, 4}, out.Shape)

	probs, _ := out.Float32Data()
	for _, p := range probs {
		assert.Greater(t, float64(p), 0.0)
		assert.Less(t, float64(p), 1.0)
	}

	_, err = net.Forward(input)
	require.NoError(t, err)

	bad, _ := tensor.Zeros([]int{2, 4, 4}, tensor.Float32)
	_, err = net.Forward(bad)
	require.Error(t, err)
}

func TestBackwardReducesLoss(t *testing.T) {
	SetRandomSeed(3)
	net, err := Build(Unet, testConfig())
	require.NoError(t, err)

	// Target: pixels with bright first channel belong to the class.
	input, _ := tensor.Zeros([]int{1, 3, 4, 4}, tensor.Float32)
	target, _ := tensor.Zeros([]int{1, 1, 4, 4}, tensor.Float32)
	inData, _ := input.Float32Data()
	tgData, _ := target.Float32Data()
	for p := 0; p < 16; p++ {
		if p%2 == 0 {
			inData[p] = 1.0
			tgData[p] = 1.0
		}
	}

	bceLoss := func(pred, tg []float32) float64 {
		total := 0.0
		for i := range pred {
			p := math.Min(math.Max(float64(pred[i]), 1e-7), 1-1e-7)
			total += -(float64(tg[i])*math.Log(p) + (1-float64(tg[i]))*math.Log(1-p))
		}
		return total / float64(len(pred))
	}

	var first, last float64
	lr := float32(0.5)
	for step := 0; step < 50; step++ {
		out, err := net.Forward(input)
		require.NoError(t, err)
		predData, _ := out.Float32Data()

		loss := bceLoss(predData, tgData)
		if step == 0 {
			first = loss
		}
		last = loss

		// dBCE/dpred, including the mean normalization.
		grad := make([]float32, len(predData))
		for i := range grad {
			p := math.Min(math.Max(float64(predData[i]), 1e-7), 1-1e-7)
			grad[i] = float32((p - float64(tgData[i])) / (p * (1 - p) * float64(len(grad))))
		}
		gradT, _ := tensor.NewTensor(out.Shape, tensor.Float32, grad)
		require.NoError(t, net.Backward(gradT))

		for _, param := range net.Parameters() {
			pd, _ := param.Float32Data()
			gd, _ := param.Grad().Float32Data()
			for i := range pd {
				pd[i] -= lr * gd[i]
			}
			param.ZeroGrad()
		}
	}

	assert.Less(t, last, first, "training steps should reduce the loss")
}

func TestLoadParameters(t *testing.T) {
	net, err := Build(FPN, testConfig())
	require.NoError(t, err)

	require.NoError(t, net.LoadParameters([]float32{1, 2, 3}, []float32{4}))
	w, _ := net.Parameters()[0].Float32Data()
	assert.Equal(t, []float32{1, 2, 3}, w)

	require.Error(t, net.LoadParameters([]float32{1}, []float32{4}))
}
