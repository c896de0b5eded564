package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

// Config carries everything a Builder needs to construct a network.
type Config struct {
	EncoderName    string
	EncoderWeights string
	InChannels     int
	Classes        int
	Activation     string
}

// StageSpec describes one encoder or decoder stage of a segmentation
// topology. It is descriptive metadata: accelerated backends consume it to
// materialize the full architecture; the in-process reference execution
// only needs the channel counts of the head.
type StageSpec struct {
	Name     string `json:"name"`
	Channels int    `json:"channels"`
	Scale    int    `json:"scale"`
	Skip     bool   `json:"skip,omitempty"`
}

// Spec is the declarative description of a built network.
type Spec struct {
	Arch           string      `json:"arch"`
	EncoderName    string      `json:"encoder_name"`
	EncoderWeights string      `json:"encoder_weights"`
	InChannels     int         `json:"in_channels"`
	Classes        int         `json:"classes"`
	Activation     string      `json:"activation"`
	Encoder        []StageSpec `json:"encoder"`
	Decoder        []StageSpec `json:"decoder"`
}

var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the seed used for weight initialization.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Network is a built segmentation model: the architecture spec plus the
// trainable segmentation head executed in-process. Forward maps a
// [N, C, H, W] input batch to [N, classes, H, W] probabilities.
type Network struct {
	arch     Arch
	spec     *Spec
	weight   *tensor.Tensor // [classes, in_channels]
	bias     *tensor.Tensor // [classes]
	training bool

	// Forward keeps what Backward needs.
	lastInput  *tensor.Tensor
	lastOutput *tensor.Tensor
}

func newNetwork(arch Arch, cfg Config, encoder, decoder []StageSpec) (*Network, error) {
	if cfg.InChannels <= 0 {
		return nil, errors.Errorf("in_channels must be positive, got %d", cfg.InChannels)
	}
	if cfg.Classes <= 0 {
		return nil, errors.Errorf("classes must be positive, got %d", cfg.Classes)
	}
	if cfg.Activation != "sigmoid" {
		return nil, errors.Errorf("unsupported activation %q, only sigmoid is available", cfg.Activation)
	}

	// Xavier uniform over the head fan-in/fan-out.
	bound := math.Sqrt(6.0 / float64(cfg.InChannels+cfg.Classes))
	weightData := make([]float32, cfg.Classes*cfg.InChannels)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{cfg.Classes, cfg.InChannels}, tensor.Float32, weightData)
	if err != nil {
		return nil, errors.Wrap(err, "creating head weight")
	}
	weight.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{cfg.Classes}, tensor.Float32)
	if err != nil {
		return nil, errors.Wrap(err, "creating head bias")
	}
	bias.SetRequiresGrad(true)

	return &Network{
		arch: arch,
		spec: &Spec{
			Arch:           arch.String(),
			EncoderName:    cfg.EncoderName,
			EncoderWeights: cfg.EncoderWeights,
			InChannels:     cfg.InChannels,
			Classes:        cfg.Classes,
			Activation:     cfg.Activation,
			Encoder:        encoder,
			Decoder:        decoder,
		},
		weight:   weight,
		bias:     bias,
		training: true,
	}, nil
}

// Arch returns the architecture tag the network was built from.
func (n *Network) Arch() Arch {
	return n.arch
}

// Spec returns the declarative architecture description.
func (n *Network) Spec() *Spec {
	return n.spec
}

// Parameters returns the trainable tensors.
func (n *Network) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{n.weight, n.bias}
}

// Train puts the network in training mode.
func (n *Network) Train() { n.training = true }

// Eval puts the network in evaluation mode.
func (n *Network) Eval() { n.training = false }

// IsTraining reports the current mode.
func (n *Network) IsTraining() bool { return n.training }

// Forward runs the segmentation head over a [N, C, H, W] batch and returns
// sigmoid probabilities shaped [N, classes, H, W].
func (n *Network) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, errors.Errorf("expected 4D input [N, C, H, W], got shape %v", input.Shape)
	}
	batch, channels, height, width := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	if channels != n.spec.InChannels {
		return nil, errors.Errorf("channel mismatch: network expects %d, input has %d", n.spec.InChannels, channels)
	}

	inData, err := input.Float32Data()
	if err != nil {
		return nil, err
	}
	wData, _ := n.weight.Float32Data()
	bData, _ := n.bias.Float32Data()

	classes := n.spec.Classes
	plane := height * width
	out, err := tensor.Zeros([]int{batch, classes, height, width}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	outData, _ := out.Float32Data()

	for b := 0; b < batch; b++ {
		for k := 0; k < classes; k++ {
			for p := 0; p < plane; p++ {
				logit := bData[k]
				for c := 0; c < channels; c++ {
					logit += wData[k*channels+c] * inData[(b*channels+c)*plane+p]
				}
				outData[(b*classes+k)*plane+p] = sigmoid(logit)
			}
		}
	}

	if n.training {
		n.lastInput = input
		n.lastOutput = out
	}
	return out, nil
}

// Backward accumulates parameter gradients given dL/dOutput for the most
// recent Forward call in training mode. Any loss normalization is the
// caller's responsibility; Backward only applies the chain rule.
func (n *Network) Backward(gradOutput *tensor.Tensor) error {
	if n.lastInput == nil || n.lastOutput == nil {
		return errors.New("Backward called before a training-mode Forward")
	}
	if gradOutput.NumElems != n.lastOutput.NumElems {
		return errors.Errorf("gradient shape %v does not match output shape %v", gradOutput.Shape, n.lastOutput.Shape)
	}

	inData, _ := n.lastInput.Float32Data()
	outData, _ := n.lastOutput.Float32Data()
	gradData, err := gradOutput.Float32Data()
	if err != nil {
		return err
	}

	batch := n.lastInput.Shape[0]
	channels := n.spec.InChannels
	classes := n.spec.Classes
	plane := n.lastInput.Shape[2] * n.lastInput.Shape[3]

	wGrad := make([]float32, classes*channels)
	bGrad := make([]float32, classes)
	for b := 0; b < batch; b++ {
		for k := 0; k < classes; k++ {
			for p := 0; p < plane; p++ {
				pred := outData[(b*classes+k)*plane+p]
				// Chain through the sigmoid.
				dLogit := gradData[(b*classes+k)*plane+p] * pred * (1 - pred)
				bGrad[k] += dLogit
				for c := 0; c < channels; c++ {
					wGrad[k*channels+c] += dLogit * inData[(b*channels+c)*plane+p]
				}
			}
		}
	}

	if err := n.weight.AccumulateGrad(wGrad); err != nil {
		return err
	}
	return n.bias.AccumulateGrad(bGrad)
}

// LoadParameters restores head weights from flat slices, used when resuming
// from a checkpoint.
func (n *Network) LoadParameters(weight, bias []float32) error {
	wData, _ := n.weight.Float32Data()
	bData, _ := n.bias.Float32Data()
	if len(weight) != len(wData) || len(bias) != len(bData) {
		return errors.Errorf("parameter size mismatch: weight %d/%d, bias %d/%d",
			len(weight), len(wData), len(bias), len(bData))
	}
	copy(wData, weight)
	copy(bData, bias)
	return nil
}

func (n *Network) String() string {
	return fmt.Sprintf("%s(encoder=%s/%s, classes=%d)", n.spec.Arch, n.spec.EncoderName, n.spec.EncoderWeights, n.spec.Classes)
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}
