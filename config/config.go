// Package config holds the run configuration: dataset location, model
// selection, training hyperparameters, and the run directory naming scheme.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/xiaogengen-007/prj-covid-scoring/model"
)

// Error reports an invalid configuration value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RunConfig is everything one training run needs.
type RunConfig struct {
	DatasetDir  string `yaml:"dataset_dir"`
	ClassName   string `yaml:"class_name"`
	InputWidth  int    `yaml:"input_width"`
	InputHeight int    `yaml:"input_height"`

	Architecture   string `yaml:"architecture"`
	EncoderName    string `yaml:"encoder_name"`
	EncoderWeights string `yaml:"encoder_weights"`

	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	DecayEpoch   int     `yaml:"decay_epoch"`
	DecayFactor  float64 `yaml:"decay_factor"`
	Loss         string  `yaml:"loss"`

	// ValIncluded names the sub-datasets held out for validation; the
	// training split is everything else. ValExcluded drops sub-datasets
	// from validation without adding them to training.
	ValIncluded []string `yaml:"val_included"`
	ValExcluded []string `yaml:"val_excluded"`

	SaveDir string `yaml:"save_dir"`
	Workers int    `yaml:"workers"`
	Seed    int64  `yaml:"seed"`
	// DeviceCount is the number of compute devices the batch is split
	// across. The batch size must divide evenly.
	DeviceCount int `yaml:"device_count"`
}

// Defaults returns the standard run configuration.
func Defaults() RunConfig {
	return RunConfig{
		DatasetDir:     "dataset/covid_segmentation",
		ClassName:      "COVID-19",
		InputWidth:     512,
		InputHeight:    512,
		Architecture:   "Unet",
		EncoderName:    "resnet18",
		EncoderWeights: "imagenet",
		BatchSize:      4,
		Epochs:         40,
		LearningRate:   1e-4,
		DecayEpoch:     25,
		DecayFactor:    10,
		Loss:           "dice",
		SaveDir:        "models",
		DeviceCount:    1,
	}
}

// Validate checks every field that can fail fast, before any data is read.
func (c *RunConfig) Validate() error {
	if c.DatasetDir == "" {
		return invalid("dataset_dir", "must not be empty")
	}
	if c.ClassName == "" {
		return invalid("class_name", "must not be empty")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return invalid("input_size", "dimensions must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if _, err := model.ParseArch(c.Architecture); err != nil {
		return invalid("architecture", "%v", err)
	}
	if _, err := model.GetPreprocessingParams(c.EncoderName, c.EncoderWeights); err != nil {
		return invalid("encoder", "%v", err)
	}
	if c.BatchSize <= 0 {
		return invalid("batch_size", "must be positive, got %d", c.BatchSize)
	}
	if c.DeviceCount <= 0 {
		return invalid("device_count", "must be positive, got %d", c.DeviceCount)
	}
	if c.BatchSize%c.DeviceCount != 0 {
		return invalid("batch_size", "%d is not divisible by device count %d", c.BatchSize, c.DeviceCount)
	}
	if c.Epochs <= 0 {
		return invalid("epochs", "must be positive, got %d", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return invalid("learning_rate", "must be positive, got %g", c.LearningRate)
	}
	if c.Loss != "dice" && c.Loss != "bce" {
		return invalid("loss", "unknown loss %q, expected one of: bce, dice", c.Loss)
	}
	if len(c.ValIncluded) == 0 {
		return invalid("val_included", "at least one validation sub-dataset is required")
	}
	return nil
}

// Arch returns the parsed architecture. Call Validate first.
func (c *RunConfig) Arch() (model.Arch, error) {
	return model.ParseArch(c.Architecture)
}

// TrainExcluded is the exclusion list for the training split: every
// sub-dataset held out for validation.
func (c *RunConfig) TrainExcluded() []string {
	return c.ValIncluded
}

// RunDir derives the run output directory from the model selection and the
// start time, e.g. models/Unet_resnet18_imagenet_2708_1433.
func (c *RunConfig) RunDir(now time.Time) (string, error) {
	arch, err := c.Arch()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s_%s",
		arch.DirName(), c.EncoderName, c.EncoderWeights, now.Format("0201_1504"))
	return filepath.Join(c.SaveDir, name), nil
}

// ParseInputSize parses a "width,height" flag value.
func ParseInputSize(value string) (int, int, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return 0, 0, invalid("input_size", "expected \"width,height\", got %q", value)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, invalid("input_size", "bad width %q", parts[0])
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, invalid("input_size", "bad height %q", parts[1])
	}
	return width, height, nil
}

// LoadFile overlays the YAML document at path onto c. Absent keys keep
// their current values.
func (c *RunConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
