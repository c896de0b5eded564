// Command train runs COVID-19 lesion segmentation training over a
// Supervisely-style dataset and keeps the best validation weights.
package main

import (
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"

	"github.com/xiaogengen-007/prj-covid-scoring/config"
	"github.com/xiaogengen-007/prj-covid-scoring/model"
	"github.com/xiaogengen-007/prj-covid-scoring/training"
	"github.com/xiaogengen-007/prj-covid-scoring/vision/augment"
	"github.com/xiaogengen-007/prj-covid-scoring/vision/dataloader"
	"github.com/xiaogengen-007/prj-covid-scoring/vision/dataset"
	"github.com/xiaogengen-007/prj-covid-scoring/vision/preprocessing"
)

type cliArgs struct {
	DatasetDir     string   `arg:"--dataset-dir" default:"dataset/covid_segmentation" help:"Supervisely project root"`
	ClassName      string   `arg:"--class-name" default:"COVID-19" help:"annotation class rasterized as the target mask"`
	InputSize      string   `arg:"--input-size" default:"512,512" help:"model input as width,height"`
	ModelName      string   `arg:"--model-name" default:"Unet" help:"segmentation architecture"`
	EncoderName    string   `arg:"--encoder-name" default:"resnet18" help:"backbone encoder"`
	EncoderWeights string   `arg:"--encoder-weights" default:"imagenet" help:"pretrained weight set defining normalization stats"`
	BatchSize      int      `arg:"--batch-size" default:"4"`
	Epochs         int      `arg:"--epochs" default:"40"`
	LearningRate   float64  `arg:"--lr" default:"0.0001"`
	DecayEpoch     int      `arg:"--decay-epoch" default:"25" help:"epoch at which the learning rate is reduced"`
	DecayFactor    float64  `arg:"--decay-factor" default:"10"`
	Loss           string   `arg:"--loss" default:"dice" help:"dice or bce"`
	ValInclude     []string `arg:"--val-include" help:"sub-datasets held out for validation"`
	ValExclude     []string `arg:"--val-exclude" help:"sub-datasets dropped from validation"`
	SaveDir        string   `arg:"--save-dir" default:"models"`
	Workers        int      `arg:"--workers" default:"0" help:"batch assembly goroutines, 0 means NumCPU"`
	Seed           int64    `arg:"--seed" default:"0" help:"fixes shuffling and augmentation when non-zero"`
	DeviceCount    int      `arg:"--device-count" default:"1"`
	ConfigFile     string   `arg:"--config" help:"YAML run file, overrides flags"`
}

func (cliArgs) Description() string {
	return "Trains a binary segmentation model on lung CT annotations and keeps the best validation-IoU weights."
}

func main() {
	var args cliArgs
	arg.MustParse(&args)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(args, logger); err != nil {
		logger.WithError(err).Fatal("training failed")
	}
}

func run(args cliArgs, logger *logrus.Logger) error {
	cfg, err := buildConfig(args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	arch, err := cfg.Arch()
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"model":           arch.String(),
		"encoder":         cfg.EncoderName,
		"encoder_weights": cfg.EncoderWeights,
		"class":           cfg.ClassName,
		"input_size":      [2]int{cfg.InputWidth, cfg.InputHeight},
		"batch_size":      cfg.BatchSize,
		"epochs":          cfg.Epochs,
		"lr":              cfg.LearningRate,
		"loss":            cfg.Loss,
		"dataset":         cfg.DatasetDir,
		"val_subsets":     cfg.ValIncluded,
	}).Info("run settings")

	if cfg.Seed != 0 {
		model.SetRandomSeed(cfg.Seed)
	}
	network, err := model.Build(arch, model.Config{
		EncoderName:    cfg.EncoderName,
		EncoderWeights: cfg.EncoderWeights,
		InChannels:     3,
		Classes:        1,
		Activation:     "sigmoid",
	})
	if err != nil {
		return err
	}

	params, err := model.GetPreprocessingParams(cfg.EncoderName, cfg.EncoderWeights)
	if err != nil {
		return err
	}
	prep, err := preprocessing.New(cfg.InputWidth, cfg.InputHeight, params)
	if err != nil {
		return err
	}

	trainSamples, err := dataset.BuildIndex(cfg.DatasetDir, nil, cfg.TrainExcluded())
	if err != nil {
		return err
	}
	valSamples, err := dataset.BuildIndex(cfg.DatasetDir, cfg.ValIncluded, cfg.ValExcluded)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"train_samples": len(trainSamples),
		"val_samples":   len(valSamples),
	}).Info("dataset indexed")

	trainOpts := []dataset.Option{
		dataset.WithAugmentation(augment.Default()),
		dataset.WithCacheSize(2 * cfg.BatchSize),
	}
	if cfg.Seed != 0 {
		trainOpts = append(trainOpts, dataset.WithSeed(cfg.Seed))
	}
	trainSet := dataset.NewSegmentationDataset(trainSamples, cfg.ClassName, prep, trainOpts...)
	valSet := dataset.NewSegmentationDataset(valSamples, cfg.ClassName, prep)

	trainLoader, err := dataloader.New(trainSet, dataloader.Config{
		BatchSize:  cfg.BatchSize,
		Shuffle:    true,
		Seed:       cfg.Seed,
		NumWorkers: cfg.Workers,
	})
	if err != nil {
		return err
	}
	valLoader, err := dataloader.New(valSet, dataloader.Config{
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.Workers,
	})
	if err != nil {
		return err
	}

	runDir, err := cfg.RunDir(time.Now())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	logger.WithField("run_dir", runDir).Info("run directory created")

	loss, err := training.ParseLoss(cfg.Loss)
	if err != nil {
		return err
	}
	optimizer := training.NewAdam(network.Parameters(), cfg.LearningRate)
	trainer := training.NewTrainer(network, optimizer, loss, training.NewLogrusReporter(logger), training.Config{
		Epochs:       cfg.Epochs,
		BaseLR:       cfg.LearningRate,
		DecayEpoch:   cfg.DecayEpoch,
		DecayFactor:  cfg.DecayFactor,
		RunDir:       runDir,
		ShowProgress: true,
	})

	summary, err := trainer.Run(trainLoader, valLoader)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"best_iou":   summary.BestIoU,
		"best_epoch": summary.BestEpoch,
		"run_dir":    runDir,
	}).Info("training complete")
	return nil
}

// buildConfig folds CLI flags into a run configuration, then overlays the
// YAML run file when one is given.
func buildConfig(args cliArgs) (config.RunConfig, error) {
	cfg := config.Defaults()
	cfg.DatasetDir = args.DatasetDir
	cfg.ClassName = args.ClassName
	cfg.Architecture = args.ModelName
	cfg.EncoderName = args.EncoderName
	cfg.EncoderWeights = args.EncoderWeights
	cfg.BatchSize = args.BatchSize
	cfg.Epochs = args.Epochs
	cfg.LearningRate = args.LearningRate
	cfg.DecayEpoch = args.DecayEpoch
	cfg.DecayFactor = args.DecayFactor
	cfg.Loss = args.Loss
	cfg.ValIncluded = args.ValInclude
	cfg.ValExcluded = args.ValExclude
	cfg.SaveDir = args.SaveDir
	cfg.Workers = args.Workers
	cfg.Seed = args.Seed
	cfg.DeviceCount = args.DeviceCount

	width, height, err := config.ParseInputSize(args.InputSize)
	if err != nil {
		return cfg, err
	}
	cfg.InputWidth = width
	cfg.InputHeight = height

	if args.ConfigFile != "" {
		if err := cfg.LoadFile(args.ConfigFile); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
