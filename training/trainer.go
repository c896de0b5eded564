package training

import (
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/xiaogengen-007/prj-covid-scoring/checkpoints"
	"github.com/xiaogengen-007/prj-covid-scoring/model"
	"github.com/xiaogengen-007/prj-covid-scoring/vision/dataloader"
)

// Evaluator scores a model over a validation loader. The trainer only
// depends on the report, so alternative evaluation strategies can be swapped
// in without touching the epoch loop.
type Evaluator interface {
	Evaluate(loader *dataloader.Loader) (MetricsReport, error)
}

// Config controls one training run.
type Config struct {
	Epochs     int
	BaseLR     float64
	DecayEpoch int
	// DecayFactor divides the learning rate at DecayEpoch. Ignored when
	// DecayEpoch is not inside the run.
	DecayFactor float64
	// RunDir receives best_weights.json. Empty disables checkpointing.
	RunDir string
	// Threshold binarizes predictions for validation metrics.
	Threshold float32
	// ShowProgress renders a per-epoch progress bar on stderr.
	ShowProgress bool
}

// Summary is the outcome of a completed run.
type Summary struct {
	Epochs    int
	BestIoU   float64
	BestEpoch int
}

// Trainer drives the epoch loop: train over every batch, validate, keep the
// weights whenever validation IoU improves.
type Trainer struct {
	network    *model.Network
	optimizer  Optimizer
	loss       Loss
	scheduler  LRScheduler
	evaluator  Evaluator
	saver      *checkpoints.Saver
	reporter   Reporter
	config     Config
	bestIoU    float64
	bestEpoch  int
	checkpoint func(state checkpoints.TrainingState) error
}

// NewTrainer wires a trainer around a network. The scheduler is derived from
// the config: a boundary decay when DecayEpoch falls inside the run, a
// constant rate otherwise.
func NewTrainer(network *model.Network, optimizer Optimizer, loss Loss, reporter Reporter, config Config) *Trainer {
	if config.Threshold <= 0 {
		config.Threshold = 0.5
	}
	if reporter == nil {
		reporter = NopReporter{}
	}

	var scheduler LRScheduler
	if config.DecayEpoch > 0 && config.DecayEpoch < config.Epochs {
		scheduler = NewBoundaryLRScheduler(config.DecayEpoch, config.DecayFactor)
	} else {
		scheduler = NewConstantLRScheduler()
	}

	t := &Trainer{
		network:   network,
		optimizer: optimizer,
		loss:      loss,
		scheduler: scheduler,
		saver:     checkpoints.NewSaver(),
		reporter:  reporter,
		config:    config,
		bestIoU:   -1,
		bestEpoch: -1,
	}
	t.evaluator = &lossEvaluator{
		module:    network,
		loss:      loss,
		threshold: config.Threshold,
	}
	t.checkpoint = t.saveBest
	return t
}

// SetEvaluator replaces the default validation pass.
func (t *Trainer) SetEvaluator(e Evaluator) {
	t.evaluator = e
}

// Run trains for the configured number of epochs and returns the run
// summary. Any batch or checkpoint failure aborts the run.
func (t *Trainer) Run(trainLoader, valLoader *dataloader.Loader) (*Summary, error) {
	t.reporter.Report(Event{Kind: RunStarted, LearningRate: t.config.BaseLR})

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		lr := t.scheduler.GetLR(epoch, t.config.BaseLR)
		if lr != t.optimizer.GetLR() {
			t.reporter.Report(Event{Kind: LearningRateChanged, Epoch: epoch, LearningRate: lr})
		}
		t.optimizer.SetLR(lr)

		trainLoss, err := t.trainEpoch(trainLoader)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d", epoch)
		}

		report, err := t.evaluator.Evaluate(valLoader)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d validation", epoch)
		}

		t.reporter.Report(Event{
			Kind:         EpochFinished,
			Epoch:        epoch,
			LearningRate: lr,
			TrainLoss:    trainLoss,
			Validation:   report,
		})

		if report.IoU > t.bestIoU {
			t.bestIoU = report.IoU
			t.bestEpoch = epoch
			if err := t.checkpoint(checkpoints.TrainingState{
				Epoch:        epoch,
				LearningRate: lr,
				BestIoU:      report.IoU,
			}); err != nil {
				return nil, errors.Wrapf(err, "epoch %d checkpoint", epoch)
			}
			t.reporter.Report(Event{Kind: CheckpointSaved, Epoch: epoch, Validation: report})
		}
	}

	return &Summary{
		Epochs:    t.config.Epochs,
		BestIoU:   t.bestIoU,
		BestEpoch: t.bestEpoch,
	}, nil
}

// trainEpoch runs one full pass over the training loader and returns the
// mean batch loss.
func (t *Trainer) trainEpoch(loader *dataloader.Loader) (float64, error) {
	t.network.Train()
	loader.Reset()

	var bar *progressbar.ProgressBar
	if t.config.ShowProgress {
		bar = progressbar.NewOptions(loader.Len(),
			progressbar.OptionSetDescription("train"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var total float64
	var batches int
	for {
		batch, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}

		pred, err := t.network.Forward(batch.Inputs)
		if err != nil {
			return 0, errors.Wrap(err, "forward")
		}
		lossValue, err := t.loss.Forward(pred, batch.Targets)
		if err != nil {
			return 0, errors.Wrap(err, "loss")
		}
		grad, err := t.loss.Backward(pred, batch.Targets)
		if err != nil {
			return 0, errors.Wrap(err, "loss gradient")
		}

		t.optimizer.ZeroGrad()
		if err := t.network.Backward(grad); err != nil {
			return 0, errors.Wrap(err, "backward")
		}
		if err := t.optimizer.Step(); err != nil {
			return 0, errors.Wrap(err, "optimizer step")
		}

		total += lossValue
		batches++
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if batches == 0 {
		return 0, errors.New("training loader produced no batches")
	}
	return total / float64(batches), nil
}

// saveBest snapshots the network into RunDir's best weights file.
func (t *Trainer) saveBest(state checkpoints.TrainingState) error {
	if t.config.RunDir == "" {
		return nil
	}
	checkpoint, err := checkpoints.Snapshot(t.network, state)
	if err != nil {
		return err
	}
	return t.saver.Save(checkpoint, filepath.Join(t.config.RunDir, checkpoints.BestWeightsFile))
}

// lossEvaluator is the default validation pass: forward every batch in eval
// mode, accumulate the confusion matrix, and report the mean loss.
type lossEvaluator struct {
	module    Module
	loss      Loss
	threshold float32
}

func (e *lossEvaluator) Evaluate(loader *dataloader.Loader) (MetricsReport, error) {
	wasTraining := e.module.IsTraining()
	e.module.Eval()
	defer func() {
		if wasTraining {
			e.module.Train()
		}
	}()

	accumulator := NewMetricsAccumulator(e.threshold)
	loader.Reset()

	var total float64
	var batches int
	for {
		batch, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return MetricsReport{}, err
		}

		pred, err := e.module.Forward(batch.Inputs)
		if err != nil {
			return MetricsReport{}, errors.Wrap(err, "forward")
		}
		lossValue, err := e.loss.Forward(pred, batch.Targets)
		if err != nil {
			return MetricsReport{}, errors.Wrap(err, "loss")
		}
		if err := accumulator.Update(pred, batch.Targets); err != nil {
			return MetricsReport{}, err
		}

		total += lossValue
		batches++
	}

	if batches == 0 {
		return MetricsReport{}, errors.New("validation loader produced no batches")
	}
	return accumulator.Report(total / float64(batches)), nil
}
