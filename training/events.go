package training

import (
	"github.com/sirupsen/logrus"
)

// EventKind tags the stages of a training run.
type EventKind int

const (
	RunStarted EventKind = iota
	EpochFinished
	LearningRateChanged
	CheckpointSaved
)

func (k EventKind) String() string {
	switch k {
	case RunStarted:
		return "run_started"
	case EpochFinished:
		return "epoch_finished"
	case LearningRateChanged:
		return "learning_rate_changed"
	case CheckpointSaved:
		return "checkpoint_saved"
	default:
		return "unknown"
	}
}

// Event is one structured training occurrence. Only the fields relevant to
// the kind are populated.
type Event struct {
	Kind         EventKind
	Epoch        int
	LearningRate float64
	TrainLoss    float64
	Validation   MetricsReport
}

// Reporter consumes training events. Rendering (console, log aggregation,
// dashboards) lives behind this seam so the trainer stays free of output
// concerns.
type Reporter interface {
	Report(event Event)
}

// NopReporter discards every event.
type NopReporter struct{}

func (NopReporter) Report(Event) {}

// LogrusReporter renders events as structured log lines.
type LogrusReporter struct {
	logger *logrus.Logger
}

// NewLogrusReporter creates a reporter writing through logger.
func NewLogrusReporter(logger *logrus.Logger) *LogrusReporter {
	return &LogrusReporter{logger: logger}
}

func (r *LogrusReporter) Report(event Event) {
	fields := logrus.Fields{"epoch": event.Epoch}
	switch event.Kind {
	case RunStarted:
		delete(fields, "epoch")
	case EpochFinished:
		fields["train_loss"] = event.TrainLoss
		fields["val_loss"] = event.Validation.Loss
		fields["val_iou"] = event.Validation.IoU
		fields["val_fscore"] = event.Validation.Fscore
		fields["lr"] = event.LearningRate
	case LearningRateChanged:
		fields["lr"] = event.LearningRate
	case CheckpointSaved:
		fields["iou"] = event.Validation.IoU
	}
	r.logger.WithFields(fields).Info(event.Kind.String())
}
