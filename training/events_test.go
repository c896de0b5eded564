package training

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogrusReporterRendersEpochFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	reporter := NewLogrusReporter(logger)
	reporter.Report(Event{
		Kind:         EpochFinished,
		Epoch:        7,
		LearningRate: 1e-4,
		TrainLoss:    0.42,
		Validation:   MetricsReport{Loss: 0.38, IoU: 0.61, Fscore: 0.7},
	})

	out := buf.String()
	assert.Contains(t, out, `"msg":"epoch_finished"`)
	assert.Contains(t, out, `"epoch":7`)
	assert.Contains(t, out, `"val_iou":0.61`)
	assert.Contains(t, out, `"train_loss":0.42`)
}

func TestEventKindStrings(t *testing.T) {
	assert.Equal(t, "run_started", RunStarted.String())
	assert.Equal(t, "epoch_finished", EpochFinished.String())
	assert.Equal(t, "learning_rate_changed", LearningRateChanged.String())
	assert.Equal(t, "checkpoint_saved", CheckpointSaved.String())
}
