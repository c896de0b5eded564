package training

import (
	"github.com/pkg/errors"

	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

// MetricsAccumulator builds a pixel-level confusion matrix across batches.
// Predictions are binarized at the threshold; derived scores are computed
// once over the whole accumulated set, so batch size does not bias them.
type MetricsAccumulator struct {
	threshold float32
	tp        int64
	fp        int64
	fn        int64
	tn        int64
}

// MetricsReport is one evaluation pass summarized.
type MetricsReport struct {
	Loss      float64
	IoU       float64
	Fscore    float64
	Accuracy  float64
	Precision float64
	Recall    float64
}

// NewMetricsAccumulator creates an accumulator binarizing at threshold.
func NewMetricsAccumulator(threshold float32) *MetricsAccumulator {
	return &MetricsAccumulator{threshold: threshold}
}

// Reset clears the confusion matrix for a new evaluation pass.
func (m *MetricsAccumulator) Reset() {
	m.tp, m.fp, m.fn, m.tn = 0, 0, 0, 0
}

// Update folds one batch of predictions into the confusion matrix.
func (m *MetricsAccumulator) Update(pred, target *tensor.Tensor) error {
	p, err := pred.Float32Data()
	if err != nil {
		return errors.Wrap(err, "predictions")
	}
	t, err := target.Float32Data()
	if err != nil {
		return errors.Wrap(err, "targets")
	}
	if len(p) != len(t) {
		return errors.Errorf("prediction size %d does not match target size %d", len(p), len(t))
	}

	for i := range p {
		predicted := p[i] >= m.threshold
		actual := t[i] >= 0.5
		switch {
		case predicted && actual:
			m.tp++
		case predicted && !actual:
			m.fp++
		case !predicted && actual:
			m.fn++
		default:
			m.tn++
		}
	}
	return nil
}

// IoU is intersection over union of the positive class.
func (m *MetricsAccumulator) IoU() float64 {
	return ratio(m.tp, m.tp+m.fp+m.fn)
}

// Fscore is the harmonic mean of precision and recall.
func (m *MetricsAccumulator) Fscore() float64 {
	return ratio(2*m.tp, 2*m.tp+m.fp+m.fn)
}

// Accuracy is the fraction of correctly labeled pixels.
func (m *MetricsAccumulator) Accuracy() float64 {
	return ratio(m.tp+m.tn, m.tp+m.tn+m.fp+m.fn)
}

// Precision is the fraction of predicted positives that are real.
func (m *MetricsAccumulator) Precision() float64 {
	return ratio(m.tp, m.tp+m.fp)
}

// Recall is the fraction of real positives that were found.
func (m *MetricsAccumulator) Recall() float64 {
	return ratio(m.tp, m.tp+m.fn)
}

// Report summarizes the accumulated matrix alongside a mean loss.
func (m *MetricsAccumulator) Report(loss float64) MetricsReport {
	return MetricsReport{
		Loss:      loss,
		IoU:       m.IoU(),
		Fscore:    m.Fscore(),
		Accuracy:  m.Accuracy(),
		Precision: m.Precision(),
		Recall:    m.Recall(),
	}
}

// ratio guards against empty denominators, which happen on all-negative
// validation sets.
func ratio(numer, denom int64) float64 {
	if denom == 0 {
		return 0
	}
	return float64(numer) / float64(denom)
}
