package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsKnownConfusionMatrix(t *testing.T) {
	m := NewMetricsAccumulator(0.5)

	// 3 TP, 1 FP, 2 FN, 2 TN.
	pred := mustTensor(t, []int{8}, []float32{0.9, 0.8, 0.7, 0.6, 0.2, 0.1, 0.3, 0.4})
	target := mustTensor(t, []int{8}, []float32{1, 1, 1, 0, 1, 1, 0, 0})
	require.NoError(t, m.Update(pred, target))

	assert.InDelta(t, 3.0/6.0, m.IoU(), 1e-9)
	assert.InDelta(t, 6.0/9.0, m.Fscore(), 1e-9)
	assert.InDelta(t, 5.0/8.0, m.Accuracy(), 1e-9)
	assert.InDelta(t, 3.0/4.0, m.Precision(), 1e-9)
	assert.InDelta(t, 3.0/5.0, m.Recall(), 1e-9)
}

func TestMetricsAccumulateAcrossBatches(t *testing.T) {
	whole := NewMetricsAccumulator(0.5)
	split := NewMetricsAccumulator(0.5)

	pred := []float32{0.9, 0.1, 0.8, 0.4, 0.6, 0.2}
	target := []float32{1, 1, 0, 0, 1, 0}

	require.NoError(t, whole.Update(mustTensor(t, []int{6}, pred), mustTensor(t, []int{6}, target)))
	require.NoError(t, split.Update(mustTensor(t, []int{2}, pred[:2]), mustTensor(t, []int{2}, target[:2])))
	require.NoError(t, split.Update(mustTensor(t, []int{4}, pred[2:]), mustTensor(t, []int{4}, target[2:])))

	assert.Equal(t, whole.IoU(), split.IoU())
	assert.Equal(t, whole.Accuracy(), split.Accuracy())
}

func TestMetricsEmptyDenominators(t *testing.T) {
	m := NewMetricsAccumulator(0.5)
	pred := mustTensor(t, []int{3}, []float32{0.1, 0.2, 0.3})
	target := mustTensor(t, []int{3}, []float32{0, 0, 0})
	require.NoError(t, m.Update(pred, target))

	assert.Equal(t, 0.0, m.IoU())
	assert.Equal(t, 0.0, m.Precision())
	assert.Equal(t, 0.0, m.Recall())
	assert.Equal(t, 1.0, m.Accuracy())
}

func TestMetricsReset(t *testing.T) {
	m := NewMetricsAccumulator(0.5)
	pred := mustTensor(t, []int{2}, []float32{0.9, 0.9})
	target := mustTensor(t, []int{2}, []float32{1, 1})
	require.NoError(t, m.Update(pred, target))
	require.Equal(t, 1.0, m.IoU())

	m.Reset()
	assert.Equal(t, 0.0, m.IoU())
}

func TestMetricsReport(t *testing.T) {
	m := NewMetricsAccumulator(0.5)
	pred := mustTensor(t, []int{4}, []float32{0.9, 0.9, 0.1, 0.1})
	target := mustTensor(t, []int{4}, []float32{1, 1, 0, 0})
	require.NoError(t, m.Update(pred, target))

	report := m.Report(0.25)
	assert.Equal(t, 0.25, report.Loss)
	assert.Equal(t, 1.0, report.IoU)
	assert.Equal(t, 1.0, report.Accuracy)
}

func TestMetricsRejectsMismatchedSizes(t *testing.T) {
	m := NewMetricsAccumulator(0.5)
	err := m.Update(mustTensor(t, []int{2}, []float32{0.5, 0.5}), mustTensor(t, []int{3}, []float32{1, 0, 1}))
	assert.Error(t, err)
}
