package dataloader

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

// fakeDataset serves tiny tensors whose values encode the sample index, so
// tests can verify which samples landed in which batch slot.
type fakeDataset struct {
	n       int
	failAt  int
	failErr error
}

func newFakeDataset(n int) *fakeDataset {
	return &fakeDataset{n: n, failAt: -1}
}

func (d *fakeDataset) Len() int {
	return d.n
}

func (d *fakeDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx == d.failAt {
		return nil, nil, d.failErr
	}
	v := float32(idx)
	input, err := tensor.NewTensor([]int{1, 2, 2}, tensor.Float32, []float32{v, v, v, v})
	if err != nil {
		return nil, nil, err
	}
	target, err := tensor.NewTensor([]int{1, 2, 2}, tensor.Float32, []float32{v, v, v, v})
	if err != nil {
		return nil, nil, err
	}
	return input, target, nil
}

func drain(t *testing.T, l *Loader) [][]int {
	t.Helper()
	var batches [][]int
	for {
		batch, err := l.Next()
		if err == io.EOF {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, batch.Indices)
	}
}

func TestLoaderBatchShapes(t *testing.T) {
	l, err := New(newFakeDataset(8), Config{BatchSize: 4})
	require.NoError(t, err)

	batch, err := l.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 2, 2}, batch.Inputs.Shape)
	assert.Equal(t, []int{4, 1, 2, 2}, batch.Targets.Shape)

	// Slot k of the stacked tensor holds sample Indices[k].
	vals, err := batch.Inputs.Float32Data()
	require.NoError(t, err)
	for slot, idx := range batch.Indices {
		assert.Equal(t, float32(idx), vals[slot*4])
	}
}

func TestLoaderSequentialOrderWithoutShuffle(t *testing.T) {
	l, err := New(newFakeDataset(10), Config{BatchSize: 4})
	require.NoError(t, err)

	assert.Equal(t, 3, l.Len())
	batches := drain(t, l)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, batches[0])
	assert.Equal(t, []int{4, 5, 6, 7}, batches[1])
	assert.Equal(t, []int{8, 9}, batches[2])
}

func TestLoaderDropLast(t *testing.T) {
	l, err := New(newFakeDataset(10), Config{BatchSize: 4, DropLast: true})
	require.NoError(t, err)

	assert.Equal(t, 2, l.Len())
	batches := drain(t, l)
	require.Len(t, batches, 2)
	for _, indices := range batches {
		assert.Len(t, indices, 4)
	}
}

func TestLoaderShuffleCoversAllSamplesOnce(t *testing.T) {
	l, err := New(newFakeDataset(20), Config{BatchSize: 5, Shuffle: true, Seed: 7})
	require.NoError(t, err)

	seen := map[int]int{}
	for _, indices := range drain(t, l) {
		for _, idx := range indices {
			seen[idx]++
		}
	}
	require.Len(t, seen, 20)
	for idx, count := range seen {
		assert.Equal(t, 1, count, "sample %d", idx)
	}
}

func TestLoaderReshufflesBetweenEpochs(t *testing.T) {
	l, err := New(newFakeDataset(32), Config{BatchSize: 8, Shuffle: true, Seed: 7})
	require.NoError(t, err)

	first := drain(t, l)
	l.Reset()
	second := drain(t, l)
	assert.NotEqual(t, first, second)
}

func TestLoaderSeededShuffleReproducible(t *testing.T) {
	a, err := New(newFakeDataset(16), Config{BatchSize: 4, Shuffle: true, Seed: 42})
	require.NoError(t, err)
	b, err := New(newFakeDataset(16), Config{BatchSize: 4, Shuffle: true, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, drain(t, a), drain(t, b))
}

func TestLoaderSampleErrorIsFatal(t *testing.T) {
	ds := newFakeDataset(8)
	ds.failAt = 5
	ds.failErr = errors.New("corrupt sample")

	l, err := New(ds, Config{BatchSize: 4})
	require.NoError(t, err)

	_, err = l.Next()
	require.NoError(t, err)
	_, err = l.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt sample")
	assert.Contains(t, err.Error(), "5")
}

func TestLoaderRejectsBadConfig(t *testing.T) {
	_, err := New(nil, Config{BatchSize: 4})
	assert.Error(t, err)
	_, err = New(newFakeDataset(4), Config{BatchSize: 0})
	assert.Error(t, err)
}

func TestLoaderEOFIsSticky(t *testing.T) {
	l, err := New(newFakeDataset(4), Config{BatchSize: 4})
	require.NoError(t, err)

	_, err = l.Next()
	require.NoError(t, err)
	_, err = l.Next()
	assert.Equal(t, io.EOF, err)
	_, err = l.Next()
	assert.Equal(t, io.EOF, err)
}
