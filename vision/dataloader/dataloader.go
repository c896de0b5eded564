// Package dataloader batches dataset samples for training. It owns epoch
// shuffling, fixed-size batch assembly, and the worker pool that prepares
// samples in parallel.
package dataloader

import (
	"io"
	"math/rand"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
)

// Dataset is the sample source a Loader iterates. Get must be safe for
// concurrent calls with distinct indices.
type Dataset interface {
	Len() int
	Get(idx int) (input, target *tensor.Tensor, err error)
}

// Batch is one fixed-size group of prepared samples. Inputs is [N,C,H,W],
// Targets is [N,1,H,W]; Indices records which dataset samples landed in each
// batch slot.
type Batch struct {
	Inputs  *tensor.Tensor
	Targets *tensor.Tensor
	Indices []int
}

// Config controls loader behavior.
type Config struct {
	BatchSize int
	// Shuffle reorders samples at every Reset. Validation loaders leave
	// it off so metrics are comparable across epochs.
	Shuffle bool
	// Seed fixes the shuffle order when non-zero.
	Seed int64
	// DropLast discards a trailing partial batch.
	DropLast bool
	// NumWorkers bounds the goroutines preparing one batch. Zero means
	// runtime.NumCPU.
	NumWorkers int
}

// Loader iterates a dataset in batches. A single epoch is Reset followed by
// Next until io.EOF. Loader is not safe for concurrent use; batch assembly
// is parallel internally.
type Loader struct {
	dataset Dataset
	config  Config
	rng     *rand.Rand
	order   []int
	cursor  int
}

// New creates a loader over dataset.
func New(dataset Dataset, config Config) (*Loader, error) {
	if dataset == nil {
		return nil, errors.New("dataloader: dataset is nil")
	}
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("dataloader: batch size must be positive, got %d", config.BatchSize)
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}

	var rng *rand.Rand
	if config.Shuffle {
		seed := config.Seed
		if seed == 0 {
			seed = rand.Int63()
		}
		rng = rand.New(rand.NewSource(seed))
	}

	l := &Loader{
		dataset: dataset,
		config:  config,
		rng:     rng,
	}
	l.Reset()
	return l, nil
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.dataset.Len() / l.config.BatchSize
	if !l.config.DropLast && l.dataset.Len()%l.config.BatchSize != 0 {
		n++
	}
	return n
}

// Reset starts a new epoch, reshuffling when configured.
func (l *Loader) Reset() {
	if l.order == nil {
		l.order = make([]int, l.dataset.Len())
		for i := range l.order {
			l.order[i] = i
		}
	}
	if l.rng != nil {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.cursor = 0
}

// Next returns the next batch, or io.EOF when the epoch is exhausted. Any
// sample failure aborts the batch; corrupt data is a setup problem, not
// something to skip past mid-training.
func (l *Loader) Next() (*Batch, error) {
	if l.cursor >= len(l.order) {
		return nil, io.EOF
	}

	end := l.cursor + l.config.BatchSize
	if end > len(l.order) {
		if l.config.DropLast {
			return nil, io.EOF
		}
		end = len(l.order)
	}
	indices := l.order[l.cursor:end]
	l.cursor = end

	return l.assemble(indices)
}

// assemble prepares the batch samples in parallel and packs them into
// stacked tensors.
func (l *Loader) assemble(indices []int) (*Batch, error) {
	n := len(indices)
	inputs := make([]*tensor.Tensor, n)
	targets := make([]*tensor.Tensor, n)
	errs := make([]error, n)

	workers := l.config.NumWorkers
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range jobs {
				inputs[slot], targets[slot], errs[slot] = l.dataset.Get(indices[slot])
			}
		}()
	}
	for slot := 0; slot < n; slot++ {
		jobs <- slot
	}
	close(jobs)
	wg.Wait()

	for slot, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "batch sample %d", indices[slot])
		}
	}

	stackedInputs, err := stack(inputs)
	if err != nil {
		return nil, errors.Wrap(err, "stack inputs")
	}
	stackedTargets, err := stack(targets)
	if err != nil {
		return nil, errors.Wrap(err, "stack targets")
	}

	batchIndices := make([]int, n)
	copy(batchIndices, indices)
	return &Batch{Inputs: stackedInputs, Targets: stackedTargets, Indices: batchIndices}, nil
}

// stack concatenates same-shaped sample tensors along a new leading batch
// dimension.
func stack(samples []*tensor.Tensor) (*tensor.Tensor, error) {
	first := samples[0]
	for i, s := range samples[1:] {
		if !shapeEqual(first.Shape, s.Shape) {
			return nil, errors.Errorf("sample %d shape %v differs from %v", i+1, s.Shape, first.Shape)
		}
	}

	shape := append([]int{len(samples)}, first.Shape...)
	data := make([]float32, len(samples)*first.NumElems)
	for i, s := range samples {
		vals, err := s.Float32Data()
		if err != nil {
			return nil, err
		}
		copy(data[i*first.NumElems:], vals)
	}
	return tensor.NewTensor(shape, tensor.Float32, data)
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
