package dataset

import (
	"fmt"
	"hash/crc32"
	"image"
	"math/rand"
	"time"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/xiaogengen-007/prj-covid-scoring/tensor"
	"github.com/xiaogengen-007/prj-covid-scoring/vision/annotation"
	"github.com/xiaogengen-007/prj-covid-scoring/vision/augment"
	"github.com/xiaogengen-007/prj-covid-scoring/vision/preprocessing"
)

// ErrIndexOutOfRange is returned by Get and Raw for indices outside [0, Len).
var ErrIndexOutOfRange = errors.New("dataset: index out of range")

// DecodeError wraps a failure to load or decode one sample. The index and
// paths identify the offending file so a bad sample can be removed from the
// dataset rather than hunted down by position.
type DecodeError struct {
	Index     int
	ImagePath string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dataset: sample %d (%s): %v", e.Index, e.ImagePath, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RawPair is a decoded sample before augmentation and preprocessing: the
// image at its native size and the class mask at the same size.
type RawPair struct {
	Image image.Image
	Mask  *image.Gray
}

// SegmentationDataset serves (input, target) tensor pairs for a fixed sample
// index. Augmentation, when configured, is re-randomized per access;
// everything else is deterministic, so a dataset without augmentation returns
// bit-identical tensors for repeated Get calls on the same index.
type SegmentationDataset struct {
	samples   []Sample
	className string
	decoder   *annotation.Decoder
	prep      *preprocessing.Preprocessor
	pipeline  *augment.Pipeline
	seed      int64
	seeded    bool
	cache     *lru.Cache
}

// Option configures optional dataset behavior.
type Option func(*SegmentationDataset)

// WithAugmentation applies the pipeline to every sample before
// preprocessing. Intended for training splits only.
func WithAugmentation(p *augment.Pipeline) Option {
	return func(d *SegmentationDataset) {
		d.pipeline = p
	}
}

// WithSeed makes augmentation reproducible. Each sample index derives its
// own generator from the seed, so access order and concurrency do not affect
// the transforms a given index receives.
func WithSeed(seed int64) Option {
	return func(d *SegmentationDataset) {
		d.seed = seed
		d.seeded = true
	}
}

// WithCacheSize caches up to n decoded raw pairs, keyed by sample index.
// Decoding dominates sample cost, so even a small cache helps when epochs
// revisit samples. A size of 0 disables caching.
func WithCacheSize(n int) Option {
	return func(d *SegmentationDataset) {
		if n <= 0 {
			d.cache = nil
			return
		}
		cache, err := lru.New(n)
		if err == nil {
			d.cache = cache
		}
	}
}

// NewSegmentationDataset builds a dataset over samples. className selects the
// annotation objects rasterized into the target mask; prep defines the output
// geometry and normalization.
func NewSegmentationDataset(samples []Sample, className string, prep *preprocessing.Preprocessor, opts ...Option) *SegmentationDataset {
	d := &SegmentationDataset{
		samples:   samples,
		className: className,
		decoder:   annotation.NewDecoder(),
		prep:      prep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Len returns the number of samples.
func (d *SegmentationDataset) Len() int {
	return len(d.samples)
}

// Samples returns the underlying index in stable order.
func (d *SegmentationDataset) Samples() []Sample {
	return d.samples
}

// Raw decodes sample idx without augmentation or preprocessing.
func (d *SegmentationDataset) Raw(idx int) (*RawPair, error) {
	if idx < 0 || idx >= len(d.samples) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", idx, len(d.samples))
	}

	if d.cache != nil {
		if cached, ok := d.cache.Get(idx); ok {
			return cached.(*RawPair), nil
		}
	}

	sample := d.samples[idx]
	img, err := imaging.Open(sample.ImagePath)
	if err != nil {
		return nil, &DecodeError{Index: idx, ImagePath: sample.ImagePath, Err: errors.Wrap(err, "open image")}
	}
	mask, err := d.decoder.Decode(sample.AnnPath, d.className)
	if err != nil {
		return nil, &DecodeError{Index: idx, ImagePath: sample.ImagePath, Err: err}
	}

	ib := img.Bounds()
	mb := mask.Bounds()
	if ib.Dx() != mb.Dx() || ib.Dy() != mb.Dy() {
		return nil, &DecodeError{
			Index:     idx,
			ImagePath: sample.ImagePath,
			Err: errors.Errorf("mask size %dx%d does not match image size %dx%d",
				mb.Dx(), mb.Dy(), ib.Dx(), ib.Dy()),
		}
	}

	pair := &RawPair{Image: img, Mask: mask}
	if d.cache != nil {
		d.cache.Add(idx, pair)
	}
	return pair, nil
}

// Get returns the fully prepared (input, target) pair for sample idx. Input
// is a [C,H,W] normalized float tensor; target is a [1,H,W] binary mask.
func (d *SegmentationDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	pair, err := d.Raw(idx)
	if err != nil {
		return nil, nil, err
	}

	img := pair.Image
	mask := pair.Mask
	if d.pipeline != nil {
		img, mask = d.pipeline.Apply(d.rngFor(idx), img, mask)
	}

	input, err := d.prep.Image(img)
	if err != nil {
		return nil, nil, &DecodeError{Index: idx, ImagePath: d.samples[idx].ImagePath, Err: err}
	}
	target, err := d.prep.Mask(mask)
	if err != nil {
		return nil, nil, &DecodeError{Index: idx, ImagePath: d.samples[idx].ImagePath, Err: err}
	}
	return input, target, nil
}

// rngFor derives an independent generator per sample index so seeded runs
// produce identical augmentations regardless of access order.
func (d *SegmentationDataset) rngFor(idx int) *rand.Rand {
	if !d.seeded {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(d.seed >> (8 * i))
		buf[8+i] = byte(int64(idx) >> (8 * i))
	}
	folded := int64(crc32.ChecksumIEEE(buf[:]))
	return rand.New(rand.NewSource(d.seed ^ (folded << 32) ^ int64(idx)))
}
