// Package augment applies label-preserving geometric transforms jointly to an
// image and its segmentation mask, keeping the two pixel-aligned. Every
// transform here remaps geometry without interpolation, so masks stay binary.
package augment

import (
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Transform is one stochastic, jointly-applied augmentation step. The random
// source is supplied per call so a pipeline holds no mutable state and can be
// shared across loader workers.
type Transform interface {
	Name() string
	Apply(rng *rand.Rand, img image.Image, mask *image.Gray) (image.Image, *image.Gray)
}

// Pipeline is an immutable sequence of transforms.
type Pipeline struct {
	transforms []Transform
}

// Compose builds a pipeline from the given transforms, applied in order.
func Compose(transforms ...Transform) *Pipeline {
	return &Pipeline{transforms: transforms}
}

// Default returns the baseline training augmentation: a horizontal flip with
// probability 0.5.
func Default() *Pipeline {
	return Compose(HorizontalFlip(0.5))
}

// Apply runs every transform over the pair.
func (p *Pipeline) Apply(rng *rand.Rand, img image.Image, mask *image.Gray) (image.Image, *image.Gray) {
	for _, t := range p.transforms {
		img, mask = t.Apply(rng, img, mask)
	}
	return img, mask
}

// Transforms returns the pipeline's steps.
func (p *Pipeline) Transforms() []Transform {
	return p.transforms
}

type horizontalFlip struct {
	prob float64
}

// HorizontalFlip mirrors image and mask around the vertical axis with the
// given probability.
func HorizontalFlip(prob float64) Transform {
	return &horizontalFlip{prob: prob}
}

func (t *horizontalFlip) Name() string { return "HorizontalFlip" }

func (t *horizontalFlip) Apply(rng *rand.Rand, img image.Image, mask *image.Gray) (image.Image, *image.Gray) {
	if rng.Float64() >= t.prob {
		return img, mask
	}
	return imaging.FlipH(img), grayFrom(imaging.FlipH(mask))
}

type rotate90 struct {
	prob float64
}

// RandomRotate90 rotates image and mask by a random multiple of 90 degrees
// with the given probability. Right-angle rotation permutes pixels without
// resampling, so the mask stays binary.
func RandomRotate90(prob float64) Transform {
	return &rotate90{prob: prob}
}

func (t *rotate90) Name() string { return "RandomRotate90" }

func (t *rotate90) Apply(rng *rand.Rand, img image.Image, mask *image.Gray) (image.Image, *image.Gray) {
	if rng.Float64() >= t.prob {
		return img, mask
	}
	switch rng.Intn(3) {
	case 0:
		return imaging.Rotate90(img), grayFrom(imaging.Rotate90(mask))
	case 1:
		return imaging.Rotate180(img), grayFrom(imaging.Rotate180(mask))
	default:
		return imaging.Rotate270(img), grayFrom(imaging.Rotate270(mask))
	}
}

type randomCrop struct {
	width  int
	height int
}

// RandomCrop cuts a window of the given size at a random position from both
// image and mask. Pairs smaller than the window pass through unchanged.
func RandomCrop(width, height int) Transform {
	return &randomCrop{width: width, height: height}
}

func (t *randomCrop) Name() string { return "RandomCrop" }

func (t *randomCrop) Apply(rng *rand.Rand, img image.Image, mask *image.Gray) (image.Image, *image.Gray) {
	bounds := img.Bounds()
	if bounds.Dx() < t.width || bounds.Dy() < t.height {
		return img, mask
	}
	x := bounds.Min.X + rng.Intn(bounds.Dx()-t.width+1)
	y := bounds.Min.Y + rng.Intn(bounds.Dy()-t.height+1)
	window := image.Rect(x, y, x+t.width, y+t.height)
	return imaging.Crop(img, window), grayFrom(imaging.Crop(mask, window))
}

// grayFrom converts an imaging result back to a binary grayscale mask.
// The transforms above move pixels without blending, so thresholding at the
// midpoint recovers the exact {0, 255} values.
func grayFrom(img *image.NRGBA) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			if img.NRGBAAt(bounds.Min.X+x, bounds.Min.Y+y).R >= 128 {
				gray.Pix[y*gray.Stride+x] = 255
			}
		}
	}
	return gray
}
