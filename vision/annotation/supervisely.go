// Package annotation reads Supervisely-style annotation files and converts
// the geometry of a named class into a dense binary mask aligned to the
// annotated image's pixel grid.
package annotation

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/pkg/errors"
)

const (
	geometryPolygon = "polygon"
	geometryBitmap  = "bitmap"
)

// File is the on-disk annotation record: the annotated image's size plus a
// list of labeled geometry objects.
type File struct {
	Size    Size     `json:"size"`
	Objects []Object `json:"objects"`
}

// Size is the pixel grid of the annotated image.
type Size struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Object is a single labeled region.
type Object struct {
	ClassTitle   string  `json:"classTitle"`
	GeometryType string  `json:"geometryType"`
	Points       *Points `json:"points,omitempty"`
	Bitmap       *Bitmap `json:"bitmap,omitempty"`
}

// Points carries polygon geometry: one exterior ring and zero or more
// interior rings (holes).
type Points struct {
	Exterior [][2]float64   `json:"exterior"`
	Interior [][][2]float64 `json:"interior"`
}

// Bitmap carries raster geometry: a base64-encoded, zlib-compressed PNG
// pasted at Origin.
type Bitmap struct {
	Data   string `json:"data"`
	Origin [2]int `json:"origin"`
}

// Decoder converts annotation files into binary masks. Decode is pure: the
// same file and class always produce the same mask.
type Decoder struct{}

// NewDecoder creates an annotation decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode reads the annotation at annPath and rasterizes every object labeled
// className into one binary mask (pixel values 0 or 255). An annotation with
// no object of that class yields an all-zero mask; that is not an error.
func (d *Decoder) Decode(annPath, className string) (*image.Gray, error) {
	raw, err := os.ReadFile(annPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading annotation %s", annPath)
	}

	var file File
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrapf(err, "parsing annotation %s", annPath)
	}
	if file.Size.Width <= 0 || file.Size.Height <= 0 {
		return nil, errors.Errorf("annotation %s has invalid size %dx%d", annPath, file.Size.Width, file.Size.Height)
	}

	mask := image.NewGray(image.Rect(0, 0, file.Size.Width, file.Size.Height))
	for _, obj := range file.Objects {
		if obj.ClassTitle != className {
			continue
		}
		switch obj.GeometryType {
		case geometryPolygon:
			if obj.Points == nil || len(obj.Points.Exterior) < 3 {
				return nil, errors.Errorf("annotation %s: polygon object without a valid exterior ring", annPath)
			}
			rasterizePolygon(mask, obj.Points)
		case geometryBitmap:
			if obj.Bitmap == nil {
				return nil, errors.Errorf("annotation %s: bitmap object without payload", annPath)
			}
			if err := pasteBitmap(mask, obj.Bitmap); err != nil {
				return nil, errors.Wrapf(err, "annotation %s", annPath)
			}
		default:
			return nil, errors.Errorf("annotation %s: unsupported geometry %q", annPath, obj.GeometryType)
		}
	}
	return mask, nil
}

// rasterizePolygon fills the exterior ring white and carves interior rings
// back out, then thresholds the result onto the mask.
func rasterizePolygon(mask *image.Gray, points *Points) {
	bounds := mask.Bounds()
	canvas := image.NewRGBA(bounds)
	gc := draw2dimg.NewGraphicContext(canvas)

	gc.SetFillColor(color.White)
	fillRing(gc, points.Exterior)

	gc.SetFillColor(color.Black)
	for _, ring := range points.Interior {
		fillRing(gc, ring)
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := canvas.At(x, y).RGBA()
			if r >= 0x8000 {
				mask.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
}

func fillRing(gc *draw2dimg.GraphicContext, ring [][2]float64) {
	if len(ring) < 3 {
		return
	}
	gc.BeginPath()
	gc.MoveTo(ring[0][0], ring[0][1])
	for _, pt := range ring[1:] {
		gc.LineTo(pt[0], pt[1])
	}
	gc.Close()
	gc.Fill()
}

// pasteBitmap decodes the compressed PNG payload and ORs its opaque pixels
// into the mask at the bitmap origin.
func pasteBitmap(mask *image.Gray, bm *Bitmap) error {
	compressed, err := base64.StdEncoding.DecodeString(bm.Data)
	if err != nil {
		return errors.Wrap(err, "decoding bitmap payload")
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return errors.Wrap(err, "decompressing bitmap payload")
	}
	defer zr.Close()

	pngBytes, err := io.ReadAll(zr)
	if err != nil {
		return errors.Wrap(err, "decompressing bitmap payload")
	}

	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return errors.Wrap(err, "decoding bitmap image")
	}

	origin := image.Pt(bm.Origin[0], bm.Origin[1])
	bounds := img.Bounds()
	maskBounds := mask.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 || (r == 0 && g == 0 && b == 0) {
				continue
			}
			target := image.Pt(x-bounds.Min.X+origin.X, y-bounds.Min.Y+origin.Y)
			if target.In(maskBounds) {
				mask.SetGray(target.X, target.Y, color.Gray{Y: 255})
			}
		}
	}
	return nil
}

// EncodeBitmap compresses a grayscale mask into the bitmap payload format.
// Used when writing annotations, and by tests to build fixtures.
func EncodeBitmap(mask *image.Gray) (string, error) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, mask); err != nil {
		return "", errors.Wrap(err, "encoding bitmap image")
	}

	var zBuf bytes.Buffer
	zw := zlib.NewWriter(&zBuf)
	if _, err := zw.Write(pngBuf.Bytes()); err != nil {
		return "", errors.Wrap(err, "compressing bitmap payload")
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "compressing bitmap payload")
	}
	return base64.StdEncoding.EncodeToString(zBuf.Bytes()), nil
}
