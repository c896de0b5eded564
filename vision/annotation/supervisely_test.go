package annotation

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAnnotation(t *testing.T, file File) string {
	t.Helper()
	raw, err := json.Marshal(file)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sample.png.json")
	require.NoError(t, os.WriteFile(path, raw, 0644))
	return path
}

func polygonObject(class string, exterior [][2]float64) Object {
	return Object{
		ClassTitle:   class,
		GeometryType: "polygon",
		Points:       &Points{Exterior: exterior},
	}
}

func maskArea(mask *image.Gray) int {
	area := 0
	for _, v := range mask.Pix {
		if v > 0 {
			area++
		}
	}
	return area
}

func TestDecodePolygon(t *testing.T) {
	path := writeAnnotation(t, File{
		Size: Size{Height: 20, Width: 30},
		Objects: []Object{
			polygonObject("COVID-19", [][2]float64{{5, 5}, {15, 5}, {15, 15}, {5, 15}}),
		},
	})

	mask, err := NewDecoder().Decode(path, "COVID-19")
	require.NoError(t, err)
	assert.Equal(t, 30, mask.Bounds().Dx())
	assert.Equal(t, 20, mask.Bounds().Dy())

	// Interior of the square is set, corners of the image are not.
	assert.EqualValues(t, 255, mask.GrayAt(10, 10).Y)
	assert.EqualValues(t, 0, mask.GrayAt(0, 0).Y)
	assert.EqualValues(t, 0, mask.GrayAt(29, 19).Y)

	area := maskArea(mask)
	assert.Greater(t, area, 80, "filled square should cover roughly 10x10 pixels")
	assert.Less(t, area, 140)
}

func TestDecodePolygonWithHole(t *testing.T) {
	path := writeAnnotation(t, File{
		Size: Size{Height: 40, Width: 40},
		Objects: []Object{
			{
				ClassTitle:   "Lungs",
				GeometryType: "polygon",
				Points: &Points{
					Exterior: [][2]float64{{2, 2}, {38, 2}, {38, 38}, {2, 38}},
					Interior: [][][2]float64{{{15, 15}, {25, 15}, {25, 25}, {15, 25}}},
				},
			},
		},
	})

	mask, err := NewDecoder().Decode(path, "Lungs")
	require.NoError(t, err)
	assert.EqualValues(t, 255, mask.GrayAt(5, 5).Y)
	assert.EqualValues(t, 0, mask.GrayAt(20, 20).Y, "interior ring is a hole")
}

func TestDecodeBitmap(t *testing.T) {
	patch := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range patch.Pix {
		patch.Pix[i] = 255
	}
	payload, err := EncodeBitmap(patch)
	require.NoError(t, err)

	path := writeAnnotation(t, File{
		Size: Size{Height: 10, Width: 10},
		Objects: []Object{
			{
				ClassTitle:   "COVID-19",
				GeometryType: "bitmap",
				Bitmap:       &Bitmap{Data: payload, Origin: [2]int{3, 3}},
			},
		},
	})

	mask, err := NewDecoder().Decode(path, "COVID-19")
	require.NoError(t, err)
	assert.Equal(t, 16, maskArea(mask))
	assert.EqualValues(t, 255, mask.GrayAt(3, 3).Y)
	assert.EqualValues(t, 255, mask.GrayAt(6, 6).Y)
	assert.EqualValues(t, 0, mask.GrayAt(2, 2).Y)
	assert.EqualValues(t, 0, mask.GrayAt(7, 7).Y)
}

func TestDecodeMissingClassYieldsZeroMask(t *testing.T) {
	path := writeAnnotation(t, File{
		Size: Size{Height: 8, Width: 8},
		Objects: []Object{
			polygonObject("Lungs", [][2]float64{{1, 1}, {6, 1}, {6, 6}}),
		},
	})

	mask, err := NewDecoder().Decode(path, "COVID-19")
	require.NoError(t, err)
	assert.Equal(t, 0, maskArea(mask), "no object of the class means an all-zero mask, not an error")
}

func TestDecodeDeterministic(t *testing.T) {
	path := writeAnnotation(t, File{
		Size: Size{Height: 16, Width: 16},
		Objects: []Object{
			polygonObject("COVID-19", [][2]float64{{1, 1}, {12, 2}, {10, 13}, {2, 11}}),
		},
	})

	d := NewDecoder()
	first, err := d.Decode(path, "COVID-19")
	require.NoError(t, err)
	second, err := d.Decode(path, "COVID-19")
	require.NoError(t, err)
	assert.Equal(t, first.Pix, second.Pix)
}

func TestDecodeErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := NewDecoder().Decode(filepath.Join(t.TempDir(), "absent.json"), "COVID-19")
		require.Error(t, err)
	})

	t.Run("CorruptJSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
		_, err := NewDecoder().Decode(path, "COVID-19")
		require.Error(t, err)
	})

	t.Run("InvalidSize", func(t *testing.T) {
		path := writeAnnotation(t, File{Size: Size{Height: 0, Width: 10}})
		_, err := NewDecoder().Decode(path, "COVID-19")
		require.Error(t, err)
	})

	t.Run("DegeneratePolygon", func(t *testing.T) {
		path := writeAnnotation(t, File{
			Size:    Size{Height: 10, Width: 10},
			Objects: []Object{polygonObject("COVID-19", [][2]float64{{1, 1}, {2, 2}})},
		})
		_, err := NewDecoder().Decode(path, "COVID-19")
		require.Error(t, err)
	})

	t.Run("CorruptBitmapPayload", func(t *testing.T) {
		path := writeAnnotation(t, File{
			Size: Size{Height: 10, Width: 10},
			Objects: []Object{{
				ClassTitle:   "COVID-19",
				GeometryType: "bitmap",
				Bitmap:       &Bitmap{Data: "%%%not-base64%%%"},
			}},
		})
		_, err := NewDecoder().Decode(path, "COVID-19")
		require.Error(t, err)
	})
}
