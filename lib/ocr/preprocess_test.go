// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ocr

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadrants returns a 2x2 image: red, green / blue, white.
func quadrants() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 255})
	img.Set(0, 1, color.NRGBA{B: 255, A: 255})
	img.Set(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	return img
}

func pixelAt(t PixelTensor, c, y, x int) float32 {
	h, w := int(t.Shape[2]), int(t.Shape[3])
	return t.Data[c*h*w+y*w+x]
}

func TestProcessShapeAndRange(t *testing.T) {
	p := NewImageProcessor(nil)

	for _, img := range []image.Image{
		quadrants(),
		image.NewGray(image.Rect(0, 0, 640, 90)),
		image.NewRGBA(image.Rect(0, 0, 17, 1200)),
	} {
		tensor, err := p.Process(img)
		require.NoError(t, err)
		assert.Equal(t, [4]int64{1, 3, 224, 224}, tensor.Shape)
		require.Len(t, tensor.Data, 3*224*224)
		for _, v := range tensor.Data {
			require.GreaterOrEqual(t, v, float32(-1.0001))
			require.LessOrEqual(t, v, float32(1.0001))
		}
	}
}

func TestProcessNearestNeighbor(t *testing.T) {
	tensor, err := NewImageProcessor(nil).Process(quadrants())
	require.NoError(t, err)

	tests := []struct {
		name    string
		y, x    int
		r, g, b float32
	}{
		{name: "top left", y: 0, x: 0, r: 1, g: -1, b: -1},
		{name: "top left edge", y: 111, x: 111, r: 1, g: -1, b: -1},
		{name: "top right", y: 0, x: 112, r: -1, g: 1, b: -1},
		{name: "bottom left", y: 223, x: 0, r: -1, g: -1, b: 1},
		{name: "bottom right", y: 223, x: 223, r: 1, g: 1, b: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.r, pixelAt(tensor, 0, tt.y, tt.x), 1e-5)
			assert.InDelta(t, tt.g, pixelAt(tensor, 1, tt.y, tt.x), 1e-5)
			assert.InDelta(t, tt.b, pixelAt(tensor, 2, tt.y, tt.x), 1e-5)
		})
	}
}

func TestProcessDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 255, A: 128})

	tensor, err := NewImageProcessor(nil).Process(img)
	require.NoError(t, err)
	assert.InDelta(t, 1, pixelAt(tensor, 0, 5, 5), 1e-5)
	assert.InDelta(t, -1, pixelAt(tensor, 1, 5, 5), 1e-5)
	assert.InDelta(t, 1, pixelAt(tensor, 2, 5, 5), 1e-5)
}

func TestProcessKeepsStraightRGBUnderAlpha(t *testing.T) {
	p := NewImageProcessor(nil)
	for _, alpha := range []uint8{0, 1, 37, 127, 128, 254, 255} {
		for _, v := range []uint8{1, 37, 100, 173, 200, 254} {
			img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
			img.SetNRGBA(0, 0, color.NRGBA{R: v, G: v / 2, B: 255 - v, A: alpha})

			tensor, err := p.Process(img)
			require.NoError(t, err)
			for c, want := range []uint8{v, v / 2, 255 - v} {
				expected := (float32(want)*0.003921569 - 0.5) / 0.5
				require.InDelta(t, expected, pixelAt(tensor, c, 100, 100), 1e-6,
					"alpha=%d value=%d channel=%d", alpha, want, c)
			}
		}
	}
}

func TestProcessConvertsOtherColorModels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range gray.Pix {
		gray.Pix[i] = 173
	}

	tensor, err := NewImageProcessor(nil).Process(gray)
	require.NoError(t, err)
	expected := (float32(173)*0.003921569 - 0.5) / 0.5
	for c := 0; c < 3; c++ {
		assert.InDelta(t, expected, pixelAt(tensor, c, 17, 200), 1e-6)
	}
}

func TestProcessIsDeterministic(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 37, 53))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 31)
	}
	for y := 0; y < 53; y++ {
		for x := 0; x < 37; x++ {
			img.Pix[y*img.Stride+x*4+3] = 255
		}
	}

	p := NewImageProcessor(nil)
	first, err := p.Process(img)
	require.NoError(t, err)
	second, err := p.Process(img)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
}

func TestProcessSubImage(t *testing.T) {
	big := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			big.Set(x, y, color.NRGBA{A: 255})
		}
	}
	big.Set(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	sub := big.SubImage(image.Rect(2, 2, 3, 3))

	tensor, err := NewImageProcessor(nil).Process(sub)
	require.NoError(t, err)
	for _, v := range tensor.Data {
		require.InDelta(t, 1, v, 1e-5)
	}
}

func TestProcessCustomConfig(t *testing.T) {
	cfg := &ImageConfig{
		Width:         8,
		Height:        4,
		RescaleFactor: 1.0 / 255,
		Mean:          [3]float32{0, 0, 0},
		Std:           [3]float32{1, 1, 1},
	}
	tensor, err := NewImageProcessor(cfg).Process(quadrants())
	require.NoError(t, err)
	assert.Equal(t, [4]int64{1, 3, 4, 8}, tensor.Shape)
	assert.InDelta(t, 1, pixelAt(tensor, 0, 0, 0), 1e-5)
	assert.InDelta(t, 0, pixelAt(tensor, 1, 0, 0), 1e-5)
}

func TestProcessEmptyImage(t *testing.T) {
	p := NewImageProcessor(nil)

	_, err := p.Process(image.NewRGBA(image.Rect(0, 0, 0, 10)))
	assert.ErrorIs(t, err, ErrImage)

	_, err = p.Process(nil)
	assert.ErrorIs(t, err, ErrImage)
}

func TestProcessBytes(t *testing.T) {
	p := NewImageProcessor(nil)

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, quadrants()))
	fromPNG, err := p.ProcessBytes(pngBuf.Bytes())
	require.NoError(t, err)
	direct, err := p.Process(quadrants())
	require.NoError(t, err)
	assert.Equal(t, direct.Data, fromPNG.Data)

	var jpegBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpegBuf, image.NewGray(image.Rect(0, 0, 30, 30)), nil))
	_, err = p.ProcessBytes(jpegBuf.Bytes())
	require.NoError(t, err)

	_, err = p.ProcessBytes([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrImage)

	_, err = p.ProcessBytes(nil)
	assert.ErrorIs(t, err, ErrImage)
}
