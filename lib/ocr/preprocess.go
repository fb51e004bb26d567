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
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"

	_ "golang.org/x/image/bmp" // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// ImageConfig describes the pixel normalization the vision encoder was
// trained with.
type ImageConfig struct {
	Width  int
	Height int

	// RescaleFactor maps 8-bit channel values into [0, 1].
	RescaleFactor float32
	Mean          [3]float32
	Std           [3]float32
}

// DefaultImageConfig returns the manga-ocr ViT settings: 224x224 input,
// rescaled to [0, 1] then normalized to [-1, 1].
func DefaultImageConfig() *ImageConfig {
	return &ImageConfig{
		Width:         224,
		Height:        224,
		RescaleFactor: 0.003921569,
		Mean:          [3]float32{0.5, 0.5, 0.5},
		Std:           [3]float32{0.5, 0.5, 0.5},
	}
}

// PixelTensor is a float32 image tensor in NCHW layout with a leading batch
// dimension of one.
type PixelTensor struct {
	Data  []float32
	Shape [4]int64
}

// ImageProcessor turns decoded images into encoder input.
// It holds no mutable state and is safe for concurrent use.
type ImageProcessor struct {
	Config *ImageConfig
}

// NewImageProcessor creates an ImageProcessor with the given configuration.
func NewImageProcessor(config *ImageConfig) *ImageProcessor {
	if config == nil {
		config = DefaultImageConfig()
	}
	return &ImageProcessor{Config: config}
}

// DecodeImage decodes PNG, JPEG, GIF, BMP, TIFF or WebP data.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %w", ErrImage, err)
	}
	return img, nil
}

// ProcessBytes preprocesses an encoded image.
func (p *ImageProcessor) ProcessBytes(data []byte) (PixelTensor, error) {
	return p.ProcessReader(bytes.NewReader(data))
}

// ProcessReader preprocesses an encoded image read from r.
func (p *ImageProcessor) ProcessReader(r io.Reader) (PixelTensor, error) {
	img, err := DecodeImage(r)
	if err != nil {
		return PixelTensor{}, err
	}
	return p.Process(img)
}

// Process resizes img with nearest-neighbor sampling, drops alpha and
// normalizes each channel. The result is deterministic for a given image.
func (p *ImageProcessor) Process(img image.Image) (PixelTensor, error) {
	if img == nil || img.Bounds().Empty() {
		return PixelTensor{}, fmt.Errorf("%w: empty image", ErrImage)
	}
	return p.toTensor(resizeNearest(img, p.Config.Width, p.Config.Height)), nil
}

// resizeNearest samples the source pixel under each destination pixel
// center. Channel values stay straight (non-premultiplied), so dropping alpha
// afterwards leaves the stored RGB untouched even for translucent pixels.
func resizeNearest(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	nrgba, direct := img.(*image.NRGBA)

	for y := 0; y < height; y++ {
		sy := b.Min.Y + (2*y+1)*srcH/(2*height)
		row := dst.Pix[y*dst.Stride : y*dst.Stride+width*4]
		for x := 0; x < width; x++ {
			sx := b.Min.X + (2*x+1)*srcW/(2*width)
			px := row[x*4 : x*4+4]
			if direct {
				copy(px, nrgba.Pix[nrgba.PixOffset(sx, sy):])
				continue
			}
			c := color.NRGBAModel.Convert(img.At(sx, sy)).(color.NRGBA)
			px[0], px[1], px[2], px[3] = c.R, c.G, c.B, c.A
		}
	}
	return dst
}

func (p *ImageProcessor) toTensor(img *image.NRGBA) PixelTensor {
	width, height := p.Config.Width, p.Config.Height
	plane := width * height
	pixels := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			for c := 0; c < 3; c++ {
				v := float32(row[x*4+c]) * p.Config.RescaleFactor
				pixels[c*plane+y*width+x] = (v - p.Config.Mean[c]) / p.Config.Std[c]
			}
		}
	}

	return PixelTensor{
		Data:  pixels,
		Shape: [4]int64{1, 3, int64(height), int64(width)},
	}
}
