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
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/antflydb/mangaocr/lib/backends"
)

const (
	defaultEncoderInputName  = "pixel_values"
	defaultEncoderOutputName = "last_hidden_state"
)

// HiddenState is the encoder's image representation, shaped
// (batch, sequence, hidden). It is never modified after creation.
type HiddenState struct {
	data  []float32
	shape [3]int64
}

// NewHiddenState copies data into a new HiddenState.
func NewHiddenState(data []float32, shape [3]int64) (*HiddenState, error) {
	if int64(len(data)) != shape[0]*shape[1]*shape[2] {
		return nil, fmt.Errorf("%w: hidden state shape %v does not match %d values", ErrModel, shape, len(data))
	}
	return &HiddenState{
		data:  append([]float32(nil), data...),
		shape: shape,
	}, nil
}

// Shape returns (batch, sequence, hidden).
func (h *HiddenState) Shape() [3]int64 {
	return h.shape
}

// Len returns the number of values.
func (h *HiddenState) Len() int {
	return len(h.data)
}

// tensor exposes the hidden state as a backend input. Sessions treat inputs
// as read-only, so the backing slice is shared.
func (h *HiddenState) tensor(name string) backends.NamedTensor {
	return backends.NamedTensor{
		Name:  name,
		Shape: h.shape[:],
		Data:  h.data,
	}
}

// Encoder runs the vision half of the model. Calls are serialized because the
// underlying session is not re-entrant.
type Encoder struct {
	mu         sync.Mutex
	session    backends.Session
	processor  *ImageProcessor
	inputName  string
	outputName string
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithEncoderOutputName overrides the output holding the hidden states.
func WithEncoderOutputName(name string) EncoderOption {
	return func(e *Encoder) {
		e.outputName = name
	}
}

// WithImageProcessor overrides the default preprocessing.
func WithImageProcessor(p *ImageProcessor) EncoderOption {
	return func(e *Encoder) {
		e.processor = p
	}
}

// NewEncoder wraps a session loaded from encoder_model.onnx. The encoder
// owns the session from now on.
func NewEncoder(session backends.Session, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		session:    session,
		processor:  NewImageProcessor(nil),
		inputName:  defaultEncoderInputName,
		outputName: defaultEncoderOutputName,
	}
	if info := session.InputInfo(); len(info) > 0 {
		e.inputName = info[0].Name
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EncodeImage preprocesses img and runs the encoder on it.
func (e *Encoder) EncodeImage(ctx context.Context, img image.Image) (*HiddenState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pixels, err := e.processor.Process(img)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, pixels)
}

// Encode runs the encoder on an already preprocessed tensor.
func (e *Encoder) Encode(ctx context.Context, pixels PixelTensor) (*HiddenState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(ctx, pixels)
}

func (e *Encoder) run(ctx context.Context, pixels PixelTensor) (*HiddenState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs, err := e.session.Run([]backends.NamedTensor{{
		Name:  e.inputName,
		Shape: pixels.Shape[:],
		Data:  pixels.Data,
	}})
	if err != nil {
		return nil, fmt.Errorf("%w: running encoder: %w", ErrInference, err)
	}

	out, ok := backends.FindTensor(outputs, e.outputName)
	if !ok {
		return nil, fmt.Errorf("%w: encoder produced no %q output", ErrModel, e.outputName)
	}
	if len(out.Shape) != 3 {
		return nil, fmt.Errorf("%w: unexpected encoder output shape %v", ErrModel, out.Shape)
	}
	data, ok := out.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: encoder output is %T, want []float32", ErrModel, out.Data)
	}
	return NewHiddenState(data, [3]int64{out.Shape[0], out.Shape[1], out.Shape[2]})
}

// Close releases the session.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}
