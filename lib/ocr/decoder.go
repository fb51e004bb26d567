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
	"sync"

	"github.com/ajroetker/go-highway/hwy/contrib/vec"
	"go.uber.org/zap"

	"github.com/antflydb/mangaocr/lib/backends"
)

const (
	hiddenStatesInputName   = "encoder_hidden_states"
	encoderOutputsInputName = "encoder_outputs"
	encoderMaskInputName    = "encoder_attention_mask"
	decoderMaskInputName    = "attention_mask"
	decoderInputIDsName     = "decoder_input_ids"
	inputIDsName            = "input_ids"
	logitsOutputName        = "logits"
)

// Decoder runs greedy autoregressive decoding over the text half of the
// model. Each step re-runs the full sequence; there is no KV cache.
type Decoder struct {
	mu      sync.Mutex
	session backends.Session
	config  *GenerationConfig
	logger  *zap.Logger

	inputIDsName     string
	hiddenStatesName string
	withEncoderMask  bool
	withDecoderMask  bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderLogger sets the logger used for per-step debug output.
func WithDecoderLogger(logger *zap.Logger) DecoderOption {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// NewDecoder wraps a session loaded from decoder_model.onnx. The decoder
// owns the session from now on.
func NewDecoder(session backends.Session, cfg *GenerationConfig, opts ...DecoderOption) (*Decoder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: generation config is required", ErrConfig)
	}
	if cfg.MaxLength <= 0 {
		return nil, fmt.Errorf("%w: max_length must be positive, got %d", ErrConfig, cfg.MaxLength)
	}

	d := &Decoder{
		session:          session,
		config:           cfg,
		logger:           zap.NewNop(),
		inputIDsName:     inputIDsName,
		hiddenStatesName: hiddenStatesInputName,
	}
	if backends.HasInput(session, decoderInputIDsName) {
		d.inputIDsName = decoderInputIDsName
	}
	if !backends.HasInput(session, hiddenStatesInputName) && backends.HasInput(session, encoderOutputsInputName) {
		d.hiddenStatesName = encoderOutputsInputName
	}
	d.withEncoderMask = backends.HasInput(session, encoderMaskInputName)
	d.withDecoderMask = backends.HasInput(session, decoderMaskInputName)

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the generation parameters in use.
func (d *Decoder) Config() *GenerationConfig {
	return d.config
}

// Decode generates token ids for hidden, starting from the decoder start
// token. The returned sequence includes the start token and, when generation
// stopped on it, the end-of-sequence token, so it holds at most
// MaxLength+1 ids.
//
// On any failure no partial sequence is returned.
func (d *Decoder) Decode(ctx context.Context, hidden *HiddenState) ([]int64, error) {
	if hidden == nil {
		return nil, fmt.Errorf("%w: nil hidden state", ErrInference)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tokens := make([]int64, 1, d.config.MaxLength+1)
	tokens[0] = d.config.DecoderStartTokenID

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := d.step(hidden, tokens)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, next)

		if ce := d.logger.Check(zap.DebugLevel, "decoder step"); ce != nil {
			ce.Write(zap.Int("step", step), zap.Int64("token", next))
		}

		if d.shouldStop(tokens, step) {
			return tokens, nil
		}
	}
}

// shouldStop applies the termination rules in order: the newest token is
// EOS, the step budget is spent, or the sequence ends in a run of
// NoRepeatNgramSize EOS tokens.
func (d *Decoder) shouldStop(tokens []int64, step int) bool {
	eos := d.config.EOSTokenID
	if tokens[len(tokens)-1] == eos {
		return true
	}
	if step >= d.config.MaxLength {
		return true
	}
	return endsWithRepeated(tokens, eos, d.config.NoRepeatNgramSize)
}

// endsWithRepeated reports whether the last n tokens all equal id.
// A non-positive n never matches.
func endsWithRepeated(tokens []int64, id int64, n int) bool {
	if n <= 0 || len(tokens) < n {
		return false
	}
	for _, t := range tokens[len(tokens)-n:] {
		if t != id {
			return false
		}
	}
	return true
}

func (d *Decoder) step(hidden *HiddenState, tokens []int64) (int64, error) {
	outputs, err := d.session.Run(d.buildInputs(hidden, tokens))
	if err != nil {
		return 0, fmt.Errorf("%w: running decoder at length %d: %w", ErrInference, len(tokens), err)
	}

	logits, ok := backends.FindTensor(outputs, logitsOutputName)
	if !ok {
		return 0, fmt.Errorf("%w: decoder produced no %q output", ErrModel, logitsOutputName)
	}
	return lastPositionArgmax(logits)
}

func (d *Decoder) buildInputs(hidden *HiddenState, tokens []int64) []backends.NamedTensor {
	seqLen := int64(len(tokens))
	inputs := []backends.NamedTensor{
		{
			Name:  d.inputIDsName,
			Shape: []int64{1, seqLen},
			Data:  append([]int64(nil), tokens...),
		},
		hidden.tensor(d.hiddenStatesName),
	}

	if d.withEncoderMask {
		encLen := hidden.Shape()[1]
		inputs = append(inputs, backends.NamedTensor{
			Name:  encoderMaskInputName,
			Shape: []int64{1, encLen},
			Data:  ones(int(encLen)),
		})
	}
	if d.withDecoderMask {
		inputs = append(inputs, backends.NamedTensor{
			Name:  decoderMaskInputName,
			Shape: []int64{1, seqLen},
			Data:  ones(int(seqLen)),
		})
	}
	return inputs
}

func ones(n int) []int64 {
	mask := make([]int64, n)
	for i := range mask {
		mask[i] = 1
	}
	return mask
}

// lastPositionArgmax picks the highest scoring vocabulary entry at the final
// sequence position of a (1, seq_len, vocab) logits tensor.
func lastPositionArgmax(logits backends.NamedTensor) (int64, error) {
	if len(logits.Shape) != 3 || logits.Shape[0] != 1 || logits.Shape[1] < 1 || logits.Shape[2] < 1 {
		return 0, fmt.Errorf("%w: unexpected logits shape %v", ErrModel, logits.Shape)
	}
	data, ok := logits.Data.([]float32)
	if !ok {
		return 0, fmt.Errorf("%w: logits are %T, want []float32", ErrModel, logits.Data)
	}
	seqLen, vocab := int(logits.Shape[1]), int(logits.Shape[2])
	if len(data) != seqLen*vocab {
		return 0, fmt.Errorf("%w: logits shape %v does not match %d values", ErrModel, logits.Shape, len(data))
	}

	return int64(vec.Argmax(data[(seqLen-1)*vocab:])), nil
}

// Close releases the session.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}
