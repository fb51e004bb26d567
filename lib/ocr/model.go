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
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/mangaocr/lib/backends"
	"github.com/antflydb/mangaocr/lib/modelbundle"
	"github.com/antflydb/mangaocr/lib/tokenizer"
)

// Detokenizer turns token ids back into text.
type Detokenizer interface {
	Decode(ids []int) string
}

// Model is a loaded manga-ocr encoder/decoder pair with its tokenizer.
// Recognize calls are serialized by the encoder and decoder locks.
type Model struct {
	encoder   *Encoder
	decoder   *Decoder
	tokenizer Detokenizer
	logger    *zap.Logger
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	logger         *zap.Logger
	sessionOptions []backends.SessionOption
	imageConfig    *ImageConfig
}

// WithLogger sets the logger for the model and its decoder.
func WithLogger(logger *zap.Logger) Option {
	return func(o *loadOptions) {
		o.logger = logger
	}
}

// WithSessionOptions passes options to the backend when creating sessions.
func WithSessionOptions(opts ...backends.SessionOption) Option {
	return func(o *loadOptions) {
		o.sessionOptions = append(o.sessionOptions, opts...)
	}
}

// WithImageConfig overrides the preprocessing parameters.
func WithImageConfig(cfg *ImageConfig) Option {
	return func(o *loadOptions) {
		o.imageConfig = cfg
	}
}

// NewModel assembles a model from already constructed parts. The model owns
// the encoder and decoder.
func NewModel(encoder *Encoder, decoder *Decoder, tok Detokenizer, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		encoder:   encoder,
		decoder:   decoder,
		tokenizer: tok,
		logger:    logger,
	}
}

// Load opens every artifact of bundle. The generation config is read first
// so a broken config fails before any inference session is created.
func Load(bundle *modelbundle.Bundle, factory backends.SessionFactory, opts ...Option) (*Model, error) {
	o := &loadOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	start := time.Now()

	cfg, err := LoadGenerationConfig(bundle.GenerationConfigPath)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.Load(bundle.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %w", ErrTokenizer, bundle.TokenizerPath, err)
	}

	encoderSession, err := factory.CreateSession(bundle.EncoderPath, o.sessionOptions...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating encoder session: %w", ErrModel, err)
	}
	decoderSession, err := factory.CreateSession(bundle.DecoderPath, o.sessionOptions...)
	if err != nil {
		_ = encoderSession.Close()
		return nil, fmt.Errorf("%w: creating decoder session: %w", ErrModel, err)
	}

	decoder, err := NewDecoder(decoderSession, cfg, WithDecoderLogger(o.logger))
	if err != nil {
		_ = encoderSession.Close()
		_ = decoderSession.Close()
		return nil, err
	}
	encoder := NewEncoder(encoderSession, WithImageProcessor(NewImageProcessor(o.imageConfig)))

	RecordModelLoad(string(factory.Backend()), time.Since(start))
	o.logger.Info("Model loaded",
		zap.String("source", bundle.Source),
		zap.String("backend", string(factory.Backend())),
		zap.Int("max_length", cfg.MaxLength),
		zap.Duration("took", time.Since(start)))

	return NewModel(encoder, decoder, tok, o.logger), nil
}

// Recognize returns the Japanese text in img with all spaces removed.
func (m *Model) Recognize(ctx context.Context, img image.Image) (text string, err error) {
	defer func() { RecordRecognition(err) }()

	start := time.Now()
	hidden, err := m.encoder.EncodeImage(ctx, img)
	if err != nil {
		return "", err
	}
	RecordStage("encode", start)

	start = time.Now()
	tokens, err := m.decoder.Decode(ctx, hidden)
	if err != nil {
		return "", err
	}
	RecordStage("decode", start)
	RecordTokensGenerated(len(tokens) - 1)

	start = time.Now()
	text, err = m.detokenize(tokens)
	if err != nil {
		return "", err
	}
	RecordStage("detokenize", start)

	m.logger.Debug("Recognized image",
		zap.Int("tokens", len(tokens)),
		zap.String("text", text))
	return text, nil
}

// detokenize drops the start, end and padding ids, decodes the rest and
// strips the spaces the tokenizer inserts between pieces.
func (m *Model) detokenize(tokens []int64) (text string, err error) {
	cfg := m.decoder.Config()
	ids := make([]int, 0, len(tokens))
	for _, t := range tokens {
		if t == cfg.DecoderStartTokenID || t == cfg.EOSTokenID || (cfg.HasPadTokenID && t == cfg.PadTokenID) {
			continue
		}
		ids = append(ids, int(t))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: decoding %d ids: %v", ErrTokenizer, len(ids), r)
		}
	}()
	return strings.ReplaceAll(m.tokenizer.Decode(ids), " ", ""), nil
}

// Close releases both inference sessions.
func (m *Model) Close() error {
	var errs []error
	if err := m.encoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing encoder: %w", err))
	}
	if err := m.decoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing decoder: %w", err))
	}
	return errors.Join(errs...)
}
