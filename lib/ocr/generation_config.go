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
	"fmt"
	"math"
	"os"

	"github.com/bytedance/sonic"
)

// GenerationConfig holds the decoding parameters shipped with the model in
// generation_config.json.
//
// Only DecoderStartTokenID, EOSTokenID, NoRepeatNgramSize and MaxLength drive
// decoding. The remaining fields are parsed so the file round-trips, but
// decoding is always greedy with a single beam.
type GenerationConfig struct {
	DecoderStartTokenID int64
	EOSTokenID          int64
	NoRepeatNgramSize   int
	MaxLength           int

	NumBeams            int
	LengthPenalty       float64
	PadTokenID          int64
	HasPadTokenID       bool
	EarlyStopping       bool
	TransformersVersion string
}

// generationConfigJSON mirrors the file. Pointers tell a missing field apart
// from a zero value.
type generationConfigJSON struct {
	DecoderStartTokenID *float64 `json:"decoder_start_token_id"`
	EOSTokenID          any      `json:"eos_token_id"`
	NoRepeatNgramSize   *float64 `json:"no_repeat_ngram_size"`
	MaxLength           *float64 `json:"max_length"`

	NumBeams            *float64 `json:"num_beams"`
	LengthPenalty       *float64 `json:"length_penalty"`
	PadTokenID          *float64 `json:"pad_token_id"`
	EarlyStopping       any      `json:"early_stopping"`
	TransformersVersion string   `json:"transformers_version"`
}

// LoadGenerationConfig reads and validates generation_config.json.
func LoadGenerationConfig(path string) (*GenerationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading generation config: %w", ErrIO, err)
	}
	cfg, err := ParseGenerationConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseGenerationConfig parses the JSON contents of generation_config.json.
// A missing required field or a value of the wrong type yields ErrConfig.
func ParseGenerationConfig(data []byte) (*GenerationConfig, error) {
	var raw generationConfigJSON
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing generation config: %w", ErrConfig, err)
	}

	var (
		cfg GenerationConfig
		err error
	)
	if cfg.DecoderStartTokenID, err = requiredInt("decoder_start_token_id", raw.DecoderStartTokenID); err != nil {
		return nil, err
	}
	if cfg.EOSTokenID, err = eosTokenID(raw.EOSTokenID); err != nil {
		return nil, err
	}
	ngram, err := requiredInt("no_repeat_ngram_size", raw.NoRepeatNgramSize)
	if err != nil {
		return nil, err
	}
	cfg.NoRepeatNgramSize = int(ngram)
	maxLength, err := requiredInt("max_length", raw.MaxLength)
	if err != nil {
		return nil, err
	}
	if maxLength <= 0 {
		return nil, fmt.Errorf("%w: max_length must be positive, got %d", ErrConfig, maxLength)
	}
	cfg.MaxLength = int(maxLength)

	if raw.NumBeams != nil {
		n, err := requiredInt("num_beams", raw.NumBeams)
		if err != nil {
			return nil, err
		}
		cfg.NumBeams = int(n)
	}
	if raw.LengthPenalty != nil {
		cfg.LengthPenalty = *raw.LengthPenalty
	}
	if raw.PadTokenID != nil {
		if cfg.PadTokenID, err = requiredInt("pad_token_id", raw.PadTokenID); err != nil {
			return nil, err
		}
		cfg.HasPadTokenID = true
	}
	switch v := raw.EarlyStopping.(type) {
	case nil:
	case bool:
		cfg.EarlyStopping = v
	case string:
		// transformers also accepts "never".
		cfg.EarlyStopping = false
	default:
		return nil, fmt.Errorf("%w: early_stopping has unexpected type %T", ErrConfig, v)
	}
	cfg.TransformersVersion = raw.TransformersVersion

	return &cfg, nil
}

func requiredInt(field string, v *float64) (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing required field %q", ErrConfig, field)
	}
	return toInt(field, *v)
}

func toInt(field string, v float64) (int64, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: field %q must be an integer, got %v", ErrConfig, field, v)
	}
	return int64(v), nil
}

// eosTokenID accepts either a single id or a list of ids, in which case the
// first one is used.
func eosTokenID(v any) (int64, error) {
	switch id := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: missing required field %q", ErrConfig, "eos_token_id")
	case float64:
		return toInt("eos_token_id", id)
	case []any:
		if len(id) == 0 {
			return 0, fmt.Errorf("%w: eos_token_id list is empty", ErrConfig)
		}
		first, ok := id[0].(float64)
		if !ok {
			return 0, fmt.Errorf("%w: eos_token_id has unexpected element type %T", ErrConfig, id[0])
		}
		return toInt("eos_token_id", first)
	default:
		return 0, fmt.Errorf("%w: eos_token_id has unexpected type %T", ErrConfig, v)
	}
}
