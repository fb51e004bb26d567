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

//go:build onnx && ORT

package tokenizer

import (
	"fmt"
	"os"

	rust "github.com/daulet/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// rustTokenizer decodes with the HuggingFace Rust tokenizers library, which
// is linked into the same CGO builds as ONNX Runtime.
type rustTokenizer struct {
	tk     *rust.Tokenizer
	config *api.Config
}

var _ tokenizers.Tokenizer = (*rustTokenizer)(nil)

func loadRustTokenizer(path string, config *api.Config) (tokenizers.Tokenizer, error) {
	tk, err := rust.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading Rust tokenizer from %s: %w", path, err)
	}
	return &rustTokenizer{tk: tk, config: config}, nil
}

func (t *rustTokenizer) Encode(text string) []int {
	return toInts(t.tk.EncodeWithOptions(text, true).IDs)
}

// Decode drops special tokens such as [CLS] and [SEP].
func (t *rustTokenizer) Decode(ids []int) string {
	pieces := make([]uint32, 0, len(ids))
	for _, id := range ids {
		pieces = append(pieces, uint32(id))
	}
	return t.tk.Decode(pieces, true)
}

func (t *rustTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	text, err := specialTokenText(t.config, token)
	if err != nil {
		return 0, err
	}
	ids := t.tk.EncodeWithOptions(text, false).IDs
	if len(ids) != 1 {
		return 0, fmt.Errorf("special token %q is not a single vocabulary entry", text)
	}
	return int(ids[0]), nil
}

func (t *rustTokenizer) Close() error {
	if t.tk == nil {
		return nil
	}
	return t.tk.Close()
}

// specialTokenText returns the surface form of a special token as named in
// tokenizer_config.json.
func specialTokenText(config *api.Config, token api.SpecialToken) (string, error) {
	if config == nil {
		return "", fmt.Errorf("no %s next to the tokenizer", tokenizerConfigName)
	}
	names := map[api.SpecialToken]string{
		api.TokUnknown:             config.UnkToken,
		api.TokPad:                 config.PadToken,
		api.TokBeginningOfSentence: config.BosToken,
		api.TokEndOfSentence:       config.EosToken,
		api.TokClassification:      config.ClsToken,
		api.TokMask:                config.MaskToken,
	}
	text, known := names[token]
	if !known {
		return "", fmt.Errorf("unknown special token: %s (%d)", token, int(token))
	}
	if text == "" {
		return "", fmt.Errorf("special token %s not set in %s", token, tokenizerConfigName)
	}
	return text, nil
}

func toInts(ids []uint32) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// rustTokenizerAvailable is false when TOKENIZER_BACKEND=go.
func rustTokenizerAvailable() bool {
	return os.Getenv("TOKENIZER_BACKEND") != "go"
}
