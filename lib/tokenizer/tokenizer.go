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

// Package tokenizer loads the vocabulary used to turn decoder output ids back
// into text.
package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

const (
	tokenizerJSONName   = "tokenizer.json"
	tokenizerModelName  = "tokenizer.model"
	tokenizerConfigName = "tokenizer_config.json"
)

// Load loads a tokenizer from a tokenizer.json or SentencePiece
// tokenizer.model file, or from a directory holding one of them. A
// tokenizer_config.json next to the file supplies special-token names.
//
// When built with the onnx and ORT tags the Rust tokenizers library is used
// for tokenizer.json; otherwise, or when TOKENIZER_BACKEND=go, the pure Go
// implementation is.
func Load(path string) (tokenizers.Tokenizer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer not found: %w", err)
	}
	if info.IsDir() {
		return loadFromDir(path)
	}

	config, err := loadConfig(filepath.Join(filepath.Dir(path), tokenizerConfigName))
	if err != nil {
		return nil, err
	}

	if filepath.Ext(path) == ".model" {
		return loadSentencePiece(path)
	}

	if rustTokenizerAvailable() {
		if tok, err := loadRustTokenizer(path, config); err == nil && tok != nil {
			return tok, nil
		}
	}

	tok, err := hftokenizer.NewFromFile(config, path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
	}
	special, err := specialTokenIDs(path)
	if err != nil {
		return nil, err
	}
	if len(special) == 0 {
		return tok, nil
	}
	return &skipSpecialTokenizer{Tokenizer: tok, special: special}, nil
}

// specialTokenIDs returns the ids of the added tokens that tokenizer.json
// marks as special.
func specialTokenIDs(path string) (map[int]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	var doc struct {
		AddedTokens []struct {
			ID      int  `json:"id"`
			Special bool `json:"special"`
		} `json:"added_tokens"`
	}
	if err := sonic.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing added tokens in %s: %w", filepath.Base(path), err)
	}
	special := make(map[int]struct{})
	for _, at := range doc.AddedTokens {
		if at.Special {
			special[at.ID] = struct{}{}
		}
	}
	return special, nil
}

// skipSpecialTokenizer decodes without special tokens such as [UNK] and
// [MASK], matching the Rust tokenizer's skip_special_tokens mode.
type skipSpecialTokenizer struct {
	tokenizers.Tokenizer
	special map[int]struct{}
}

func (t *skipSpecialTokenizer) Decode(ids []int) string {
	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.special[id]; !ok {
			kept = append(kept, id)
		}
	}
	return t.Tokenizer.Decode(kept)
}

func loadFromDir(dir string) (tokenizers.Tokenizer, error) {
	for _, name := range []string{tokenizerJSONName, tokenizerModelName} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return nil, fmt.Errorf("no tokenizer found in %s (expected %s or %s)", dir, tokenizerJSONName, tokenizerModelName)
}

// loadConfig returns nil when the config file does not exist.
func loadConfig(configPath string) (*api.Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, nil
	}
	content, err := normalizeTokenizerConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("normalizing tokenizer config: %w", err)
	}
	config, err := api.ParseConfigContent(content)
	if err != nil {
		return nil, fmt.Errorf("parsing tokenizer config: %w", err)
	}
	config.ConfigFile = configPath
	return config, nil
}

func loadSentencePiece(path string) (tokenizers.Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
	}
	return &sentencepieceTokenizer{
		Processor: proc,
		Info:      proc.ModelInfo(),
	}, nil
}

// sentencepieceTokenizer adapts esentencepiece.Processor to tokenizers.Tokenizer.
type sentencepieceTokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo
}

var _ tokenizers.Tokenizer = (*sentencepieceTokenizer)(nil)

func (t *sentencepieceTokenizer) Encode(text string) []int {
	tokens := t.Processor.Encode(text)
	result := make([]int, len(tokens))
	for i, tok := range tokens {
		result[i] = tok.ID
	}
	return result
}

func (t *sentencepieceTokenizer) Decode(ids []int) string {
	return t.Processor.Decode(ids)
}

func (t *sentencepieceTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		return t.Info.UnknownID, nil
	case api.TokPad:
		return t.Info.PadID, nil
	case api.TokBeginningOfSentence:
		return t.Info.BeginningOfSentenceID, nil
	case api.TokEndOfSentence:
		return t.Info.EndOfSentenceID, nil
	default:
		return 0, fmt.Errorf("unknown special token: %s (%d)", token, int(token))
	}
}

// normalizeTokenizerConfig rewrites AddedToken objects such as
// {"__type": "AddedToken", "content": "[SEP]"} into plain strings, which is
// the only form api.ParseConfigContent accepts.
func normalizeTokenizerConfig(configPath string) ([]byte, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := sonic.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing config JSON: %w", err)
	}

	for _, field := range []string{
		"bos_token", "eos_token", "pad_token", "unk_token",
		"cls_token", "sep_token", "mask_token",
	} {
		if val, ok := raw[field]; ok {
			raw[field] = extractTokenContent(val)
		}
	}
	return sonic.Marshal(raw)
}

func extractTokenContent(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if content, ok := val["content"].(string); ok {
			return content
		}
	}
	return ""
}
