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

package tokenizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTokenContent(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "plain string", in: "[SEP]", want: "[SEP]"},
		{name: "added token", in: map[string]any{"__type": "AddedToken", "content": "[CLS]"}, want: "[CLS]"},
		{name: "added token without content", in: map[string]any{"__type": "AddedToken"}, want: ""},
		{name: "null", in: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTokenContent(tt.in))
		})
	}
}

func TestNormalizeTokenizerConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, tokenizerConfigName)
	require.NoError(t, os.WriteFile(path, []byte(`{
		"tokenizer_class": "BertJapaneseTokenizer",
		"cls_token": {"__type": "AddedToken", "content": "[CLS]"},
		"sep_token": "[SEP]",
		"model_max_length": 300
	}`), 0o644))

	content, err := normalizeTokenizerConfig(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, sonic.Unmarshal(content, &got))
	assert.Equal(t, "[CLS]", got["cls_token"])
	assert.Equal(t, "[SEP]", got["sep_token"])
	assert.Equal(t, "BertJapaneseTokenizer", got["tokenizer_class"])
	assert.EqualValues(t, 300, got["model_max_length"])
}

func TestNormalizeTokenizerConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), tokenizerConfigName)
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := normalizeTokenizerConfig(path)
	assert.Error(t, err)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), tokenizerJSONName))
	assert.Error(t, err)
}

func TestLoadEmptyDir(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tokenizer found")
}

func TestLoadConfigAbsent(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), tokenizerConfigName))
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

// mangaVocabJSON is a WordPiece tokenizer.json laid out like the manga-ocr
// vocabulary: the five BERT specials first, then characters.
const mangaVocabJSON = `{
  "version": "1.0",
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 1, "content": "[UNK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 2, "content": "[CLS]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 3, "content": "[SEP]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 4, "content": "[MASK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": null,
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "post_processor": null,
  "decoder": {"type": "WordPiece", "prefix": "##"},
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "[MASK]": 4, "悪": 5, "魔": 6, "戦": 7}
  }
}`

func writeTokenizerJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), tokenizerJSONName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSpecialTokenIDs(t *testing.T) {
	path := writeTokenizerJSON(t, `{"added_tokens": [
		{"id": 1, "content": "[UNK]", "special": true},
		{"id": 9, "content": "<ruby>", "special": false},
		{"id": 4, "content": "[MASK]", "special": true}
	]}`)

	special, err := specialTokenIDs(path)
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{1: {}, 4: {}}, special)

	_, err = specialTokenIDs(writeTokenizerJSON(t, `{not json`))
	assert.Error(t, err)
}

func TestDecodeSkipsSpecialTokens(t *testing.T) {
	t.Setenv("TOKENIZER_BACKEND", "go")
	tok, err := Load(writeTokenizerJSON(t, mangaVocabJSON))
	require.NoError(t, err)

	got := tok.Decode([]int{2, 5, 1, 6, 4, 3, 0})
	assert.NotContains(t, got, "[")
	assert.Equal(t, "悪魔", strings.ReplaceAll(got, " ", ""))
}
