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
	"errors"

	"github.com/antflydb/mangaocr/lib/backends"
)

const testVocab = 8

func testGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		DecoderStartTokenID: 2,
		EOSTokenID:          3,
		NoRepeatNgramSize:   3,
		MaxLength:           300,
		PadTokenID:          0,
		HasPadTokenID:       true,
	}
}

// fakeSession records its inputs and answers with runFn.
type fakeSession struct {
	inputInfo []backends.TensorInfo
	runFn     func(call int, inputs []backends.NamedTensor) ([]backends.NamedTensor, error)

	calls  [][]backends.NamedTensor
	closed bool
}

func (s *fakeSession) Run(inputs []backends.NamedTensor) ([]backends.NamedTensor, error) {
	s.calls = append(s.calls, inputs)
	return s.runFn(len(s.calls), inputs)
}

func (s *fakeSession) InputInfo() []backends.TensorInfo  { return s.inputInfo }
func (s *fakeSession) OutputInfo() []backends.TensorInfo { return nil }
func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func inputs(names ...string) []backends.TensorInfo {
	info := make([]backends.TensorInfo, len(names))
	for i, n := range names {
		info[i] = backends.TensorInfo{Name: n}
	}
	return info
}

// oneHotLogits builds (1, seqLen, testVocab) logits whose last position
// peaks at token.
func oneHotLogits(seqLen int, token int64) backends.NamedTensor {
	data := make([]float32, seqLen*testVocab)
	for i := range data {
		data[i] = -1
	}
	data[(seqLen-1)*testVocab+int(token)] = 10
	return backends.NamedTensor{
		Name:  "logits",
		Shape: []int64{1, int64(seqLen), testVocab},
		Data:  data,
	}
}

// scriptedDecoderSession emits script[i] on call i+1, then repeats last
// forever.
func scriptedDecoderSession(script []int64, last int64) *fakeSession {
	s := &fakeSession{inputInfo: inputs("input_ids", "encoder_hidden_states")}
	s.runFn = func(call int, in []backends.NamedTensor) ([]backends.NamedTensor, error) {
		ids, ok := backends.FindTensor(in, s.inputInfo[0].Name)
		if !ok {
			return nil, errors.New("missing input ids")
		}
		tok := last
		if call <= len(script) {
			tok = script[call-1]
		}
		return []backends.NamedTensor{oneHotLogits(int(ids.Shape[1]), tok)}, nil
	}
	return s
}

// fakeEncoderSession returns a (1, 4, 2) hidden state under outputName.
func fakeEncoderSession(outputName string) *fakeSession {
	return &fakeSession{
		inputInfo: inputs("pixel_values"),
		runFn: func(int, []backends.NamedTensor) ([]backends.NamedTensor, error) {
			return []backends.NamedTensor{{
				Name:  outputName,
				Shape: []int64{1, 4, 2},
				Data:  []float32{1, 2, 3, 4, 5, 6, 7, 8},
			}}, nil
		},
	}
}

func testHiddenState() *HiddenState {
	h, err := NewHiddenState([]float32{1, 2, 3, 4, 5, 6, 7, 8}, [3]int64{1, 4, 2})
	if err != nil {
		panic(err)
	}
	return h
}

type fakeDetokenizer struct {
	vocab map[int]string
	got   []int
	panic bool
}

func (d *fakeDetokenizer) Decode(ids []int) string {
	d.got = ids
	if d.panic {
		panic("unknown id")
	}
	var out string
	for i, id := range ids {
		if i > 0 {
			out += " "
		}
		out += d.vocab[id]
	}
	return out
}
