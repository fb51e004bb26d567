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

import "errors"

// Error classes. Returned errors wrap exactly one of these together with the
// underlying cause, so callers can branch with errors.Is.
var (
	// ErrIO means a file or the clipboard could not be read.
	ErrIO = errors.New("io error")

	// ErrImage means the bytes could not be decoded as a supported image.
	ErrImage = errors.New("image error")

	// ErrModel means a model artifact is missing, malformed or does not
	// expose the expected inputs and outputs.
	ErrModel = errors.New("model error")

	// ErrInference means the inference backend failed while running a graph.
	ErrInference = errors.New("inference error")

	// ErrTokenizer means the tokenizer could not be loaded or failed to
	// turn token ids back into text.
	ErrTokenizer = errors.New("tokenizer error")

	// ErrConfig means generation_config.json is missing a required field or
	// holds a value of the wrong type.
	ErrConfig = errors.New("config error")
)
