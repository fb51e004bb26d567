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

package clipboard

import (
	"fmt"

	"golang.design/x/clipboard"

	"github.com/antflydb/mangaocr/lib/ocr"
)

// systemSource is the desktop clipboard. Images are exchanged as PNG.
type systemSource struct{}

// NewSystemSource opens the system clipboard. It fails when no clipboard is
// available, for example without a display on Linux.
func NewSystemSource() (Source, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("%w: initializing clipboard: %w", ocr.ErrIO, err)
	}
	return systemSource{}, nil
}

func (systemSource) ReadImage() ([]byte, error) {
	return clipboard.Read(clipboard.FmtImage), nil
}

// WriteText stores text only; the clipboard then holds no image, so the
// result is never read back as a new frame.
func (systemSource) WriteText(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
