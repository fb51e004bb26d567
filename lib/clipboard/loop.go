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
	"context"
	"fmt"
	"image"
	"io"

	"go.uber.org/zap"

	"github.com/antflydb/mangaocr/lib/ocr"
)

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Loop recognizes every new clipboard image and prints the text, one line
// per image, to its output.
type Loop struct {
	watcher    *Watcher
	recognizer Recognizer
	out        io.Writer
	cache      *ocr.Cache
	writeBack  bool
	logger     *zap.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithCache reuses earlier results for images seen before.
func WithCache(c *ocr.Cache) LoopOption {
	return func(l *Loop) {
		l.cache = c
	}
}

// WithWriteBack controls whether recognized text replaces the clipboard
// image. Enabled by default.
func WithWriteBack(enabled bool) LoopOption {
	return func(l *Loop) {
		l.writeBack = enabled
	}
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *zap.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// NewLoop creates a loop that prints results to out.
func NewLoop(watcher *Watcher, recognizer Recognizer, out io.Writer, opts ...LoopOption) *Loop {
	l := &Loop{
		watcher:    watcher,
		recognizer: recognizer,
		out:        out,
		writeBack:  true,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run polls until ctx is done and returns ctx.Err(). A failure on one image
// is reported and the loop moves on to the next.
func (l *Loop) Run(ctx context.Context) error {
	for {
		frame, err := l.watcher.Poll(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			l.report(err)
			continue
		}
		if frame == nil {
			continue
		}

		text, err := l.recognize(ctx, frame)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			recordFrame("failed")
			l.report(err)
			continue
		}

		fmt.Fprintln(l.out, text)
		if l.writeBack {
			if err := l.watcher.WriteText(text); err != nil {
				l.logger.Debug("Clipboard write-back failed", zap.Error(err))
			}
		}
	}
}

func (l *Loop) recognize(ctx context.Context, frame *Frame) (string, error) {
	if l.cache != nil {
		if text, ok := l.cache.Get(frame.Hash); ok {
			recordFrame("cached")
			l.logger.Debug("Using cached recognition", zap.Uint64("hash", frame.Hash))
			return text, nil
		}
	}

	text, err := l.recognizer.Recognize(ctx, frame.Image)
	if err != nil {
		return "", err
	}
	recordFrame("recognized")
	if l.cache != nil {
		l.cache.Set(frame.Hash, text)
	}
	return text, nil
}

func (l *Loop) report(err error) {
	l.logger.Warn("Clipboard OCR failed", zap.Error(err))
	fmt.Fprintf(l.out, "Error: %v\n", err)
}
