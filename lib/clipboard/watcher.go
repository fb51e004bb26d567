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

// Package clipboard turns the system clipboard into a stream of new images
// and feeds them to a recognizer.
package clipboard

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/antflydb/mangaocr/lib/ocr"
)

// DefaultRefreshInterval is the wait between clipboard polls.
const DefaultRefreshInterval = time.Second

// Source is a clipboard that can hold an encoded image and accept text.
type Source interface {
	// ReadImage returns the encoded image currently on the clipboard, or nil
	// when the clipboard holds no image.
	ReadImage() ([]byte, error)

	// WriteText replaces the clipboard contents with text.
	WriteText(text string) error
}

// Frame is an image that appeared on the clipboard.
type Frame struct {
	Image image.Image

	// Hash is the xxhash64 of the encoded bytes.
	Hash uint64
}

// Watcher polls a Source and reports each image once, suppressing
// consecutive identical content. A Watcher is not safe for concurrent use.
type Watcher struct {
	source       Source
	interval     time.Duration
	skipExisting bool
	logger       *zap.Logger

	lastHash uint64
	hasHash  bool
	polled   bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithRefreshInterval sets the wait between polls.
func WithRefreshInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.interval = d
	}
}

// WithSkipExisting treats the image present when the watcher is created as
// already seen, so only images copied afterwards are reported.
func WithSkipExisting() WatcherOption {
	return func(w *Watcher) {
		w.skipExisting = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher over source.
func NewWatcher(source Source, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:   source,
		interval: DefaultRefreshInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.skipExisting {
		data, err := source.ReadImage()
		switch {
		case err != nil:
			w.logger.Debug("Could not read initial clipboard contents", zap.Error(err))
		case len(data) > 0:
			w.lastHash, w.hasHash = xxhash.Sum64(data), true
			w.logger.Debug("Skipping image already on the clipboard", zap.Uint64("hash", w.lastHash))
		}
	}
	return w
}

// Poll waits for the refresh interval (except on the first call), then checks
// the clipboard once. It returns a nil frame when there is no image or the
// image was already reported by the previous successful poll.
//
// A read failure returns an error wrapping ocr.ErrIO and leaves the
// remembered hash untouched. A decode failure returns ocr.ErrImage; the
// broken content still counts as seen.
func (w *Watcher) Poll(ctx context.Context) (*Frame, error) {
	if w.polled {
		if err := w.wait(ctx); err != nil {
			return nil, err
		}
	}
	w.polled = true

	data, err := w.source.ReadImage()
	if err != nil {
		recordPoll(pollError)
		return nil, fmt.Errorf("%w: reading clipboard: %w", ocr.ErrIO, err)
	}
	if len(data) == 0 {
		recordPoll(pollEmpty)
		return nil, nil
	}

	hash := xxhash.Sum64(data)
	if w.hasHash && hash == w.lastHash {
		recordPoll(pollUnchanged)
		return nil, nil
	}
	w.lastHash, w.hasHash = hash, true
	recordPoll(pollNew)

	img, err := ocr.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	w.logger.Debug("New clipboard image",
		zap.Uint64("hash", hash),
		zap.Int("bytes", len(data)),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))
	return &Frame{Image: img, Hash: hash}, nil
}

// WriteText writes text back to the clipboard.
func (w *Watcher) WriteText(text string) error {
	return w.source.WriteText(text)
}

func (w *Watcher) wait(ctx context.Context) error {
	if w.interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(w.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
