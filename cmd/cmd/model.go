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

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/antflydb/mangaocr/lib/backends"
	"github.com/antflydb/mangaocr/lib/modelbundle"
	"github.com/antflydb/mangaocr/lib/ocr"
)

// newLogger builds the process logger from log.level and log.style. Every
// style writes to stderr so stdout carries only recognized text.
func newLogger() (*zap.Logger, error) {
	style := logging.Style(viper.GetString("log.style"))
	switch style {
	case "", logging.StyleTerminal, logging.StyleJson, logging.StyleLogfmt, logging.StyleNoop:
	default:
		return nil, fmt.Errorf("%w: unknown log style %q (valid: terminal, json, logfmt, noop)", ocr.ErrConfig, style)
	}
	level := logging.Level(viper.GetString("log.level"))
	if _, err := zapcore.ParseLevel(string(level)); err != nil {
		return nil, fmt.Errorf("%w: %w", ocr.ErrConfig, err)
	}
	return logging.NewLogger(&logging.Config{Level: level, Style: style}), nil
}

// selectBackend returns the backend named by the backend key, falling back to
// the first available one in backend_priority order.
func selectBackend(logger *zap.Logger) (backends.Backend, error) {
	if names := viper.GetStringSlice("backend_priority"); len(names) > 0 {
		order, err := backends.ParsePriority(names)
		if err != nil {
			return nil, fmt.Errorf("%w: backend_priority: %w", ocr.ErrConfig, err)
		}
		backends.SetPriority(order)
	}

	registered := backends.ListRegistered()
	names := make([]string, 0, len(registered))
	for _, b := range registered {
		names = append(names, string(b.Type()))
	}
	logger.Debug("Inference backends",
		zap.Strings("registered", names),
		zap.Any("priority", backends.GetPriority()))

	name := viper.GetString("backend")
	if name == "" {
		b := backends.GetDefaultBackend()
		if b == nil {
			return nil, errors.New("no inference backend available")
		}
		return b, nil
	}

	preferred, err := backends.ParseBackendType(name)
	if err != nil {
		return nil, err
	}
	b, used, err := backends.GetBackendWithFallback(preferred)
	if err != nil {
		return nil, err
	}
	if used != preferred {
		logger.Warn("Requested backend unavailable, falling back",
			zap.String("requested", string(preferred)),
			zap.String("using", string(used)))
	}
	return b, nil
}

// sessionOptions turns the threads setting into session options. The Go
// backend schedules its own work, so the setting is reported and ignored.
func sessionOptions(logger *zap.Logger, backend backends.Backend) []backends.SessionOption {
	threads := viper.GetInt("threads")
	if threads <= 0 {
		return nil
	}
	if backend.Type() == backends.BackendGo {
		logger.Warn("Ignoring threads setting on the Go backend", zap.Int("threads", threads))
		return nil
	}
	return []backends.SessionOption{backends.WithSessionThreads(threads)}
}

// loadModel resolves the configured model, downloading it when needed, and
// opens it on the selected backend.
func loadModel(ctx context.Context, logger *zap.Logger) (*ocr.Model, error) {
	backend, err := selectBackend(logger)
	if err != nil {
		return nil, err
	}

	client := modelbundle.NewClient(modelbundle.WithLogger(logger))
	bundle, err := modelbundle.Resolve(ctx, viper.GetString("model"), client)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving model: %w", ocr.ErrIO, err)
	}

	logger.Info("Loading model",
		zap.String("source", bundle.Source),
		zap.String("backend", backend.Name()))

	opts := []ocr.Option{ocr.WithLogger(logger)}
	if sessOpts := sessionOptions(logger, backend); len(sessOpts) > 0 {
		opts = append(opts, ocr.WithSessionOptions(sessOpts...))
	}
	return ocr.Load(bundle, backend.SessionFactory(), opts...)
}
