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

// Package modelbundle locates the files that make up a manga-ocr model,
// either in a local directory or in a HuggingFace Hub repository.
package modelbundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRepo is the HuggingFace repository used when no model is given.
const DefaultRepo = "l0wgear/manga-ocr-2025-onnx"

// Artifact file names.
const (
	EncoderFile          = "encoder_model.onnx"
	DecoderFile          = "decoder_model.onnx"
	TokenizerFile        = "tokenizer.json"
	GenerationConfigFile = "generation_config.json"
)

// RequiredFiles lists every artifact a bundle must provide.
var RequiredFiles = []string{EncoderFile, DecoderFile, TokenizerFile, GenerationConfigFile}

// searchDirs are tried in order, relative to the bundle root. Optimum exports
// put ONNX graphs under onnx/.
var searchDirs = []string{"", "onnx"}

// ErrArtifactNotFound is returned when a required file is missing.
var ErrArtifactNotFound = errors.New("model artifact not found")

// Bundle holds local paths to the four model artifacts.
type Bundle struct {
	// Source is the directory or repository the bundle was resolved from.
	Source string

	EncoderPath          string
	DecoderPath          string
	TokenizerPath        string
	GenerationConfigPath string
}

// FromDir locates the artifacts in dir.
func FromDir(dir string) (*Bundle, error) {
	paths := make(map[string]string, len(RequiredFiles))
	for _, name := range RequiredFiles {
		p := findFile(dir, name)
		if p == "" {
			return nil, fmt.Errorf("%w: %s in %s", ErrArtifactNotFound, name, dir)
		}
		paths[name] = p
	}
	return newBundle(dir, paths), nil
}

// Resolve treats nameOrPath as a local directory when one exists and as a
// HuggingFace repository id otherwise.
func Resolve(ctx context.Context, nameOrPath string, client *Client) (*Bundle, error) {
	if nameOrPath == "" {
		nameOrPath = DefaultRepo
	}
	if info, err := os.Stat(nameOrPath); err == nil && info.IsDir() {
		return FromDir(nameOrPath)
	}
	if client == nil {
		client = NewClient()
	}
	return client.Pull(ctx, nameOrPath)
}

func newBundle(source string, paths map[string]string) *Bundle {
	return &Bundle{
		Source:               source,
		EncoderPath:          paths[EncoderFile],
		DecoderPath:          paths[DecoderFile],
		TokenizerPath:        paths[TokenizerFile],
		GenerationConfigPath: paths[GenerationConfigFile],
	}
}

// findFile returns the first existing dir/<sub>/name, or "" if none exists.
func findFile(dir, name string) string {
	for _, sub := range searchDirs {
		p := filepath.Join(dir, sub, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
