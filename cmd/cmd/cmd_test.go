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
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/antflydb/mangaocr/lib/backends"
	"github.com/antflydb/mangaocr/lib/ocr"
)

// setConfig overrides a viper key for the duration of the test.
func setConfig(t *testing.T, key string, value any) {
	t.Helper()
	old := viper.Get(key)
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, old) })
}

func TestReadImage(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "bubble.png")
	f, err := os.Create(good)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 12, 30))))
	require.NoError(t, f.Close())

	img, err := readImage(good)
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())

	_, err = readImage(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, ocr.ErrIO)

	bad := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	_, err = readImage(bad)
	assert.ErrorIs(t, err, ocr.ErrImage)
}

func TestRefreshInterval(t *testing.T) {
	setConfig(t, "refresh_interval", 0.25)
	d, err := refreshInterval()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	setConfig(t, "refresh_interval", -1.0)
	_, err = refreshInterval()
	assert.ErrorIs(t, err, ocr.ErrConfig)
}

func TestNewLogger(t *testing.T) {
	for _, style := range []string{"terminal", "json", "logfmt", "noop", ""} {
		setConfig(t, "log.style", style)
		setConfig(t, "log.level", "debug")
		logger, err := newLogger()
		require.NoError(t, err, style)
		assert.NotNil(t, logger)
	}

	setConfig(t, "log.style", "xml")
	_, err := newLogger()
	assert.ErrorIs(t, err, ocr.ErrConfig)

	setConfig(t, "log.style", "json")
	setConfig(t, "log.level", "loud")
	_, err = newLogger()
	assert.ErrorIs(t, err, ocr.ErrConfig)
}

func TestSelectBackendRejectsUnknown(t *testing.T) {
	setConfig(t, "backend", "tpu")
	_, err := selectBackend(zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSelectBackendHonorsPriority(t *testing.T) {
	t.Cleanup(func() { backends.SetPriority(nil) })
	setConfig(t, "backend", "")

	setConfig(t, "backend_priority", []string{"go", "onnx"})
	b, err := selectBackend(zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, backends.BackendGo, b.Type())
	assert.Equal(t, []backends.BackendType{backends.BackendGo, backends.BackendONNX}, backends.GetPriority())

	setConfig(t, "backend_priority", []string{"go", "tpu"})
	_, err = selectBackend(zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ocr.ErrConfig)
}

type namedBackend struct {
	backends.Backend
	typ backends.BackendType
}

func (b namedBackend) Type() backends.BackendType { return b.typ }

func TestSessionOptionsThreads(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	setConfig(t, "threads", 0)
	assert.Empty(t, sessionOptions(logger, namedBackend{typ: backends.BackendONNX}))

	setConfig(t, "threads", 4)
	opts := sessionOptions(logger, namedBackend{typ: backends.BackendONNX})
	require.Len(t, opts, 1)
	assert.Equal(t, 4, backends.ApplySessionOptions(opts...).NumThreads)
	assert.Zero(t, logs.Len())

	assert.Empty(t, sessionOptions(logger, namedBackend{typ: backends.BackendGo}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, int64(4), logs.All()[0].ContextMap()["threads"])
}

func TestFatalErrorPrintedOnce(t *testing.T) {
	setConfig(t, "log.style", "noop")
	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"file", filepath.Join(t.TempDir(), "missing.png")})
	t.Cleanup(func() {
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	assert.ErrorIs(t, err, ocr.ErrIO)
	assert.Equal(t, 1, strings.Count(stderr.String(), "Error:"), stderr.String())
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"clipboard", "file", "pull"} {
		assert.True(t, names[want], want)
	}

	for _, flag := range []string{"model", "backend", "threads", "refresh-interval", "skip-existing", "cache-ttl", "health-port", "backend-priority", "log-style"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}
