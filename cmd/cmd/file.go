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
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antflydb/mangaocr/lib/ocr"
)

var fileCmd = &cobra.Command{
	Use:   "file <image>",
	Short: "Recognize the text in one image file",
	Long: `Recognize the Japanese text in a single image and print it.

PNG, JPEG, GIF, BMP, TIFF and WebP images are supported. The exit status is
non-zero when the image cannot be read or recognized.`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func init() {
	rootCmd.AddCommand(fileCmd)
}

func runFile(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Read the image before paying for model load.
	img, err := readImage(args[0])
	if err != nil {
		return err
	}

	model, err := loadModel(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Close(); err != nil {
			logger.Warn("Closing model", zap.Error(err))
		}
	}()

	text, err := model.Recognize(ctx, img)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ocr.ErrIO, err)
	}
	defer f.Close()
	return ocr.DecodeImage(f)
}
