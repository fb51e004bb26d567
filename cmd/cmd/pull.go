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
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/antflydb/mangaocr/lib/modelbundle"
)

var pullCmd = &cobra.Command{
	Use:   "pull [repo]",
	Short: "Download a model from the HuggingFace hub",
	Long: `Download the encoder, decoder, tokenizer and generation config of a
manga-ocr ONNX export into the local HuggingFace cache, so later runs start
without network access.

Examples:
  # Pull the default model
  mangaocr pull

  # Pull another export
  mangaocr pull someone/manga-ocr-onnx

  # Pull a gated repository
  HF_TOKEN=hf_... mangaocr pull someone/private-manga-ocr`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().String("hf-token", "", "HuggingFace API token for gated models (or use HF_TOKEN env var)")
	pullCmd.Flags().Int("concurrency", 4, "number of files to download at once")
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	repo := modelbundle.DefaultRepo
	if len(args) == 1 {
		repo = args[0]
	}
	hfToken, _ := cmd.Flags().GetString("hf-token")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	opts := []modelbundle.ClientOption{
		modelbundle.WithLogger(logger),
		modelbundle.WithConcurrency(concurrency),
		modelbundle.WithProgressHandler(func(_, total int64, filename string) {
			fmt.Printf("  %-24s %s\n", filename, humanize.Bytes(uint64(total)))
		}),
	}
	if hfToken != "" {
		opts = append(opts, modelbundle.WithToken(hfToken))
	}

	fmt.Printf("Pulling %s\n", repo)
	bundle, err := modelbundle.NewClient(opts...).Pull(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", repo, err)
	}

	fmt.Printf("Done. Encoder at %s\n", bundle.EncoderPath)
	return nil
}
