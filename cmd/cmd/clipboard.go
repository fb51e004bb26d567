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
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/antflydb/mangaocr/lib/clipboard"
	"github.com/antflydb/mangaocr/lib/ocr"
)

var clipboardCmd = &cobra.Command{
	Use:   "clipboard",
	Short: "Recognize every image copied to the clipboard",
	Long: `Poll the system clipboard and recognize each new image.

The recognized text is printed on its own line and copied back to the
clipboard. A failure on one image prints an "Error:" line and the watch
continues. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runClipboard,
}

func init() {
	rootCmd.AddCommand(clipboardCmd)

	flags := rootCmd.PersistentFlags()
	flags.Float64("refresh-interval", clipboard.DefaultRefreshInterval.Seconds(), "seconds between clipboard polls")
	mustBindPFlag("refresh_interval", flags.Lookup("refresh-interval"))

	flags.Bool("skip-existing", true, "ignore the image already on the clipboard at startup")
	mustBindPFlag("skip_existing", flags.Lookup("skip-existing"))

	flags.Bool("write-back", true, "copy recognized text back to the clipboard")
	mustBindPFlag("write_back", flags.Lookup("write-back"))

	flags.Duration("cache-ttl", 10*time.Minute, "how long to remember results for repeated images (0 disables)")
	mustBindPFlag("cache_ttl", flags.Lookup("cache-ttl"))

	flags.Int("health-port", 0, "serve /metrics, /healthz and /readyz on this port (0 disables)")
	mustBindPFlag("health_port", flags.Lookup("health-port"))
}

func runClipboard(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	interval, err := refreshInterval()
	if err != nil {
		return err
	}

	ready := &atomic.Bool{}
	if port := viper.GetInt("health_port"); port > 0 {
		healthserver.Start(logger, port, ready.Load)
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

	source, err := clipboard.NewSystemSource()
	if err != nil {
		return err
	}

	watcherOpts := []clipboard.WatcherOption{
		clipboard.WithRefreshInterval(interval),
		clipboard.WithLogger(logger),
	}
	if viper.GetBool("skip_existing") {
		watcherOpts = append(watcherOpts, clipboard.WithSkipExisting())
	}
	watcher := clipboard.NewWatcher(source, watcherOpts...)

	loopOpts := []clipboard.LoopOption{
		clipboard.WithLoopLogger(logger),
		clipboard.WithWriteBack(viper.GetBool("write_back")),
	}
	if ttl := viper.GetDuration("cache_ttl"); ttl > 0 {
		loopOpts = append(loopOpts, clipboard.WithCache(ocr.NewCache(ttl, ocr.DefaultCacheCapacity)))
	}
	loop := clipboard.NewLoop(watcher, model, os.Stdout, loopOpts...)

	ready.Store(true)
	logger.Info("Ready to do OCR", zap.Duration("refresh_interval", interval))
	fmt.Fprintln(os.Stderr, "Ready to do OCR. Copy an image to the clipboard; Ctrl-C to quit.")

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Stopped watching the clipboard")
	return nil
}

func refreshInterval() (time.Duration, error) {
	seconds := viper.GetFloat64("refresh_interval")
	if seconds < 0 {
		return 0, fmt.Errorf("%w: refresh interval must not be negative, got %v", ocr.ErrConfig, seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
