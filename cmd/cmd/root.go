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
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set by main from the release ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mangaocr",
	Short: "Japanese text recognition for manga",
	Long: `Recognize Japanese text in manga panels and speech bubbles.

Without a subcommand mangaocr watches the clipboard: copy a screenshot of a
text region and the recognized text is printed and copied back.

Examples:
  # Watch the clipboard
  mangaocr

  # Recognize a single image
  mangaocr file bubble.png

  # Use a local model directory with ONNX Runtime
  mangaocr --model ./manga-ocr-onnx --backend onnx file bubble.png

  # Download the default model ahead of time
  mangaocr pull`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runClipboard,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mangaocr.yaml)")

	flags.String("model", "", "HuggingFace repository id or local model directory (default l0wgear/manga-ocr-2025-onnx)")
	mustBindPFlag("model", flags.Lookup("model"))

	flags.String("backend", "", "inference backend (go, onnx); defaults to the best available")
	mustBindPFlag("backend", flags.Lookup("backend"))

	flags.StringSlice("backend-priority", nil, "backend selection order when --backend is unset (default onnx,go)")
	mustBindPFlag("backend_priority", flags.Lookup("backend-priority"))

	flags.Int("threads", 0, "ONNX Runtime intra-op threads per session (0 = backend default; the go backend ignores it)")
	mustBindPFlag("threads", flags.Lookup("threads"))

	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	mustBindPFlag("log.level", flags.Lookup("log-level"))

	flags.String("log-style", "terminal", "log output style (terminal, json, logfmt, noop)")
	mustBindPFlag("log.style", flags.Lookup("log-style"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mangaocr")
	}

	viper.SetEnvPrefix("MANGAOCR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
