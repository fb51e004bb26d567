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

package modelbundle

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/gomlx/go-huggingface/hub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency bounds simultaneous downloads.
const defaultConcurrency = 4

// ProgressHandler is called when a file finishes downloading.
type ProgressHandler func(downloaded, total int64, filename string)

// Client fetches bundles from the HuggingFace Hub. Downloads land in the hub
// cache, so repeated pulls are served locally.
type Client struct {
	token           string
	concurrency     int
	progressHandler ProgressHandler
	logger          *zap.Logger

	// newRepo is replaced in tests.
	newRepo func(repoID string) repository
}

// repository is the part of *hub.Repo the client uses.
type repository interface {
	IterFileNames() iter.Seq2[string, error]
	DownloadFile(fileName string) (string, error)
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithToken sets the HuggingFace API token for gated repositories.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithProgressHandler sets the progress handler for downloads.
func WithProgressHandler(h ProgressHandler) ClientOption {
	return func(c *Client) { c.progressHandler = h }
}

// WithConcurrency sets how many files are downloaded at once.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) { c.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client. The token defaults to $HF_TOKEN.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		token:       os.Getenv("HF_TOKEN"),
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
	c.newRepo = c.hubRepo
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) hubRepo(repoID string) repository {
	repo := hub.New(repoID)
	if c.token != "" {
		repo = repo.WithAuth(c.token)
	}
	return repo
}

// Pull downloads the four artifacts of repoID and returns their local paths.
func (c *Client) Pull(ctx context.Context, repoID string) (*Bundle, error) {
	var files []string
	for fileName, err := range c.newRepo(repoID).IterFileNames() {
		if err != nil {
			return nil, fmt.Errorf("listing files in %s: %w", repoID, err)
		}
		files = append(files, fileName)
	}

	selected, err := selectFiles(files)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", repoID, err)
	}

	var (
		mu    sync.Mutex
		paths = make(map[string]string, len(selected))
	)
	g, ctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for name, remote := range selected {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Each download gets its own handle; a repo caches its file
			// listing without locking.
			local, err := c.newRepo(repoID).DownloadFile(remote)
			if err != nil {
				return fmt.Errorf("downloading %s: %w", remote, err)
			}
			c.reportProgress(local, name)
			c.logger.Debug("Downloaded model file",
				zap.String("repo", repoID),
				zap.String("file", remote),
				zap.String("path", local))

			mu.Lock()
			paths[name] = local
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return newBundle(repoID, paths), nil
}

func (c *Client) reportProgress(local, name string) {
	if c.progressHandler == nil {
		return
	}
	var size int64
	if info, err := os.Stat(local); err == nil {
		size = info.Size()
	}
	c.progressHandler(size, size, name)
}

// selectFiles maps each required artifact to a repository path. A file at
// the repository root wins over one under onnx/; quantized and other
// variants never match because only exact base names are considered.
func selectFiles(files []string) (map[string]string, error) {
	selected := make(map[string]string, len(RequiredFiles))
	for _, name := range RequiredFiles {
		for _, dir := range searchDirs {
			want := path.Join(dir, name)
			for _, f := range files {
				if strings.TrimPrefix(f, "./") == want {
					selected[name] = f
					break
				}
			}
			if _, ok := selected[name]; ok {
				break
			}
		}
		if _, ok := selected[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}
	}
	return selected, nil
}
