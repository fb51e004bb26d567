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

package ocr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSet(t *testing.T) {
	c := NewCache(time.Minute, 0)

	_, ok := c.Get(42)
	assert.False(t, ok)

	c.Set(42, "悪魔との戦い")
	text, ok := c.Get(42)
	require.True(t, ok)
	assert.Equal(t, "悪魔との戦い", text)
	assert.Equal(t, 1, c.Len())
}

func TestCacheCapacity(t *testing.T) {
	c := NewCache(time.Minute, 2)
	c.Set(1, "a")
	c.Set(2, "b")
	c.Set(3, "c")

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(1)
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get(3)
	assert.True(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10*time.Millisecond, 0)
	c.Set(7, "text")

	assert.Eventually(t, func() bool {
		_, ok := c.Get(7)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
