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

package backends

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BackendType identifies an inference runtime.
type BackendType string

const (
	// BackendONNX uses ONNX Runtime through its C API. Requires the onnx and
	// ORT build tags plus libonnxruntime at run time.
	BackendONNX BackendType = "onnx"

	// BackendGo uses GoMLX with the pure-Go simplego engine. Always compiled in.
	BackendGo BackendType = "go"
)

// Backend represents an inference backend that can create sessions.
// Backends self-register via init() functions in their respective files.
type Backend interface {
	// Type returns the backend type identifier
	Type() BackendType

	// Name returns a human-readable name
	Name() string

	// Available returns true if this backend can be used in the current environment.
	Available() bool

	// Priority returns the default priority (lower = higher priority).
	Priority() int

	// SessionFactory returns the factory used to open ONNX graphs.
	SessionFactory() SessionFactory
}

var (
	registry   = make(map[BackendType]Backend)
	registryMu sync.RWMutex

	// ONNX Runtime is preferred when it was compiled in and its library loads.
	defaultPriority = []BackendType{BackendONNX, BackendGo}
	configPriority  []BackendType
	priorityMu      sync.RWMutex
)

// RegisterBackend registers a backend. Called by backend implementations in init().
// Later registrations for the same type overwrite earlier ones.
func RegisterBackend(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Type()] = b
}

// GetBackend returns the backend for the given type, if registered.
func GetBackend(t BackendType) (Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[t]
	return b, ok
}

// ListRegistered returns all registered backends sorted by priority.
func ListRegistered() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	list := make([]Backend, 0, len(registry))
	for _, b := range registry {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Priority() < list[j].Priority()
	})
	return list
}

// SetPriority sets the backend selection order used by GetDefaultBackend.
func SetPriority(order []BackendType) {
	priorityMu.Lock()
	defer priorityMu.Unlock()
	configPriority = make([]BackendType, len(order))
	copy(configPriority, order)
}

// GetPriority returns the configured priority if set, otherwise the default.
func GetPriority() []BackendType {
	priorityMu.RLock()
	defer priorityMu.RUnlock()
	src := defaultPriority
	if len(configPriority) > 0 {
		src = configPriority
	}
	result := make([]BackendType, len(src))
	copy(result, src)
	return result
}

// GetDefaultBackend returns the first available backend according to priority order.
// Returns nil if no backends are available.
func GetDefaultBackend() Backend {
	priority := GetPriority()

	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, t := range priority {
		if b, ok := registry[t]; ok && b.Available() {
			return b
		}
	}
	for _, b := range registry {
		if b.Available() {
			return b
		}
	}
	return nil
}

// GetBackendWithFallback returns the preferred backend when it is available,
// otherwise the default one.
func GetBackendWithFallback(preferred BackendType) (Backend, BackendType, error) {
	if b, ok := GetBackend(preferred); ok && b.Available() {
		return b, preferred, nil
	}

	b := GetDefaultBackend()
	if b == nil {
		return nil, "", fmt.Errorf("no available backends (preferred: %s)", preferred)
	}
	return b, b.Type(), nil
}

// ParseBackendType parses a string into BackendType.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "onnx", "ort":
		return BackendONNX, nil
	case "go", "gomlx":
		return BackendGo, nil
	default:
		return "", fmt.Errorf("unknown backend type: %q (valid: %s)", s, strings.Join(BackendTypeStrings(), ", "))
	}
}

// ParsePriority parses backend names in selection order, as given by the
// backend_priority setting.
func ParsePriority(names []string) ([]BackendType, error) {
	order := make([]BackendType, 0, len(names))
	seen := make(map[BackendType]bool, len(names))
	for _, name := range names {
		t, err := ParseBackendType(name)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		order = append(order, t)
	}
	return order, nil
}

// BackendTypeStrings returns valid backend type strings for documentation/validation.
func BackendTypeStrings() []string {
	return []string{string(BackendONNX), string(BackendGo)}
}
