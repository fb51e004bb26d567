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
	"sync"

	mlbackends "github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"

	// Pure Go engine, no CGO.
	_ "github.com/gomlx/gomlx/backends/simplego"
)

// simplego registers itself under this name in the GoMLX engine registry.
const goEngineName = "go"

func init() {
	RegisterBackend(&gomlxBackend{})
}

// gomlxBackend runs ONNX graphs by converting them to GoMLX computation
// graphs executed on the simplego engine. Slower than ONNX Runtime but needs
// nothing beyond the Go toolchain.
type gomlxBackend struct {
	once      sync.Once
	engine    mlbackends.Backend
	engineErr error
}

func (b *gomlxBackend) Type() BackendType {
	return BackendGo
}

func (b *gomlxBackend) Name() string {
	return "GoMLX (Go)"
}

func (b *gomlxBackend) Available() bool {
	_, err := b.getEngine()
	return err == nil
}

func (b *gomlxBackend) Priority() int {
	return 100
}

func (b *gomlxBackend) SessionFactory() SessionFactory {
	return &gomlxSessionFactory{backend: b}
}

// getEngine creates the shared engine on first use.
func (b *gomlxBackend) getEngine() (mlbackends.Backend, error) {
	b.once.Do(func() {
		b.engine, b.engineErr = safeNewEngine(goEngineName)
	})
	return b.engine, b.engineErr
}

// safeNewEngine creates a GoMLX engine, converting initialization panics to errors.
func safeNewEngine(name string) (engine mlbackends.Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			engine = nil
			err = fmt.Errorf("engine %q panicked during initialization: %v", name, r)
		}
	}()
	return mlbackends.NewWithConfig(name)
}

// gomlxSessionFactory creates sessions from ONNX model files using GoMLX.
type gomlxSessionFactory struct {
	backend *gomlxBackend
}

func (f *gomlxSessionFactory) CreateSession(modelPath string, opts ...SessionOption) (Session, error) {
	// simplego manages its own parallelism; thread and optimization options
	// only apply to ONNX Runtime.
	_ = ApplySessionOptions(opts...)

	engine, err := f.backend.getEngine()
	if err != nil {
		return nil, fmt.Errorf("getting GoMLX engine: %w", err)
	}

	om, err := onnx.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading ONNX model %s: %w", modelPath, err)
	}

	ctx := mlctx.New()
	if err := om.VariablesToContext(ctx); err != nil {
		return nil, fmt.Errorf("loading ONNX variables: %w", err)
	}

	inputNames, inputShapes := om.Inputs()
	outputNames, outputShapes := om.Outputs()

	s := &gomlxSession{
		model:       om,
		ctx:         ctx,
		engine:      engine,
		inputNames:  inputNames,
		outputNames: outputNames,
		inputInfo:   make([]TensorInfo, len(inputNames)),
		outputInfo:  make([]TensorInfo, len(outputNames)),
	}
	for i, name := range inputNames {
		s.inputInfo[i] = TensorInfo{
			Name:     name,
			Shape:    toInt64Dims(inputShapes[i].Dimensions),
			DataType: gomlxDataType(inputShapes[i].DType),
		}
	}
	for i, name := range outputNames {
		s.outputInfo[i] = TensorInfo{
			Name:     name,
			Shape:    toInt64Dims(outputShapes[i].Dimensions),
			DataType: gomlxDataType(outputShapes[i].DType),
		}
	}
	return s, nil
}

func (f *gomlxSessionFactory) Backend() BackendType {
	return BackendGo
}

type gomlxSession struct {
	mu          sync.Mutex
	model       *onnx.Model
	ctx         *mlctx.Context
	engine      mlbackends.Backend
	inputNames  []string
	outputNames []string
	inputInfo   []TensorInfo
	outputInfo  []TensorInfo
}

func (s *gomlxSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model == nil {
		return nil, fmt.Errorf("session is closed")
	}

	// Arguments are passed positionally in the order the graph declares them.
	args := make([]any, len(s.inputNames))
	for i, name := range s.inputNames {
		input, ok := FindTensor(inputs, name)
		if !ok {
			return nil, fmt.Errorf("missing input tensor: %s", name)
		}
		t, err := toGoMLXTensor(input)
		if err != nil {
			return nil, fmt.Errorf("converting input tensor %s: %w", name, err)
		}
		args[i] = t
	}

	graphFn := func(ctx *mlctx.Context, nodes []*graph.Node) []*graph.Node {
		byName := make(map[string]*graph.Node, len(s.inputNames))
		for i, name := range s.inputNames {
			byName[name] = nodes[i]
		}
		return s.model.CallGraph(ctx.Reuse(), nodes[0].Graph(), byName)
	}

	results, err := mlctx.ExecOnceN(s.engine, s.ctx, graphFn, args...)
	if err != nil {
		return nil, fmt.Errorf("executing ONNX graph: %w", err)
	}

	outputs := make([]NamedTensor, len(results))
	for i, result := range results {
		name := ""
		if i < len(s.outputNames) {
			name = s.outputNames[i]
		}
		out, err := fromGoMLXTensor(result, name)
		if err != nil {
			return nil, fmt.Errorf("converting output tensor %q: %w", name, err)
		}
		outputs[i] = out
	}
	return outputs, nil
}

func (s *gomlxSession) InputInfo() []TensorInfo {
	return s.inputInfo
}

func (s *gomlxSession) OutputInfo() []TensorInfo {
	return s.outputInfo
}

func (s *gomlxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = nil
	s.ctx = nil
	return nil
}

func toInt64Dims(dims []int) []int64 {
	result := make([]int64, len(dims))
	for i, d := range dims {
		result[i] = int64(d)
	}
	return result
}

func gomlxDataType(dt dtypes.DType) DataType {
	switch dt {
	case dtypes.Int64:
		return DataTypeInt64
	case dtypes.Int32, dtypes.Int16, dtypes.Int8:
		return DataTypeInt32
	case dtypes.Bool:
		return DataTypeBool
	default:
		return DataTypeFloat32
	}
}

// toGoMLXTensor converts a NamedTensor to a GoMLX tensor. int32 data is
// widened to int64, which is what exported token-id inputs expect.
func toGoMLXTensor(nt NamedTensor) (*tensors.Tensor, error) {
	dims := make([]int, len(nt.Shape))
	for i, d := range nt.Shape {
		dims[i] = int(d)
	}
	if n := nt.NumElements(); n != int64(dataLen(nt.Data)) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", nt.Shape, n, dataLen(nt.Data))
	}

	switch data := nt.Data.(type) {
	case []float32:
		return tensors.FromFlatDataAndDimensions(data, dims...), nil
	case []int64:
		return tensors.FromFlatDataAndDimensions(data, dims...), nil
	case []int32:
		wide := make([]int64, len(data))
		for i, v := range data {
			wide[i] = int64(v)
		}
		return tensors.FromFlatDataAndDimensions(wide, dims...), nil
	default:
		return nil, fmt.Errorf("unsupported tensor data type: %T", data)
	}
}

func fromGoMLXTensor(t *tensors.Tensor, name string) (NamedTensor, error) {
	shape := t.Shape()
	out := NamedTensor{Name: name, Shape: toInt64Dims(shape.Dimensions)}

	val := t.Value()
	switch shape.DType {
	case dtypes.Float32:
		out.Data = flatten[float32](val)
	case dtypes.Float64:
		wide := flatten[float64](val)
		narrow := make([]float32, len(wide))
		for i, v := range wide {
			narrow[i] = float32(v)
		}
		out.Data = narrow
	case dtypes.Int64:
		out.Data = flatten[int64](val)
	case dtypes.Int32:
		out.Data = flatten[int32](val)
	default:
		return NamedTensor{}, fmt.Errorf("unsupported output dtype %s", shape.DType)
	}
	if out.Data == nil && out.NumElements() > 0 {
		return NamedTensor{}, fmt.Errorf("unexpected value layout %T", val)
	}
	return out, nil
}

// flatten turns the nested slices returned by Tensor.Value into a flat,
// row-major slice. Scalars and ranks above four are not produced by the
// graphs this package runs.
func flatten[T float32 | float64 | int64 | int32](val any) []T {
	switch v := val.(type) {
	case []T:
		return v
	case [][]T:
		var result []T
		for _, row := range v {
			result = append(result, row...)
		}
		return result
	case [][][]T:
		var result []T
		for _, m := range v {
			for _, row := range m {
				result = append(result, row...)
			}
		}
		return result
	case [][][][]T:
		var result []T
		for _, c := range v {
			for _, m := range c {
				for _, row := range m {
					result = append(result, row...)
				}
			}
		}
		return result
	default:
		return nil
	}
}

func dataLen(data any) int {
	switch d := data.(type) {
	case []float32:
		return len(d)
	case []int64:
		return len(d)
	case []int32:
		return len(d)
	default:
		return -1
	}
}
