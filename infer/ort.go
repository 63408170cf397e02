//go:build cgo

package infer

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/latentmesh/tensor"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

var envLock sync.Mutex
var envRefs int

// A Runtime holds a reference to the process-wide ONNX
// Runtime environment. The environment is torn down when
// the last Runtime is closed.
type Runtime struct {
	lock   sync.Mutex
	closed bool
}

// OpenRuntime loads the ONNX Runtime shared library and
// initializes the environment. An empty libraryPath uses
// the platform default.
func OpenRuntime(libraryPath string) (*Runtime, error) {
	envLock.Lock()
	defer envLock.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrapf(ErrRuntimeUnavailable, "initialize environment: %v", err)
		}
		klog.V(1).Infof("onnx runtime initialized (%s)", ort.GetVersion())
	}
	envRefs++
	return &Runtime{}, nil
}

// Close releases the runtime. Closing twice is a no-op.
func (r *Runtime) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	envLock.Lock()
	defer envLock.Unlock()
	envRefs--
	if envRefs == 0 {
		if err := ort.DestroyEnvironment(); err != nil {
			return errors.Wrap(err, "destroy onnx environment")
		}
	}
	return nil
}

// LoadDecoder opens a single-input decoder model.
func (r *Runtime) LoadDecoder(modelPath string) (*DecoderSession, error) {
	s, err := r.open(modelPath)
	if err != nil {
		return nil, err
	}
	if len(s.inputs) != 1 {
		s.Close()
		return nil, errors.Errorf("decoder %s: expected 1 input, got %v", modelPath, s.inputs)
	}
	return &DecoderSession{session: s}, nil
}

// LoadInterpolator opens an interpolation model with the
// inputs embed_A, embed_B and d_codes.
func (r *Runtime) LoadInterpolator(modelPath string) (*InterpolatorSession, error) {
	s, err := r.open(modelPath)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{InputEmbedA, InputEmbedB, InputCodes} {
		if !contains(s.inputs, name) {
			s.Close()
			return nil, errors.Errorf("interpolator %s: missing input %q (have %v)",
				modelPath, name, s.inputs)
		}
	}
	return &InterpolatorSession{session: s}, nil
}

func (r *Runtime) open(modelPath string) (*session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil, errors.Wrap(ErrRuntimeUnavailable, "runtime is closed")
	}
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect model %s", modelPath)
	}
	if len(outputInfo) == 0 {
		return nil, errors.Wrapf(ErrBadOutput, "model %s has no outputs", modelPath)
	}
	s := &session{path: modelPath}
	for _, info := range inputInfo {
		s.inputs = append(s.inputs, info.Name)
	}
	for _, info := range outputInfo {
		s.outputs = append(s.outputs, info.Name)
	}
	s.session, err = ort.NewDynamicAdvancedSession(modelPath, s.inputs, s.outputs, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "create session for %s", modelPath)
	}
	klog.V(1).Infof("loaded model %s: inputs=%v outputs=%v", modelPath, s.inputs, s.outputs)
	return s, nil
}

type session struct {
	path    string
	inputs  []string
	outputs []string
	session *ort.DynamicAdvancedSession
}

// run feeds named float32 inputs to the model and returns a
// copy of its first output.
func (s *session) run(named map[string]*ort.Tensor[float32]) ([]float32, tensor.Shape, error) {
	inputs := make([]ort.Value, len(s.inputs))
	for i, name := range s.inputs {
		t, ok := named[name]
		if !ok {
			return nil, nil, errors.Errorf("%s: no value for input %q", s.path, name)
		}
		inputs[i] = t
	}
	outputs := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()
	if err := s.session.Run(inputs, outputs); err != nil {
		return nil, nil, errors.Wrapf(err, "run %s", s.path)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, errors.Wrapf(ErrBadOutput, "%s: first output is %T, not float32 tensor",
			s.path, outputs[0])
	}
	ortShape := out.GetShape()
	shape := make(tensor.Shape, len(ortShape))
	for i, d := range ortShape {
		shape[i] = int(d)
	}
	data := append([]float32(nil), out.GetData()...)
	return data, shape, nil
}

func (s *session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

func newTensor(data []float32, shape tensor.Shape) (*ort.Tensor[float32], error) {
	if err := shape.Check(data); err != nil {
		return nil, err
	}
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	t, err := ort.NewTensor(ort.NewShape(dims...), data)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	return t, nil
}

// A DecoderSession runs a decoder model.
type DecoderSession struct {
	session *session
}

func (d *DecoderSession) Decode(input []float32, shape tensor.Shape) ([]float32, tensor.Shape, error) {
	t, err := newTensor(input, shape)
	if err != nil {
		return nil, nil, err
	}
	defer t.Destroy()
	return d.session.run(map[string]*ort.Tensor[float32]{d.session.inputs[0]: t})
}

func (d *DecoderSession) Close() error {
	return d.session.Close()
}

// An InterpolatorSession runs an interpolation model.
type InterpolatorSession struct {
	session *session
}

func (i *InterpolatorSession) Interpolate(a, b []float32, embShape tensor.Shape,
	codes []float32) ([]float32, tensor.Shape, error) {
	inputs := map[string]*ort.Tensor[float32]{}
	defer func() {
		for _, t := range inputs {
			t.Destroy()
		}
	}()
	for _, in := range []struct {
		name  string
		data  []float32
		shape tensor.Shape
	}{
		{InputEmbedA, a, embShape},
		{InputEmbedB, b, embShape},
		{InputCodes, codes, CodeShape},
	} {
		t, err := newTensor(in.data, in.shape)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "input %s", in.name)
		}
		inputs[in.name] = t
	}
	return i.session.run(inputs)
}

func (i *InterpolatorSession) Close() error {
	return i.session.Close()
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
