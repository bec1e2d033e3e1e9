package classifier

import (
	"errors"
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Model runs the classifier on one preprocessed input and returns P(Healthy).
type Model interface {
	Run(input []float32) (float32, error)
	Destroy()
}

// Opener turns an artifact on disk into a runnable Model.
type Opener func(modelPath string) (Model, error)

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

var ErrInputSize = errors.New("unexpected input size")

// SessionOptions names the graph endpoints of the exported model.
type SessionOptions struct {
	InputName  string
	OutputName string
	Threads    int
}

// InitRuntime loads the onnxruntime shared library and prepares the environment.
func InitRuntime(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx environment: %w", err)
	}
	return nil
}

func DestroyRuntime() error {
	return ort.DestroyEnvironment()
}

// ModelSession is an onnxruntime session with its pre-allocated tensors.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Run(input []float32) (float32, error) {
	dst := m.Input.GetData()
	if len(input) != len(dst) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrInputSize, len(input), len(dst))
	}
	copy(dst, input)

	if err := m.Session.Run(); err != nil {
		return 0, &ProcessingError{Message: "model inference", Cause: err}
	}

	out := m.Output.GetData()
	if len(out) == 0 {
		return 0, &ProcessingError{Message: "model returned no output"}
	}
	return out[0], nil
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// OrtOpener returns an Opener backed by onnxruntime. InitRuntime must have
// been called first.
func OrtOpener(opts SessionOptions) Opener {
	return func(modelPath string) (Model, error) {
		session, err := initSession(modelPath, opts)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

func initSession(modelPath string, opts SessionOptions) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options.SetIntraOpNumThreads(threads)
	options.SetInterOpNumThreads(threads)

	inputShape := ort.NewShape(1, InputHeight, InputWidth, InputChannels)
	outputShape := ort.NewShape(1, 1)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}
