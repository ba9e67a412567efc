package flashsr

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrEmptyInput is returned by Run for a zero-length input.
var ErrEmptyInput = errors.New("runtime input is empty")

const (
	modelInputName  = "audio_values"
	modelOutputName = "reconstruction"

	upsampleFactor = ModelOutputRate / ModelInputRate
)

// Precision is the numeric width the model runs at.
type Precision int

const (
	PrecisionFull Precision = iota // float32
	PrecisionHalf                  // float16
)

func (p Precision) String() string {
	if p == PrecisionHalf {
		return "fp16"
	}
	return "fp32"
}

// Runtime runs one forward pass of the super-resolution model. Run takes
// mono float32 samples at 16 kHz and returns mono float32 samples at 48 kHz.
// Implementations must be safe for concurrent use and must not modify or
// keep the input slice.
type Runtime interface {
	Run(mono16k []float32) ([]float32, error)
}

// LoadSpec describes the artifact and placement a Loader should build.
type LoadSpec struct {
	ModelPath   string
	Device      Device
	Precision   Precision
	LibraryPath string // onnxruntime shared library; empty means discover
}

// Loader builds a Runtime from a local model artifact.
type Loader func(ls LoadSpec) (Runtime, error)

// onnxRuntime is the Runtime backed by an onnxruntime session. Inputs have
// shape (1, n) and outputs (1, m); the batch axis is added and removed here.
type onnxRuntime struct {
	session   *ort.DynamicAdvancedSession
	precision Precision
}

// LoadONNX is the default Loader. It initializes the onnxruntime environment
// on first use, picks the execution provider for the device and opens a
// session on the model file.
func LoadONNX(ls LoadSpec) (Runtime, error) {
	if err := initORT(ls.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", err)
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if err := appendProvider(opts, ls.Device); err != nil {
		return nil, fmt.Errorf("execution provider %s: %w", ls.Device, err)
	}

	sess, err := ort.NewDynamicAdvancedSession(ls.ModelPath,
		[]string{modelInputName},
		[]string{modelOutputName},
		opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &onnxRuntime{session: sess, precision: ls.Precision}, nil
}

func appendProvider(opts *ort.SessionOptions, device Device) error {
	switch device {
	case DeviceGPU:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
			return err
		}
		return opts.AppendExecutionProviderCUDA(cuda)
	case DeviceAccelerator:
		return opts.AppendExecutionProviderCoreML(0)
	default:
		// cpu provider is always registered
		return nil
	}
}

// Run executes one forward pass. Tensors are created and destroyed per call,
// so concurrent calls share only the session.
func (r *onnxRuntime) Run(mono16k []float32) ([]float32, error) {
	if len(mono16k) == 0 {
		return nil, ErrEmptyInput
	}
	shape := ort.NewShape(1, int64(len(mono16k)))

	if r.precision == PrecisionHalf {
		return r.runHalf(shape, mono16k)
	}

	data := make([]float32, len(mono16k))
	copy(data, mono16k)
	input, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := r.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}
	out := outputs[0]
	defer out.Destroy()

	if err := checkBatchShape(out.GetShape()); err != nil {
		return nil, err
	}
	t, ok := out.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", out)
	}
	res := make([]float32, len(t.GetData()))
	copy(res, t.GetData())
	return res, nil
}

// runHalf runs the fp16 artifact. The output tensor is allocated here at
// the model's fixed 3x length: onnxruntime_go copies auto-allocated float16
// outputs one byte per element, which loses half the data.
func (r *onnxRuntime) runHalf(shape ort.Shape, mono16k []float32) ([]float32, error) {
	input, err := ort.NewCustomDataTensor(shape, encodeHalf(mono16k), ort.TensorElementDataTypeFloat16)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	outShape := ort.NewShape(1, int64(len(mono16k))*upsampleFactor)
	output, err := ort.NewCustomDataTensor(outShape,
		make([]byte, 2*outShape.FlattenedSize()), ort.TensorElementDataTypeFloat16)
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer output.Destroy()

	if err := r.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}
	return decodeHalfTensor(output.GetShape(), output.GetData())
}

// decodeHalfTensor decodes float16 tensor data after checking that it holds
// two bytes for every element of shape.
func decodeHalfTensor(shape ort.Shape, data []byte) ([]float32, error) {
	if err := checkBatchShape(shape); err != nil {
		return nil, err
	}
	if want := 2 * shape.FlattenedSize(); int64(len(data)) != want {
		return nil, fmt.Errorf("float16 output has %d bytes, shape %v needs %d", len(data), shape, want)
	}
	return decodeHalf(data)
}

// checkBatchShape accepts (1, n) and (n,) outputs.
func checkBatchShape(shape ort.Shape) error {
	switch len(shape) {
	case 1:
		return nil
	case 2:
		if shape[0] != 1 {
			return fmt.Errorf("output batch size %d, want 1", shape[0])
		}
		return nil
	default:
		return fmt.Errorf("output rank %d, want 2", len(shape))
	}
}
