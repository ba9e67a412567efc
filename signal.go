package flashsr

import (
	"errors"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

var (
	// ErrUnsupportedFormat is returned for a SampleFormat other than float32 or PCM16.
	ErrUnsupportedFormat = errors.New("unsupported sample format")

	// ErrInvalidRate is returned for a zero or negative sample rate.
	ErrInvalidRate = errors.New("sample rate must be positive")
)

// pcm16Scale maps full-scale 16-bit PCM onto [-1, 1].
const pcm16Scale = 32767.0

// SampleFormat is the numeric representation of AudioBuffer samples.
type SampleFormat int

const (
	FormatFloat32 SampleFormat = iota // normalized to [-1, 1]
	FormatPCM16                       // signed 16-bit PCM
)

func (f SampleFormat) String() string {
	switch f {
	case FormatFloat32:
		return "float32"
	case FormatPCM16:
		return "pcm16"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
}

// AudioBuffer is mono audio tagged with its rate and format. Only the slice
// matching Format is read.
type AudioBuffer struct {
	SampleRate int
	Format     SampleFormat
	Float      []float32
	PCM16      []int16
}

// FloatBuffer wraps normalized float32 samples without copying.
func FloatBuffer(samples []float32, sampleRate int) AudioBuffer {
	return AudioBuffer{SampleRate: sampleRate, Format: FormatFloat32, Float: samples}
}

// PCM16Buffer wraps 16-bit PCM samples without copying.
func PCM16Buffer(samples []int16, sampleRate int) AudioBuffer {
	return AudioBuffer{SampleRate: sampleRate, Format: FormatPCM16, PCM16: samples}
}

// Len returns the number of samples.
func (b AudioBuffer) Len() int {
	if b.Format == FormatPCM16 {
		return len(b.PCM16)
	}
	return len(b.Float)
}

// Duration in seconds.
func (b AudioBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// slice returns a view of n samples starting at off. The view shares the
// backing array with b.
func (b AudioBuffer) slice(off, n int) AudioBuffer {
	out := AudioBuffer{SampleRate: b.SampleRate, Format: b.Format}
	if b.Format == FormatPCM16 {
		out.PCM16 = b.PCM16[off : off+n]
	} else {
		out.Float = b.Float[off : off+n]
	}
	return out
}

// Normalize converts b to float32. PCM16 is divided by 32767; float input is
// assumed normalized already and returned as is.
func Normalize(b AudioBuffer) (AudioBuffer, error) {
	switch b.Format {
	case FormatFloat32:
		return b, nil
	case FormatPCM16:
		out := make([]float32, len(b.PCM16))
		for i, s := range b.PCM16 {
			out[i] = float32(s) / pcm16Scale
		}
		return FloatBuffer(out, b.SampleRate), nil
	default:
		return AudioBuffer{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, b.Format)
	}
}

// Resample converts mono float32 samples from one rate to another with a
// band-limited polyphase filter. Equal rates return the input slice. The
// output only depends on the input, so repeated calls are bit-identical.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, fromRate, toRate)
	}
	if fromRate == toRate {
		return samples, nil
	}
	if len(samples) == 0 {
		return []float32{}, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush: %w", err)
	}
	out = append(out, tail...)

	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}

// toModelInput prepares one segment for the runtime: float32, mono, 16 kHz.
func toModelInput(b AudioBuffer) ([]float32, error) {
	norm, err := Normalize(b)
	if err != nil {
		return nil, err
	}
	return Resample(norm.Float, norm.SampleRate, ModelInputRate)
}
