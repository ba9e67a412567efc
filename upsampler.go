package flashsr

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable wraps the construction error when no model is loaded.
	ErrUnavailable = errors.New("super-resolution model unavailable")

	// ErrDisabled is reported when Config.Enabled is false.
	ErrDisabled = errors.New("super-resolution disabled")
)

// Result is the outcome of Upsample. When Enhanced is false, Audio is the
// caller's buffer as given (same slices, same rate) and Err says why.
type Result struct {
	Audio    AudioBuffer
	Enhanced bool
	Segments int // segments run through the model
	Err      error
}

// Upsampler is the entry point used by the speech pipeline. It is safe for
// concurrent use; all calls share one model handle.
type Upsampler struct {
	cfg     Config
	manager *Manager
	logger  zerolog.Logger
	cb      Callbacks
}

// New creates an upsampler. The model is not loaded until the first Upsample
// or Warmup call.
func New(cfg Config, cb Callbacks, opts ...Option) (*Upsampler, error) {
	all := make([]Option, 0, len(opts)+1)
	all = append(all, WithCallbacks(cb))
	all = append(all, opts...)
	m, err := NewManager(cfg, all...)
	if err != nil {
		return nil, err
	}
	return &Upsampler{cfg: cfg, manager: m, logger: m.logger, cb: m.cb}, nil
}

// Warmup loads the model now instead of on the first request.
func (u *Upsampler) Warmup(ctx context.Context) error {
	if !u.cfg.Enabled {
		return ErrDisabled
	}
	_, err := u.manager.Handle(ctx)
	return err
}

// IsAvailable reports whether the model is loaded.
func (u *Upsampler) IsAvailable() bool {
	return u.cfg.Enabled && u.manager.Available()
}

// Upsample converts in to 48 kHz. A zero SampleRate means 24 kHz. It never
// fails: if the model is missing or any step errors, the original buffer is
// returned with Enhanced set to false.
func (u *Upsampler) Upsample(ctx context.Context, in AudioBuffer) (res Result) {
	if !u.cfg.Enabled {
		return Result{Audio: in, Err: ErrDisabled}
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("upsample panic: %v", r)
			u.logger.Error().Err(err).Msg("Super-resolution upsampling failed")
			res = u.fallback(in, err)
		}
	}()

	h, err := u.manager.Handle(ctx)
	if err != nil {
		u.logger.Warn().Err(err).Msg("Super-resolution model not initialized, returning original audio")
		return u.fallback(in, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}

	src := in
	if src.SampleRate == 0 {
		src.SampleRate = DefaultInputRate
	}
	out, n, err := u.process(h.Runtime, src)
	if err != nil {
		u.logger.Error().Err(err).Msg("Super-resolution upsampling failed")
		return u.fallback(in, err)
	}

	u.logger.Debug().
		Int("input_rate", src.SampleRate).
		Int("input_samples", src.Len()).
		Int("output_samples", len(out)).
		Int("segments", n).
		Msg("Audio upsampled to 48kHz")

	return Result{Audio: FloatBuffer(out, ModelOutputRate), Enhanced: true, Segments: n}
}

func (u *Upsampler) fallback(in AudioBuffer, err error) Result {
	if u.cb.OnFallback != nil {
		u.cb.OnFallback(err)
	}
	return Result{Audio: in, Err: err}
}

// process runs every viable segment through the model and joins the outputs
// in input order. Boundaries are joined as is, without a cross-fade.
func (u *Upsampler) process(rt Runtime, in AudioBuffer) ([]float32, int, error) {
	if in.SampleRate < 0 {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidRate, in.SampleRate)
	}
	chunkSize := u.cfg.ChunkSeconds * in.SampleRate
	segs := planSegments(in.Len(), chunkSize, u.cfg.MinSegmentSamples)

	out := make([]float32, 0, in.Len()*ModelOutputRate/in.SampleRate)
	for i, s := range segs {
		y, err := upsampleSegment(rt, in.slice(s.offset, s.length))
		if err != nil {
			return nil, 0, fmt.Errorf("segment %d at %d: %w", i, s.offset, err)
		}
		out = append(out, y...)
		if u.cb.OnSegment != nil {
			u.cb.OnSegment(i, s.length, len(y))
		}
	}
	return out, len(segs), nil
}

// upsampleSegment is normalize, resample to 16 kHz, then one model pass.
func upsampleSegment(rt Runtime, seg AudioBuffer) ([]float32, error) {
	x, err := toModelInput(seg)
	if err != nil {
		return nil, err
	}
	return rt.Run(x)
}
