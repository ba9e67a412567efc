package flashsr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Handle is the loaded model and where it runs. It is created once per
// Manager, never modified afterwards and safe to share between goroutines.
type Handle struct {
	Runtime   Runtime
	Device    Device
	Precision Precision
	ModelPath string
}

// Manager builds the shared Handle on first use. Concurrent callers during
// a cold start wait for a single construction; later calls take a lock-free
// path. A failed construction is not cached.
type Manager struct {
	cfg     Config
	fetcher Fetcher
	loader  Loader
	logger  zerolog.Logger
	cb      Callbacks

	handle atomic.Pointer[Handle]
	initMu chan struct{} // held during construction; a channel so waiting honors ctx
}

// NewManager validates cfg and returns a Manager that has not loaded
// anything yet.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	o := buildOptions(cfg, opts)
	if o.loader == nil {
		return nil, errors.New("manager: loader is nil")
	}
	return &Manager{
		cfg:     cfg,
		fetcher: o.fetcher,
		loader:  o.loader,
		logger:  o.logger,
		cb:      o.cb,
		initMu:  make(chan struct{}, 1),
	}, nil
}

// CacheDir is the directory model artifacts are stored in.
func (m *Manager) CacheDir() string {
	return filepath.Join(m.cfg.ModelDir, "flashsr")
}

// Available reports whether a handle has been published.
func (m *Manager) Available() bool {
	return m.handle.Load() != nil
}

// Handle returns the shared handle, constructing it if needed. Construction
// errors are returned to the caller that attempted it and the next call
// starts over. ctx bounds waiting for the init lock and the download.
func (m *Manager) Handle(ctx context.Context) (*Handle, error) {
	if h := m.handle.Load(); h != nil {
		return h, nil
	}

	select {
	case m.initMu <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.initMu }()

	// another caller may have finished while we waited
	if h := m.handle.Load(); h != nil {
		return h, nil
	}

	m.logger.Info().Str("repo", m.cfg.RepoID).Msg("Initializing super-resolution model")
	h, err := m.build(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to initialize super-resolution model")
		return nil, err
	}
	m.handle.Store(h)

	m.logger.Info().
		Str("path", h.ModelPath).
		Str("device", string(h.Device)).
		Str("precision", h.Precision.String()).
		Msg("Super-resolution model ready")
	if m.cb.OnModelLoaded != nil {
		m.cb.OnModelLoaded(h)
	}
	return h, nil
}

func (m *Manager) build(ctx context.Context) (*Handle, error) {
	device := selectDevice(m.cfg.Device, m.logger)
	precision := precisionFor(device)

	filename := m.cfg.Filename
	if precision == PrecisionHalf {
		if m.cfg.HalfFilename != "" {
			filename = m.cfg.HalfFilename
		} else {
			m.logger.Warn().Msg("No fp16 model artifact configured, running gpu at full precision")
			precision = PrecisionFull
		}
	}

	modelPath, err := m.fetcher.Fetch(ctx, ArtifactRequest{
		RepoID:    m.cfg.RepoID,
		Revision:  m.cfg.Revision,
		Subfolder: m.cfg.Subfolder,
		Filename:  filename,
		LocalDir:  m.CacheDir(),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch model artifact: %w", err)
	}

	rt, err := m.loader(LoadSpec{
		ModelPath:   modelPath,
		Device:      device,
		Precision:   precision,
		LibraryPath: m.cfg.ORTLibraryPath,
	})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if rt == nil {
		return nil, errors.New("load model: loader returned no runtime")
	}

	return &Handle{
		Runtime:   rt,
		Device:    device,
		Precision: precision,
		ModelPath: modelPath,
	}, nil
}

// selectDevice maps the configured device onto the allow-list. Anything else
// runs on cpu with a warning.
func selectDevice(raw string, logger zerolog.Logger) Device {
	d := Device(strings.ToLower(strings.TrimSpace(raw)))
	switch d {
	case DeviceCPU, DeviceGPU, DeviceAccelerator:
		return d
	}
	logger.Warn().Str("device", raw).Msg("Unknown device, falling back to cpu")
	return DeviceCPU
}

// precisionFor returns half precision on gpu and full precision elsewhere.
func precisionFor(d Device) Precision {
	if d == DeviceGPU {
		return PrecisionHalf
	}
	return PrecisionFull
}
