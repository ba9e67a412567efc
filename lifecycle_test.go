package flashsr

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerConcurrentColdStart(t *testing.T) {
	fetcher := &fakeFetcher{}
	var loads atomic.Int32
	loader := func(LoadSpec) (Runtime, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &fakeRuntime{}, nil
	}
	m, err := NewManager(testConfig(t), WithFetcher(fetcher), WithLoader(loader), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	const n = 32
	handles := make([]*Handle, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i], errs[i] = m.Handle(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load(), "one artifact fetch")
	assert.Equal(t, int32(1), loads.Load(), "one model load")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
	assert.True(t, m.Available())
}

func TestManagerFailureNotCached(t *testing.T) {
	var attempts atomic.Int32
	rt := &fakeRuntime{}
	loader := func(LoadSpec) (Runtime, error) {
		if attempts.Add(1) == 1 {
			return nil, errLoad
		}
		return rt, nil
	}
	fetcher := &fakeFetcher{}
	m, err := NewManager(testConfig(t), WithFetcher(fetcher), WithLoader(loader), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	h, err := m.Handle(context.Background())
	assert.ErrorIs(t, err, errLoad)
	assert.Nil(t, h)
	assert.False(t, m.Available())

	h, err = m.Handle(context.Background())
	require.NoError(t, err)
	assert.Same(t, rt, h.Runtime)
	assert.Equal(t, int32(2), fetcher.calls.Load(), "retry starts from the fetch")
}

func TestManagerFetchErrorPropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: assert.AnError}
	var loads atomic.Int32
	loader := func(LoadSpec) (Runtime, error) {
		loads.Add(1)
		return &fakeRuntime{}, nil
	}
	m, err := NewManager(testConfig(t), WithFetcher(fetcher), WithLoader(loader), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	_, err = m.Handle(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, loads.Load())
	assert.False(t, m.Available())
}

func TestManagerNilRuntime(t *testing.T) {
	m, err := NewManager(testConfig(t), WithFetcher(&fakeFetcher{}), WithLoader(staticLoader(nil)), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	_, err = m.Handle(context.Background())
	assert.Error(t, err)
	assert.False(t, m.Available())
}

func TestManagerArtifactRequest(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &fakeFetcher{}
	var got LoadSpec
	loader := func(s LoadSpec) (Runtime, error) {
		got = s
		return &fakeRuntime{}, nil
	}
	var loaded *Handle
	m, err := NewManager(cfg,
		WithFetcher(fetcher),
		WithLoader(loader),
		WithLogger(zerolog.Nop()),
		WithCallbacks(Callbacks{OnModelLoaded: func(h *Handle) { loaded = h }}))
	require.NoError(t, err)

	h, err := m.Handle(context.Background())
	require.NoError(t, err)

	req := fetcher.last.Load()
	require.NotNil(t, req)
	assert.Equal(t, "YatharthS/FlashSR", req.RepoID)
	assert.Equal(t, "onnx", req.Subfolder)
	assert.Equal(t, "model.onnx", req.Filename)
	assert.Equal(t, filepath.Join(cfg.ModelDir, "flashsr"), req.LocalDir)

	want := filepath.Join(cfg.ModelDir, "flashsr", "onnx", "model.onnx")
	assert.Equal(t, want, got.ModelPath)
	assert.Equal(t, want, h.ModelPath)
	assert.Equal(t, DeviceCPU, h.Device)
	assert.Equal(t, PrecisionFull, h.Precision)
	assert.Same(t, h, loaded)
}

func TestManagerDevicePrecision(t *testing.T) {
	tests := []struct {
		name          string
		device        string
		halfFile      string
		wantDevice    Device
		wantPrecision Precision
		wantFile      string
	}{
		{"cpu", "cpu", "", DeviceCPU, PrecisionFull, "model.onnx"},
		{"accelerator", "accelerator", "model_fp16.onnx", DeviceAccelerator, PrecisionFull, "model.onnx"},
		{"gpu half", "gpu", "model_fp16.onnx", DeviceGPU, PrecisionHalf, "model_fp16.onnx"},
		{"gpu without fp16 artifact", "gpu", "", DeviceGPU, PrecisionFull, "model.onnx"},
		{"case insensitive", " GPU ", "model_fp16.onnx", DeviceGPU, PrecisionHalf, "model_fp16.onnx"},
		{"unknown falls back", "tpu", "model_fp16.onnx", DeviceCPU, PrecisionFull, "model.onnx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Device = tt.device
			cfg.HalfFilename = tt.halfFile
			fetcher := &fakeFetcher{}
			var got LoadSpec
			loader := func(s LoadSpec) (Runtime, error) {
				got = s
				return &fakeRuntime{}, nil
			}
			m, err := NewManager(cfg, WithFetcher(fetcher), WithLoader(loader), WithLogger(zerolog.Nop()))
			require.NoError(t, err)

			h, err := m.Handle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantDevice, h.Device)
			assert.Equal(t, tt.wantPrecision, h.Precision)
			assert.Equal(t, tt.wantDevice, got.Device)
			assert.Equal(t, tt.wantPrecision, got.Precision)
			assert.Equal(t, tt.wantFile, fetcher.last.Load().Filename)
		})
	}
}

func TestSelectDeviceWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	assert.Equal(t, DeviceCPU, selectDevice("quantum", logger))
	assert.Contains(t, buf.String(), "Unknown device")
	assert.Contains(t, buf.String(), `"level":"warn"`)

	buf.Reset()
	assert.Equal(t, DeviceAccelerator, selectDevice("accelerator", logger))
	assert.Empty(t, buf.String())
}

func TestManagerWaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	loader := func(LoadSpec) (Runtime, error) {
		<-release
		return &fakeRuntime{}, nil
	}
	m, err := NewManager(testConfig(t), WithFetcher(&fakeFetcher{}), WithLoader(loader), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := m.Handle(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return len(m.initMu) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Handle(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-first)
	assert.True(t, m.Available())
}

func TestNewManagerValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChunkSeconds = 0
	_, err := NewManager(cfg)
	assert.Error(t, err)
}
