package flashsr

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeRuntime triples every sample, standing in for a 16k -> 48k model.
type fakeRuntime struct {
	mu     sync.Mutex
	inputs [][]float32
	err    error
	panics bool
}

func (f *fakeRuntime) Run(x []float32) ([]float32, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, append([]float32(nil), x...))
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float32, 3*len(x))
	for i, v := range x {
		out[3*i], out[3*i+1], out[3*i+2] = v, v, v
	}
	return out, nil
}

func (f *fakeRuntime) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeFetcher struct {
	calls atomic.Int32
	err   error
	last  atomic.Pointer[ArtifactRequest]
}

func (f *fakeFetcher) Fetch(_ context.Context, req ArtifactRequest) (string, error) {
	f.calls.Add(1)
	f.last.Store(&req)
	if f.err != nil {
		return "", f.err
	}
	return req.LocalPath(), nil
}

var errLoad = errors.New("load failed")

func staticLoader(rt Runtime) Loader {
	return func(LoadSpec) (Runtime, error) { return rt, nil }
}

func failingLoader(LoadSpec) (Runtime, error) {
	return nil, errLoad
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ModelDir = t.TempDir()
	return cfg
}

func newTestUpsampler(t *testing.T, cfg Config, loader Loader, cb Callbacks) *Upsampler {
	t.Helper()
	up, err := New(cfg, cb,
		WithFetcher(&fakeFetcher{}),
		WithLoader(loader),
		WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return up
}

func sine(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}
