package flashsr

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Option customizes a Manager or Upsampler.
type Option func(*options)

type options struct {
	fetcher Fetcher
	loader  Loader
	logger  zerolog.Logger
	cb      Callbacks
}

func buildOptions(cfg Config, opts []Option) options {
	o := options{
		loader: LoadONNX,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		o.fetcher = NewHubFetcher(cfg.HubURL, o.logger)
	}
	return o
}

// WithFetcher replaces the hub downloader.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithLoader replaces the onnxruntime loader.
func WithLoader(l Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithLogger sets the logger. The default is the zerolog global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCallbacks sets observation hooks.
func WithCallbacks(cb Callbacks) Option {
	return func(o *options) { o.cb = cb }
}
