package flashsr

// Callbacks are invoked synchronously from the goroutine that triggered the
// event. All fields are optional (nil is allowed).
type Callbacks struct {
	// OnModelLoaded runs once, after the shared handle is published.
	OnModelLoaded func(h *Handle)

	// OnSegment reports each processed segment: its index in input order,
	// its length at the input rate and the length of its 48 kHz output.
	OnSegment func(index, inSamples, outSamples int)

	// OnFallback receives the reason the original audio was returned.
	OnFallback func(err error)
}
