package flashsr

// segment is a range of input samples, at the input rate, that is run
// through the model on its own.
type segment struct {
	offset int
	length int
}

// planSegments splits total samples into consecutive chunks of chunkSize.
// The last chunk may be shorter. Chunks under minViable samples are dropped,
// including a lone chunk when the whole input is that short. Segments never
// overlap and are returned in input order.
func planSegments(total, chunkSize, minViable int) []segment {
	if total <= 0 || chunkSize <= 0 {
		return nil
	}
	segs := make([]segment, 0, (total+chunkSize-1)/chunkSize)
	for off := 0; off < total; off += chunkSize {
		n := min(chunkSize, total-off)
		if n < minViable {
			continue
		}
		segs = append(segs, segment{offset: off, length: n})
	}
	return segs
}
