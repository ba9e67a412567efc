package flashsr

import (
	"encoding/binary"
	"errors"

	"github.com/x448/float16"
)

var errHalfLength = errors.New("float16 data must have an even byte length")

// encodeHalf packs samples as little-endian IEEE 754 binary16, the layout
// onnxruntime expects for float16 tensors.
func encodeHalf(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(s).Bits())
	}
	return out
}

// decodeHalf unpacks little-endian binary16 data to float32.
func decodeHalf(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, errHalfLength
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[2*i:])).Float32()
	}
	return out, nil
}
