package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dim is the fixed dimension of face embeddings (InsightFace/FaceNet style
// 512-float vectors).
const Dim = 512

// ByteLen is the serialized size of one embedding: Dim little-endian float32s.
const ByteLen = Dim * 4

// Marshal serializes an embedding to its storage form: Dim little-endian
// 32-bit floats. The byte form round-trips exactly through Unmarshal.
func Marshal(vec []float32) ([]byte, error) {
	if len(vec) != Dim {
		return nil, fmt.Errorf("embedding has %d components, want %d", len(vec), Dim)
	}
	buf := make([]byte, ByteLen)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// Unmarshal parses the storage form produced by Marshal.
func Unmarshal(data []byte) ([]float32, error) {
	if len(data) != ByteLen {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d", len(data), ByteLen)
	}
	vec := make([]float32, Dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
