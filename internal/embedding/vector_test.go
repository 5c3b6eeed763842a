package embedding

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vec := make([]float32, Dim)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}

	data, err := Marshal(vec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if len(data) != ByteLen {
		t.Fatalf("expected %d bytes, got %d", ByteLen, len(data))
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Fatalf("component %d: got %v, want %v", i, decoded[i], vec[i])
		}
	}

	// Byte-exact round trip in the other direction too.
	reencoded, err := Marshal(decoded)
	if err != nil {
		t.Fatalf("re-Marshal failed: %v", err)
	}
	if !bytes.Equal(data, reencoded) {
		t.Error("serialize(deserialize(b)) != b")
	}
}

func TestMarshalSpecialValues(t *testing.T) {
	vec := make([]float32, Dim)
	vec[0] = float32(math.Inf(1))
	vec[1] = float32(math.Inf(-1))
	vec[2] = math.MaxFloat32
	vec[3] = math.SmallestNonzeroFloat32
	vec[4] = float32(math.Copysign(0, -1))

	data, err := Marshal(vec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if math.Float32bits(decoded[i]) != math.Float32bits(vec[i]) {
			t.Errorf("component %d bits differ: got %x, want %x",
				i, math.Float32bits(decoded[i]), math.Float32bits(vec[i]))
		}
	}
}

func TestMarshalWrongDimension(t *testing.T) {
	if _, err := Marshal(make([]float32, 100)); err == nil {
		t.Error("expected error for short vector")
	}
	if _, err := Marshal(nil); err == nil {
		t.Error("expected error for nil vector")
	}
}

func TestUnmarshalWrongLength(t *testing.T) {
	for _, n := range []int{0, 1, ByteLen - 1, ByteLen + 1, ByteLen * 2} {
		if _, err := Unmarshal(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte blob", n)
		}
	}
}
