package vecmath

import (
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{name: "Identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, want: 1.0},
		{name: "Orthogonal", a: []float32{1, 0, 0}, b: []float32{0, 1, 0}, want: 0.0},
		{name: "Opposite", a: []float32{1, 0, 0}, b: []float32{-1, 0, 0}, want: -1.0},
		{name: "Length Mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, want: 0.0},
		{name: "Zero Vector", a: []float32{0, 0, 0}, b: []float32{1, 1, 1}, want: 0.0},
		{name: "Empty", a: nil, b: nil, want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-4 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEuclidean(t *testing.T) {
	if d := Euclidean([]float32{0, 0}, []float32{3, 4}); math.Abs(d-5) > 1e-6 {
		t.Errorf("Euclidean() = %v, want 5", d)
	}
	if d := Euclidean([]float32{1}, []float32{1, 2}); !math.IsInf(d, 1) {
		t.Errorf("Euclidean() on mismatch = %v, want +Inf", d)
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid([][]float32{{0, 0}, {2, 4}})
	if len(c) != 2 || c[0] != 1 || c[1] != 2 {
		t.Errorf("Centroid() = %v, want [1 2]", c)
	}

	// Mismatched vectors are skipped, not averaged in.
	c = Centroid([][]float32{{2, 2}, {1, 2, 3}})
	if len(c) != 2 || c[0] != 2 || c[1] != 2 {
		t.Errorf("Centroid() with mismatch = %v, want [2 2]", c)
	}

	if Centroid(nil) != nil {
		t.Error("Centroid(nil) should be nil")
	}
}

func TestNormalize(t *testing.T) {
	n := Normalize([]float32{3, 4})
	var norm float64
	for _, x := range n {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-6 {
		t.Errorf("Normalize() norm = %v, want 1", math.Sqrt(norm))
	}

	z := Normalize([]float32{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("Normalize(zero) = %v, want zero", z)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	vectors := [][]float32{
		{},
		{0},
		{1.5, -2.25, 3.125},
		{math.MaxFloat32, math.SmallestNonzeroFloat32, -1},
	}

	for _, v := range vectors {
		data := Serialize(v)
		if len(data) != len(v)*4 {
			t.Fatalf("Serialize length = %d, want %d", len(data), len(v)*4)
		}
		back, err := Deserialize(data)
		if err != nil {
			t.Fatalf("Deserialize: %v", err)
		}
		if len(back) != len(v) {
			t.Fatalf("round trip length = %d, want %d", len(back), len(v))
		}
		for i := range v {
			if back[i] != v[i] {
				t.Errorf("round trip [%d] = %v, want %v", i, back[i], v[i])
			}
		}
	}
}

func TestDeserializeCorrupt(t *testing.T) {
	if _, err := Deserialize([]byte{1, 2, 3}); err == nil {
		t.Error("Deserialize should reject a 3-byte payload")
	}
}
