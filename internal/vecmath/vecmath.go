// Package vecmath provides the small vector operations the memory pipeline
// is built on: similarity metrics, centroids, and the byte-level codec used
// to persist embeddings in SQLite.
package vecmath

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Cosine returns the cosine similarity between a and b.
// Mismatched lengths and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Euclidean returns the L2 distance between a and b.
// Mismatched lengths return +Inf so callers treat it as "infinitely far".
func Euclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Centroid returns the component-wise mean of the given vectors.
// Vectors whose length differs from the first are skipped.
func Centroid(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}

	dim := len(vs[0])
	sums := make([]float64, dim)
	count := 0
	for _, v := range vs {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sums[i] += float64(x)
		}
		count++
	}
	if count == 0 {
		return nil
	}

	out := make([]float32, dim)
	for i, s := range sums {
		out[i] = float32(s / float64(count))
	}
	return out
}

// Normalize returns v scaled to unit length. Zero vectors are returned as-is.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Serialize encodes a float32 vector as little-endian bytes, 4 per component.
// This is the on-disk format of the fact_embeddings table and the vec0 index.
func Serialize(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// Deserialize decodes a little-endian float32 byte sequence.
// A length that is not a multiple of 4 means the stored row is corrupt.
func Deserialize(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding: %d bytes is not a multiple of 4", len(data))
	}

	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
