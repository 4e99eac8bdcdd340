// Package recognition turns face images into embeddings and matches them
// against a gallery of enrolled users.
//
// Two extractors are provided: DlibExtractor (dlib via go-face, 128 dimensions)
// and CascadeExtractor (OpenCV Haar cascade plus a flattened, normalized
// 100x100 grayscale patch, 10000 dimensions). Embeddings from the two are not
// comparable with each other.
package recognition

import (
	"errors"
	"math"
)

// Embedding is a fixed-length vector describing a face.
type Embedding []float32

// Extractor turns an encoded image into an embedding.
type Extractor interface {
	// Name identifies the embedding space, e.g. "dlib" or "cascade".
	Name() string
	// Dimension is the length of every embedding this extractor produces.
	Dimension() int
	// Extract returns the embedding of the first detected face,
	// or ErrNoFaceDetected when the image contains no face.
	Extract(imageData []byte) (Embedding, error)
}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrEmptyImage is returned when the image buffer is empty.
var ErrEmptyImage = errors.New("empty image")

// CosineSimilarity returns dot(a,b) / (|a| * |b|), clamped to [-1, 1].
// Vectors of different length, empty vectors and zero vectors score 0.
func CosineSimilarity(a, b Embedding) float64 {
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

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity
}

// Norm returns the Euclidean length of v.
func Norm(v Embedding) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize divides v by its Euclidean norm in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v Embedding) Embedding {
	n := Norm(v)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}
