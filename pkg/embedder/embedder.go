// Package embedder maps text to fixed-length vectors by feature hashing.
//
// The vectors capture lexical overlap (tokens and character trigrams), not
// meaning. They are only used for approximate cache matching behind a
// similarity threshold, after the exact-hash lookup has missed.
package embedder

import (
	"errors"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultDimensions is the vector length used when none is configured.
const DefaultDimensions = 256

// ErrNoDimensions is returned by Embed on an embedder with zero dimensions.
var ErrNoDimensions = errors.New("embedder: zero dimensions")

// Vectorizer turns text into a fixed-length vector.
type Vectorizer interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
}

// Embedder is a deterministic, model-free Vectorizer. Slots are chosen with
// XXH64 (seed 0), so the same text yields the same vector on every platform
// and in every release that keeps this hash.
type Embedder struct {
	dims int
}

var _ Vectorizer = (*Embedder)(nil)

// New returns an Embedder producing vectors of the given length. Negative
// values select DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions < 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dims: dimensions}
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// Embed computes the L2-normalized feature vector for text.
func (e *Embedder) Embed(text string) ([]float32, error) {
	if e.dims <= 0 {
		return nil, ErrNoDimensions
	}

	words := strings.Fields(strings.ToLower(text))
	vec := make([]float32, e.dims)

	// Earlier tokens weigh more.
	for i, w := range words {
		vec[e.slot(w)] += 1 / float32(i+1)
	}

	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		for i := 0; i+3 <= len(w); i++ {
			vec[e.slot(w[i:i+3])] += 0.5
		}
	}

	if e.dims > 10 {
		var meanLen float32
		if len(words) > 0 {
			total := 0
			for _, w := range words {
				total += len(w)
			}
			meanLen = float32(total) / float32(len(words))
		}
		vec[e.dims-1] = meanLen / 10
		vec[e.dims-2] = float32(len(words)) / 20
	}

	normalize(vec)
	return vec, nil
}

func (e *Embedder) slot(s string) int {
	return int(xxhash.Sum64String(s) % uint64(e.dims))
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
