package embedder

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformedEmbedding is returned when a stored blob cannot be decoded.
var ErrMalformedEmbedding = errors.New("malformed embedding")

// Marshal encodes a vector for storage as a msgpack array of float32.
func Marshal(v []float32) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a blob written by Marshal.
func Unmarshal(data []byte) ([]float32, error) {
	var v []float32
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEmbedding, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrMalformedEmbedding)
	}
	return v, nil
}
