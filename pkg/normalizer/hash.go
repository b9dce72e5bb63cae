package normalizer

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ComputeHash returns the XXH64 digest (seed 0) of normalized text as 16
// lowercase hex digits. The output is stable across processes and platforms,
// which keeps persisted cache keys valid between releases.
func ComputeHash(normalized string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalized))
}
