package idempotency

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// KeyPrefix namespaces idempotency markers in the key-value backend.
const KeyPrefix = "fineu_idem_"

// GenerateKey builds a deterministic key from all provided parts.
func GenerateKey(parts ...any) string {
	d := xxhash.New()
	for _, part := range parts {
		fmt.Fprintf(d, "%v:", part)
	}

	return strconv.FormatUint(d.Sum64(), 16)
}

func markerKey(key string) string {
	return KeyPrefix + key
}
