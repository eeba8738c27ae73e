package scan

import (
	"bytes"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/store"
)

// compare classifies a computed digest against the expected one. legacy is
// true when the match only succeeded with the byte order reversed, which
// some older SFV writers produce for CRC32.
func compare(algo digest.Algorithm, expected, computed []byte) (st store.Status, legacy bool) {
	if bytes.Equal(expected, computed) {
		return store.OK, false
	}
	if !algo.ToleratesReversedBytes() || len(expected) != len(computed) {
		return store.Bad, false
	}
	rev := make([]byte, len(computed))
	for i, b := range computed {
		rev[len(computed)-1-i] = b
	}
	if bytes.Equal(expected, rev) {
		return store.OK, true
	}
	return store.Bad, false
}
