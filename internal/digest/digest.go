// Package digest names the supported hash algorithms and builds reusable
// hash.Hash instances for them.
package digest

import (
	"crypto/md5"  // #nosec G501 -- file integrity only
	"crypto/sha1" // #nosec G505 -- file integrity only
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"
)

// Algorithm identifies a digest function.
type Algorithm string

const (
	CRC32  Algorithm = "crc32"
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	XXH3   Algorithm = "xxh3" // XXH3 128-bit, non-cryptographic
)

// ErrUnknownAlgorithm is returned by Parse for names that map to no algorithm.
var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

// All lists every supported algorithm in a stable order.
func All() []Algorithm {
	return []Algorithm{CRC32, MD5, SHA1, SHA256, XXH3}
}

// Parse resolves a user-supplied algorithm name. Matching is case-insensitive
// and accepts the usual spellings ("SHA-256", "sfv", "xxh128").
func Parse(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crc32", "crc", "sfv":
		return CRC32, nil
	case "md5":
		return MD5, nil
	case "sha1", "sha-1":
		return SHA1, nil
	case "sha256", "sha-256":
		return SHA256, nil
	case "xxh3", "xxh128", "xxh3-128":
		return XXH3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// New returns a fresh hash.Hash. Workers call it once and Reset between files.
func (a Algorithm) New() hash.Hash {
	switch a {
	case CRC32:
		return crc32.NewIEEE()
	case MD5:
		return md5.New() // #nosec G401
	case SHA1:
		return sha1.New() // #nosec G401
	case SHA256:
		return sha256.New()
	case XXH3:
		return &xxh128{h: xxh3.New()}
	default:
		panic(fmt.Sprintf("digest: New called on unknown algorithm %q", string(a)))
	}
}

// Size is the digest length in bytes.
func (a Algorithm) Size() int {
	switch a {
	case CRC32:
		return crc32.Size
	case MD5:
		return md5.Size
	case SHA1:
		return sha1.Size
	case SHA256:
		return sha256.Size
	case XXH3:
		return 16
	default:
		return 0
	}
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	return a.Size() > 0
}

// Ext is the checksum-file extension that selects a by default.
func (a Algorithm) Ext() string {
	switch a {
	case CRC32:
		return ".sfv"
	case MD5:
		return ".md5"
	case SHA1:
		return ".sha1"
	case SHA256:
		return ".sha256"
	case XXH3:
		return ".xxh3"
	default:
		return ""
	}
}

// ToleratesReversedBytes reports whether a byte-reversed digest may be
// accepted as a match. Only CRC32 qualifies: some older SFV writers emit
// it little-endian.
func (a Algorithm) ToleratesReversedBytes() bool {
	return a == CRC32
}

// FromPath picks the algorithm implied by a checksum file's extension.
func FromPath(path string) (Algorithm, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range All() {
		if a.Ext() == ext {
			return a, true
		}
	}
	return "", false
}

// Hex formats d for display and for checksum files. CRC32 is upper-case,
// matching the SFV convention; everything else is lower-case.
func (a Algorithm) Hex(d []byte) string {
	s := hex.EncodeToString(d)
	if a == CRC32 {
		return strings.ToUpper(s)
	}
	return s
}

// Sum hashes data in one shot.
func (a Algorithm) Sum(data []byte) []byte {
	h := a.New()
	h.Write(data) //nolint:errcheck // hash.Hash.Write never fails
	return h.Sum(nil)
}

// xxh128 adapts the streaming XXH3 hasher to hash.Hash with a 128-bit Sum.
type xxh128 struct {
	h *xxh3.Hasher
}

func (x *xxh128) Write(p []byte) (int, error) { return x.h.Write(p) }
func (x *xxh128) Reset()                      { x.h.Reset() }
func (x *xxh128) Size() int                   { return 16 }
func (x *xxh128) BlockSize() int              { return 64 }

func (x *xxh128) Sum(b []byte) []byte {
	s := x.h.Sum128().Bytes()
	return append(b, s[:]...)
}
