package hashutil

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"regexp"
)

type HashFactory func() hash.Hash

var registry = map[string]HashFactory{
	"sha256": sha256.New,
	"sha512": sha512.New,
}

var hexDigest = regexp.MustCompile(`^[a-f0-9]+$`)

func GetHasher(name string) (hash.Hash, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return factory(), nil
}

func IsSupported(name string) bool {
	_, ok := registry[name]
	return ok
}

// ValidDigest reports whether digest is a lowercase hex string of the length
// produced by algo.
func ValidDigest(algo, digest string) bool {
	h, err := GetHasher(algo)
	if err != nil {
		return false
	}
	return len(digest) == hex.EncodedLen(h.Size()) && hexDigest.MatchString(digest)
}
