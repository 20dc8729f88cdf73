package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key is a fingerprint identifying a cacheable request by its semantic
// inputs: exact text bytes, normalize flag, and model id. Equal inputs
// always produce equal keys. The hash is xxhash64, which is collision
// resistant enough for caching but not attacker resistant; poisoning via
// a deliberate collision is an accepted residual risk.
type Key uint64

// Fingerprint derives the cache key for (text, normalize, modelID).
// Input bytes are hashed exactly as given: case, whitespace, and unicode
// form all distinguish keys. Fields are length-delimited so that no two
// distinct tuples can produce the same hash input.
func Fingerprint(text string, normalize bool, modelID string) Key {
	d := xxhash.New()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(text)))
	d.Write(lenBuf[:])
	d.WriteString(text)

	if normalize {
		d.Write([]byte{1})
	} else {
		d.Write([]byte{0})
	}

	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(modelID)))
	d.Write(lenBuf[:])
	d.WriteString(modelID)

	return Key(d.Sum64())
}

// RedisKey formats the fingerprint as the shared L2 key.
func (k Key) RedisKey() string {
	return fmt.Sprintf("embed:v2:%016x", uint64(k))
}

func (k Key) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}
