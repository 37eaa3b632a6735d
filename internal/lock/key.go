package lock

import (
	"crypto/sha256"
	"encoding/binary"
)

// Key derives the advisory lock key for an entity: the first 8 bytes of
// SHA-256(namespace ":" id) read as a signed 64-bit integer.
//
// Two distinct entities can in principle share a key. With 64 bits the
// probability of any collision among n live locks is about n^2 / 2^65, which
// is accepted; a collision only makes two unrelated edits serialize.
func Key(namespace, id string) int64 {
	sum := sha256.Sum256([]byte(namespace + ":" + id))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
