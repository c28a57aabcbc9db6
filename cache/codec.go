package cache

import (
	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// encodeValue serializes a value for a persisted tier and returns the
// msgpack bytes with their xxhash64 checksum. Values read back from a
// persisted tier are raw bytes; if the caller stored bytes they are
// written through unchanged so a tier change round-trips.
func encodeValue(v any) ([]byte, uint64, error) {
	if data, ok := v.([]byte); ok {
		return data, xxhash.Sum64(data), nil
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, 0, err
	}
	return data, xxhash.Sum64(data), nil
}

// verifyChecksum reports whether stored bytes still match the checksum
// recorded at write time. A mismatch means the entry was corrupted at
// rest and must be deleted and treated as a miss.
func verifyChecksum(data []byte, sum uint64) bool {
	return xxhash.Sum64(data) == sum
}
