// Package hash implements the single pure hash function the whole ensemble
// agrees on: a deterministic, seedless, Murmur2-class 32-bit mix over raw
// bytes. It is part of the wire-visible contract between nodes (§4.1 of the
// design) so it must never change behavior once shipped, and it must never
// depend on process state (time, randomness, pointer identity).
package hash

// Murmur2-class constants. These particular values (multiply-shift-xor body,
// switch-based tail, xor-multiply-xor finalizer) mirror the well-known
// Murmur2/3 mixing shape; see the goqueue partitioner for the same skeleton
// applied to Murmur3. We use a 32-bit, seed-0 variant so every process in the
// ensemble — regardless of language or build — computes byte-identical
// output for byte-identical input.
const (
	seed uint32 = 0
	m    uint32 = 0x5bd1e995
	r           = 24
)

// Hash computes the 32-bit Murmur2-class hash of data. It is a pure function:
// same bytes in, same uint32 out, forever.
func Hash(data []byte) uint32 {
	length := len(data)
	h := seed ^ uint32(length)

	for len(data) >= 4 {
		k := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24

		k *= m
		k ^= k >> r
		k *= m

		h *= m
		h ^= k

		data = data[4:]
	}

	switch len(data) {
	case 3:
		h ^= uint32(data[2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[0])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15

	return h
}

// HashString is a convenience wrapper over Hash for string keys, avoiding a
// copy where the caller already has a string.
func HashString(s string) uint32 {
	return Hash([]byte(s))
}

// Combine implements combine(a,b) = hash(a‖b) from §4.2: the ClusterPartitioner's
// bucket+key lookup hashes bucket and key independently, then combines the two
// resulting hashes by hashing their big-endian concatenation. This re-hash
// (rather than e.g. XOR-ing the two hashes) keeps the combined value uniformly
// distributed even though one operand (the bucket hash) repeats across every
// key in that bucket.
func Combine(a, b uint32) uint32 {
	buf := make([]byte, 8)
	buf[0], buf[1], buf[2], buf[3] = byte(a>>24), byte(a>>16), byte(a>>8), byte(a)
	buf[4], buf[5], buf[6], buf[7] = byte(b>>24), byte(b>>16), byte(b>>8), byte(b)
	return Hash(buf)
}
