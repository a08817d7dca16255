package ondisk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// P7 — bit-identical to a reference reflected-Castagnoli CRC32 implementation.
func referenceWeakCRC32(data []byte, initialValue uint32) uint32 {
	checksum := initialValue
	for _, b := range data {
		checksum ^= uint32(b)
		for i := 0; i < 8; i++ {
			if checksum&1 != 0 {
				checksum = (checksum >> 1) ^ weakCRC32Polynomial
			} else {
				checksum = checksum >> 1
			}
		}
	}
	return checksum
}

func TestWeakCRC32MatchesReferenceImplementation(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff},
		[]byte("the quick brown fox jumps over the lazy dog"),
		make([]byte, 504),
	}
	for _, data := range cases {
		assert.Equal(t, referenceWeakCRC32(data, 0xffffffff), WeakCRC32(data, 0xffffffff))
		assert.Equal(t, referenceWeakCRC32(data, 0), WeakCRC32(data, 0))
	}
}

func TestWeakCRC32TableIsDeterministic(t *testing.T) {
	assert.Equal(t, uint32(0), weakCRC32Table[0])
	assert.NotEqual(t, uint32(0), weakCRC32Table[1])
}
