package ondisk

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMetadataSize = 8192

// buildMetadataBlock creates a metadata block with a volume groups
// descriptor at byte 256 (an arbitrary valid offset > 64) carrying the
// given encrypted-metadata layout, and a valid checksum.
func buildMetadataBlock(t *testing.T, transactionID uint64, encMDSizeBlocks, encMD1BlockNumber, encMD2BlockNumber uint64) []byte {
	t.Helper()
	buf := make([]byte, testMetadataSize)
	binary.LittleEndian.PutUint32(buf[4:8], 0xffffffff)
	binary.LittleEndian.PutUint64(buf[16:24], transactionID)

	descriptorOffset := uint32(256)
	binary.LittleEndian.PutUint32(buf[220:224], descriptorOffset)
	binary.LittleEndian.PutUint64(buf[int(descriptorOffset)+8:], encMDSizeBlocks)
	binary.LittleEndian.PutUint64(buf[int(descriptorOffset)+32:], encMD1BlockNumber)
	binary.LittleEndian.PutUint64(buf[int(descriptorOffset)+40:], encMD2BlockNumber)

	require.NoError(t, RecomputeMetadataBlockChecksum(buf, testMetadataSize))
	return buf
}

func TestLocateEncryptedMetadata(t *testing.T) {
	buf := buildMetadataBlock(t, 42, 4, 100, 200)

	descriptor, err := LocateEncryptedMetadata(buf, 4096)
	require.NoError(t, err)
	assert.True(t, descriptor.Present)
	assert.Equal(t, uint64(42), descriptor.TransactionID)
	assert.Equal(t, uint64(4*4096), descriptor.EncryptedMetadataSizeB)
	assert.Equal(t, uint64(100*4096), descriptor.EncryptedMetadata1Offset)
	assert.Equal(t, uint64(200*4096), descriptor.EncryptedMetadata2Offset)
}

func TestLocateEncryptedMetadataMasksVolumeIndex(t *testing.T) {
	// high 16 bits carry a physical volume index that must be discarded.
	encMD1 := uint64(3)<<48 | 100
	buf := buildMetadataBlock(t, 1, 4, encMD1, 200)

	descriptor, err := LocateEncryptedMetadata(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(100*4096), descriptor.EncryptedMetadata1Offset)
}

func TestLocateEncryptedMetadataAbsentWhenDescriptorInsideHeader(t *testing.T) {
	buf := make([]byte, testMetadataSize)
	binary.LittleEndian.PutUint32(buf[220:224], 32) // <= 64, inside the block header

	descriptor, err := LocateEncryptedMetadata(buf, 4096)
	require.NoError(t, err)
	assert.False(t, descriptor.Present)
}

// P8 — compact-dump idempotence: a rewritten block still validates its own checksum.
func TestRewriteMetadataBlockPreservesChecksumValidity(t *testing.T) {
	buf := buildMetadataBlock(t, 7, 4, 100, 200)
	descriptor, err := LocateEncryptedMetadata(buf, 4096)
	require.NoError(t, err)

	require.NoError(t, RewriteMetadataBlock(buf, descriptor.DescriptorOffset, 9, 13, testMetadataSize))

	assert.True(t, VerifyMetadataBlockChecksum(buf, testMetadataSize))

	rewritten, err := LocateEncryptedMetadata(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(9*4096), rewritten.EncryptedMetadata1Offset)
	assert.Equal(t, uint64(13*4096), rewritten.EncryptedMetadata2Offset)
}

func TestVerifyMetadataBlockChecksumDetectsCorruption(t *testing.T) {
	buf := buildMetadataBlock(t, 1, 4, 100, 200)
	buf[1000] ^= 0xFF
	assert.False(t, VerifyMetadataBlockChecksum(buf, testMetadataSize))
}
