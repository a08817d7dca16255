package compactdump

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemication/go-fvde/internal/fvdedevice"
	"github.com/systemication/go-fvde/internal/fvdeerrors"
	"github.com/systemication/go-fvde/internal/ondisk"
)

const (
	s4BlockSize             = 4096
	s4MetadataSize          = 8192
	s4EncryptedMetadataSize = 16384
)

// buildS4Header builds the §S4 volume header: metadata copies at
// 0x2000, 0x4000, 0x6000, 0x8000 (block numbers 2, 4, 6, 8).
func buildS4Header(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, ondisk.VolumeHeaderSize)
	binary.LittleEndian.PutUint32(buf[4:8], 0xffffffff)
	buf[88], buf[89] = 'C', 'S'
	binary.LittleEndian.PutUint64(buf[72:80], 1<<30)
	binary.LittleEndian.PutUint32(buf[96:100], s4BlockSize)
	binary.LittleEndian.PutUint32(buf[100:104], s4MetadataSize)
	for i, blockNumber := range []uint64{2, 4, 6, 8} {
		binary.LittleEndian.PutUint64(buf[104+i*8:], blockNumber)
	}
	require.NoError(t, ondisk.EncodeVolumeHeader(buf, ondisk.HeaderUpdates{MetadataBlockNumbers: [4]uint64{2, 4, 6, 8}}))
	return buf
}

// buildS4MetadataCopy builds one metadata copy carrying transactionID and
// a volume-groups descriptor pointing at encrypted-metadata block 100/200.
func buildS4MetadataCopy(t *testing.T, transactionID uint64) []byte {
	t.Helper()
	buf := make([]byte, s4MetadataSize)
	binary.LittleEndian.PutUint32(buf[4:8], 0xffffffff)
	binary.LittleEndian.PutUint64(buf[16:24], transactionID)

	descriptorOffset := uint32(256)
	binary.LittleEndian.PutUint32(buf[220:224], descriptorOffset)
	binary.LittleEndian.PutUint64(buf[int(descriptorOffset)+8:], s4EncryptedMetadataSize/s4BlockSize)
	binary.LittleEndian.PutUint64(buf[int(descriptorOffset)+32:], 100)
	binary.LittleEndian.PutUint64(buf[int(descriptorOffset)+40:], 200)

	require.NoError(t, ondisk.RecomputeMetadataBlockChecksum(buf, s4MetadataSize))
	return buf
}

// buildS4Source assembles a source image on disk matching the §S4
// scenario and returns its path.
func buildS4Source(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Truncate(300 * 4096))

	header := buildS4Header(t)
	_, err = f.WriteAt(header, 0)
	require.NoError(t, err)

	for i, blockNumber := range []uint64{2, 4, 6, 8} {
		// block 8's copy carries the highest transaction ID and is
		// therefore "best".
		metadataCopy := buildS4MetadataCopy(t, uint64(i+1))
		_, err = f.WriteAt(metadataCopy, int64(blockNumber*s4BlockSize))
		require.NoError(t, err)
	}

	encMD1 := make([]byte, s4EncryptedMetadataSize)
	for i := range encMD1 {
		encMD1[i] = 0xAA
	}
	_, err = f.WriteAt(encMD1, 100*s4BlockSize)
	require.NoError(t, err)

	encMD2 := make([]byte, s4EncryptedMetadataSize)
	for i := range encMD2 {
		encMD2[i] = 0xBB
	}
	_, err = f.WriteAt(encMD2, 200*s4BlockSize)
	require.NoError(t, err)

	return path
}

func openS4(t *testing.T) (*fvdedevice.Source, *ondisk.VolumeHeader) {
	t.Helper()
	src, err := fvdedevice.OpenSource(buildS4Source(t), 0)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	headerBuf := make([]byte, ondisk.VolumeHeaderSize)
	require.NoError(t, src.ReadAt(headerBuf, 0))
	header, err := ondisk.DecodeVolumeHeader(headerBuf)
	require.NoError(t, err)
	return src, header
}

// S4 — compact rewrite produces the expected destination layout, block
// numbers, and checksums.
func TestS4CompactDump(t *testing.T) {
	src, header := openS4(t)

	destPath := filepath.Join(t.TempDir(), "dest.img")
	dst, err := fvdedevice.CreateDestination(destPath, false)
	require.NoError(t, err)

	result, err := Dump(context.Background(), src, dst, header, Options{Compact: true})
	require.NoError(t, err)
	require.NoError(t, dst.Close())

	assert.Equal(t, uint64(4096+4*8192+2*16384), result.DestinationSize)
	assert.Equal(t, 3, result.BestMetadataIndex) // block 8's copy, transaction ID 4
	assert.Equal(t, uint64(4), result.BestTransactionID)

	destBuf, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, int(result.DestinationSize), len(destBuf))

	rewrittenHeader, err := ondisk.DecodeVolumeHeader(destBuf[0:512])
	require.NoError(t, err)
	assert.Equal(t, [4]uint64{1, 3, 5, 7}, rewrittenHeader.MetadataBlockNumbers)
	assert.True(t, ondisk.VerifyVolumeHeaderChecksum(destBuf[0:512]))

	firstMetadataCopy := destBuf[4096 : 4096+8192]
	assert.True(t, ondisk.VerifyMetadataBlockChecksum(firstMetadataCopy, s4MetadataSize))

	descriptor, err := ondisk.LocateEncryptedMetadata(firstMetadataCopy, s4BlockSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(9*s4BlockSize), descriptor.EncryptedMetadata1Offset)
	assert.Equal(t, uint64(13*s4BlockSize), descriptor.EncryptedMetadata2Offset)
}

// S6 — an abort mid-copy returns AbortRequested with a partial byte count
// bounded by the chunk size.
func TestS6AbortMidCopy(t *testing.T) {
	src, header := openS4(t)

	destPath := filepath.Join(t.TempDir(), "dest.img")
	dst, err := fvdedevice.CreateDestination(destPath, false)
	require.NoError(t, err)
	defer dst.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Dump(ctx, src, dst, header, Options{Compact: false})
	require.Error(t, err)
	assert.True(t, fvdeerrors.Is(err, fvdeerrors.AbortRequested))
	assert.Equal(t, uint64(0), result.BytesCopied)
}

func TestSparseDumpCopiesRegionsToOriginalOffsets(t *testing.T) {
	src, header := openS4(t)

	destPath := filepath.Join(t.TempDir(), "dest.img")
	dst, err := fvdedevice.CreateDestination(destPath, false)
	require.NoError(t, err)

	result, err := Dump(context.Background(), src, dst, header, Options{Compact: false})
	require.NoError(t, err)
	require.NoError(t, dst.Close())

	assert.Equal(t, header.PhysicalVolumeSize, result.DestinationSize)

	destBuf, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.True(t, ondisk.VerifyVolumeHeaderChecksum(destBuf[0:512]))

	metadataCopyAtOriginalOffset := destBuf[8*s4BlockSize : 8*s4BlockSize+s4MetadataSize]
	assert.True(t, ondisk.VerifyMetadataBlockChecksum(metadataCopyAtOriginalOffset, s4MetadataSize))
}
