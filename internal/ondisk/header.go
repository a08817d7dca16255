package ondisk

import (
	"encoding/binary"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// VolumeHeaderSize is the fixed on-disk size of the Core Storage volume
// header (§3 VolumeHeader).
const VolumeHeaderSize = 512

const (
	headerOffsetChecksum             = 0
	headerOffsetChecksumInitialValue = 4
	headerOffsetPhysicalVolumeSize   = 72
	headerOffsetSignature            = 88
	headerOffsetBlockSize            = 96
	headerOffsetMetadataSize         = 100
	headerOffsetMetadataBlockNumbers = 104
	headerChecksumRegionStart        = 8

	numMetadataSlots = 4
)

// VolumeHeader is the decoded form of the 512-byte Core Storage volume
// header (§3).
type VolumeHeader struct {
	Checksum             uint32
	ChecksumInitialValue uint32
	PhysicalVolumeSize   uint64
	BlockSize            uint32
	MetadataSize         uint32
	MetadataBlockNumbers [numMetadataSlots]uint64
}

// MetadataOffsets returns the byte offset of each of the four metadata
// block copies (block number * block size).
func (h *VolumeHeader) MetadataOffsets() [numMetadataSlots]uint64 {
	var offsets [numMetadataSlots]uint64
	for i, blockNumber := range h.MetadataBlockNumbers {
		offsets[i] = blockNumber * uint64(h.BlockSize)
	}
	return offsets
}

// DecodeVolumeHeader parses a 512-byte buffer into a VolumeHeader, verifying
// only the Core Storage signature ("CS" at byte offset 88); checksum
// verification is a distinct operation (§4.A).
func DecodeVolumeHeader(buf []byte) (*VolumeHeader, error) {
	if len(buf) != VolumeHeaderSize {
		return nil, fvdeerrors.New(fvdeerrors.InvalidArgument, "volume header must be exactly 512 bytes")
	}
	if buf[headerOffsetSignature] != 'C' || buf[headerOffsetSignature+1] != 'S' {
		return nil, fvdeerrors.New(fvdeerrors.UnsupportedValue, "unsupported core storage signature")
	}

	h := &VolumeHeader{
		Checksum:             binary.LittleEndian.Uint32(buf[headerOffsetChecksum:]),
		ChecksumInitialValue: binary.LittleEndian.Uint32(buf[headerOffsetChecksumInitialValue:]),
		PhysicalVolumeSize:   binary.LittleEndian.Uint64(buf[headerOffsetPhysicalVolumeSize:]),
		BlockSize:            binary.LittleEndian.Uint32(buf[headerOffsetBlockSize:]),
		MetadataSize:         binary.LittleEndian.Uint32(buf[headerOffsetMetadataSize:]),
	}
	for i := 0; i < numMetadataSlots; i++ {
		offset := headerOffsetMetadataBlockNumbers + i*8
		h.MetadataBlockNumbers[i] = binary.LittleEndian.Uint64(buf[offset:])
	}
	return h, nil
}

// VerifyVolumeHeaderChecksum recomputes the weak CRC32 over bytes [8..512)
// using the initial value stored at [4..8) and compares it against the
// stored checksum at [0..4).
func VerifyVolumeHeaderChecksum(buf []byte) bool {
	if len(buf) != VolumeHeaderSize {
		return false
	}
	initialValue := binary.LittleEndian.Uint32(buf[headerOffsetChecksumInitialValue:])
	stored := binary.LittleEndian.Uint32(buf[headerOffsetChecksum:])
	computed := WeakCRC32(buf[headerChecksumRegionStart:], initialValue)
	return computed == stored
}

// HeaderUpdates carries the fields EncodeVolumeHeader may rewrite.
type HeaderUpdates struct {
	MetadataBlockNumbers [numMetadataSlots]uint64
}

// EncodeVolumeHeader writes updates.MetadataBlockNumbers into buf at
// [104..136) and recomputes the checksum at [0..4) from the current
// initial value at [4..8) (§4.A).
func EncodeVolumeHeader(buf []byte, updates HeaderUpdates) error {
	if len(buf) != VolumeHeaderSize {
		return fvdeerrors.New(fvdeerrors.InvalidArgument, "volume header must be exactly 512 bytes")
	}
	for i := 0; i < numMetadataSlots; i++ {
		offset := headerOffsetMetadataBlockNumbers + i*8
		binary.LittleEndian.PutUint64(buf[offset:], updates.MetadataBlockNumbers[i])
	}
	initialValue := binary.LittleEndian.Uint32(buf[headerOffsetChecksumInitialValue:])
	checksum := WeakCRC32(buf[headerChecksumRegionStart:], initialValue)
	binary.LittleEndian.PutUint32(buf[headerOffsetChecksum:], checksum)
	return nil
}
