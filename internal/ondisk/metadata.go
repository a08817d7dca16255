package ondisk

import (
	"encoding/binary"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

const (
	metadataOffsetChecksum             = 0
	metadataOffsetChecksumInitialValue = 4
	metadataOffsetTransactionID        = 16
	metadataOffsetDescriptorPointer    = 220 // 64 + 156
	metadataChecksumRegionStart        = 8

	volumeGroupsDescriptorMinOffset = 64 // descriptor offsets <= this fall inside the block header

	descriptorOffsetEncryptedMetadataSize = 8
	descriptorOffsetEncryptedMetadata1    = 32
	descriptorOffsetEncryptedMetadata2    = 40

	blockNumberMask = 0x0000_ffff_ffff_ffff // low 48 bits; high 16 bits are the pv index
)

// MetadataBlockHeader is the subset of a Core Storage metadata block the
// core needs to decode (§3 MetadataBlock).
type MetadataBlockHeader struct {
	Checksum             uint32
	ChecksumInitialValue uint32
	TransactionID        uint64
}

// DecodeMetadataBlockHeader parses the fixed-offset fields common to every
// metadata block, independent of block-type-specific payload.
func DecodeMetadataBlockHeader(buf []byte) (*MetadataBlockHeader, error) {
	if len(buf) < metadataOffsetDescriptorPointer+4 {
		return nil, fvdeerrors.New(fvdeerrors.InvalidArgument, "metadata block too small to contain a header")
	}
	return &MetadataBlockHeader{
		Checksum:             binary.LittleEndian.Uint32(buf[metadataOffsetChecksum:]),
		ChecksumInitialValue: binary.LittleEndian.Uint32(buf[metadataOffsetChecksumInitialValue:]),
		TransactionID:        binary.LittleEndian.Uint64(buf[metadataOffsetTransactionID:]),
	}, nil
}

// VerifyMetadataBlockChecksum recomputes the weak CRC32 over bytes
// [8..metadataSize) using the initial value at [4..8) and compares it
// against the stored checksum at [0..4).
func VerifyMetadataBlockChecksum(buf []byte, metadataSize int) bool {
	if len(buf) < metadataSize || metadataSize < metadataChecksumRegionStart {
		return false
	}
	initialValue := binary.LittleEndian.Uint32(buf[metadataOffsetChecksumInitialValue:])
	stored := binary.LittleEndian.Uint32(buf[metadataOffsetChecksum:])
	computed := WeakCRC32(buf[metadataChecksumRegionStart:metadataSize], initialValue)
	return computed == stored
}

// RecomputeMetadataBlockChecksum writes a fresh checksum at [0..4) of buf,
// computed over [8..metadataSize) with the initial value read from [4..8).
// Callers use this after mutating any other field in the block.
func RecomputeMetadataBlockChecksum(buf []byte, metadataSize int) error {
	if len(buf) < metadataSize || metadataSize < metadataChecksumRegionStart {
		return fvdeerrors.New(fvdeerrors.InvalidArgument, "metadata block too small for checksum region")
	}
	initialValue := binary.LittleEndian.Uint32(buf[metadataOffsetChecksumInitialValue:])
	checksum := WeakCRC32(buf[metadataChecksumRegionStart:metadataSize], initialValue)
	binary.LittleEndian.PutUint32(buf[metadataOffsetChecksum:], checksum)
	return nil
}

// EncryptedMetadataDescriptor is the result of locating and decoding the
// volume-groups descriptor embedded in a metadata block (§4.A
// locate_encrypted_metadata).
type EncryptedMetadataDescriptor struct {
	Present                  bool
	DescriptorOffset         uint32 // absolute byte offset within the block, from [220..224)
	EncryptedMetadataSizeB   uint64 // bytes
	EncryptedMetadata1Offset uint64 // byte offset within the physical volume
	EncryptedMetadata2Offset uint64 // byte offset within the physical volume
	TransactionID            uint64
}

// LocateEncryptedMetadata reads the volume-groups-descriptor pointer at
// [220..224) and, when it points past the 64-byte block header, decodes the
// encrypted-metadata size and the two encrypted-metadata block numbers
// (§4.A). Block numbers are masked to their low 48 bits; the high 16 bits
// (physical volume index) are discarded, matching the original decoder.
func LocateEncryptedMetadata(buf []byte, blockSize uint32) (EncryptedMetadataDescriptor, error) {
	if len(buf) < metadataOffsetDescriptorPointer+4 {
		return EncryptedMetadataDescriptor{}, fvdeerrors.New(fvdeerrors.InvalidArgument, "metadata block too small for descriptor pointer")
	}

	header, err := DecodeMetadataBlockHeader(buf)
	if err != nil {
		return EncryptedMetadataDescriptor{}, err
	}

	descriptorOffset := binary.LittleEndian.Uint32(buf[metadataOffsetDescriptorPointer:])
	if descriptorOffset <= volumeGroupsDescriptorMinOffset {
		return EncryptedMetadataDescriptor{TransactionID: header.TransactionID}, nil
	}
	if int(descriptorOffset)+descriptorOffsetEncryptedMetadata2+8 > len(buf) {
		return EncryptedMetadataDescriptor{}, fvdeerrors.New(fvdeerrors.InvalidArgument, "volume groups descriptor runs past end of block")
	}

	sizeInBlocks := binary.LittleEndian.Uint64(buf[int(descriptorOffset)+descriptorOffsetEncryptedMetadataSize:])
	md1BlockNumber := binary.LittleEndian.Uint64(buf[int(descriptorOffset)+descriptorOffsetEncryptedMetadata1:]) & blockNumberMask
	md2BlockNumber := binary.LittleEndian.Uint64(buf[int(descriptorOffset)+descriptorOffsetEncryptedMetadata2:]) & blockNumberMask

	return EncryptedMetadataDescriptor{
		Present:                  true,
		DescriptorOffset:         descriptorOffset,
		EncryptedMetadataSizeB:   sizeInBlocks * uint64(blockSize),
		EncryptedMetadata1Offset: md1BlockNumber * uint64(blockSize),
		EncryptedMetadata2Offset: md2BlockNumber * uint64(blockSize),
		TransactionID:            header.TransactionID,
	}, nil
}

// RewriteMetadataBlock writes full, unmasked 64-bit block numbers for the
// two encrypted-metadata regions into the volume-groups descriptor located
// at descriptorOffset, then recomputes the block checksum (§4.D metadata
// block correction). It is the caller's responsibility to have located
// descriptorOffset via LocateEncryptedMetadata first.
func RewriteMetadataBlock(buf []byte, descriptorOffset uint32, newEncryptedMetadata1BlockNumber, newEncryptedMetadata2BlockNumber uint64, metadataSize int) error {
	if int(descriptorOffset)+descriptorOffsetEncryptedMetadata2+8 > len(buf) {
		return fvdeerrors.New(fvdeerrors.InvalidArgument, "volume groups descriptor runs past end of block")
	}
	binary.LittleEndian.PutUint64(buf[int(descriptorOffset)+descriptorOffsetEncryptedMetadata1:], newEncryptedMetadata1BlockNumber)
	binary.LittleEndian.PutUint64(buf[int(descriptorOffset)+descriptorOffsetEncryptedMetadata2:], newEncryptedMetadata2BlockNumber)
	return RecomputeMetadataBlockChecksum(buf, metadataSize)
}
