// Package compactdump implements the Compact Image Rewriter (§4.D): it
// reads the volume header, the four metadata copies, and the two
// encrypted-metadata regions from a Source and writes them to a
// destination either as a sparse image (every region at its original
// byte offset, destination truncated to the physical volume size) or as
// a compacted image (every region repacked contiguously from offset 0,
// with the volume header's metadata-slot block numbers and the
// encrypted-metadata block numbers rewritten to match, and every
// affected checksum recomputed).
package compactdump

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/systemication/go-fvde/internal/fvdedevice"
	"github.com/systemication/go-fvde/internal/fvdeerrors"
	"github.com/systemication/go-fvde/internal/ondisk"
)

// copyBufferSize matches the original tool's 64-KiB region-copy buffer.
const copyBufferSize = 64 * 1024

// Options configures a dump.
type Options struct {
	// Compact selects the repacked layout. When false, regions are
	// copied to their original offsets into a sparse destination file.
	Compact bool
	// Verbose mirrors the original tool's -v flag: log each region copy
	// and checksum recalculation at info level.
	Verbose bool
}

// Result reports what a dump actually wrote.
type Result struct {
	BytesCopied       uint64
	BestMetadataIndex int
	BestTransactionID uint64
	DestinationSize   uint64
}

// bestMetadata holds what selectBestMetadata learns by reading all four
// metadata copies.
type bestMetadata struct {
	index         int
	transactionID uint64
	descriptor    ondisk.EncryptedMetadataDescriptor
}

// Dump performs the dump operation described by opts, reading header and
// metadata from src and writing to dst. header must already be decoded
// from src (§4.A); Dump re-reads the metadata copies itself in order to
// pick the one with the highest transaction ID, the same selection the
// original tool performs in dump_handle_read_metadata.
func Dump(ctx context.Context, src *fvdedevice.Source, dst *fvdedevice.Destination, header *ondisk.VolumeHeader, opts Options) (Result, error) {
	best, err := selectBestMetadata(src, header)
	if err != nil {
		return Result{}, err
	}

	if !opts.Compact {
		return dumpSparse(ctx, src, dst, header, best, opts)
	}
	return dumpCompact(ctx, src, dst, header, best, opts)
}

// selectBestMetadata reads each of the four metadata copies and returns
// the descriptor and transaction ID of whichever carries the highest
// transaction identifier (§4.D "best metadata" selection).
func selectBestMetadata(src *fvdedevice.Source, header *ondisk.VolumeHeader) (bestMetadata, error) {
	buf := make([]byte, header.MetadataSize)
	best := bestMetadata{index: -1}

	for i, offset := range header.MetadataOffsets() {
		if err := src.ReadAt(buf, int64(offset)); err != nil {
			return bestMetadata{}, fvdeerrors.Wrap(fvdeerrors.IoRead, err, "reading metadata copy")
		}
		blockHeader, err := ondisk.DecodeMetadataBlockHeader(buf)
		if err != nil {
			return bestMetadata{}, err
		}
		if best.index == -1 || blockHeader.TransactionID > best.transactionID {
			descriptor, err := ondisk.LocateEncryptedMetadata(buf, header.BlockSize)
			if err != nil {
				return bestMetadata{}, err
			}
			best = bestMetadata{index: i, transactionID: blockHeader.TransactionID, descriptor: descriptor}
		}
	}
	if best.index == -1 {
		return bestMetadata{}, fvdeerrors.New(fvdeerrors.InvalidArgument, "volume header carries no metadata slots")
	}
	return best, nil
}

// dumpSparse truncates dst to the physical volume size and copies every
// region to its original byte offset, leaving the gaps between regions as
// unallocated holes in the destination file.
func dumpSparse(ctx context.Context, src *fvdedevice.Source, dst *fvdedevice.Destination, header *ondisk.VolumeHeader, best bestMetadata, opts Options) (Result, error) {
	if err := dst.Truncate(int64(header.PhysicalVolumeSize)); err != nil {
		return Result{}, err
	}
	logVerbose(opts, "created sparse destination", logrus.Fields{"size": header.PhysicalVolumeSize})

	var copied uint64

	n, err := copyRegion(ctx, src, dst, 0, 0, ondisk.VolumeHeaderSize, "volume header", opts)
	if err != nil {
		return Result{BytesCopied: copied + n}, err
	}
	copied += n

	for i, offset := range header.MetadataOffsets() {
		n, err := copyRegion(ctx, src, dst, int64(offset), int64(offset), int64(header.MetadataSize), metadataRegionName(i), opts)
		if err != nil {
			return Result{BytesCopied: copied + n}, err
		}
		copied += n
	}

	if best.descriptor.Present {
		n, err := copyRegion(ctx, src, dst, int64(best.descriptor.EncryptedMetadata1Offset), int64(best.descriptor.EncryptedMetadata1Offset), int64(best.descriptor.EncryptedMetadataSizeB), "encrypted metadata 1", opts)
		if err != nil {
			return Result{BytesCopied: copied + n}, err
		}
		copied += n

		n, err = copyRegion(ctx, src, dst, int64(best.descriptor.EncryptedMetadata2Offset), int64(best.descriptor.EncryptedMetadata2Offset), int64(best.descriptor.EncryptedMetadataSizeB), "encrypted metadata 2", opts)
		if err != nil {
			return Result{BytesCopied: copied + n}, err
		}
		copied += n
	}

	return Result{
		BytesCopied:       copied,
		BestMetadataIndex: best.index,
		BestTransactionID: best.transactionID,
		DestinationSize:   header.PhysicalVolumeSize,
	}, nil
}

// dumpCompact repacks the volume header, the four metadata copies, and
// the two encrypted-metadata regions contiguously from offset 0,
// rewriting the block numbers each region's neighbors need to find it at
// its new offset and recomputing the affected checksums (§4.D).
func dumpCompact(ctx context.Context, src *fvdedevice.Source, dst *fvdedevice.Destination, header *ondisk.VolumeHeader, best bestMetadata, opts Options) (Result, error) {
	var copied uint64

	metadataBlockCount := (uint64(header.MetadataSize) + uint64(header.BlockSize) - 1) / uint64(header.BlockSize)

	var compactMetadataOffsets [4]uint64
	var compactMetadataBlockNumbers [4]uint64
	compactBlock := uint64(1) // block 0 holds the volume header
	for i := range compactMetadataOffsets {
		compactMetadataBlockNumbers[i] = compactBlock
		compactMetadataOffsets[i] = compactBlock * uint64(header.BlockSize)
		compactBlock += metadataBlockCount
	}

	compactEncryptedMetadata1Offset := uint64(header.BlockSize) + 4*uint64(header.MetadataSize)
	compactEncryptedMetadata2Offset := compactEncryptedMetadata1Offset + best.descriptor.EncryptedMetadataSizeB

	n, err := writeCorrectedVolumeHeader(src, dst, compactMetadataBlockNumbers, opts)
	if err != nil {
		return Result{}, err
	}
	copied += n

	for i, sourceOffset := range header.MetadataOffsets() {
		n, err := writeCorrectedMetadata(src, dst, int64(sourceOffset), int64(compactMetadataOffsets[i]), header.MetadataSize, compactEncryptedMetadata1Offset/uint64(header.BlockSize), compactEncryptedMetadata2Offset/uint64(header.BlockSize), metadataRegionName(i), opts)
		if err != nil {
			return Result{}, err
		}
		copied += n
	}

	if best.descriptor.Present {
		n, err := copyRegion(ctx, src, dst, int64(best.descriptor.EncryptedMetadata1Offset), int64(compactEncryptedMetadata1Offset), int64(best.descriptor.EncryptedMetadataSizeB), "encrypted metadata 1", opts)
		if err != nil {
			return Result{BytesCopied: copied + n}, err
		}
		copied += n

		n, err = copyRegion(ctx, src, dst, int64(best.descriptor.EncryptedMetadata2Offset), int64(compactEncryptedMetadata2Offset), int64(best.descriptor.EncryptedMetadataSizeB), "encrypted metadata 2", opts)
		if err != nil {
			return Result{BytesCopied: copied + n}, err
		}
		copied += n
	}

	destinationSize := compactEncryptedMetadata1Offset
	if best.descriptor.Present {
		destinationSize = compactEncryptedMetadata2Offset + best.descriptor.EncryptedMetadataSizeB
	}

	return Result{
		BytesCopied:       copied,
		BestMetadataIndex: best.index,
		BestTransactionID: best.transactionID,
		DestinationSize:   destinationSize,
	}, nil
}

// writeCorrectedVolumeHeader reads the volume header from src, rewrites
// its four metadata-slot block numbers to newBlockNumbers, recomputes the
// checksum, and writes the result to dst at offset 0.
func writeCorrectedVolumeHeader(src *fvdedevice.Source, dst *fvdedevice.Destination, newBlockNumbers [4]uint64, opts Options) (uint64, error) {
	buf := make([]byte, ondisk.VolumeHeaderSize)
	if err := src.ReadAt(buf, 0); err != nil {
		return 0, fvdeerrors.Wrap(fvdeerrors.IoRead, err, "reading volume header")
	}
	if err := ondisk.EncodeVolumeHeader(buf, ondisk.HeaderUpdates{MetadataBlockNumbers: newBlockNumbers}); err != nil {
		return 0, err
	}
	logVerbose(opts, "corrected volume header metadata offsets", logrus.Fields{"blocks": newBlockNumbers})
	if err := dst.WriteAt(buf, 0); err != nil {
		return 0, err
	}
	return uint64(len(buf)), nil
}

// writeCorrectedMetadata reads one metadata copy from src, and — when it
// carries a located volume-groups descriptor — rewrites the two
// encrypted-metadata block numbers to their compact-layout values and
// recomputes the block checksum, then writes the (possibly corrected)
// copy to dst at destinationOffset.
func writeCorrectedMetadata(src *fvdedevice.Source, dst *fvdedevice.Destination, sourceOffset, destinationOffset int64, metadataSize uint32, compactMd1Block, compactMd2Block uint64, regionName string, opts Options) (uint64, error) {
	buf := make([]byte, metadataSize)
	if err := src.ReadAt(buf, sourceOffset); err != nil {
		return 0, fvdeerrors.Wrap(fvdeerrors.IoRead, err, "reading "+regionName)
	}

	descriptor, err := ondisk.LocateEncryptedMetadata(buf, 0)
	if err != nil {
		return 0, err
	}
	if descriptor.Present {
		if err := ondisk.RewriteMetadataBlock(buf, descriptor.DescriptorOffset, compactMd1Block, compactMd2Block, int(metadataSize)); err != nil {
			return 0, err
		}
		logVerbose(opts, "corrected encrypted metadata offsets", logrus.Fields{
			"region": regionName, "md1_block": compactMd1Block, "md2_block": compactMd2Block,
		})
	}

	logVerbose(opts, "copying region", logrus.Fields{"region": regionName, "source_offset": sourceOffset, "destination_offset": destinationOffset, "size": len(buf)})
	if err := dst.WriteAt(buf, destinationOffset); err != nil {
		return 0, err
	}
	return uint64(len(buf)), nil
}

// copyRegion copies size bytes from sourceOffset in src to
// destinationOffset in dst in copyBufferSize chunks, polling ctx for
// cancellation between chunks (§5 checkpoint discipline).
func copyRegion(ctx context.Context, src *fvdedevice.Source, dst *fvdedevice.Destination, sourceOffset, destinationOffset, size int64, regionName string, opts Options) (uint64, error) {
	if size == 0 {
		return 0, nil
	}
	logVerbose(opts, "copying region", logrus.Fields{"region": regionName, "source_offset": sourceOffset, "destination_offset": destinationOffset, "size": size})

	buf := make([]byte, copyBufferSize)
	var remaining, copied int64
	remaining = size

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return uint64(copied), fvdeerrors.New(fvdeerrors.AbortRequested, "dump aborted")
		default:
		}

		chunk := int64(copyBufferSize)
		if remaining < chunk {
			chunk = remaining
		}

		if err := src.ReadAt(buf[:chunk], sourceOffset+copied); err != nil {
			return uint64(copied), fvdeerrors.Wrap(fvdeerrors.IoRead, err, "copying "+regionName)
		}
		if err := dst.WriteAt(buf[:chunk], destinationOffset+copied); err != nil {
			return uint64(copied), fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "copying "+regionName)
		}

		remaining -= chunk
		copied += chunk
	}
	return uint64(copied), nil
}

func metadataRegionName(index int) string {
	names := [4]string{"metadata 1", "metadata 2", "metadata 3", "metadata 4"}
	if index < 0 || index >= len(names) {
		return "metadata"
	}
	return names[index]
}

func logVerbose(opts Options, msg string, fields logrus.Fields) {
	if !opts.Verbose {
		return
	}
	logrus.WithFields(fields).Info(msg)
}
