// Package walker implements the Volume Walker (§4.C): it turns an
// unlocked volume plus decoded on-disk metadata into a populated
// extentstore.State.
package walker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/systemication/go-fvde/internal/extentstore"
	"github.com/systemication/go-fvde/internal/fvdeerrors"
	"github.com/systemication/go-fvde/internal/ondisk"
	"github.com/systemication/go-fvde/internal/unlocker"
)

// segmentDescriptorBlockType is the provenance block-type tag the original
// tool stamps onto every extent it derives from a segment descriptor
// (§4.C step 5).
const segmentDescriptorBlockType = 0x0305

// Input bundles everything the walker needs beyond the Unlocker's own
// output: the decoded volume header (for metadata-slot reservations) and
// the located encrypted-metadata descriptor (for the encrypted-metadata
// reservations), both of which are the caller's responsibility to obtain
// by reading and decoding the source (§4.A).
type Input struct {
	Header            *ondisk.VolumeHeader
	EncryptedMetadata ondisk.EncryptedMetadataDescriptor
}

// Walk populates state from unlocked, following the bootstrap-then-allocate
// sequence of §4.C. It polls ctx for cancellation at the start of each
// logical-volume walk (§5 suspension/checkpoint discipline) and returns
// fvdeerrors.AbortRequested when cancelled.
func Walk(ctx context.Context, state *extentstore.State, unlocked *unlocker.UnlockedVolume, in Input) error {
	blockSize := state.BlockSize
	metadataSize := in.Header.MetadataSize

	for _, pv := range unlocked.PhysicalVolumes {
		pvIndex, err := state.AddPhysicalVolume(pv.Identifier, pv.SizeBytes/uint64(blockSize))
		if err != nil {
			return err
		}
		if err := bootstrapReservations(state, pvIndex, in, blockSize, metadataSize); err != nil {
			return err
		}
	}

	for lvEnumerationIndex, lv := range unlocked.LogicalVolumes {
		if err := checkAbort(ctx); err != nil {
			return err
		}
		if lv.IsLocked {
			logrus.WithField("identifier", lv.Identifier).Warn("skipping logical volume: still locked")
			continue
		}

		lvIndex, err := state.AddLogicalVolume(lv.Identifier, lv.SizeBytes/uint64(blockSize))
		if err != nil {
			return err
		}
		if lvIndex != lvEnumerationIndex {
			logrus.WithFields(logrus.Fields{"expected": lvEnumerationIndex, "actual": lvIndex}).
				Debug("logical volume index diverged from enumeration order")
		}

		for _, desc := range lv.SegmentDescriptors {
			err := state.MarkAllocated(
				desc.PhysicalVolumeIndex,
				desc.PhysicalBlockNumber,
				desc.NumberOfBlocks,
				lvIndex,
				desc.LogicalBlockNumber,
				extentstore.Provenance{
					TransactionID:      0,
					MetadataBlockIndex: 0,
					BlockType:          segmentDescriptorBlockType,
				},
			)
			if err != nil {
				return err
			}
		}
	}

	state.RecomputeStatistics()
	return nil
}

// bootstrapReservations marks the volume header, the four metadata slots,
// and the two encrypted-metadata regions as Reserved on pv. Per the §9
// open question, every metadata-slot reservation is made against physical
// volume 0 regardless of which pv is actually being bootstrapped — this
// preserves the original tool's (likely single-pv-only-correct) behavior
// rather than guessing at the intended multi-pv fix.
func bootstrapReservations(state *extentstore.State, pvIndex int, in Input, blockSize, metadataSize uint32) error {
	if err := state.MarkReserved(pvIndex, 0, 1, "Volume header"); err != nil {
		return err
	}

	metadataBlockCount := uint64(metadataSize) / uint64(blockSize)
	for slot, offset := range in.Header.MetadataOffsets() {
		startBlock := offset / uint64(blockSize)
		if err := state.MarkReserved(0, startBlock, metadataBlockCount, metadataSlotDescription(slot)); err != nil {
			return err
		}
	}

	if in.EncryptedMetadata.Present {
		sizeInBlocks := in.EncryptedMetadata.EncryptedMetadataSizeB / uint64(blockSize)
		if in.EncryptedMetadata.EncryptedMetadata1Offset != 0 {
			startBlock := in.EncryptedMetadata.EncryptedMetadata1Offset / uint64(blockSize)
			if err := state.MarkReserved(0, startBlock, sizeInBlocks, "Encrypted metadata 1"); err != nil {
				return err
			}
		}
		if in.EncryptedMetadata.EncryptedMetadata2Offset != 0 {
			startBlock := in.EncryptedMetadata.EncryptedMetadata2Offset / uint64(blockSize)
			if err := state.MarkReserved(0, startBlock, sizeInBlocks, "Encrypted metadata 2"); err != nil {
				return err
			}
		}
	}

	return nil
}

func metadataSlotDescription(slot int) string {
	names := [4]string{"Metadata block 1", "Metadata block 2", "Metadata block 3", "Metadata block 4"}
	if slot < 0 || slot >= len(names) {
		return "Metadata block"
	}
	return names[slot]
}

func checkAbort(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fvdeerrors.New(fvdeerrors.AbortRequested, "walk aborted")
	default:
		return nil
	}
}
