package check

import (
	"fmt"
	"io"

	"github.com/systemication/go-fvde/internal/extentstore"
	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// linuxSectorSize is the fixed 512-byte sector size dmsetup/device-mapper
// and the kernel block layer use regardless of the underlying FVDE block
// size (§6.6).
const linuxSectorSize = 512

// LinuxSectorToFVDEBlock converts a 512-byte Linux sector number to the
// FVDE block number that contains it, flooring when sector*512 is not a
// multiple of blockSize (P6).
func LinuxSectorToFVDEBlock(sector uint64, blockSize uint32) uint64 {
	return (sector * linuxSectorSize) / uint64(blockSize)
}

// FVDEBlockToLinuxSector converts an FVDE block number back to the first
// Linux sector it covers. Composed with LinuxSectorToFVDEBlock, this
// round-trips exactly when sector*512 is a multiple of blockSize (P6).
func FVDEBlockToLinuxSector(block uint64, blockSize uint32) uint64 {
	return (block * uint64(blockSize)) / linuxSectorSize
}

// WriteLookup resolves sector against pv 0 of state and writes the
// extent's state, its reserved description or allocated provenance, and
// its containing range in both physical and (if allocated) logical
// address space (§6.6 --lookup-linux-sector).
func WriteLookup(w io.Writer, state *extentstore.State, sector uint64) error {
	block := LinuxSectorToFVDEBlock(sector, state.BlockSize)

	extent := state.FindPhysicalExtent(0, block)
	if extent == nil {
		_, err := fmt.Fprintf(w, "linux sector %d (fvde block %d): no extent found on pv 0\n", sector, block)
		if err != nil {
			return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing lookup result")
		}
		return nil
	}

	if _, err := fmt.Fprintf(w, "linux sector %d (fvde block %d): state=%s physical=[%d, %d)\n",
		sector, block, extent.State, extent.PhysicalBlockStart, extent.PhysicalBlockStart+extent.PhysicalBlockCount); err != nil {
		return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing lookup result")
	}

	switch extent.State {
	case extentstore.StateReserved:
		if _, err := fmt.Fprintf(w, "  reserved: %s\n", extent.ReservedDescription); err != nil {
			return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing lookup result")
		}
	case extentstore.StateAllocated:
		logicalEnd := extent.LogicalBlockStart + extent.PhysicalBlockCount
		if _, err := fmt.Fprintf(w, "  lv=%d logical=[%d, %d) transaction=%d block_type=0x%04x\n",
			extent.LogicalVolumeIndex, extent.LogicalBlockStart, logicalEnd,
			extent.Provenance.TransactionID, extent.Provenance.BlockType); err != nil {
			return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing lookup result")
		}
	}
	return nil
}
