// Package fixtures provides an in-memory unlocker.Unlocker test double,
// the same role the teacher's internal/interfaces.BlockDevice mocks play
// in its own tests: it hands back a canned UnlockedVolume, so code that
// consumes the Unlocker contract can be exercised without a real FVDE
// unlock.
package fixtures

import (
	"context"

	"github.com/systemication/go-fvde/internal/unlocker"
)

// StubUnlocker returns a fixed UnlockedVolume regardless of credentials,
// or Err if set.
type StubUnlocker struct {
	Volume *unlocker.UnlockedVolume
	Err    error

	// Calls records every Unlock invocation for assertions.
	Calls []StubUnlockerCall
}

// StubUnlockerCall captures the arguments of one Unlock call.
type StubUnlockerCall struct {
	SourcePaths  []string
	VolumeOffset uint64
	Credentials  unlocker.Credentials
}

func (s *StubUnlocker) Unlock(ctx context.Context, sourcePaths []string, volumeOffset uint64, creds unlocker.Credentials) (*unlocker.UnlockedVolume, error) {
	s.Calls = append(s.Calls, StubUnlockerCall{SourcePaths: sourcePaths, VolumeOffset: volumeOffset, Credentials: creds})
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Volume, nil
}

// SingleVolumeFixture builds a minimal one-pv, one-lv UnlockedVolume with a
// single segment descriptor mapping the whole logical volume onto a
// contiguous physical range starting at physicalStart.
func SingleVolumeFixture(pvUUID, lvUUID [16]byte, blockSize uint32, sizeInBlocks, physicalStart uint64) *unlocker.UnlockedVolume {
	pv := unlocker.UnlockedPhysicalVolume{
		Identifier:   pvUUID,
		SizeBytes:    sizeInBlocks * uint64(blockSize),
		BlockSize:    blockSize,
		MetadataSize: 8192,
	}
	lv := unlocker.UnlockedLogicalVolume{
		Identifier: lvUUID,
		UTF8Name:   "Data",
		SizeBytes:  sizeInBlocks * uint64(blockSize),
		SegmentDescriptors: []unlocker.SegmentDescriptor{
			{
				PhysicalVolumeIndex: 0,
				PhysicalBlockNumber: physicalStart,
				NumberOfBlocks:      sizeInBlocks,
				LogicalBlockNumber:  0,
			},
		},
	}
	return &unlocker.UnlockedVolume{
		PhysicalVolumes: []unlocker.UnlockedPhysicalVolume{pv},
		LogicalVolumes:  []unlocker.UnlockedLogicalVolume{lv},
	}
}
