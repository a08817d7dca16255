// Package unlocker defines the contract consumed from the FVDE unlocker
// (spec §6.1). Deriving the volume master key from user credentials is out
// of scope for this core (§1); callers inject an Unlocker implementation
// and this module only consumes its output.
package unlocker

import (
	"context"

	"github.com/google/uuid"
)

// Credentials is the union of ways a caller may authenticate to an
// unlocker; exactly which fields are populated is up to the caller.
type Credentials struct {
	Password               string
	RecoveryPassword       string
	RawMasterKeyHex        string // 32 hex characters -> 16 bytes
	EncryptedRootPlistPath string
}

// SegmentDescriptor maps a contiguous logical range onto a contiguous
// physical range within one physical volume (§3 SegmentDescriptor).
type SegmentDescriptor struct {
	PhysicalVolumeIndex int
	PhysicalBlockNumber uint64
	NumberOfBlocks      uint64
	LogicalBlockNumber  uint64
}

// UnlockedLogicalVolume is the per-logical-volume output of a successful
// unlock (§6.1).
type UnlockedLogicalVolume struct {
	IsLocked           bool
	Identifier         uuid.UUID
	UTF8Name           string
	SizeBytes          uint64
	VolumeMasterKey    [16]byte
	VolumeTweakKey     [32]byte
	SegmentDescriptors []SegmentDescriptor
}

// Zero overwrites the key material with zeroes. Callers must call this as
// soon as the keys are no longer needed (§5 key-material lifetime).
func (v *UnlockedLogicalVolume) Zero() {
	for i := range v.VolumeMasterKey {
		v.VolumeMasterKey[i] = 0
	}
	for i := range v.VolumeTweakKey {
		v.VolumeTweakKey[i] = 0
	}
}

// UnlockedPhysicalVolume describes one physical volume within the opened
// volume group.
type UnlockedPhysicalVolume struct {
	Identifier   uuid.UUID
	SizeBytes    uint64
	BlockSize    uint32
	MetadataSize uint32
}

// UnlockedVolume is the full result of opening a source and unlocking its
// logical volumes.
type UnlockedVolume struct {
	PhysicalVolumes []UnlockedPhysicalVolume
	LogicalVolumes  []UnlockedLogicalVolume
}

// Unlocker is the external contract this core consumes (§6.1). A real
// implementation derives the volume master key from the supplied
// credentials; this module never does so itself.
type Unlocker interface {
	// Unlock opens sourcePaths at volumeOffset and attempts to unlock every
	// logical volume in the resulting volume group using creds.
	Unlock(ctx context.Context, sourcePaths []string, volumeOffset uint64, creds Credentials) (*UnlockedVolume, error)
}
