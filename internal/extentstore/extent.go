// Package extentstore implements the in-memory allocation state described
// in spec §4.B: physical and logical volumes, their sorted extent lists,
// overlap/lookup queries, and derived statistics.
package extentstore

import "github.com/google/uuid"

// ExtentState identifies which of the four extent variants a record carries
// (§3 Extent).
type ExtentState int

const (
	StateUnknown ExtentState = iota
	StateFree
	StateAllocated
	StateReserved
)

func (s ExtentState) String() string {
	switch s {
	case StateFree:
		return "Free"
	case StateAllocated:
		return "Allocated"
	case StateReserved:
		return "Reserved"
	default:
		return "Unknown"
	}
}

// Provenance is optional reporting metadata; per §3 it MUST NOT affect
// correctness checks.
type Provenance struct {
	TransactionID       uint64
	MetadataBlockIndex  uint32
	BlockType           uint16
}

// Extent is the unit of allocation (§3). Only the fields relevant to
// State are meaningful; e.g. LogicalVolumeIndex/LogicalBlockStart are
// unset for Free and Reserved extents.
type Extent struct {
	State ExtentState

	PhysicalVolumeIndex int
	PhysicalBlockStart  uint64
	PhysicalBlockCount  uint64

	LogicalVolumeIndex int
	LogicalBlockStart  uint64

	ReservedDescription string
	Provenance          Provenance
}

// physicalEnd returns the exclusive end of the extent's physical range.
func (e *Extent) physicalEnd() uint64 {
	return e.PhysicalBlockStart + e.PhysicalBlockCount
}

func (e *Extent) logicalEnd() uint64 {
	return e.LogicalBlockStart + e.PhysicalBlockCount
}

// PhysicalVolume is an indexed, block-addressable container (§3).
type PhysicalVolume struct {
	UUID         uuid.UUID
	SizeInBlocks uint64

	// extents is kept strictly sorted ascending by PhysicalBlockStart;
	// extents inserted at an equal start key are appended after existing
	// ones (stable append), matching the original list-insertion order.
	extents []*Extent
}

// LogicalVolume is a user-visible volume built from segment descriptors
// (§3).
type LogicalVolume struct {
	UUID         uuid.UUID
	SizeInBlocks uint64

	// extents is kept strictly sorted ascending by LogicalBlockStart, all
	// of State Allocated.
	extents []*Extent
}
