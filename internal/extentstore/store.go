package extentstore

import (
	"sort"

	"github.com/google/uuid"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// MaxVolumes is the 16-volume cap described in §3/§9; it is a
// simplification the original tool imposes, not an on-disk limit, and may
// be lifted by a future revision without changing the contract.
const MaxVolumes = 16

// DefaultBlockSize is the typical Core Storage block size (§3).
const DefaultBlockSize = 4096

// PhysicalStatistics are the derived per-pv block counts (§3, §4.B
// recompute_statistics).
type PhysicalStatistics struct {
	ReservedBlocks  uint64
	AllocatedBlocks uint64
	FreeBlocks      uint64
}

// LogicalStatistics are the derived per-lv block counts.
type LogicalStatistics struct {
	MappedBlocks   uint64
	UnmappedBlocks uint64
}

// State is the root allocation container (§3 VolumeState).
type State struct {
	PhysicalVolumes []*PhysicalVolume
	LogicalVolumes  []*LogicalVolume
	BlockSize       uint32

	physicalStats []PhysicalStatistics
	logicalStats  []LogicalStatistics
}

// New creates an empty State with the given block size, defaulting to
// DefaultBlockSize when blockSize is zero.
func New(blockSize uint32) *State {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &State{BlockSize: blockSize}
}

// AddPhysicalVolume registers a new physical volume and returns its index.
// Fails with CapacityExceeded once MaxVolumes are already registered.
func (s *State) AddPhysicalVolume(id uuid.UUID, sizeInBlocks uint64) (int, error) {
	if len(s.PhysicalVolumes) >= MaxVolumes {
		return 0, fvdeerrors.New(fvdeerrors.CapacityExceeded, "physical volume capacity exceeded")
	}
	s.PhysicalVolumes = append(s.PhysicalVolumes, &PhysicalVolume{UUID: id, SizeInBlocks: sizeInBlocks})
	s.physicalStats = append(s.physicalStats, PhysicalStatistics{})
	return len(s.PhysicalVolumes) - 1, nil
}

// AddLogicalVolume registers a new logical volume and returns its index.
// Fails with CapacityExceeded once MaxVolumes are already registered.
func (s *State) AddLogicalVolume(id uuid.UUID, sizeInBlocks uint64) (int, error) {
	if len(s.LogicalVolumes) >= MaxVolumes {
		return 0, fvdeerrors.New(fvdeerrors.CapacityExceeded, "logical volume capacity exceeded")
	}
	s.LogicalVolumes = append(s.LogicalVolumes, &LogicalVolume{UUID: id, SizeInBlocks: sizeInBlocks})
	s.logicalStats = append(s.logicalStats, LogicalStatistics{})
	return len(s.LogicalVolumes) - 1, nil
}

func (s *State) physicalVolume(pv int) (*PhysicalVolume, error) {
	if pv < 0 || pv >= len(s.PhysicalVolumes) {
		return nil, fvdeerrors.New(fvdeerrors.InvalidArgument, "physical volume index out of bounds")
	}
	return s.PhysicalVolumes[pv], nil
}

func (s *State) logicalVolume(lv int) (*LogicalVolume, error) {
	if lv < 0 || lv >= len(s.LogicalVolumes) {
		return nil, fvdeerrors.New(fvdeerrors.InvalidArgument, "logical volume index out of bounds")
	}
	return s.LogicalVolumes[lv], nil
}

// insertPhysical inserts extent into pv.extents, keeping the list strictly
// sorted ascending by PhysicalBlockStart with stable append on equal keys
// (§4.B ordering discipline).
func insertPhysical(pv *PhysicalVolume, extent *Extent) {
	index := sort.Search(len(pv.extents), func(i int) bool {
		return pv.extents[i].PhysicalBlockStart > extent.PhysicalBlockStart
	})
	pv.extents = append(pv.extents, nil)
	copy(pv.extents[index+1:], pv.extents[index:])
	pv.extents[index] = extent
}

// insertLogical inserts extent into lv.extents, keeping the list strictly
// sorted ascending by LogicalBlockStart with stable append on equal keys.
func insertLogical(lv *LogicalVolume, extent *Extent) {
	index := sort.Search(len(lv.extents), func(i int) bool {
		return lv.extents[i].LogicalBlockStart > extent.LogicalBlockStart
	})
	lv.extents = append(lv.extents, nil)
	copy(lv.extents[index+1:], lv.extents[index:])
	lv.extents[index] = extent
}

// MarkReserved inserts a Reserved extent into pv's extent list. Per §4.B
// this does not check for overlap with existing extents; it is used only
// during bootstrap against volumes the walker already trusts.
func (s *State) MarkReserved(pv int, start, count uint64, description string) error {
	volume, err := s.physicalVolume(pv)
	if err != nil {
		return err
	}
	if count == 0 {
		return fvdeerrors.New(fvdeerrors.InvalidArgument, "reserved extent must have phys_count > 0")
	}
	insertPhysical(volume, &Extent{
		State:               StateReserved,
		PhysicalVolumeIndex: pv,
		PhysicalBlockStart:  start,
		PhysicalBlockCount:  count,
		ReservedDescription: description,
	})
	return nil
}

// MarkFree inserts a Free extent into pv's extent list.
func (s *State) MarkFree(pv int, start, count uint64, provenance Provenance) error {
	volume, err := s.physicalVolume(pv)
	if err != nil {
		return err
	}
	if count == 0 {
		return fvdeerrors.New(fvdeerrors.InvalidArgument, "free extent must have phys_count > 0")
	}
	insertPhysical(volume, &Extent{
		State:               StateFree,
		PhysicalVolumeIndex: pv,
		PhysicalBlockStart:  start,
		PhysicalBlockCount:  count,
		Provenance:          provenance,
	})
	return nil
}

// MarkAllocated inserts an Allocated extent into both pv's and lv's extent
// lists (§3 I3: the same extent record appears in both).
func (s *State) MarkAllocated(pv int, physStart, count uint64, lv int, logicalStart uint64, provenance Provenance) error {
	physicalVolume, err := s.physicalVolume(pv)
	if err != nil {
		return err
	}
	logicalVolume, err := s.logicalVolume(lv)
	if err != nil {
		return err
	}
	if count == 0 {
		return fvdeerrors.New(fvdeerrors.InvalidArgument, "allocated extent must have phys_count > 0")
	}

	extent := &Extent{
		State:               StateAllocated,
		PhysicalVolumeIndex: pv,
		PhysicalBlockStart:  physStart,
		PhysicalBlockCount:  count,
		LogicalVolumeIndex:  lv,
		LogicalBlockStart:   logicalStart,
		Provenance:          provenance,
	}
	insertPhysical(physicalVolume, extent)
	insertLogical(logicalVolume, extent)
	return nil
}

// FindPhysicalExtent returns the extent whose physical range contains
// blockNumber, or nil if none does (P3). The pv list is sorted, so the
// scan stops as soon as an extent starts past blockNumber.
func (s *State) FindPhysicalExtent(pv int, blockNumber uint64) *Extent {
	volume, err := s.physicalVolume(pv)
	if err != nil {
		return nil
	}
	for _, extent := range volume.extents {
		if blockNumber >= extent.PhysicalBlockStart && blockNumber < extent.physicalEnd() {
			return extent
		}
		if extent.PhysicalBlockStart > blockNumber {
			break
		}
	}
	return nil
}

// FindLogicalExtent returns the extent whose logical range contains
// blockNumber, or nil if none does. The logical length of an Allocated
// extent equals its physical length (PhysicalBlockCount).
func (s *State) FindLogicalExtent(lv int, blockNumber uint64) *Extent {
	volume, err := s.logicalVolume(lv)
	if err != nil {
		return nil
	}
	for _, extent := range volume.extents {
		if blockNumber >= extent.LogicalBlockStart && blockNumber < extent.logicalEnd() {
			return extent
		}
		if extent.LogicalBlockStart > blockNumber {
			break
		}
	}
	return nil
}

// CheckOverlap returns the first extent in pv whose physical range
// intersects [start, start+count), or nil if none does (P2). The pv list
// is sorted, so the scan stops once an extent starts at or past the
// queried range's end.
func (s *State) CheckOverlap(pv int, start, count uint64) *Extent {
	volume, err := s.physicalVolume(pv)
	if err != nil {
		return nil
	}
	end := start + count
	for _, extent := range volume.extents {
		currentEnd := extent.physicalEnd()
		if start < currentEnd && extent.PhysicalBlockStart < end {
			return extent
		}
		if extent.PhysicalBlockStart >= end {
			break
		}
	}
	return nil
}

// RecomputeStatistics derives per-pv reserved/allocated/free totals and
// per-lv mapped/unmapped totals purely from the extent lists (I5, P5).
func (s *State) RecomputeStatistics() {
	physicalStats := make([]PhysicalStatistics, len(s.PhysicalVolumes))
	for i, volume := range s.PhysicalVolumes {
		var stats PhysicalStatistics
		for _, extent := range volume.extents {
			switch extent.State {
			case StateReserved:
				stats.ReservedBlocks += extent.PhysicalBlockCount
			case StateAllocated:
				stats.AllocatedBlocks += extent.PhysicalBlockCount
			case StateFree:
				stats.FreeBlocks += extent.PhysicalBlockCount
			}
		}
		physicalStats[i] = stats
	}

	logicalStats := make([]LogicalStatistics, len(s.LogicalVolumes))
	for i, volume := range s.LogicalVolumes {
		var mapped uint64
		for _, extent := range volume.extents {
			mapped += extent.PhysicalBlockCount
		}
		unmapped := uint64(0)
		if volume.SizeInBlocks > mapped {
			unmapped = volume.SizeInBlocks - mapped
		}
		logicalStats[i] = LogicalStatistics{MappedBlocks: mapped, UnmappedBlocks: unmapped}
	}

	s.physicalStats = physicalStats
	s.logicalStats = logicalStats
}

// PhysicalStats returns the last computed statistics for pv. Call
// RecomputeStatistics first to ensure they reflect the current extent
// lists.
func (s *State) PhysicalStats(pv int) (PhysicalStatistics, error) {
	if pv < 0 || pv >= len(s.physicalStats) {
		return PhysicalStatistics{}, fvdeerrors.New(fvdeerrors.InvalidArgument, "physical volume index out of bounds")
	}
	return s.physicalStats[pv], nil
}

// LogicalStats returns the last computed statistics for lv.
func (s *State) LogicalStats(lv int) (LogicalStatistics, error) {
	if lv < 0 || lv >= len(s.logicalStats) {
		return LogicalStatistics{}, fvdeerrors.New(fvdeerrors.InvalidArgument, "logical volume index out of bounds")
	}
	return s.logicalStats[lv], nil
}

// PhysicalExtents returns the extent list for pv in ascending
// PhysicalBlockStart order, for callers that need to walk the whole list
// (e.g. allocation-map reports).
func (s *State) PhysicalExtents(pv int) ([]*Extent, error) {
	volume, err := s.physicalVolume(pv)
	if err != nil {
		return nil, err
	}
	return volume.extents, nil
}

// LogicalExtents returns the extent list for lv in ascending
// LogicalBlockStart order.
func (s *State) LogicalExtents(lv int) ([]*Extent, error) {
	volume, err := s.logicalVolume(lv)
	if err != nil {
		return nil, err
	}
	return volume.extents, nil
}
