// Package check implements §6.6's three report forms over a populated
// extentstore.State — allocation-summary, allocation-map, and JSON — plus
// the Linux-sector-to-FVDE-block lookup conversion. It also carries the
// --order/--stop-at-block/--stop-at-transaction option surface described
// in §9's "processing-order and stop-at options" open question: parsed
// and stored, never consulted by the walk itself.
package check

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/systemication/go-fvde/internal/extentstore"
	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// allocationMapLimit is the number of extent lines an allocation-map
// report prints before truncating, unless Verbose is set (§4 supplemented
// features: "check's allocation-map truncation at 1000 lines unless
// verbose").
const allocationMapLimit = 1000

// Order is the --order flag's value. The walker that populates the
// extentstore.State this package reports on always processes volumes in
// volume-group enumeration order; Order is parsed and threaded through to
// Options for forward compatibility, but a reimplementation that wants it
// honored needs to change the walker, not this package (§9).
type Order string

const (
	OrderAscending  Order = "ascending"
	OrderDescending Order = "descending"
	OrderPhysical   Order = "physical"
)

// ParseOrder validates s against the three known --order values.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderAscending, OrderDescending, OrderPhysical:
		return Order(s), nil
	default:
		return "", fvdeerrors.New(fvdeerrors.UnsupportedValue, "unsupported processing order")
	}
}

// Options bundles the check command's report-shaping flags.
type Options struct {
	Order                Order
	StopAtBlock          uint64
	StopAtTransactionID  uint64
	HasStopAtBlock       bool
	HasStopAtTransaction bool
	Verbose              bool
	JSON                 bool
	AllocationMap        bool
	LookupLinuxSector    uint64
	HasLookup            bool
}

// Report is the root JSON document shape fixed by §6.6.
type Report struct {
	Volume     VolumeSection     `json:"volume"`
	Processing ProcessingSection `json:"processing"`
	Allocation AllocationSection `json:"allocation"`
	Errors     []string          `json:"errors"`
	Warnings   []string          `json:"warnings"`
}

// VolumeSection lists the volume group's physical and logical volumes by
// UUID string.
type VolumeSection struct {
	PhysicalVolumes []string `json:"physical_volumes"`
	LogicalVolumes  []string `json:"logical_volumes"`
}

// ProcessingSection records what order the walk ran in and how much of
// the metadata it consumed.
type ProcessingSection struct {
	Order                   Order  `json:"order"`
	TransactionsProcessed   uint64 `json:"transactions_processed"`
	MetadataBlocksProcessed uint64 `json:"metadata_blocks_processed"`
}

// PhysicalAllocation is one pv's block-count breakdown.
type PhysicalAllocation struct {
	ReservedBlocks  uint64 `json:"reserved_blocks"`
	AllocatedBlocks uint64 `json:"allocated_blocks"`
	FreeBlocks      uint64 `json:"free_blocks"`
}

// LogicalAllocation is one lv's block-count breakdown.
type LogicalAllocation struct {
	MappedBlocks   uint64 `json:"mapped_blocks"`
	UnmappedBlocks uint64 `json:"unmapped_blocks"`
}

// AllocationSection indexes each volume's allocation breakdown by its
// decimal index, per §6.6's `{idx: {...}}` schema.
type AllocationSection struct {
	Physical map[string]PhysicalAllocation `json:"physical"`
	Logical  map[string]LogicalAllocation  `json:"logical"`
}

// ProcessingStats is what the walker (or a caller wrapping it) reports
// back about what it actually processed, independent of the final
// allocation totals.
type ProcessingStats struct {
	TransactionsProcessed   uint64
	MetadataBlocksProcessed uint64
}

// BuildReport assembles the full JSON-schema report from state. Call
// state.RecomputeStatistics() first if the extent lists changed since the
// last recompute.
func BuildReport(state *extentstore.State, opts Options, stats ProcessingStats, errs, warnings []string) (Report, error) {
	report := Report{
		Processing: ProcessingSection{
			Order:                   opts.Order,
			TransactionsProcessed:   stats.TransactionsProcessed,
			MetadataBlocksProcessed: stats.MetadataBlocksProcessed,
		},
		Allocation: AllocationSection{
			Physical: make(map[string]PhysicalAllocation, len(state.PhysicalVolumes)),
			Logical:  make(map[string]LogicalAllocation, len(state.LogicalVolumes)),
		},
		Errors:   errs,
		Warnings: warnings,
	}

	for i, pv := range state.PhysicalVolumes {
		report.Volume.PhysicalVolumes = append(report.Volume.PhysicalVolumes, pv.UUID.String())
		physStats, err := state.PhysicalStats(i)
		if err != nil {
			return Report{}, err
		}
		report.Allocation.Physical[fmt.Sprint(i)] = PhysicalAllocation{
			ReservedBlocks:  physStats.ReservedBlocks,
			AllocatedBlocks: physStats.AllocatedBlocks,
			FreeBlocks:      physStats.FreeBlocks,
		}
	}

	for i, lv := range state.LogicalVolumes {
		report.Volume.LogicalVolumes = append(report.Volume.LogicalVolumes, lv.UUID.String())
		logStats, err := state.LogicalStats(i)
		if err != nil {
			return Report{}, err
		}
		report.Allocation.Logical[fmt.Sprint(i)] = LogicalAllocation{
			MappedBlocks:   logStats.MappedBlocks,
			UnmappedBlocks: logStats.UnmappedBlocks,
		}
	}

	return report, nil
}

// WriteJSON encodes report to w as indented JSON, matching the schema
// fixed by §6.6.
func WriteJSON(w io.Writer, report Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "encoding check report")
	}
	return nil
}

// WriteAllocationSummary writes the default human-readable report: one
// line per physical and logical volume giving its block-count breakdown.
func WriteAllocationSummary(w io.Writer, state *extentstore.State) error {
	for i, pv := range state.PhysicalVolumes {
		stats, err := state.PhysicalStats(i)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "pv %d (%s): reserved=%d allocated=%d free=%d\n",
			i, pv.UUID, stats.ReservedBlocks, stats.AllocatedBlocks, stats.FreeBlocks); err != nil {
			return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing allocation summary")
		}
	}
	for i, lv := range state.LogicalVolumes {
		stats, err := state.LogicalStats(i)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "lv %d (%s): mapped=%d unmapped=%d\n",
			i, lv.UUID, stats.MappedBlocks, stats.UnmappedBlocks); err != nil {
			return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing allocation summary")
		}
	}
	return nil
}

// WriteAllocationMap writes the allocation-summary plus one line per
// extent of every physical volume, truncated to allocationMapLimit
// unless verbose is set.
func WriteAllocationMap(w io.Writer, state *extentstore.State, verbose bool) error {
	if err := WriteAllocationSummary(w, state); err != nil {
		return err
	}

	var printed, omitted int
	for i := range state.PhysicalVolumes {
		extents, err := state.PhysicalExtents(i)
		if err != nil {
			return err
		}
		for _, extent := range extents {
			if !verbose && printed >= allocationMapLimit {
				omitted++
				continue
			}
			if _, err := fmt.Fprintf(w, "pv %d: [%d, %d) %s%s\n",
				i, extent.PhysicalBlockStart, extent.PhysicalBlockStart+extent.PhysicalBlockCount,
				extent.State, extentDetail(extent)); err != nil {
				return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing allocation map")
			}
			printed++
		}
	}
	if omitted > 0 {
		if _, err := fmt.Fprintf(w, "... %d more extents omitted, pass --verbose to see all\n", omitted); err != nil {
			return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing allocation map")
		}
	}
	return nil
}

func extentDetail(extent *extentstore.Extent) string {
	switch extent.State {
	case extentstore.StateReserved:
		return " " + extent.ReservedDescription
	case extentstore.StateAllocated:
		return fmt.Sprintf(" lv=%d logical_start=%d transaction=%d",
			extent.LogicalVolumeIndex, extent.LogicalBlockStart, extent.Provenance.TransactionID)
	default:
		return ""
	}
}
