package check

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemication/go-fvde/internal/extentstore"
)

func buildTestState(t *testing.T) *extentstore.State {
	t.Helper()
	state := extentstore.New(4096)

	pv, err := state.AddPhysicalVolume(uuid.New(), 1000)
	require.NoError(t, err)
	lv, err := state.AddLogicalVolume(uuid.New(), 50)
	require.NoError(t, err)

	require.NoError(t, state.MarkReserved(pv, 0, 1, "Volume header"))
	require.NoError(t, state.MarkAllocated(pv, 10, 50, lv, 0, extentstore.Provenance{TransactionID: 7, BlockType: 0x0305}))
	state.RecomputeStatistics()
	return state
}

// P6 — block conversion round-trips when the sector offset is block-aligned.
func TestLinuxSectorBlockConversionRoundTrips(t *testing.T) {
	const blockSize = 4096
	sector := uint64(8 * 1024) // sector*512 = 4194304, a multiple of 4096

	block := LinuxSectorToFVDEBlock(sector, blockSize)
	assert.Equal(t, sector, FVDEBlockToLinuxSector(block, blockSize))
}

func TestLinuxSectorBlockConversionFloors(t *testing.T) {
	const blockSize = 4096
	// sector*512 = 512, not a multiple of 4096: floors to block 0.
	assert.Equal(t, uint64(0), LinuxSectorToFVDEBlock(1, blockSize))
}

func TestParseOrder(t *testing.T) {
	for _, valid := range []string{"ascending", "descending", "physical"} {
		order, err := ParseOrder(valid)
		require.NoError(t, err)
		assert.Equal(t, Order(valid), order)
	}
	_, err := ParseOrder("sideways")
	require.Error(t, err)
}

func TestWriteAllocationSummary(t *testing.T) {
	state := buildTestState(t)
	var buf bytes.Buffer
	require.NoError(t, WriteAllocationSummary(&buf, state))

	output := buf.String()
	assert.Contains(t, output, "reserved=1")
	assert.Contains(t, output, "allocated=50")
	assert.Contains(t, output, "mapped=50")
	assert.Contains(t, output, "unmapped=0")
}

func TestWriteAllocationMapIncludesExtentLines(t *testing.T) {
	state := buildTestState(t)
	var buf bytes.Buffer
	require.NoError(t, WriteAllocationMap(&buf, state, false))

	output := buf.String()
	assert.Contains(t, output, "pv 0: [0, 1) Reserved Volume header")
	assert.Contains(t, output, "pv 0: [10, 60) Allocated lv=0 logical_start=0 transaction=7")
}

func TestWriteAllocationMapTruncatesUnlessVerbose(t *testing.T) {
	state := extentstore.New(4096)
	pv, err := state.AddPhysicalVolume(uuid.New(), 1_000_000)
	require.NoError(t, err)
	for i := 0; i < allocationMapLimit+5; i++ {
		start := uint64(i * 2)
		require.NoError(t, state.MarkFree(pv, start, 1, extentstore.Provenance{}))
	}
	state.RecomputeStatistics()

	var truncated bytes.Buffer
	require.NoError(t, WriteAllocationMap(&truncated, state, false))
	assert.Contains(t, truncated.String(), "5 more extents omitted")

	var full bytes.Buffer
	require.NoError(t, WriteAllocationMap(&full, state, true))
	assert.NotContains(t, full.String(), "omitted")
}

func TestBuildReportAndWriteJSONMatchSchema(t *testing.T) {
	state := buildTestState(t)
	report, err := BuildReport(state, Options{Order: OrderAscending}, ProcessingStats{TransactionsProcessed: 1, MetadataBlocksProcessed: 4}, nil, nil)
	require.NoError(t, err)

	require.Len(t, report.Volume.PhysicalVolumes, 1)
	require.Len(t, report.Volume.LogicalVolumes, 1)
	assert.Equal(t, uint64(1), report.Allocation.Physical["0"].ReservedBlocks)
	assert.Equal(t, uint64(50), report.Allocation.Physical["0"].AllocatedBlocks)
	assert.Equal(t, uint64(50), report.Allocation.Logical["0"].MappedBlocks)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, report))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "volume")
	assert.Contains(t, decoded, "processing")
	assert.Contains(t, decoded, "allocation")
	assert.Contains(t, decoded, "errors")
	assert.Contains(t, decoded, "warnings")
}

func TestWriteLookupReportsReservedAndAllocatedExtents(t *testing.T) {
	state := buildTestState(t)

	var reserved bytes.Buffer
	require.NoError(t, WriteLookup(&reserved, state, 0)) // sector 0 -> block 0 -> header
	assert.Contains(t, reserved.String(), "state=Reserved")
	assert.Contains(t, reserved.String(), "Volume header")

	var allocated bytes.Buffer
	require.NoError(t, WriteLookup(&allocated, state, 10*8)) // block 10
	assert.Contains(t, allocated.String(), "state=Allocated")
	assert.Contains(t, allocated.String(), "lv=0")
}

func TestWriteLookupReportsNoExtentFound(t *testing.T) {
	state := buildTestState(t)
	var buf bytes.Buffer
	require.NoError(t, WriteLookup(&buf, state, 900*8))
	assert.Contains(t, buf.String(), "no extent found")
}
