package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/systemication/go-fvde/internal/check"
	"github.com/systemication/go-fvde/internal/extentstore"
	"github.com/systemication/go-fvde/internal/fvdedevice"
	"github.com/systemication/go-fvde/internal/ondisk"
	"github.com/systemication/go-fvde/internal/walker"
)

var checkCreds credentialFlags

var (
	checkSources           []string
	checkVolumeOffset      uint64
	checkOrder             string
	checkStopAtBlock       uint64
	checkHasStopAtBlock    bool
	checkStopAtTransaction uint64
	checkHasStopAtTxn      bool
	checkJSON              bool
	checkAllocationMap     bool
	checkLookupLinuxSector uint64
	checkHasLookup         bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Walk a volume group's allocation state and report invariant violations",
	Long: `check unlocks a volume group, walks every logical volume's segment
descriptors, projects them onto the physical address space, and reports
the resulting allocation state: a human-readable summary (default), a
per-extent allocation map (--allocation-map), a JSON report (--json), or
a single block lookup (--lookup-linux-sector) (§6.6).

--order, --stop-at-block, and --stop-at-transaction are accepted for
compatibility with the original tool's option surface; this core always
walks every logical volume to completion in enumeration order before
reporting, so they do not change what gets walked. Only --order is
recorded, in the JSON report's processing section.`,
	RunE: runCheck,
}

func init() {
	checkCreds.register(checkCmd)
	checkCmd.Flags().StringSliceVar(&checkSources, "source", nil, "physical volume source path(s) (file or block device)")
	checkCmd.Flags().Uint64Var(&checkVolumeOffset, "volume-offset", 0, "byte offset of the Core Storage volume header within the source")
	checkCmd.Flags().StringVar(&checkOrder, "order", "ascending", "processing order: ascending, descending, or physical")
	checkCmd.Flags().Uint64Var(&checkStopAtBlock, "stop-at-block", 0, "stop processing at this physical block number")
	checkCmd.Flags().Uint64Var(&checkStopAtTransaction, "stop-at-transaction", 0, "stop processing at this transaction ID")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "emit a JSON report instead of the human-readable summary")
	checkCmd.Flags().BoolVar(&checkAllocationMap, "allocation-map", false, "include a per-extent allocation map in the human-readable report")
	checkCmd.Flags().Uint64Var(&checkLookupLinuxSector, "lookup-linux-sector", 0, "report which extent owns the FVDE block a given Linux sector maps to, instead of a full report")
	checkCmd.MarkFlagRequired("source")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	checkHasStopAtBlock = cmd.Flags().Changed("stop-at-block")
	checkHasStopAtTxn = cmd.Flags().Changed("stop-at-transaction")
	checkHasLookup = cmd.Flags().Changed("lookup-linux-sector")

	order, err := check.ParseOrder(checkOrder)
	if err != nil {
		return err
	}

	unlocked, err := activeUnlocker.Unlock(ctx, checkSources, checkVolumeOffset, checkCreds.credentials())
	if err != nil {
		return err
	}

	src, err := fvdedevice.OpenSource(checkSources[0], int64(checkVolumeOffset))
	if err != nil {
		return err
	}
	defer src.Close()

	headerBuf := make([]byte, ondisk.VolumeHeaderSize)
	if err := src.ReadAt(headerBuf, 0); err != nil {
		return err
	}
	header, err := ondisk.DecodeVolumeHeader(headerBuf)
	if err != nil {
		return err
	}

	metadataBuf := make([]byte, header.MetadataSize)
	if err := src.ReadAt(metadataBuf, int64(header.MetadataOffsets()[0])); err != nil {
		return err
	}
	encryptedMetadata, err := ondisk.LocateEncryptedMetadata(metadataBuf, header.BlockSize)
	if err != nil {
		return err
	}

	blockSize := header.BlockSize
	if blockSize == 0 {
		blockSize = 4096
	}
	state := extentstore.New(blockSize)

	var walkErrors, walkWarnings []string
	if err := walker.Walk(ctx, state, unlocked, walker.Input{Header: header, EncryptedMetadata: encryptedMetadata}); err != nil {
		walkErrors = append(walkErrors, err.Error())
	}

	opts := check.Options{
		Order:                 order,
		StopAtBlock:           checkStopAtBlock,
		HasStopAtBlock:        checkHasStopAtBlock,
		StopAtTransactionID:   checkStopAtTransaction,
		HasStopAtTransaction:  checkHasStopAtTxn,
		Verbose:               verbose,
		JSON:                  checkJSON,
		AllocationMap:         checkAllocationMap,
		LookupLinuxSector:     checkLookupLinuxSector,
		HasLookup:             checkHasLookup,
	}

	if opts.HasLookup {
		return check.WriteLookup(os.Stdout, state, opts.LookupLinuxSector)
	}

	if opts.JSON {
		report, err := check.BuildReport(state, opts, check.ProcessingStats{
			TransactionsProcessed:   uint64(len(unlocked.LogicalVolumes)),
			MetadataBlocksProcessed: 4,
		}, walkErrors, walkWarnings)
		if err != nil {
			return err
		}
		return check.WriteJSON(os.Stdout, report)
	}

	if opts.AllocationMap {
		return check.WriteAllocationMap(os.Stdout, state, opts.Verbose)
	}
	return check.WriteAllocationSummary(os.Stdout, state)
}
