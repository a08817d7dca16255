package cmd

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/systemication/go-fvde/internal/dmsetup"
	"github.com/systemication/go-fvde/internal/fvdeerrors"
	"github.com/systemication/go-fvde/internal/unlocker"
)

var dmsetupCreds credentialFlags

var (
	dmsetupSources        []string
	dmsetupVolumeOffset   uint64
	dmsetupMapperName     string
	dmsetupShell          bool
	dmsetupKeyringID      string
	dmsetupStoreInKeyring bool
)

var dmsetupCmd = &cobra.Command{
	Use:   "dmsetup",
	Short: "Emit a dm-crypt table entry for every unlocked logical volume",
	Long: `dmsetup derives the per-logical-volume AES-XTS key material after
unlock and prints a Linux device-mapper "crypt" table line that maps
decrypted reads of the logical volume back onto the physical device
(§6.3). The table line references the key by its kernel-keyring
description; with --store-in-keyring the command also adds the combined
key to the kernel keyring under that description.`,
	RunE: runDmsetup,
}

func init() {
	dmsetupCreds.register(dmsetupCmd)
	dmsetupCmd.Flags().StringSliceVar(&dmsetupSources, "source", nil, "physical volume source path(s) (file or block device)")
	dmsetupCmd.Flags().Uint64Var(&dmsetupVolumeOffset, "volume-offset", 0, "byte offset of the Core Storage volume header within the source")
	dmsetupCmd.Flags().StringVar(&dmsetupMapperName, "mapper-name", "", "device-mapper name prefix (defaults to the logical volume's name, then the configured default)")
	dmsetupCmd.Flags().BoolVar(&dmsetupShell, "shell", false, "wrap each table line as an `echo ... | dmsetup create` command")
	dmsetupCmd.Flags().StringVar(&dmsetupKeyringID, "keyring-id", "", "target keyring for --store-in-keyring: @s, @u, @us, or a numeric serial (default @s)")
	dmsetupCmd.Flags().BoolVar(&dmsetupStoreInKeyring, "store-in-keyring", false, "stage the combined key in the kernel keyring instead of relying on the table line alone")
	dmsetupCmd.MarkFlagRequired("source")
}

func runDmsetup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	unlocked, err := activeUnlocker.Unlock(ctx, dmsetupSources, dmsetupVolumeOffset, dmsetupCreds.credentials())
	if err != nil {
		return fvdeerrors.Wrap(fvdeerrors.InvalidArgument, err, "unlocking volume group")
	}

	keyringID, err := dmsetup.ResolveKeyringID(dmsetupKeyringID)
	if err != nil {
		return err
	}

	defaultMapperName := "fvde"
	if config != nil && config.DefaultMapperName != "" {
		defaultMapperName = config.DefaultMapperName
	}

	for i := range unlocked.LogicalVolumes {
		lv := &unlocked.LogicalVolumes[i]
		if lv.IsLocked {
			logrus.WithField("identifier", lv.Identifier).Warn("skipping logical volume: still locked")
			continue
		}

		mapperName := dmsetupMapperName
		if mapperName == "" {
			mapperName = lv.UTF8Name
		}
		if mapperName == "" {
			mapperName = defaultMapperName
		}

		entry := dmsetup.TableEntry{
			VolumeUUID:        lv.Identifier,
			VolumeSizeInBytes: lv.SizeBytes,
			SourcePath:        dmsetupSources[0],
			VolumeOffsetBytes: dmsetupVolumeOffset,
			MapperName:        mapperName,
			VolumeIndex:       i + 1,
		}

		if err := dmsetup.WriteTableEntry(os.Stdout, entry, dmsetupShell); err != nil {
			lv.Zero()
			return err
		}

		if dmsetupStoreInKeyring {
			if err := storeKeyInKeyring(lv, entry.VolumeUUID.String(), keyringID); err != nil {
				lv.Zero()
				return err
			}
		}
		lv.Zero()
	}

	return nil
}

// storeKeyInKeyring combines lv's master and tweak keys and stages them
// under dm-crypt's expected "fvde:<uuid>" description (§6.4). It always
// zeroes the combined key before returning via dmsetup.AddKeyToKeyring's
// own deferred cleanup.
func storeKeyInKeyring(lv *unlocker.UnlockedLogicalVolume, volumeUUID string, keyringID int) error {
	combined, err := dmsetup.CombinedKey(lv.VolumeMasterKey[:], lv.VolumeTweakKey[:])
	if err != nil {
		return err
	}

	keyID, err := dmsetup.AddKeyToKeyring(combined, volumeUUID, keyringID, verbose)
	if err != nil {
		return err
	}
	logrus.WithField("key_id", keyID).Info("staged key in kernel keyring")
	return nil
}
