package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
	"github.com/systemication/go-fvde/internal/unlocker"
)

// credentialFlags holds the --password/--recovery-password/
// --encrypted-root-plist/--raw-master-key flags shared by every
// subcommand that needs an unlocked volume. Registering them only
// populates an unlocker.Credentials value; deriving a volume master key
// from it is out of scope for this tool (§1) and is left to whatever
// unlocker.Unlocker the caller injects via SetUnlocker.
type credentialFlags struct {
	password               string
	recoveryPassword       string
	rawMasterKeyHex        string
	encryptedRootPlistPath string
}

func (c *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.password, "password", "", "user password to unlock the volume group")
	cmd.Flags().StringVar(&c.recoveryPassword, "recovery-password", "", "24-character recovery password")
	cmd.Flags().StringVar(&c.rawMasterKeyHex, "raw-master-key", "", "32 hex characters: the volume master key directly")
	cmd.Flags().StringVar(&c.encryptedRootPlistPath, "encrypted-root-plist", "", "path to an EncryptedRoot.plist.wipekey")
}

func (c *credentialFlags) credentials() unlocker.Credentials {
	return unlocker.Credentials{
		Password:               c.password,
		RecoveryPassword:       c.recoveryPassword,
		RawMasterKeyHex:        c.rawMasterKeyHex,
		EncryptedRootPlistPath: c.encryptedRootPlistPath,
	}
}

// activeUnlocker is the Unlocker every subcommand uses to turn credential
// flags into an UnlockedVolume. It defaults to one that always fails:
// deriving the volume master key from credentials is out of scope for
// this core (§1), so a real build must call SetUnlocker with a concrete
// implementation before these commands can do anything but fail fast.
var activeUnlocker unlocker.Unlocker = notImplementedUnlocker{}

// SetUnlocker overrides the Unlocker the cmd package's subcommands use.
// A test can pass a fixtures.StubUnlocker; a production build would
// call it with a real FVDE unlock implementation.
func SetUnlocker(u unlocker.Unlocker) {
	activeUnlocker = u
}

type notImplementedUnlocker struct{}

func (notImplementedUnlocker) Unlock(ctx context.Context, sourcePaths []string, volumeOffset uint64, creds unlocker.Credentials) (*unlocker.UnlockedVolume, error) {
	return nil, fvdeerrors.New(fvdeerrors.UnsupportedValue, "no Unlocker configured: deriving the volume master key from credentials is out of scope for this tool")
}
