//go:build !linux

package dmsetup

import "github.com/systemication/go-fvde/internal/fvdeerrors"

// AddKeyToKeyring is unsupported outside Linux: the kernel keyring and
// dm-crypt's logon key source are both Linux-specific (§6.4 "requires
// keyutils support").
func AddKeyToKeyring(combinedKey []byte, volumeUUID string, keyringID int, verbose bool) (keyID int, err error) {
	defer Zero(combinedKey)
	return 0, fvdeerrors.New(fvdeerrors.UnsupportedValue, "kernel keyring support not available on this platform")
}
