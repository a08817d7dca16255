//go:build linux

package dmsetup

import (
	"golang.org/x/sys/unix"

	"github.com/sirupsen/logrus"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// AddKeyToKeyring stages combinedKey (the 48-byte aes-xts-plain64 key
// blob) in the kernel's "logon" keyring under the description
// "fvde:<volumeUUID>", in the keyring identified by keyringID (see
// ResolveKeyringID). This mirrors keyring_handle_add_key; combinedKey is
// always zeroed before returning, success or not.
func AddKeyToKeyring(combinedKey []byte, volumeUUID string, keyringID int, verbose bool) (keyID int, err error) {
	defer Zero(combinedKey)

	if len(combinedKey) != 48 {
		return 0, fvdeerrors.New(fvdeerrors.InvalidArgument, "combined key must be 48 bytes")
	}
	description := "fvde:" + volumeUUID

	if verbose {
		logrus.WithFields(logrus.Fields{
			"key_description": description,
			"key_size":        len(combinedKey),
		}).Info("storing key in kernel keyring")
	}

	serial, err := unix.AddKey("logon", description, combinedKey, keyringID)
	if err != nil {
		return 0, fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "adding key to kernel keyring")
	}

	if verbose {
		logrus.WithField("key_id", serial).Info("added key to kernel keyring")
	}
	return serial, nil
}
