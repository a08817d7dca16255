// Package dmsetup implements §6.3/§6.4: formatting a dm-crypt table entry
// for an unlocked logical volume and, optionally, staging the combined
// AES-XTS key material in the kernel keyring so dmsetup itself never sees
// the key on a command line or in shell history.
package dmsetup

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// TableEntry is everything dmsetup_handle_print_table_entry needs to
// format one `dmsetup create` line (§6.3).
type TableEntry struct {
	VolumeUUID        uuid.UUID
	VolumeSizeInBytes uint64
	SourcePath        string
	VolumeOffsetBytes uint64
	MapperName        string
	VolumeIndex       int
}

// KeyDescription returns the kernel-keyring key description this table
// entry's crypt target expects: "fvde:<uuid>".
func (e TableEntry) KeyDescription() string {
	return "fvde:" + e.VolumeUUID.String()
}

// FormatTable renders the raw dm-crypt table line: start sector 0, length
// in 512-byte sectors, target type "crypt", and a key spec of
// ":48:logon:fvde:<uuid>" that tells dm-crypt to fetch the 48-byte
// combined key from the logon keyring instead of taking it inline.
func (e TableEntry) FormatTable() string {
	sizeInSectors := e.VolumeSizeInBytes / 512
	offsetInSectors := e.VolumeOffsetBytes / 512
	return fmt.Sprintf("0 %d crypt aes-xts-plain64 :48:logon:%s 0 %s %d",
		sizeInSectors, e.KeyDescription(), e.SourcePath, offsetInSectors)
}

// FormatShellCommand wraps FormatTable in the `echo ... | dmsetup create`
// pipeline the original tool emits in shell mode (§6.3).
func (e TableEntry) FormatShellCommand() string {
	return fmt.Sprintf("echo \"%s\" | dmsetup create %s%d", e.FormatTable(), e.MapperName, e.VolumeIndex)
}

// WriteTableEntry writes either the raw table line or the shell-wrapped
// form to w, each terminated by a single newline (§6.3).
func WriteTableEntry(w io.Writer, entry TableEntry, shellMode bool) error {
	var line string
	if shellMode {
		line = entry.FormatShellCommand()
	} else {
		line = entry.FormatTable()
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return fvdeerrors.Wrap(fvdeerrors.IoWrite, err, "writing dmsetup table entry")
	}
	return nil
}

// CombinedKey concatenates a 16-byte AES-XTS data-unit key and a 32-byte
// tweak key into the 48-byte blob dm-crypt's aes-xts-plain64 cipher spec
// expects (§4 "128-bit master key + 256-bit tweak key -> 48-byte combined
// key"). Callers MUST overwrite the returned slice (e.g. via Zero) once
// the key has been consumed.
func CombinedKey(masterKey, tweakKey []byte) ([]byte, error) {
	if len(masterKey) != 16 {
		return nil, fvdeerrors.New(fvdeerrors.InvalidArgument, "volume master key must be 16 bytes")
	}
	if len(tweakKey) != 32 {
		return nil, fvdeerrors.New(fvdeerrors.InvalidArgument, "volume tweak key must be 32 bytes")
	}
	combined := make([]byte, 48)
	copy(combined[:16], masterKey)
	copy(combined[16:], tweakKey)
	return combined, nil
}

// Zero overwrites key material in place. Call it as soon as a combined
// key has been handed to the keyring or written into a table entry.
func Zero(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// keyring special IDs, mirrored from linux/keyctl.h — not exposed by
// golang.org/x/sys/unix as named constants.
const (
	keySpecSessionKeyring     = -3
	keySpecUserKeyring        = -4
	keySpecUserSessionKeyring = -5
)

// ResolveKeyringID parses the --keyring-id flag the same way
// keyring_handle_add_key does: "@s"/"@u"/"@us" select the special session,
// user, or user-session keyrings; anything else must parse as a decimal
// keyring serial number. An empty id defaults to the session keyring.
func ResolveKeyringID(id string) (int, error) {
	switch id {
	case "", "@s":
		return keySpecSessionKeyring, nil
	case "@u":
		return keySpecUserKeyring, nil
	case "@us":
		return keySpecUserSessionKeyring, nil
	}
	if strings.HasPrefix(id, "@") {
		return 0, fvdeerrors.New(fvdeerrors.UnsupportedValue, "unsupported keyring ID")
	}
	value, err := strconv.Atoi(id)
	if err != nil || value == 0 {
		return 0, fvdeerrors.New(fvdeerrors.UnsupportedValue, "unsupported keyring ID")
	}
	return value, nil
}
