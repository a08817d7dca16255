package dmsetup

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S5 — dmsetup table line and shell-wrapped form.
func TestS5FormatTableAndShellCommand(t *testing.T) {
	entry := TableEntry{
		VolumeUUID:        uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"),
		VolumeSizeInBytes: 8 * 1024 * 1024 * 1024,
		SourcePath:        "/dev/sda2",
		VolumeOffsetBytes: 0,
		MapperName:        "fv",
		VolumeIndex:       1,
	}

	assert.Equal(t,
		"0 16777216 crypt aes-xts-plain64 :48:logon:fvde:00112233-4455-6677-8899-aabbccddeeff 0 /dev/sda2 0",
		entry.FormatTable())

	assert.Equal(t,
		`echo "0 16777216 crypt aes-xts-plain64 :48:logon:fvde:00112233-4455-6677-8899-aabbccddeeff 0 /dev/sda2 0" | dmsetup create fv1`,
		entry.FormatShellCommand())
}

func TestWriteTableEntry(t *testing.T) {
	entry := TableEntry{
		VolumeUUID:        uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"),
		VolumeSizeInBytes: 8 * 1024 * 1024 * 1024,
		SourcePath:        "/dev/sda2",
		MapperName:        "fv",
		VolumeIndex:       1,
	}

	var raw bytes.Buffer
	require.NoError(t, WriteTableEntry(&raw, entry, false))
	assert.Equal(t, entry.FormatTable()+"\n", raw.String())

	var shell bytes.Buffer
	require.NoError(t, WriteTableEntry(&shell, entry, true))
	assert.Equal(t, entry.FormatShellCommand()+"\n", shell.String())
}

func TestCombinedKey(t *testing.T) {
	master := bytes.Repeat([]byte{0xAA}, 16)
	tweak := bytes.Repeat([]byte{0xBB}, 32)

	combined, err := CombinedKey(master, tweak)
	require.NoError(t, err)
	require.Len(t, combined, 48)
	assert.Equal(t, master, combined[:16])
	assert.Equal(t, tweak, combined[16:])

	Zero(combined)
	assert.Equal(t, make([]byte, 48), combined)
}

func TestCombinedKeyRejectsWrongSizes(t *testing.T) {
	_, err := CombinedKey(make([]byte, 15), make([]byte, 32))
	require.Error(t, err)

	_, err = CombinedKey(make([]byte, 16), make([]byte, 31))
	require.Error(t, err)
}

func TestResolveKeyringID(t *testing.T) {
	cases := []struct {
		id       string
		expected int
	}{
		{"", keySpecSessionKeyring},
		{"@s", keySpecSessionKeyring},
		{"@u", keySpecUserKeyring},
		{"@us", keySpecUserSessionKeyring},
		{"42", 42},
	}
	for _, c := range cases {
		got, err := ResolveKeyringID(c.id)
		require.NoError(t, err)
		assert.Equal(t, c.expected, got)
	}
}

func TestResolveKeyringIDRejectsUnsupportedValues(t *testing.T) {
	for _, id := range []string{"@bogus", "not-a-number", "0"} {
		_, err := ResolveKeyringID(id)
		require.Error(t, err)
	}
}
