package fvdeconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fv", config.DefaultMapperName)
	assert.Equal(t, "@s", config.DefaultKeyringID)
	assert.False(t, config.CompactByDefault)
	assert.Equal(t, 1000, config.AllocationMapCap)
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("FVDE_DEFAULT_MAPPER_NAME", "decrypted")
	config, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "decrypted", config.DefaultMapperName)
}
