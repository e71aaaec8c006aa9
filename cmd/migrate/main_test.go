package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/loaderescrow-backend/pkg/config"
)

func TestGuardRollbackBlocksProdDowngrades(t *testing.T) {
	prod := config.AppConfig{Env: config.AppEnvProd}
	dev := config.AppConfig{Env: config.AppEnvDev}

	assert.ErrorIs(t, guardRollback(prod, options{cmd: "down"}), errRollbackGuarded)
	assert.ErrorIs(t, guardRollback(prod, options{cmd: "version", version: "20261001090000"}), errRollbackGuarded)
	assert.NoError(t, guardRollback(prod, options{cmd: "down", allowRollback: true}))
	assert.NoError(t, guardRollback(prod, options{cmd: "up"}))
	assert.NoError(t, guardRollback(dev, options{cmd: "down"}))
}

func TestRunOfflineCreatesAndValidates(t *testing.T) {
	dir := t.TempDir()

	done, err := runOffline(options{cmd: "create", dir: dir, name: "platform fee wallet"})
	require.True(t, done)
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(dir, "*_platform_fee_wallet.sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	done, err = runOffline(options{cmd: "validate", dir: dir})
	require.True(t, done)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "20990101000000_wipe.sql"), []byte("-- +goose Up\nTRUNCATE transactions;\n-- +goose Down\n"), 0o644))
	done, err = runOffline(options{cmd: "validate", dir: dir})
	require.True(t, done)
	require.ErrorContains(t, err, "rewrites ledger data")

	done, err = runOffline(options{cmd: "create", dir: dir})
	require.True(t, done)
	require.Error(t, err)
}

func TestRunOfflineDefersDatabaseCommands(t *testing.T) {
	for _, cmd := range []string{"up", "down", "status", "version"} {
		done, err := runOffline(options{cmd: cmd, dir: t.TempDir()})
		assert.False(t, done, cmd)
		assert.NoError(t, err, cmd)
	}
}
