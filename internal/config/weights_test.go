package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeWeights(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestWeightsProvider_StartsWithDefaults(t *testing.T) {
	p := NewWeightsProvider(zaptest.NewLogger(t))
	w := p.Current()
	assert.Equal(t, DefaultWeights(), w)
	assert.Zero(t, w.BiasFor("anything"))
}

func TestWeightsProvider_LoadFileKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	writeWeights(t, path, "fee_bps: 2.0\nbias_by_psp:\n  payflow: 0.10\n")

	p := NewWeightsProvider(zaptest.NewLogger(t))
	require.NoError(t, p.LoadFile(path))

	w := p.Current()
	assert.Equal(t, 2.0, w.FeeBps)
	assert.Equal(t, 1.0, w.Auth, "absent key keeps default")
	assert.Equal(t, 0.05, w.ThreeDSBonus)
	assert.Equal(t, 0.10, w.BiasFor("payflow"))
}

func TestWeightsProvider_LoadFileErrors(t *testing.T) {
	p := NewWeightsProvider(zaptest.NewLogger(t))

	assert.Error(t, p.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "weights.yaml")
	writeWeights(t, path, "auth: [not, a, number]\n")
	assert.Error(t, p.LoadFile(path))

	// Failed loads leave the previous snapshot in place.
	assert.Equal(t, DefaultWeights(), p.Current())
}

func TestWeightsProvider_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	writeWeights(t, path, "auth: 1.0\n")

	p := NewWeightsProvider(zaptest.NewLogger(t))
	require.NoError(t, p.Watch(path))
	defer p.Close()

	require.Equal(t, 1.0, p.Current().Auth)

	writeWeights(t, path, "auth: 2.5\n")
	assert.Eventually(t, func() bool {
		return p.Current().Auth == 2.5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWeightsProvider_WatchHandlesRenameSwap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")
	writeWeights(t, path, "fee_bps: 1.0\n")

	p := NewWeightsProvider(zaptest.NewLogger(t))
	require.NoError(t, p.Watch(path))
	defer p.Close()

	// Atomic-write pattern: write a temp file, then rename over the target.
	tmp := filepath.Join(dir, "weights.yaml.tmp")
	writeWeights(t, tmp, "fee_bps: 3.0\n")
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool {
		return p.Current().FeeBps == 3.0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWeightsProvider_WatchMissingFileFails(t *testing.T) {
	p := NewWeightsProvider(zaptest.NewLogger(t))
	assert.Error(t, p.Watch(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.NoError(t, p.Close(), "close without a running watcher is a no-op")
}

func TestWeightsProvider_CloseStopsWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	writeWeights(t, path, "auth: 1.0\n")

	p := NewWeightsProvider(zaptest.NewLogger(t))
	require.NoError(t, p.Watch(path))
	require.NoError(t, p.Close())

	// A write after Close must not be picked up.
	writeWeights(t, path, "auth: 9.0\n")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1.0, p.Current().Auth)
}
