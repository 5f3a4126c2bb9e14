package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barton333/Investment-Assistant/internal/model"
)

func TestPriceCacheMergeSemantics(t *testing.T) {
	s := New(t.TempDir())

	s.Save(map[string]float64{"btc": 69000, "sh_gold": 785.4})
	s.Save(map[string]float64{"btc": 69500})

	prices := s.Load()
	// The second batch updated btc but preserved sh_gold.
	assert.InDelta(t, 69500, prices["btc"], 1e-9)
	assert.InDelta(t, 785.4, prices["sh_gold"], 1e-9)
}

func TestPriceCacheRejectsNonPositive(t *testing.T) {
	s := New(t.TempDir())

	s.Save(map[string]float64{"btc": 69000, "bad": 0, "worse": -5})

	prices := s.Load()
	assert.Len(t, prices, 1)
	assert.InDelta(t, 69000, prices["btc"], 1e-9)
}

func TestLoadMissingCacheIsEmpty(t *testing.T) {
	s := New(t.TempDir())
	assert.Empty(t, s.Load())
	assert.Nil(t, s.LoadSnapshot())
}

func TestLoadCorruptCacheIsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, priceFile), []byte("{not json"), 0o644))

	s := New(dir)
	assert.Empty(t, s.Load())
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	assets := []model.Asset{
		{
			ID: "btc", Symbol: "BTC", Price: 69000,
			History: []model.PricePoint{{Time: "10:00", Value: 68500}, {Time: "10:30", Value: 69000}},
			Sources: []string{model.SourceCoinGecko},
		},
	}
	s.SaveSnapshot(assets)

	loaded := s.LoadSnapshot()
	require.Len(t, loaded, 1)
	assert.Equal(t, "btc", loaded[0].ID)
	assert.InDelta(t, 69000, loaded[0].Price, 1e-9)
	require.Len(t, loaded[0].History, 2)
	assert.Equal(t, []string{model.SourceCoinGecko}, loaded[0].Sources)
}

func TestSnapshotOverwritesWholesale(t *testing.T) {
	s := New(t.TempDir())

	s.SaveSnapshot([]model.Asset{{ID: "btc"}, {ID: "eth"}})
	s.SaveSnapshot([]model.Asset{{ID: "btc"}})

	assert.Len(t, s.LoadSnapshot(), 1)
}

func TestTamperedSnapshotIgnored(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	s.SaveSnapshot([]model.Asset{{ID: "btc", Price: 69000}})

	path := filepath.Join(dir, snapshotFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Change the persisted price without recomputing the checksum.
	tampered := strings.Replace(string(data), "69000", "69999", 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	assert.Nil(t, s.LoadSnapshot())
}

func TestUnwritableDirFailsSilently(t *testing.T) {
	// Pointing at a path that cannot be a directory must not panic.
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	s := New(filepath.Join(file, "sub"))
	s.Save(map[string]float64{"btc": 69000})
	s.SaveSnapshot([]model.Asset{{ID: "btc"}})
	assert.Empty(t, s.Load())
	assert.Nil(t, s.LoadSnapshot())
}
