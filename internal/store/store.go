// Package store persists the flat price cache and the full asset snapshot
// across sessions. Both stores are JSON files under the data directory; every
// read or write failure is swallowed so a storage problem can never interrupt
// a reconciliation cycle.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/barton333/Investment-Assistant/internal/model"
)

const (
	priceFile    = "prices.json"
	snapshotFile = "snapshot.json"
)

// Store owns the two persistent caches. It is single-writer by contract:
// only one reconciliation cycle runs at a time, enforced by the engine's
// re-entrancy guard. Reads may happen from anywhere at startup.
type Store struct {
	dir string
	mu  sync.Mutex
}

// snapshotEnvelope wraps the persisted asset collection with an integrity
// checksum; a mismatch marks the snapshot corrupt and it is treated as
// absent.
type snapshotEnvelope struct {
	Checksum string        `json:"checksum"`
	Assets   []model.Asset `json:"assets"`
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) *Store {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logrus.Debugf("Cache directory unavailable: %v", err)
	}
	return &Store{dir: dir}
}

// Load returns the flat assetId -> last-known-good-price mapping. A missing
// or unreadable cache yields an empty map.
func (s *Store) Load() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := map[string]float64{}
	data, err := os.ReadFile(filepath.Join(s.dir, priceFile))
	if err != nil {
		return prices
	}
	if err := json.Unmarshal(data, &prices); err != nil {
		logrus.Debugf("Price cache unreadable, starting empty: %v", err)
		return map[string]float64{}
	}
	return prices
}

// Save merges the partial batch into the price cache non-destructively:
// existing keys absent from the batch are preserved. Failures are swallowed.
func (s *Store) Save(partial map[string]float64) {
	if len(partial) == 0 {
		return
	}
	merged := s.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, price := range partial {
		if price > 0 {
			merged[id] = price
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		logrus.Debugf("Price cache serialization failed: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(s.dir, priceFile), data, 0o644); err != nil {
		logrus.Debugf("Price cache write failed: %v", err)
	}
}

// LoadSnapshot returns the persisted asset collection, or nil when absent,
// unreadable, or failing the integrity check.
func (s *Store) LoadSnapshot() []model.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		return nil
	}

	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logrus.Debugf("Snapshot unreadable, ignoring: %v", err)
		return nil
	}
	if env.Checksum != assetChecksum(env.Assets) {
		logrus.Debug("Snapshot checksum mismatch, ignoring")
		return nil
	}
	return env.Assets
}

// SaveSnapshot overwrites the snapshot wholesale with the complete current
// collection. Failures are swallowed.
func (s *Store) SaveSnapshot(assets []model.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := snapshotEnvelope{
		Checksum: assetChecksum(assets),
		Assets:   assets,
	}
	data, err := json.Marshal(env)
	if err != nil {
		logrus.Debugf("Snapshot serialization failed: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(s.dir, snapshotFile), data, 0o644); err != nil {
		logrus.Debugf("Snapshot write failed: %v", err)
	}
}

// assetChecksum computes the integrity hash over the serialized collection.
func assetChecksum(assets []model.Asset) string {
	data, err := json.Marshal(assets)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
