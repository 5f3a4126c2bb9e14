package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barton333/Investment-Assistant/internal/aisearch"
	"github.com/barton333/Investment-Assistant/internal/catalog"
	"github.com/barton333/Investment-Assistant/internal/config"
	"github.com/barton333/Investment-Assistant/internal/fetch"
	"github.com/barton333/Investment-Assistant/internal/history"
	"github.com/barton333/Investment-Assistant/internal/model"
)

type fakeProvider struct {
	name   string
	quotes fetch.Quotes
	err    error
	calls  int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, codes []string) (fetch.Quotes, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.quotes, nil
}

type fakeAI struct {
	results map[string]float64
	queried []aisearch.AssetRef
}

func (f *fakeAI) Enabled() bool { return f.results != nil }

func (f *fakeAI) Lookup(ctx context.Context, assets []aisearch.AssetRef) map[string]float64 {
	f.queried = append(f.queried, assets...)
	return f.results
}

type memStore struct {
	prices    map[string]float64
	saved     map[string]float64
	snapshot  []model.Asset
	savePanic bool
}

func newMemStore() *memStore {
	return &memStore{prices: map[string]float64{}}
}

func (m *memStore) Load() map[string]float64 { return m.prices }

func (m *memStore) Save(partial map[string]float64) {
	if m.savePanic {
		panic("disk on fire")
	}
	m.saved = partial
}

func (m *memStore) LoadSnapshot() []model.Asset { return m.snapshot }

func (m *memStore) SaveSnapshot(assets []model.Asset) { m.snapshot = assets }

func testConfig() *config.Config {
	return &config.Config{
		ProviderTimeout: time.Second,
		MaxJumpRatio:    0.5,
		IndexTolerance:  0.01,
		BreakerFailures: 3,
		BreakerCooldown: time.Minute,
	}
}

func newTestEngine(store Cache, ai AISearcher, providers ...fetch.Provider) *Engine {
	return New(Options{
		Config:    testConfig(),
		Providers: providers,
		AI:        ai,
		Store:     store,
		Registry:  prometheus.NewRegistry(),
	})
}

// catalogAsset pulls one asset from the catalog with a seeded history so
// drift behavior is observable.
func catalogAsset(t *testing.T, id string) model.Asset {
	t.Helper()
	for _, a := range catalog.Assets() {
		if a.ID == id {
			a.History = history.Generate(a.Price, 8)
			return a
		}
	}
	t.Fatalf("no catalog asset %q", id)
	return model.Asset{}
}

func lastValue(points []model.PricePoint) float64 {
	return points[len(points)-1].Value
}

func TestRefreshCryptoFeedShiftsHistory(t *testing.T) {
	btc := catalogAsset(t, "btc")
	require.InDelta(t, 68500, btc.Price, 0.001)

	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{"bitcoin": 69000}}
	engine := newTestEngine(newMemStore(), nil, gecko)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)

	assert.InDelta(t, 69000, out[0].Price, 0.001)
	assert.Equal(t, []string{model.SourceCoinGecko}, out[0].Sources)

	// Every history point moved by the realized delta of +500.
	require.Len(t, out[0].History, len(btc.History))
	for i := range btc.History {
		assert.InDelta(t, btc.History[i].Value+500, out[0].History[i].Value, 0.001)
		assert.Equal(t, btc.History[i].Time, out[0].History[i].Time)
	}
}

func TestRefreshUnchangedPriceLeavesHistoryAlone(t *testing.T) {
	btc := catalogAsset(t, "btc")
	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{"bitcoin": btc.Price}}
	engine := newTestEngine(newMemStore(), nil, gecko)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)
	assert.Equal(t, btc.History, out[0].History)
}

func TestRefreshChainlinkBackupWhenGeckoMissesID(t *testing.T) {
	btc := catalogAsset(t, "btc")
	entry, ok := catalog.ByID("btc")
	require.True(t, ok)

	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{}}
	onchain := &fakeProvider{name: "chainlink", quotes: fetch.Quotes{entry.ChainlinkFeed: 68900}}
	engine := newTestEngine(newMemStore(), nil, gecko, onchain)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)
	assert.InDelta(t, 68900, out[0].Price, 0.001)
	assert.Equal(t, []string{model.SourceChainlink}, out[0].Sources)
}

func TestRefreshCommodityDomesticPriority(t *testing.T) {
	silver := catalogAsset(t, "sh_silver")

	// Domestic reports per-kilogram (7150 > threshold 1000); the presence
	// of a COMEX quote must not matter.
	futures := &fakeProvider{name: "sina-futures", quotes: fetch.Quotes{
		"nf_AG0": 7150,
		"hf_SI":  38.5,
	}}
	fx := &fakeProvider{name: "exchangerate", quotes: fetch.Quotes{"CNY": 7.2}}
	engine := newTestEngine(newMemStore(), nil, futures, fx)

	out := engine.Refresh(context.Background(), []model.Asset{silver})
	require.Len(t, out, 1)
	assert.InDelta(t, 7.15, out[0].Price, 0.0001)
	assert.Equal(t, []string{model.SourceSinaFutures}, out[0].Sources)
}

func TestRefreshCommodityInternationalBackup(t *testing.T) {
	gold := catalogAsset(t, "sh_gold")

	futures := &fakeProvider{name: "sina-futures", quotes: fetch.Quotes{"hf_GC": 3400}}
	fx := &fakeProvider{name: "exchangerate", quotes: fetch.Quotes{"CNY": 7.2}}
	engine := newTestEngine(newMemStore(), nil, futures, fx)

	out := engine.Refresh(context.Background(), []model.Asset{gold})
	require.Len(t, out, 1)
	assert.InDelta(t, 3400*7.2/31.1035, out[0].Price, 0.001)
	assert.Equal(t, []string{model.SourceCOMEX}, out[0].Sources)
}

func TestRefreshIndexAgreementAverages(t *testing.T) {
	idx := catalogAsset(t, "sh_composite")
	idx.Price = 3300
	idx.History = history.Generate(3300, 8)

	sina := &fakeProvider{name: "sina", quotes: fetch.Quotes{"sh000001": 3300.0}}
	tencent := &fakeProvider{name: "tencent", quotes: fetch.Quotes{"sh000001": 3301.5}}
	engine := newTestEngine(newMemStore(), nil, sina, tencent)

	out := engine.Refresh(context.Background(), []model.Asset{idx})
	require.Len(t, out, 1)
	assert.InDelta(t, 3300.75, out[0].Price, 0.0001)
	assert.Equal(t, []string{model.SourceSina, model.SourceTencent}, out[0].Sources)
}

func TestRefreshIndexDivergencePrefersPrimary(t *testing.T) {
	idx := catalogAsset(t, "sh_composite")
	idx.Price = 3300
	idx.History = history.Generate(3300, 8)

	sina := &fakeProvider{name: "sina", quotes: fetch.Quotes{"sh000001": 3300.0}}
	tencent := &fakeProvider{name: "tencent", quotes: fetch.Quotes{"sh000001": 3450.0}}
	engine := newTestEngine(newMemStore(), nil, sina, tencent)

	out := engine.Refresh(context.Background(), []model.Asset{idx})
	require.Len(t, out, 1)
	assert.InDelta(t, 3300.0, out[0].Price, 0.0001)
	assert.Equal(t, []string{model.SourceSina}, out[0].Sources)
}

func TestRefreshIndexSingleFeedStandsAlone(t *testing.T) {
	idx := catalogAsset(t, "sh_composite")

	tencent := &fakeProvider{name: "tencent", quotes: fetch.Quotes{"sh000001": 3351.0}}
	engine := newTestEngine(newMemStore(), nil, tencent)

	out := engine.Refresh(context.Background(), []model.Asset{idx})
	require.Len(t, out, 1)
	assert.InDelta(t, 3351.0, out[0].Price, 0.0001)
	assert.Equal(t, []string{model.SourceTencent}, out[0].Sources)
}

func TestRefreshAIFallback(t *testing.T) {
	bond := catalogAsset(t, "cn_10y_bond")

	ai := &fakeAI{results: map[string]float64{"cn_10y_bond": 2.18}}
	store := newMemStore()
	engine := newTestEngine(store, ai)

	out := engine.Refresh(context.Background(), []model.Asset{bond})
	require.Len(t, out, 1)
	assert.InDelta(t, 2.18, out[0].Price, 0.0001)
	assert.Equal(t, []string{model.SourceAISearch}, out[0].Sources)

	require.Len(t, ai.queried, 1)
	assert.Equal(t, "cn_10y_bond", ai.queried[0].ID)

	// AI results are live observations and enter the price cache.
	assert.InDelta(t, 2.18, store.saved["cn_10y_bond"], 0.0001)
}

func TestRefreshAISkippedWhenStructuredResolves(t *testing.T) {
	btc := catalogAsset(t, "btc")

	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{"bitcoin": 69000}}
	ai := &fakeAI{results: map[string]float64{"btc": 1}}
	engine := newTestEngine(newMemStore(), ai, gecko)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)
	assert.Empty(t, ai.queried)
	assert.InDelta(t, 69000, out[0].Price, 0.001)
}

func TestRefreshCacheFallback(t *testing.T) {
	btc := catalogAsset(t, "btc")
	store := newMemStore()
	store.prices["btc"] = 67000

	engine := newTestEngine(store, nil)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)
	assert.InDelta(t, 67000, out[0].Price, 0.001)
	assert.Equal(t, []string{model.SourceCache}, out[0].Sources)

	// Cached prices observed nothing new: history untouched, cache not
	// re-written.
	assert.Equal(t, btc.History, out[0].History)
	assert.Empty(t, store.saved)
}

func TestRefreshOfflineFallback(t *testing.T) {
	btc := catalogAsset(t, "btc")
	store := newMemStore()
	engine := newTestEngine(store, nil)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)
	assert.InDelta(t, btc.Price, out[0].Price, 0.001)
	assert.Equal(t, []string{model.SourceOffline}, out[0].Sources)
	assert.Equal(t, btc.History, out[0].History)
}

func TestRefreshSeedsEmptyHistory(t *testing.T) {
	assets := catalog.Assets()
	engine := newTestEngine(newMemStore(), nil)

	out := engine.Refresh(context.Background(), assets)
	require.Len(t, out, len(assets))
	for _, a := range out {
		require.NotEmptyf(t, a.History, "asset %s has empty history", a.ID)
		assert.InDeltaf(t, a.Price, lastValue(a.History), 0.001, "asset %s", a.ID)
	}
}

func TestRefreshPreservesLengthAndOrder(t *testing.T) {
	assets := []model.Asset{
		catalogAsset(t, "btc"),
		catalogAsset(t, "sh_gold"),
		catalogAsset(t, "moutai"),
	}
	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{"bitcoin": 69000}}
	engine := newTestEngine(newMemStore(), nil, gecko)

	out := engine.Refresh(context.Background(), assets)
	require.Len(t, out, len(assets))
	for i := range assets {
		assert.Equal(t, assets[i].ID, out[i].ID)
	}
}

func TestRefreshRejectsImplausibleJump(t *testing.T) {
	btc := catalogAsset(t, "btc")
	store := newMemStore()

	// A 10x jump exceeds MaxJumpRatio and must degrade to offline rather
	// than overwrite the last good price.
	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{"bitcoin": 685000}}
	engine := newTestEngine(store, nil, gecko)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)
	assert.InDelta(t, btc.Price, out[0].Price, 0.001)
	assert.Equal(t, []string{model.SourceOffline}, out[0].Sources)
}

func TestRefreshProviderErrorDegradesToFallback(t *testing.T) {
	btc := catalogAsset(t, "btc")
	gecko := &fakeProvider{name: "coingecko", err: errors.New("rate limited")}
	engine := newTestEngine(newMemStore(), nil, gecko)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)
	assert.Equal(t, []string{model.SourceOffline}, out[0].Sources)
}

func TestRefreshBreakerStopsCallingFailingProvider(t *testing.T) {
	btc := catalogAsset(t, "btc")
	gecko := &fakeProvider{name: "coingecko", err: errors.New("down")}
	engine := newTestEngine(newMemStore(), nil, gecko)

	for i := 0; i < 5; i++ {
		engine.Refresh(context.Background(), []model.Asset{btc})
	}

	// Threshold is 3 failures; the circuit stays open for the rest.
	assert.Equal(t, int32(3), atomic.LoadInt32(&gecko.calls))
}

func TestRefreshSurvivesStorePanic(t *testing.T) {
	btc := catalogAsset(t, "btc")
	store := newMemStore()
	store.savePanic = true

	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{"bitcoin": 69000}}
	engine := newTestEngine(store, nil, gecko)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)
	assert.InDelta(t, btc.Price, out[0].Price, 0.001)
}

func TestRefreshReentrancySuppressed(t *testing.T) {
	btc := catalogAsset(t, "btc")
	engine := newTestEngine(newMemStore(), nil)

	engine.cycleMu.Lock()
	defer engine.cycleMu.Unlock()

	in := []model.Asset{btc}
	out := engine.Refresh(context.Background(), in)
	require.Len(t, out, 1)
	assert.Equal(t, in[0], out[0])
}

func TestRefreshPersistsOnlyLivePrices(t *testing.T) {
	assets := []model.Asset{
		catalogAsset(t, "btc"),
		catalogAsset(t, "moutai"),
	}
	store := newMemStore()
	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{"bitcoin": 69000}}
	engine := newTestEngine(store, nil, gecko)

	out := engine.Refresh(context.Background(), assets)
	require.Len(t, out, len(assets))

	assert.Equal(t, map[string]float64{"btc": 69000}, store.saved)
	require.Len(t, store.snapshot, len(assets))
}

func TestRefreshRecomputesChange(t *testing.T) {
	btc := catalogAsset(t, "btc")
	gecko := &fakeProvider{name: "coingecko", quotes: fetch.Quotes{"bitcoin": 69000}}
	engine := newTestEngine(newMemStore(), nil, gecko)

	out := engine.Refresh(context.Background(), []model.Asset{btc})
	require.Len(t, out, 1)

	open := out[0].History[0].Value
	assert.InDelta(t, 69000-open, out[0].Change, 0.001)
	assert.InDelta(t, (69000-open)/open*100, out[0].ChangePercent, 0.001)
}
