// Package reconcile implements the multi-source price reconciliation engine:
// for every tracked asset it merges the structured provider results per the
// source-priority policy, escalates leftovers to the AI search fallback, and
// finally degrades to cached or offline pricing while keeping each asset's
// history series continuous.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/barton333/Investment-Assistant/internal/aisearch"
	"github.com/barton333/Investment-Assistant/internal/catalog"
	"github.com/barton333/Investment-Assistant/internal/circuitbreaker"
	"github.com/barton333/Investment-Assistant/internal/config"
	"github.com/barton333/Investment-Assistant/internal/fetch"
	"github.com/barton333/Investment-Assistant/internal/history"
	"github.com/barton333/Investment-Assistant/internal/model"
	"github.com/barton333/Investment-Assistant/internal/normalize"
	"github.com/barton333/Investment-Assistant/internal/otel"
	"github.com/barton333/Investment-Assistant/internal/validation"
)

// AISearcher is the slice of the AI fallback adapter the engine needs.
type AISearcher interface {
	Enabled() bool
	Lookup(ctx context.Context, assets []aisearch.AssetRef) map[string]float64
}

// Cache is the persistence boundary for the price cache and asset snapshot.
type Cache interface {
	Load() map[string]float64
	Save(partial map[string]float64)
	LoadSnapshot() []model.Asset
	SaveSnapshot(assets []model.Asset)
}

// Options configures a new Engine.
type Options struct {
	Config    *config.Config
	Providers []fetch.Provider
	AI        AISearcher
	Store     Cache

	// Registry receives the engine's Prometheus collectors; nil uses the
	// default registerer
	Registry prometheus.Registerer
}

// Engine orchestrates one refresh cycle at a time.
type Engine struct {
	cfg       *config.Config
	providers map[string]fetch.Provider
	ai        AISearcher
	store     Cache
	breaker   *circuitbreaker.Breaker
	valOpts   validation.Options
	metrics   *engineMetrics

	// cycleMu is the re-entrancy guard: a refresh arriving while one is
	// in flight is suppressed, not queued
	cycleMu sync.Mutex
}

// resolution is the outcome of the per-asset state machine.
type resolution struct {
	price   float64
	sources []string
	live    bool
}

type engineMetrics struct {
	cyclesTotal     prometheus.Counter
	cyclesSkipped   prometheus.Counter
	cycleDuration   prometheus.Histogram
	providerErrors  *prometheus.CounterVec
	resolutionTotal *prometheus.CounterVec
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &engineMetrics{
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_refresh_cycles_total",
			Help: "Total number of completed refresh cycles",
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_refresh_suppressed_total",
			Help: "Refresh requests suppressed by the re-entrancy guard",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_refresh_duration_seconds",
			Help:    "Refresh cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_provider_errors_total",
			Help: "Total number of provider fetch errors",
		}, []string{"provider"}),
		resolutionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_resolutions_total",
			Help: "Assets resolved per provenance source",
		}, []string{"source"}),
	}
	reg.MustRegister(m.cyclesTotal, m.cyclesSkipped, m.cycleDuration, m.providerErrors, m.resolutionTotal)
	return m
}

// New creates a reconciliation engine.
func New(opts Options) *Engine {
	providers := make(map[string]fetch.Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Name()] = p
	}
	return &Engine{
		cfg:       opts.Config,
		providers: providers,
		ai:        opts.AI,
		store:     opts.Store,
		breaker:   circuitbreaker.New(opts.Config.BreakerFailures, opts.Config.BreakerCooldown),
		valOpts: validation.Options{
			MaxJumpRatio: opts.Config.MaxJumpRatio,
			MinPrice:     1e-6,
		},
		metrics: newEngineMetrics(opts.Registry),
	}
}

// Refresh is the single public operation: it reconciles a fresh price for
// every asset in the input collection and returns a new collection of the
// same length and identity set. It never fails; every internal problem
// degrades to cached or offline pricing, and a catastrophic failure returns
// the input unchanged. A call arriving while a cycle is in flight is
// suppressed and also returns the input unchanged.
func (e *Engine) Refresh(ctx context.Context, current []model.Asset) (result []model.Asset) {
	if !e.cycleMu.TryLock() {
		e.metrics.cyclesSkipped.Inc()
		logrus.Debug("Refresh suppressed: cycle already in flight")
		return current
	}
	defer e.cycleMu.Unlock()

	// The UI must never crash or blank out because of a refresh failure.
	result = current
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Refresh cycle panicked, returning prior assets: %v", r)
			result = current
		}
	}()

	ctx, span := otel.Tracer().Start(ctx, "refresh")
	defer span.End()

	start := time.Now()
	results := e.fetchAll(ctx, current)
	fxRate := e.fxRate(results)

	resolutions := make(map[string]resolution, len(current))
	var unresolved []aisearch.AssetRef

	for _, a := range current {
		if res, ok := e.resolveStructured(a, results, fxRate); ok {
			resolutions[a.ID] = res
			continue
		}
		unresolved = append(unresolved, aisearch.AssetRef{
			ID:       a.ID,
			Name:     a.Name,
			Symbol:   a.Symbol,
			Category: a.Category,
			Unit:     a.Unit,
		})
	}

	// AI fallback runs only after every structured provider has reported,
	// because it needs the residual unresolved set.
	if len(unresolved) > 0 && e.ai != nil && e.ai.Enabled() {
		for id, price := range e.ai.Lookup(ctx, unresolved) {
			resolutions[id] = resolution{price: price, sources: []string{model.SourceAISearch}, live: true}
		}
	}

	cached := e.store.Load()

	updated := make([]model.Asset, 0, len(current))
	liveUpdates := make(map[string]float64)

	for _, a := range current {
		res, ok := resolutions[a.ID]
		if !ok {
			res = e.fallback(a, cached)
		}

		next := e.apply(a, res)
		updated = append(updated, next)

		if res.live {
			liveUpdates[a.ID] = res.price
		}
		e.metrics.resolutionTotal.WithLabelValues(res.sources[0]).Inc()
	}

	// Persist strictly after every asset is finalized so a crash mid-cycle
	// never leaves a half-reconciled batch behind.
	e.store.Save(liveUpdates)
	e.store.SaveSnapshot(updated)

	e.metrics.cyclesTotal.Inc()
	e.metrics.cycleDuration.Observe(time.Since(start).Seconds())
	logrus.WithFields(logrus.Fields{
		"assets":   len(updated),
		"live":     len(liveUpdates),
		"duration": time.Since(start),
	}).Info("Refresh cycle complete")

	return updated
}

// fetchAll fans out to every structured provider concurrently and collects
// their partial results. Providers with an open circuit are skipped; a
// provider error degrades its contribution to no data.
func (e *Engine) fetchAll(ctx context.Context, assets []model.Asset) map[string]fetch.Quotes {
	codesByProvider := e.collectCodes(assets)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]fetch.Quotes, len(codesByProvider))
	)

	for name, codes := range codesByProvider {
		provider, ok := e.providers[name]
		if !ok || len(codes) == 0 {
			continue
		}
		if !e.breaker.Allow(name) {
			logrus.Debugf("Provider %s skipped: circuit open", name)
			continue
		}

		wg.Add(1)
		go func(name string, p fetch.Provider, codes []string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.Errorf("Provider %s panicked: %v", name, r)
					e.breaker.Record(name, false)
					e.metrics.providerErrors.WithLabelValues(name).Inc()
				}
			}()

			quotes, err := p.Fetch(ctx, codes)
			e.breaker.Record(name, err == nil)
			if err != nil {
				e.metrics.providerErrors.WithLabelValues(name).Inc()
				otel.RecordError(ctx, err)
				logrus.Warnf("Provider %s failed: %v", name, err)
				return
			}
			mu.Lock()
			results[name] = quotes
			mu.Unlock()
		}(name, provider, codes)
	}
	wg.Wait()

	return results
}

// collectCodes builds the per-provider request lists from the catalog
// mappings of the assets under reconciliation.
func (e *Engine) collectCodes(assets []model.Asset) map[string][]string {
	codes := map[string][]string{}
	add := func(provider, code string) {
		if code != "" {
			codes[provider] = append(codes[provider], code)
		}
	}

	for _, a := range assets {
		entry, ok := catalog.ByID(a.ID)
		if !ok {
			continue
		}
		add("sina", entry.SinaCode)
		add("tencent", entry.TencentCode)
		add("sina-futures", entry.FuturesCode)
		add("sina-futures", entry.IntlCode)
		add("coingecko", entry.CoinGeckoID)
		add("chainlink", entry.ChainlinkFeed)
		add("exchangerate", entry.FXPair)
	}

	// The USD/CNY rate is always requested: international commodity
	// backups need it for unit conversion.
	codes["exchangerate"] = appendUnique(codes["exchangerate"], "CNY")
	return codes
}

// fxRate resolves the USD/CNY conversion rate: live quote first, then the
// price cache, then the catalog seed.
func (e *Engine) fxRate(results map[string]fetch.Quotes) float64 {
	if v, ok := normalize.Valid(results["exchangerate"]["CNY"]); ok {
		return v
	}
	if v, ok := normalize.Valid(e.store.Load()["usd_cny"]); ok {
		return v
	}
	if entry, ok := catalog.ByID("usd_cny"); ok {
		return entry.BasePrice
	}
	return 0
}

// resolveStructured runs steps 1-4 of the per-asset state machine against
// the structured provider results. The boolean reports whether the asset was
// resolved; unresolved assets escalate to the AI fallback.
func (e *Engine) resolveStructured(a model.Asset, results map[string]fetch.Quotes, fxRate float64) (resolution, bool) {
	entry, ok := catalog.ByID(a.ID)
	if !ok {
		return resolution{}, false
	}

	switch {
	case entry.IsCommodity():
		return e.resolveCommodity(a, entry, results["sina-futures"], fxRate)
	case entry.IsDualIndex():
		return e.resolveDualIndex(a, entry, results["sina"], results["tencent"])
	case entry.CoinGeckoID != "" || entry.ChainlinkFeed != "":
		return e.resolveCrypto(a, entry, results["coingecko"], results["chainlink"])
	case entry.SinaCode != "":
		return e.resolveDirect(a, results["sina"][entry.SinaCode], model.SourceSina)
	case entry.FXPair != "":
		return e.resolveDirect(a, results["exchangerate"][entry.FXPair], model.SourceExchangeRate)
	default:
		return resolution{}, false
	}
}

// resolveCommodity tries the domestic contract first; only when it yields
// nothing usable is the international backup consulted, converted into local
// units. The priority order is strict.
func (e *Engine) resolveCommodity(a model.Asset, entry catalog.Entry, quotes fetch.Quotes, fxRate float64) (resolution, bool) {
	if raw, ok := quotes[entry.FuturesCode]; ok {
		if v, ok := normalize.MetalPerGram(raw, entry.MetalThreshold); ok && validation.Acceptable(v, a.Price, e.valOpts) {
			return resolution{price: v, sources: []string{model.SourceSinaFutures}, live: true}, true
		}
	}

	raw, ok := quotes[entry.IntlCode]
	if !ok {
		return resolution{}, false
	}

	var v float64
	switch entry.IntlConversion {
	case catalog.ConvertTroyOunce:
		v, ok = normalize.TroyOuncePerGram(raw, fxRate)
	case catalog.ConvertPounds:
		v, ok = normalize.PoundsPerTon(raw, fxRate)
	case catalog.ConvertUSD:
		v, ok = normalize.USDToCNY(raw, fxRate)
	default:
		v, ok = normalize.Valid(raw)
	}
	if !ok || !validation.Acceptable(v, a.Price, e.valOpts) {
		return resolution{}, false
	}
	return resolution{price: v, sources: []string{model.SourceCOMEX}, live: true}, true
}

// resolveDualIndex cross-validates the redundant index feeds: agreeing
// quotes are averaged, diverging quotes defer to the primary, a single quote
// stands alone.
func (e *Engine) resolveDualIndex(a model.Asset, entry catalog.Entry, sina, tencent fetch.Quotes) (resolution, bool) {
	primary, pOK := normalize.Valid(sina[entry.SinaCode])
	if pOK {
		pOK = validation.Acceptable(primary, a.Price, e.valOpts)
	}
	secondary, sOK := normalize.Valid(tencent[entry.TencentCode])
	if sOK {
		sOK = validation.Acceptable(secondary, a.Price, e.valOpts)
	}

	switch {
	case pOK && sOK:
		if validation.WithinTolerance(primary, secondary, e.cfg.IndexTolerance) {
			return resolution{
				price:   (primary + secondary) / 2,
				sources: []string{model.SourceSina, model.SourceTencent},
				live:    true,
			}, true
		}
		return resolution{price: primary, sources: []string{model.SourceSina}, live: true}, true
	case pOK:
		return resolution{price: primary, sources: []string{model.SourceSina}, live: true}, true
	case sOK:
		return resolution{price: secondary, sources: []string{model.SourceTencent}, live: true}, true
	default:
		return resolution{}, false
	}
}

// resolveCrypto accepts the batch feed value keyed by coin id, with the
// on-chain feed as secondary when the REST lookup misses the id.
func (e *Engine) resolveCrypto(a model.Asset, entry catalog.Entry, gecko, chainlink fetch.Quotes) (resolution, bool) {
	if v, ok := normalize.Valid(gecko[entry.CoinGeckoID]); ok && validation.Acceptable(v, a.Price, e.valOpts) {
		return resolution{price: v, sources: []string{model.SourceCoinGecko}, live: true}, true
	}
	if v, ok := normalize.Valid(chainlink[entry.ChainlinkFeed]); ok && validation.Acceptable(v, a.Price, e.valOpts) {
		return resolution{price: v, sources: []string{model.SourceChainlink}, live: true}, true
	}
	return resolution{}, false
}

func (e *Engine) resolveDirect(a model.Asset, raw float64, source string) (resolution, bool) {
	v, ok := normalize.Valid(raw)
	if !ok || !validation.Acceptable(v, a.Price, e.valOpts) {
		return resolution{}, false
	}
	return resolution{price: v, sources: []string{source}, live: true}, true
}

// fallback is step 6: the price cache, then the last in-memory price, then
// the catalog base price. None of these are live observations.
func (e *Engine) fallback(a model.Asset, cached map[string]float64) resolution {
	if v, ok := normalize.Valid(cached[a.ID]); ok {
		return resolution{price: v, sources: []string{model.SourceCache}}
	}
	if v, ok := normalize.Valid(a.Price); ok {
		return resolution{price: v, sources: []string{model.SourceOffline}}
	}
	if entry, ok := catalog.ByID(a.ID); ok {
		return resolution{price: entry.BasePrice, sources: []string{model.SourceOffline}}
	}
	return resolution{price: a.Price, sources: []string{model.SourceOffline}}
}

// apply builds the asset's next value: price, provenance, history and the
// derived change fields. History drifts by the realized delta only for live
// sources; cached or offline prices observed nothing new, so the series is
// left untouched.
func (e *Engine) apply(a model.Asset, res resolution) model.Asset {
	next := a.Clone()
	previous := next.Price

	next.Price = res.price
	next.Sources = res.sources

	switch {
	case len(next.History) == 0:
		next.History = history.Generate(res.price, history.DefaultPoints)
	case res.live && previous > 0 && res.price != previous:
		next.History = history.Shift(next.History, res.price-previous)
	}

	next.RecomputeChange()
	return next
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
