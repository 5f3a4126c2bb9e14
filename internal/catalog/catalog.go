// Package catalog holds the immutable instrument catalog: every asset the
// dashboard can track, with its hand-tuned base price and the per-provider
// code mappings that drive the reconciliation engine's source-priority table.
package catalog

import (
	"github.com/barton333/Investment-Assistant/internal/model"
)

// ConversionKind selects the unit conversion applied to an international
// backup quote before it becomes a canonical price.
type ConversionKind int

const (
	// ConvertNone passes the quote through unchanged
	ConvertNone ConversionKind = iota

	// ConvertTroyOunce converts USD per troy ounce to CNY per gram
	ConvertTroyOunce

	// ConvertPounds converts USD per pound to CNY per metric ton
	ConvertPounds

	// ConvertUSD multiplies by the USD/CNY rate without a unit change
	ConvertUSD
)

// Entry describes one catalog asset together with its provider code mappings.
// An empty mapping means that provider does not carry the asset.
type Entry struct {
	ID       string
	Symbol   string
	Name     string
	NameCN   string
	Category model.Category
	Unit     string

	// BasePrice is the last-resort seed and offline fallback value
	BasePrice float64

	// MetalThreshold, when > 0, enables the per-kilogram magnitude
	// heuristic on domestic quotes (see normalize.MetalPerGram)
	MetalThreshold float64

	// SinaCode is the primary Sina hq code (equities, forex, indices, HK)
	SinaCode string

	// TencentCode is the redundant Tencent qt code (indices cross-check,
	// HK and global fallbacks)
	TencentCode string

	// FuturesCode is the domestic commodity futures code (nf_ prefix)
	FuturesCode string

	// IntlCode is the international backup futures code (hf_ prefix),
	// converted per IntlConversion using the USD/CNY rate
	IntlCode       string
	IntlConversion ConversionKind

	// CoinGeckoID keys the batch crypto lookup
	CoinGeckoID string

	// ChainlinkFeed is the on-chain aggregator contract address used as a
	// secondary crypto source when CoinGecko misses the id
	ChainlinkFeed string

	// FXPair keys the exchange-rate REST lookup, e.g. "CNY" for USD/CNY
	FXPair string
}

// IsCommodity reports whether the entry uses the domestic/international
// dual-source commodity resolution path.
func (e Entry) IsCommodity() bool { return e.FuturesCode != "" }

// IsDualIndex reports whether the entry is cross-validated between the
// primary and the redundant index feed.
func (e Entry) IsDualIndex() bool { return e.SinaCode != "" && e.TencentCode != "" }

// entries is the static catalog. Base prices are hand-tuned seeds only; a
// live quote always wins.
var entries = []Entry{
	// Precious and industrial metals: domestic futures first, COMEX backup.
	{
		ID: "sh_gold", Symbol: "AU0", Name: "Shanghai Gold", NameCN: "沪金",
		Category: model.CategoryMetal, Unit: "CNY/g", BasePrice: 785.0,
		FuturesCode: "nf_AU0", IntlCode: "hf_GC", IntlConversion: ConvertTroyOunce,
	},
	{
		ID: "sh_silver", Symbol: "AG0", Name: "Shanghai Silver", NameCN: "沪银",
		Category: model.CategoryMetal, Unit: "CNY/g", BasePrice: 9.3,
		MetalThreshold: 1000,
		FuturesCode:    "nf_AG0", IntlCode: "hf_SI", IntlConversion: ConvertTroyOunce,
	},
	{
		ID: "sh_copper", Symbol: "CU0", Name: "Shanghai Copper", NameCN: "沪铜",
		Category: model.CategoryMetal, Unit: "CNY/t", BasePrice: 79500.0,
		FuturesCode: "nf_CU0", IntlCode: "hf_CAD", IntlConversion: ConvertPounds,
	},

	// Energy
	{
		ID: "sc_oil", Symbol: "SC0", Name: "INE Crude Oil", NameCN: "原油",
		Category: model.CategoryEnergy, Unit: "CNY/bbl", BasePrice: 520.0,
		FuturesCode: "nf_SC0", IntlCode: "hf_CL", IntlConversion: ConvertUSD,
	},

	// Domestic indices: Sina primary, Tencent redundant cross-check.
	{
		ID: "sh_composite", Symbol: "000001.SH", Name: "SSE Composite", NameCN: "上证指数",
		Category: model.CategoryIndex, Unit: "pts", BasePrice: 3350.0,
		SinaCode: "sh000001", TencentCode: "sh000001",
	},
	{
		ID: "sz_component", Symbol: "399001.SZ", Name: "SZSE Component", NameCN: "深证成指",
		Category: model.CategoryIndex, Unit: "pts", BasePrice: 10600.0,
		SinaCode: "sz399001", TencentCode: "sz399001",
	},
	{
		ID: "hs300", Symbol: "000300.SH", Name: "CSI 300", NameCN: "沪深300",
		Category: model.CategoryIndex, Unit: "pts", BasePrice: 3900.0,
		SinaCode: "sh000300", TencentCode: "sh000300",
	},

	// Global indices: single canonical provider.
	{
		ID: "dji", Symbol: "DJI", Name: "Dow Jones", NameCN: "道琼斯",
		Category: model.CategoryIndex, Unit: "pts", BasePrice: 42500.0,
		SinaCode: "gb_$dji",
	},
	{
		ID: "nasdaq", Symbol: "IXIC", Name: "NASDAQ", NameCN: "纳斯达克",
		Category: model.CategoryIndex, Unit: "pts", BasePrice: 19200.0,
		SinaCode: "gb_ixic",
	},

	// Forex
	{
		ID: "usd_cnh", Symbol: "USDCNH", Name: "USD/CNH", NameCN: "美元离岸人民币",
		Category: model.CategoryCurrency, Unit: "CNY", BasePrice: 7.25,
		SinaCode: "fx_susdcnh",
	},
	{
		ID: "usd_cny", Symbol: "USDCNY", Name: "USD/CNY", NameCN: "美元人民币",
		Category: model.CategoryCurrency, Unit: "CNY", BasePrice: 7.22,
		FXPair: "CNY",
	},

	// Crypto: CoinGecko batch primary, Chainlink on-chain secondary.
	{
		ID: "btc", Symbol: "BTC", Name: "Bitcoin", NameCN: "比特币",
		Category: model.CategoryCrypto, Unit: "USD", BasePrice: 68500.0,
		CoinGeckoID: "bitcoin", ChainlinkFeed: "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c",
	},
	{
		ID: "eth", Symbol: "ETH", Name: "Ethereum", NameCN: "以太坊",
		Category: model.CategoryCrypto, Unit: "USD", BasePrice: 3600.0,
		CoinGeckoID: "ethereum", ChainlinkFeed: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
	},
	{
		ID: "sol", Symbol: "SOL", Name: "Solana", NameCN: "索拉纳",
		Category: model.CategoryCrypto, Unit: "USD", BasePrice: 175.0,
		CoinGeckoID: "solana",
	},

	// Equities
	{
		ID: "moutai", Symbol: "600519.SH", Name: "Kweichow Moutai", NameCN: "贵州茅台",
		Category: model.CategoryStock, Unit: "CNY", BasePrice: 1480.0,
		SinaCode: "sh600519",
	},
	{
		ID: "byd", Symbol: "002594.SZ", Name: "BYD", NameCN: "比亚迪",
		Category: model.CategoryStock, Unit: "CNY", BasePrice: 305.0,
		SinaCode: "sz002594",
	},
	{
		ID: "hk_tencent", Symbol: "0700.HK", Name: "Tencent Holdings", NameCN: "腾讯控股",
		Category: model.CategoryStock, Unit: "HKD", BasePrice: 415.0,
		SinaCode: "rt_hk00700",
	},

	// Bonds: no structured provider carries the 10Y yield, so resolution
	// goes straight to the AI fallback, then cache/offline.
	{
		ID: "cn_10y_bond", Symbol: "CN10Y", Name: "China 10Y Treasury", NameCN: "中国10年期国债",
		Category: model.CategoryBond, Unit: "%", BasePrice: 2.15,
	},
}

// All returns the full catalog. The returned slice is a copy; entries
// themselves are immutable at runtime.
func All() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// ByID returns the entry for an asset id, if present.
func ByID(id string) (Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Assets derives a fresh asset collection from the catalog, seeded at each
// entry's base price. History is left for the caller to initialize.
func Assets() []model.Asset {
	out := make([]model.Asset, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.Asset{
			ID:       e.ID,
			Symbol:   e.Symbol,
			Name:     e.Name,
			NameCN:   e.NameCN,
			Category: e.Category,
			Price:    e.BasePrice,
			Unit:     e.Unit,
			Sources:  []string{model.SourceOffline},
		})
	}
	return out
}
