// Package model defines the core data structures for the investment assistant.
package model

// Category classifies an asset for iconography and display grouping.
// Reconciliation never branches on it except via explicit catalog lists.
type Category string

// Supported asset categories
const (
	CategoryMetal    Category = "metal"
	CategoryCurrency Category = "currency"
	CategoryCrypto   Category = "crypto"
	CategoryEnergy   Category = "energy"
	CategoryIndex    Category = "index"
	CategoryBond     Category = "bond"
	CategoryStock    Category = "stock"
)

// Provenance labels describing which provider produced the current price.
// Display precedence follows the resolution order of the reconciliation engine.
const (
	SourceSina         = "Sina Finance"
	SourceSinaFutures  = "Sina Futures"
	SourceCOMEX        = "COMEX"
	SourceTencent      = "Tencent Finance"
	SourceExchangeRate = "ExchangeRate-API"
	SourceCoinGecko    = "CoinGecko"
	SourceChainlink    = "Chainlink"
	SourceAISearch     = "AI Search"
	SourceCache        = "Cache"
	SourceOffline      = "Offline"
)

// PricePoint is a single entry in an asset's price history series.
type PricePoint struct {
	// Time is a human-readable bucket label, e.g. "14:30" or "06-12"
	Time string `json:"time"`

	// Value is the canonical price at that bucket
	Value float64 `json:"value"`
}

// Asset is the central entity: one tracked financial instrument with its
// reconciled market state and provenance.
type Asset struct {
	// ID is the stable internal key, e.g. "sh_gold"
	ID string `json:"id"`

	// Symbol is the exchange ticker
	Symbol string `json:"symbol"`

	// Name and NameCN are display labels
	Name   string `json:"name"`
	NameCN string `json:"nameCN"`

	// Category classifies the asset for rendering
	Category Category `json:"category"`

	// Price is the current canonical numeric value, always > 0 once a
	// real quote has been observed
	Price float64 `json:"price"`

	// Change is the absolute delta from the first history point
	Change float64 `json:"change"`

	// ChangePercent is derived from Change and history[0], division-by-zero safe
	ChangePercent float64 `json:"changePercent"`

	// History is an ordered fixed-length series, oldest first; the first
	// element is treated as "open" for change computation
	History []PricePoint `json:"history"`

	// Sources lists the provider label(s) that produced the current price
	Sources []string `json:"sources,omitempty"`

	// Unit is the display unit string, not used in computation
	Unit string `json:"unit,omitempty"`
}

// Clone returns a deep copy of the asset so a refresh cycle can build a new
// value without mutating the caller's collection.
func (a Asset) Clone() Asset {
	c := a
	if a.History != nil {
		c.History = make([]PricePoint, len(a.History))
		copy(c.History, a.History)
	}
	if a.Sources != nil {
		c.Sources = make([]string, len(a.Sources))
		copy(c.Sources, a.Sources)
	}
	return c
}

// RecomputeChange derives Change and ChangePercent from the first history
// point. A zero open leaves ChangePercent at zero.
func (a *Asset) RecomputeChange() {
	if len(a.History) == 0 {
		a.Change = 0
		a.ChangePercent = 0
		return
	}
	open := a.History[0].Value
	a.Change = a.Price - open
	if open != 0 {
		a.ChangePercent = a.Change / open * 100
	} else {
		a.ChangePercent = 0
	}
}
