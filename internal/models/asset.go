package models

import "strings"

// AssetType classifies a holding for routing purposes.
type AssetType string

const (
	AssetCryptoSpot AssetType = "crypto_spot"
	AssetCryptoPerp AssetType = "crypto_perp"
	AssetEquity     AssetType = "equity"
)

// ParseAssetType maps a request string to an AssetType. Unknown values
// return the empty type, which lets the resolver classify on its own.
func ParseAssetType(s string) AssetType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crypto_spot", "spot", "crypto":
		return AssetCryptoSpot
	case "crypto_perp", "perp", "perpetual":
		return AssetCryptoPerp
	case "equity", "stock":
		return AssetEquity
	default:
		return ""
	}
}

// Venue identifies an upstream data source.
type Venue string

const (
	VenueCoinbase  Venue = "coinbase"
	VenuePhemex    Venue = "phemex"
	VenueYahoo     Venue = "yahoo"
	VenueCoinGecko Venue = "coingecko"
)

// RoutingPlan describes how to fetch data for one canonical key.
// Plans are immutable once built; NativeIDs carries the venue-local
// instrument id for every venue the plan routes through.
type RoutingPlan struct {
	Key       string           `json:"key"`
	Type      AssetType        `json:"type"`
	Primary   Venue            `json:"primary"`
	Fallbacks []Venue          `json:"fallbacks"`
	NativeIDs map[Venue]string `json:"native_ids"`
}

// Venues returns primary plus fallbacks in priority order.
func (p *RoutingPlan) Venues() []Venue {
	out := make([]Venue, 0, len(p.Fallbacks)+1)
	out = append(out, p.Primary)
	out = append(out, p.Fallbacks...)
	return out
}

// NativeID returns the venue-local instrument id, empty when the plan
// does not route through v.
func (p *RoutingPlan) NativeID(v Venue) string {
	return p.NativeIDs[v]
}
