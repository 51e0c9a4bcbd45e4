package symbols

import (
	"strings"

	"vega-market/internal/models"
)

// Resolver turns user-facing symbols into canonical keys and immutable
// routing plans. Resolution is pure: equal inputs always yield equal
// plans, so callers may cache results freely.
type Resolver struct {
	aliases map[string]string
}

// NewResolver builds a resolver from the built-in alias table merged
// with overrides (watchlist file entries win on conflict).
func NewResolver(overrides map[string]string) *Resolver {
	aliases := make(map[string]string, len(defaultAliases)+len(overrides))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for k, v := range overrides {
		aliases[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	return &Resolver{aliases: aliases}
}

// quote and contract suffixes stripped from compound symbols, longest first
var quoteSuffixes = []string{"USDT", "USDC", "PERP", "USD"}

// Normalize reduces a raw symbol to its canonical key. An empty result
// means the symbol cannot be classified.
func (r *Resolver) Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))

	// vendor prefixes like "COINBASE:BTCUSD"
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}

	s = strings.Map(func(c rune) rune {
		switch c {
		case '/', '-', '_', '.', ' ':
			return -1
		}
		return c
	}, s)

	for {
		trimmed := trimQuoteSuffix(s)
		if trimmed == s {
			break
		}
		s = trimmed
	}

	if alias, ok := r.aliases[s]; ok {
		return alias
	}
	return s
}

// trimQuoteSuffix strips one trailing quote/contract suffix, never the
// whole symbol ("USDT" stays "USDT").
func trimQuoteSuffix(s string) string {
	for _, suf := range quoteSuffixes {
		if strings.HasSuffix(s, suf) && len(s) > len(suf) {
			return s[:len(s)-len(suf)]
		}
	}
	return s
}

// Resolve classifies a symbol and builds its routing plan. The hint
// overrides classification when provided. Returns nil only when the
// symbol normalizes to nothing.
func (r *Resolver) Resolve(symbol string, hint models.AssetType) *models.RoutingPlan {
	key := r.Normalize(symbol)
	if key == "" {
		return nil
	}

	typ := hint
	if typ == "" {
		typ = classify(key)
	}

	plan := &models.RoutingPlan{
		Key:       key,
		Type:      typ,
		NativeIDs: make(map[models.Venue]string),
	}

	switch typ {
	case models.AssetCryptoSpot:
		if _, listed := coinbaseProducts[key]; listed {
			plan.Primary = models.VenueCoinbase
			plan.Fallbacks = []models.Venue{models.VenuePhemex, models.VenueCoinGecko}
		} else {
			plan.Primary = models.VenueCoinGecko
			plan.Fallbacks = []models.Venue{models.VenuePhemex}
		}
	case models.AssetCryptoPerp:
		if _, listed := phemexPerps[key]; listed {
			plan.Primary = models.VenuePhemex
		} else {
			plan.Primary = models.VenueCoinbase
		}
		plan.Fallbacks = []models.Venue{models.VenueCoinGecko}
	default:
		// equities, and unknowns with no crypto listing; long-form
		// unknowns land here too and may mis-route until aliased
		plan.Primary = models.VenueYahoo
	}

	for _, v := range plan.Venues() {
		plan.NativeIDs[v] = nativeID(v, key)
	}
	return plan
}

// classify decides the asset type when the caller gives no hint: keys
// with a known crypto listing trade as spot, the rest are assumed to be
// equity tickers.
func classify(key string) models.AssetType {
	if _, ok := coinbaseProducts[key]; ok {
		return models.AssetCryptoSpot
	}
	if _, ok := coingeckoIDs[key]; ok {
		return models.AssetCryptoSpot
	}
	if _, ok := phemexPerps[key]; ok {
		return models.AssetCryptoSpot
	}
	return models.AssetEquity
}

func nativeID(v models.Venue, key string) string {
	switch v {
	case models.VenueCoinbase:
		if id, ok := coinbaseProducts[key]; ok {
			return id
		}
		return key + "-USD"
	case models.VenuePhemex:
		if id, ok := phemexPerps[key]; ok {
			return id
		}
		return key + "USDT"
	case models.VenueCoinGecko:
		if id, ok := coingeckoIDs[key]; ok {
			return id
		}
		return strings.ToLower(key)
	default:
		return key
	}
}
