package symbols

import (
	"reflect"
	"testing"

	"vega-market/internal/models"
)

func TestNormalizeCanonicalForms(t *testing.T) {
	r := NewResolver(nil)

	forms := []string{"BTC", "btc", "BTCUSD", "BTC-USD", "BTC/USD", "COINBASE:BTCUSD", "BITCOIN"}
	for _, form := range forms {
		if got := r.Normalize(form); got != "BTC" {
			t.Errorf("Normalize(%q) = %q, want BTC", form, got)
		}
	}
}

func TestNormalizeSuffixes(t *testing.T) {
	r := NewResolver(nil)

	cases := map[string]string{
		"ETHUSDT":        "ETH",
		"ETHUSDC":        "ETH",
		"SOLPERP":        "SOL",
		"BTCUSDTPERP":    "BTC",
		"LAYERZERO":      "ZRO",
		"ZROUSDT":        "ZRO",
		"PHEMEX:ETHUSDT": "ETH",
		"MSTR":           "MSTR",

		// a bare stablecoin symbol is an asset, not a suffix
		"USDT": "USDT",
		"USD":  "USD",
	}
	for in, want := range cases {
		if got := r.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveIsPure(t *testing.T) {
	r := NewResolver(nil)

	a := r.Resolve("BTC-USD", models.AssetCryptoSpot)
	b := r.Resolve("BTC-USD", models.AssetCryptoSpot)
	if a == nil || b == nil {
		t.Fatal("Resolve returned nil for BTC-USD")
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Resolve is not deterministic: %+v vs %+v", a, b)
	}
}

func TestResolveRouting(t *testing.T) {
	r := NewResolver(nil)

	tests := []struct {
		name      string
		symbol    string
		hint      models.AssetType
		key       string
		primary   models.Venue
		fallbacks []models.Venue
	}{
		{
			name:      "spot listed on coinbase",
			symbol:    "BTC",
			hint:      models.AssetCryptoSpot,
			key:       "BTC",
			primary:   models.VenueCoinbase,
			fallbacks: []models.Venue{models.VenuePhemex, models.VenueCoinGecko},
		},
		{
			name:      "spot not listed on coinbase",
			symbol:    "ZRO",
			hint:      models.AssetCryptoSpot,
			key:       "ZRO",
			primary:   models.VenueCoinGecko,
			fallbacks: []models.Venue{models.VenuePhemex},
		},
		{
			name:      "perp listed on phemex",
			symbol:    "BTC",
			hint:      models.AssetCryptoPerp,
			key:       "BTC",
			primary:   models.VenuePhemex,
			fallbacks: []models.Venue{models.VenueCoinGecko},
		},
		{
			name:      "perp not listed on phemex",
			symbol:    "HBAR",
			hint:      models.AssetCryptoPerp,
			key:       "HBAR",
			primary:   models.VenueCoinbase,
			fallbacks: []models.Venue{models.VenueCoinGecko},
		},
		{
			name:    "equity",
			symbol:  "MSTR",
			hint:    models.AssetEquity,
			key:     "MSTR",
			primary: models.VenueYahoo,
		},
		{
			name:    "unhinted ticker with no crypto listing",
			symbol:  "NVDA",
			key:     "NVDA",
			primary: models.VenueYahoo,
		},
		{
			name:      "unhinted crypto listing classifies as spot",
			symbol:    "ethereum",
			key:       "ETH",
			primary:   models.VenueCoinbase,
			fallbacks: []models.Venue{models.VenuePhemex, models.VenueCoinGecko},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := r.Resolve(tt.symbol, tt.hint)
			if plan == nil {
				t.Fatalf("Resolve(%q, %q) = nil", tt.symbol, tt.hint)
			}
			if plan.Key != tt.key {
				t.Errorf("key = %q, want %q", plan.Key, tt.key)
			}
			if plan.Primary != tt.primary {
				t.Errorf("primary = %q, want %q", plan.Primary, tt.primary)
			}
			if !reflect.DeepEqual(plan.Fallbacks, tt.fallbacks) {
				t.Errorf("fallbacks = %v, want %v", plan.Fallbacks, tt.fallbacks)
			}
			for _, v := range plan.Venues() {
				if plan.NativeIDs[v] == "" {
					t.Errorf("missing native id for venue %s", v)
				}
			}
		})
	}
}

func TestResolveUnclassifiable(t *testing.T) {
	r := NewResolver(nil)

	for _, symbol := range []string{"", "   ", "---", "://"} {
		if plan := r.Resolve(symbol, ""); plan != nil {
			t.Errorf("Resolve(%q) = %+v, want nil", symbol, plan)
		}
	}
}

func TestNativeIDs(t *testing.T) {
	r := NewResolver(nil)

	plan := r.Resolve("BTC", models.AssetCryptoSpot)
	if plan == nil {
		t.Fatal("Resolve returned nil for BTC")
	}
	if got := plan.NativeID(models.VenueCoinbase); got != "BTC-USD" {
		t.Errorf("coinbase id = %q, want BTC-USD", got)
	}
	if got := plan.NativeID(models.VenuePhemex); got != "BTCUSDT" {
		t.Errorf("phemex id = %q, want BTCUSDT", got)
	}
	if got := plan.NativeID(models.VenueCoinGecko); got != "bitcoin" {
		t.Errorf("coingecko id = %q, want bitcoin", got)
	}

	// synthesized ids for unlisted keys
	plan = r.Resolve("FOO", models.AssetCryptoSpot)
	if plan == nil {
		t.Fatal("Resolve returned nil for FOO")
	}
	if got := plan.NativeID(models.VenueCoinGecko); got != "foo" {
		t.Errorf("synthesized coingecko id = %q, want foo", got)
	}
	if got := plan.NativeID(models.VenuePhemex); got != "FOOUSDT" {
		t.Errorf("synthesized phemex id = %q, want FOOUSDT", got)
	}
}

func TestAliasOverrides(t *testing.T) {
	r := NewResolver(map[string]string{"wrappedbtc": "btc"})

	if got := r.Normalize("WRAPPEDBTC"); got != "BTC" {
		t.Errorf("override alias: Normalize(WRAPPEDBTC) = %q, want BTC", got)
	}
	// built-ins survive the merge
	if got := r.Normalize("SOLANA"); got != "SOL" {
		t.Errorf("builtin alias: Normalize(SOLANA) = %q, want SOL", got)
	}
}
