package symbols

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"vega-market/internal/models"
)

func TestLoadWatchlist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.yaml")

	yaml := `watchlist:
  - symbol: BTC
    type: crypto_spot
  - symbol: MSTR
    type: equity
  - symbol: ""
aliases:
  WRAPPEDBTC: BTC
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	config, err := LoadWatchlist(path)
	if err != nil {
		t.Fatalf("LoadWatchlist: %v", err)
	}
	if len(config.Watchlist) != 2 {
		t.Fatalf("got %d entries, want 2 (empty symbol dropped)", len(config.Watchlist))
	}
	if config.Aliases["WRAPPEDBTC"] != "BTC" {
		t.Errorf("aliases not parsed: %v", config.Aliases)
	}

	holdings := config.Holdings()
	if holdings[0].Symbol != "BTC" || holdings[0].Type != models.AssetCryptoSpot {
		t.Errorf("holding[0] = %+v", holdings[0])
	}
	if holdings[1].Type != models.AssetEquity {
		t.Errorf("holding[1] = %+v", holdings[1])
	}
}

func TestLoadWatchlistWithFallback(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	config := LoadWatchlistWithFallback("/nonexistent/symbols.yaml", logger)
	if config == nil || len(config.Watchlist) == 0 {
		t.Fatal("fallback watchlist is empty")
	}
}

func TestLoadWatchlistErrors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("watchlist: []\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadWatchlist(empty); err == nil {
		t.Error("expected error for empty watchlist")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("watchlist: {nope"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadWatchlist(bad); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
