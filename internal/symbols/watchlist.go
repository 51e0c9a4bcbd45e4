package symbols

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"vega-market/internal/models"
)

// WatchlistConfig represents the YAML configuration structure: the
// holding set the server watches plus alias overrides for the resolver.
type WatchlistConfig struct {
	Watchlist []WatchlistEntry  `yaml:"watchlist"`
	Aliases   map[string]string `yaml:"aliases"`
}

// WatchlistEntry is one watched symbol with an optional type hint.
type WatchlistEntry struct {
	Symbol string `yaml:"symbol"`
	Type   string `yaml:"type"`
}

// LoadWatchlist loads the watchlist from a YAML file.
func LoadWatchlist(filePath string) (*WatchlistConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist file: %w", err)
	}

	var config WatchlistConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse watchlist YAML: %w", err)
	}

	valid := config.Watchlist[:0]
	for _, e := range config.Watchlist {
		if e.Symbol != "" {
			valid = append(valid, e)
		}
	}
	config.Watchlist = valid

	if len(config.Watchlist) == 0 {
		return nil, fmt.Errorf("no symbols found in watchlist file")
	}

	return &config, nil
}

// LoadWatchlistWithFallback tries to load from YAML, falls back to the
// built-in defaults when the file is missing or invalid.
func LoadWatchlistWithFallback(filePath string, logger *logrus.Logger) *WatchlistConfig {
	config, err := LoadWatchlist(filePath)
	if err != nil {
		logger.WithError(err).Warnf("Could not load watchlist from %s - using defaults", filePath)
		return DefaultWatchlist()
	}
	logger.Infof("✅ Loaded %d watchlist symbols from %s", len(config.Watchlist), filePath)
	return config
}

// DefaultWatchlist returns the built-in holding set used when no
// watchlist file is configured.
func DefaultWatchlist() *WatchlistConfig {
	return &WatchlistConfig{
		Watchlist: []WatchlistEntry{
			{Symbol: "BTC", Type: "crypto_spot"},
			{Symbol: "ETH", Type: "crypto_spot"},
			{Symbol: "SOL", Type: "crypto_spot"},
			{Symbol: "ZRO", Type: "crypto_spot"},
			{Symbol: "MSTR", Type: "equity"},
			{Symbol: "COIN", Type: "equity"},
		},
	}
}

// Holdings converts watchlist entries into model holdings.
func (c *WatchlistConfig) Holdings() []models.Holding {
	holdings := make([]models.Holding, 0, len(c.Watchlist))
	for _, e := range c.Watchlist {
		holdings = append(holdings, models.Holding{
			Symbol: e.Symbol,
			Type:   models.ParseAssetType(e.Type),
		})
	}
	return holdings
}
