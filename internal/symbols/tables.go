package symbols

// Curated instrument tables for the majors. Keys missing from a table
// get a synthesized id: "{KEY}-USD" on Coinbase, "{KEY}USDT" on Phemex,
// the lowercased key on CoinGecko.

// coinbaseProducts maps canonical keys to Coinbase spot product ids.
var coinbaseProducts = map[string]string{
	"BTC":   "BTC-USD",
	"ETH":   "ETH-USD",
	"SOL":   "SOL-USD",
	"XRP":   "XRP-USD",
	"ADA":   "ADA-USD",
	"DOGE":  "DOGE-USD",
	"AVAX":  "AVAX-USD",
	"DOT":   "DOT-USD",
	"LINK":  "LINK-USD",
	"MATIC": "MATIC-USD",
	"LTC":   "LTC-USD",
	"BCH":   "BCH-USD",
	"UNI":   "UNI-USD",
	"AAVE":  "AAVE-USD",
	"ATOM":  "ATOM-USD",
	"ALGO":  "ALGO-USD",
	"XLM":   "XLM-USD",
	"NEAR":  "NEAR-USD",
	"FIL":   "FIL-USD",
	"ICP":   "ICP-USD",
	"APT":   "APT-USD",
	"ARB":   "ARB-USD",
	"OP":    "OP-USD",
	"INJ":   "INJ-USD",
	"SUI":   "SUI-USD",
	"SEI":   "SEI-USD",
	"TIA":   "TIA-USD",
	"RNDR":  "RNDR-USD",
	"FET":   "FET-USD",
	"IMX":   "IMX-USD",
	"ETC":   "ETC-USD",
	"HBAR":  "HBAR-USD",
	"USDT":  "USDT-USD",
}

// phemexPerps maps canonical keys to Phemex USDT-margined contracts.
var phemexPerps = map[string]string{
	"BTC":  "BTCUSDT",
	"ETH":  "ETHUSDT",
	"SOL":  "SOLUSDT",
	"XRP":  "XRPUSDT",
	"ADA":  "ADAUSDT",
	"DOGE": "DOGEUSDT",
	"AVAX": "AVAXUSDT",
	"DOT":  "DOTUSDT",
	"LINK": "LINKUSDT",
	"LTC":  "LTCUSDT",
	"BCH":  "BCHUSDT",
	"UNI":  "UNIUSDT",
	"ATOM": "ATOMUSDT",
	"NEAR": "NEARUSDT",
	"APT":  "APTUSDT",
	"ARB":  "ARBUSDT",
	"OP":   "OPUSDT",
	"INJ":  "INJUSDT",
	"SUI":  "SUIUSDT",
	"TIA":  "TIAUSDT",
	"ZRO":  "ZROUSDT",
}

// coingeckoIDs maps canonical keys to CoinGecko coin ids, which rarely
// match the ticker.
var coingeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"AVAX":  "avalanche-2",
	"DOT":   "polkadot",
	"LINK":  "chainlink",
	"MATIC": "matic-network",
	"LTC":   "litecoin",
	"BCH":   "bitcoin-cash",
	"UNI":   "uniswap",
	"AAVE":  "aave",
	"ATOM":  "cosmos",
	"ALGO":  "algorand",
	"XLM":   "stellar",
	"NEAR":  "near",
	"FIL":   "filecoin",
	"ICP":   "internet-computer",
	"APT":   "aptos",
	"ARB":   "arbitrum",
	"OP":    "optimism",
	"INJ":   "injective-protocol",
	"SUI":   "sui",
	"SEI":   "sei-network",
	"TIA":   "celestia",
	"RNDR":  "render-token",
	"FET":   "fetch-ai",
	"IMX":   "immutable-x",
	"ETC":   "ethereum-classic",
	"HBAR":  "hedera-hashgraph",
	"ZRO":   "layerzero",
	"PEPE":  "pepe",
	"WIF":   "dogwifcoin",
	"BONK":  "bonk",
	"USDT":  "tether",
	"USDC":  "usd-coin",
}

// defaultAliases maps long-form or alternate spellings to canonical
// keys. The watchlist file can extend this set.
var defaultAliases = map[string]string{
	"BITCOIN":   "BTC",
	"XBT":       "BTC",
	"ETHEREUM":  "ETH",
	"SOLANA":    "SOL",
	"RIPPLE":    "XRP",
	"CARDANO":   "ADA",
	"DOGECOIN":  "DOGE",
	"AVALANCHE": "AVAX",
	"POLKADOT":  "DOT",
	"CHAINLINK": "LINK",
	"POLYGON":   "MATIC",
	"LITECOIN":  "LTC",
	"UNISWAP":   "UNI",
	"COSMOS":    "ATOM",
	"STELLAR":   "XLM",
	"ARBITRUM":  "ARB",
	"OPTIMISM":  "OP",
	"CELESTIA":  "TIA",
	"LAYERZERO": "ZRO",
	"DOGWIFHAT": "WIF",
	"RENDER":    "RNDR",
	"TETHER":    "USDT",
}
