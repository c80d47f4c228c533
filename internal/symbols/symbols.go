// Package symbols translates human-readable asset identifiers into the
// canonical market symbols used for feed subscriptions.
package symbols

import "strings"

// QuoteSuffix is the quote asset appended to every canonical symbol.
const QuoteSuffix = "usdt"

// aliases maps common asset identifiers to exchange base tickers.
// Identifiers not listed here fall through to lowercase pass-through.
var aliases = map[string]string{
	"bitcoin":     "btc",
	"ethereum":    "eth",
	"solana":      "sol",
	"sui":         "sui",
	"binancecoin": "bnb",
	"ripple":      "xrp",
	"cardano":     "ada",
	"dogecoin":    "doge",
	"shiba-inu":   "shib",
	"polkadot":    "dot",
	"avalanche":   "avax",
	"chainlink":   "link",
	"litecoin":    "ltc",
	"polygon":     "matic",
	"uniswap":     "uni",
	"aptos":       "apt",
	"arbitrum":    "arb",
	"optimism":    "op",
	"near":        "near",
	"cosmos":      "atom",
	"toncoin":     "ton",
	"pepe":        "pepe",
	"tron":        "trx",
	"stellar":     "xlm",
	"filecoin":    "fil",
	"injective":   "inj",
}

// ToFeedSymbol maps an asset identifier to its canonical feed symbol,
// e.g. "bitcoin" -> "btcusdt". Total: unknown identifiers become
// best-effort symbols (lowercased, suffix appended) that the feed may
// simply never produce ticks for; callers must treat those as
// permanently-missing data, not as an error.
func ToFeedSymbol(token string) string {
	key := strings.ToLower(strings.TrimSpace(token))
	if base, ok := aliases[key]; ok {
		return base + QuoteSuffix
	}
	if strings.HasSuffix(key, QuoteSuffix) {
		return key
	}
	return key + QuoteSuffix
}

// TeamSymbols maps a team's token identifiers to canonical symbols,
// preserving order and dropping duplicates.
func TeamSymbols(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		sym := ToFeedSymbol(tok)
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// BaseAsset strips the quote suffix from a canonical symbol,
// e.g. "btcusdt" -> "btc". Symbols without the suffix pass through.
func BaseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, QuoteSuffix)
}
