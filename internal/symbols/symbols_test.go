package symbols

import "testing"

func TestToFeedSymbol_KnownAliases(t *testing.T) {
	cases := map[string]string{
		"bitcoin":  "btcusdt",
		"Bitcoin":  "btcusdt",
		"ethereum": "ethusdt",
		"sui":      "suiusdt",
		"dogecoin": "dogeusdt",
	}
	for token, want := range cases {
		if got := ToFeedSymbol(token); got != want {
			t.Errorf("ToFeedSymbol(%q) = %q, want %q", token, got, want)
		}
	}
}

func TestToFeedSymbol_UnknownPassThrough(t *testing.T) {
	// Unknown identifiers must never fail; they become best-effort symbols.
	if got := ToFeedSymbol("SomeRandomCoin"); got != "somerandomcoinusdt" {
		t.Errorf("unknown token mapped to %q", got)
	}
	if got := ToFeedSymbol(""); got != "usdt" {
		t.Errorf("empty token mapped to %q", got)
	}
}

func TestToFeedSymbol_AlreadyCanonical(t *testing.T) {
	// A symbol that already carries the quote suffix is left intact.
	if got := ToFeedSymbol("btcusdt"); got != "btcusdt" {
		t.Errorf("canonical symbol re-mapped to %q", got)
	}
}

func TestTeamSymbols_DeduplicatesPreservingOrder(t *testing.T) {
	got := TeamSymbols([]string{"bitcoin", "btcusdt", "ethereum", "Bitcoin"})
	want := []string{"btcusdt", "ethusdt"}
	if len(got) != len(want) {
		t.Fatalf("TeamSymbols returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TeamSymbols[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBaseAsset(t *testing.T) {
	if got := BaseAsset("btcusdt"); got != "btc" {
		t.Errorf("BaseAsset(btcusdt) = %q", got)
	}
	if got := BaseAsset("weird"); got != "weird" {
		t.Errorf("BaseAsset(weird) = %q", got)
	}
}
