package domain

// TeamScoreSample is one point of a team's percentage-change series.
// Append-only per match; sampled on a fixed cadence while the match is
// IN_PROGRESS. Corresponds to score_samples table in PostgreSQL.
type TeamScoreSample struct {
	MatchID       string
	TeamID        string
	TimestampMs   int64   // sampling instant (ms)
	PercentChange float64 // mean percent change over symbols with an initial price
}

// MatchTickRecord is one audited feed tick attributed to an active match.
// Advisory data for debugging and audit, never authoritative for
// settlement. Corresponds to match_tick_history table in ClickHouse.
type MatchTickRecord struct {
	MatchID      string
	Symbol       string
	Price        float64
	TimestampMs  int64
	RecordedAtMs int64 // when the engine observed the tick (ms)
}
