package domain

// Team represents one player's token lineup for a match.
// Corresponds to teams table in PostgreSQL.
type Team struct {
	ID       string   // PRIMARY KEY, uuid
	PlayerID string   // external player identifier
	Tokens   []string // human-readable asset identifiers, e.g. "bitcoin"
	Symbols  []string // canonical feed symbols, resolved by the mapper
}
