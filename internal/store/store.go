// Package store is the typed access layer over the accounts and
// accounts_history tables. Reservation correctness lives here: the
// selecting SELECT takes a row lock and the mark-used UPDATE runs in the
// same transaction.
package store

import (
	"github.com/pogo-tools/account-broker/internal/config"
	"github.com/pogo-tools/account-broker/internal/database"
	"github.com/rs/zerolog/log"
)

// Store exposes the queries the assignment engine needs.
type Store struct {
	db  *database.Manager
	cfg *config.Config
}

// New creates a Store over the global database connection.
func New() *Store {
	return &Store{db: database.Get(), cfg: config.Get()}
}

// purposeLevelClause maps a requested purpose onto its level constraint.
func purposeLevelClause(purpose string) string {
	switch purpose {
	case "iv", "quest", "quest_iv":
		return "(a.level >= 30)"
	case "mon_raid":
		return "(a.level >= 8)"
	case "level":
		return "(a.level < 30)"
	default:
		log.Warn().Str("purpose", purpose).Msg("unhandled purpose, no level restriction")
		return "(1=1)"
	}
}

// reuseClause is the long-cooldown predicate: once a cooldown-triggering
// release has aged out (or never set a reason), the account is usable
// again even though last_returned is still populated. The single arg is
// the cooldown horizon in epoch seconds.
const reuseClause = "(a.last_returned IS NULL OR a.last_returned < ? OR a.last_reason IS NULL)"

// encounterJoin aggregates history encounters over the trailing cooldown
// window. Accounts without matching history yield NULL, coalesced to 0.
// The single arg is the window start as a datetime string.
const encounterJoin = `LEFT JOIN (
		SELECT ax.username, SUM(ax.encounters) AS total
		  FROM accounts_history ax
		 WHERE ax.returned > ?
		 GROUP BY ax.username
	) ah ON ah.username = a.username`

const candidateColumns = `a.username, a.password, a.level,
	COALESCE(ah.total, 0) AS encounters, a.softban_time, a.softban_location`
