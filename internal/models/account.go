package models

import "database/sql"

// Account mirrors a row of the accounts table. Rows are created once by
// the bootstrap upsert; only the mutable columns change afterwards.
type Account struct {
	Username        string         `db:"username"`
	Password        string         `db:"password"`
	Level           int            `db:"level"`
	Region          sql.NullString `db:"region"`
	InUseBy         sql.NullString `db:"in_use_by"`
	LastUse         int64          `db:"last_use"`
	LastReturned    sql.NullInt64  `db:"last_returned"`
	LastReason      sql.NullString `db:"last_reason"`
	LastBurned      sql.NullString `db:"last_burned"`
	LastUpdated     int64          `db:"last_updated"`
	Purpose         sql.NullString `db:"purpose"`
	SoftbanTime     sql.NullString `db:"softban_time"`
	SoftbanLocation sql.NullString `db:"softban_location"`
}

// Candidate is what the selection queries return: the credential plus the
// windowed encounter total and the softban state the spatial check needs.
type Candidate struct {
	Username        string         `db:"username"`
	Password        string         `db:"password"`
	Level           int            `db:"level"`
	Encounters      int64          `db:"encounters"`
	SoftbanTime     sql.NullString `db:"softban_time"`
	SoftbanLocation sql.NullString `db:"softban_location"`
}

// Binding is the account currently held by a device.
type Binding struct {
	Username string         `db:"username"`
	LastUse  int64          `db:"last_use"`
	Level    int            `db:"level"`
	Purpose  sql.NullString `db:"purpose"`
}

// HistoryEntry mirrors a row of the accounts_history table. Rows with a
// NULL returned column are the open bindings.
type HistoryEntry struct {
	ID         int64          `db:"id"`
	Username   string         `db:"username"`
	Device     string         `db:"device"`
	Acquired   string         `db:"acquired"`
	Returned   sql.NullString `db:"returned"`
	Reason     sql.NullString `db:"reason"`
	Encounters int64          `db:"encounters"`
	Purpose    sql.NullString `db:"purpose"`
}

// AccountInfo is the /get/<device>/info projection.
type AccountInfo struct {
	Username        string         `db:"username"`
	Level           int            `db:"level"`
	LastReturned    sql.NullInt64  `db:"last_returned"`
	Encounters      int64          `db:"encounters"`
	SoftbanTime     sql.NullString `db:"softban_time"`
	SoftbanLocation sql.NullString `db:"softban_location"`
}
