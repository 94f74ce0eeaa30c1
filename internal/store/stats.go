package store

import (
	"database/sql"
	"fmt"

	"github.com/pogo-tools/account-broker/internal/clock"
)

// RegionStats is one /stats entry.
type RegionStats struct {
	Total     RegionTotals    `json:"total"`
	Available RegionAvailable `json:"available"`
}

type RegionTotals struct {
	Accounts  int            `json:"accounts"`
	InUse     int            `json:"in_use"`
	Cooldown  map[string]int `json:"cooldown"`
	Unleveled int            `json:"unleveled"`
}

type RegionAvailable struct {
	Total     int `json:"total"`
	Leveled   int `json:"leveled"`
	Unleveled int `json:"unleveled"`
}

// Stats aggregates the pool per region. "EU" and "US" include shared
// (region-less) accounts; "shared" counts only those.
func (s *Store) Stats() (map[string]RegionStats, error) {
	result := make(map[string]RegionStats)
	for _, region := range []string{"EU", "US"} {
		st, err := s.regionStats("(region = ? OR region IS NULL)", region)
		if err != nil {
			return nil, err
		}
		result[region] = *st
	}
	st, err := s.regionStats("region IS NULL")
	if err != nil {
		return nil, err
	}
	result["shared"] = *st
	return result, nil
}

func (s *Store) regionStats(regionClause string, regionArgs ...interface{}) (*RegionStats, error) {
	now := clock.Now()
	horizon := now.Unix() - s.cfg.CooldownSeconds()
	shortHorizon := now.Unix() - s.cfg.ShortCooldownSeconds()
	reusable := "(last_returned IS NULL OR last_returned < ? OR last_reason IS NULL)"

	count := func(condition string, args ...interface{}) (int, error) {
		var n int
		err := s.db.DB.Get(&n, s.db.Rebind(
			fmt.Sprintf("SELECT COUNT(*) FROM accounts WHERE %s AND %s", condition, regionClause)),
			append(args, regionArgs...)...)
		return n, err
	}

	total, err := count("1=1")
	if err != nil {
		return nil, err
	}
	inUse, err := count("in_use_by IS NOT NULL")
	if err != nil {
		return nil, err
	}
	unleveled, err := count("level < 30")
	if err != nil {
		return nil, err
	}
	availLeveled, err := count(
		reusable+" AND last_use < ? AND in_use_by IS NULL AND level >= 30",
		horizon, shortHorizon)
	if err != nil {
		return nil, err
	}
	// The unleveled availability deliberately skips the re-use cooldown
	// filter; unleveled accounts bypass it during selection as well.
	availUnleveled, err := count(
		"last_use < ? AND in_use_by IS NULL AND level < 30", shortHorizon)
	if err != nil {
		return nil, err
	}

	cooldown, err := s.cooldownBreakdown(regionClause, horizon, regionArgs...)
	if err != nil {
		return nil, err
	}

	return &RegionStats{
		Total: RegionTotals{
			Accounts:  total,
			InUse:     inUse,
			Cooldown:  cooldown,
			Unleveled: unleveled,
		},
		Available: RegionAvailable{
			Total:     availLeveled + availUnleveled,
			Leveled:   availLeveled,
			Unleveled: availUnleveled,
		},
	}, nil
}

// cooldownBreakdown maps last_reason to the number of accounts still
// inside the cooldown window for that reason.
func (s *Store) cooldownBreakdown(regionClause string, horizon int64, regionArgs ...interface{}) (map[string]int, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT last_reason, COUNT(*) AS n FROM accounts
		 WHERE last_returned >= ? AND %s
		 GROUP BY last_reason`, regionClause))

	rows, err := s.db.DB.Queryx(query, append([]interface{}{horizon}, regionArgs...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := make(map[string]int)
	for rows.Next() {
		var reason sql.NullString
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		key := reason.String
		if !reason.Valid || key == "" {
			key = "unknown"
		}
		breakdown[key] = n
	}
	return breakdown, rows.Err()
}
