package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pogo-tools/account-broker/internal/clock"
	"github.com/pogo-tools/account-broker/internal/database"
	"github.com/pogo-tools/account-broker/internal/models"
)

// PickParams carries the inputs of a single candidate-selection attempt.
type PickParams struct {
	Device  string
	Region  string
	Purpose string
	// Exclude lists usernames already rejected during this request.
	Exclude []string
	// Reserve controls whether the row is locked and marked used. Dry
	// runs (availability, /test) leave the pool untouched.
	Reserve bool
}

// ReserveReusable returns the account still bound to the device if its
// cooldown state and encounter budget permit re-use, marking it used
// again when reserve is set. Selection and mark-used share one
// transaction and a row lock.
func (s *Store) ReserveReusable(device, purpose string, reserve bool) (*models.Candidate, error) {
	now := clock.Now()
	lock := ""
	if reserve {
		lock = s.db.LockOf("a")
	}
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT %s
		  FROM accounts a %s
		 WHERE a.in_use_by = ?
		   AND %s
		   AND %s
		   AND COALESCE(ah.total, 0) < ?
		 LIMIT 1%s`,
		candidateColumns, encounterJoin, reuseClause, purposeLevelClause(purpose), lock))

	windowStart := clock.Format(now.Add(-s.cfg.CooldownWindow()))
	cooldownHorizon := now.Unix() - s.cfg.CooldownSeconds()
	budget := float64(s.cfg.EncounterLimit) * 0.9

	var cand *models.Candidate
	err := s.inTx(func(tx *sqlx.Tx) error {
		var c models.Candidate
		err := tx.Get(&c, query, windowStart, device, cooldownHorizon, budget)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if reserve {
			if err := s.markUsed(tx, c.Username, device, purpose, now); err != nil {
				return err
			}
		}
		cand = &c
		return nil
	})
	return cand, err
}

// ReserveCandidate runs one attempt of the pool pick. The accept callback
// is evaluated between the locked select and the mark-used update; when
// it refuses the candidate the transaction ends without reserving and the
// candidate comes back with rejected set, so the caller can exclude it
// and retry in a fresh transaction.
func (s *Store) ReserveCandidate(p PickParams, accept func(*models.Candidate) bool) (cand *models.Candidate, rejected bool, err error) {
	now := clock.Now()

	conditions := []string{
		"a.in_use_by IS NULL",
		reuseClause,
		"(a.last_use < ? OR a.level < 30)",
		purposeLevelClause(p.Purpose),
		"COALESCE(ah.total, 0) < ?",
		// per-account login cap over the last hour
		`a.username NOT IN (
			SELECT h.username FROM accounts_history h
			 WHERE h.acquired > ?
			 GROUP BY h.username
			HAVING COUNT(*) > ?)`,
	}
	args := []interface{}{
		clock.Format(now.Add(-s.cfg.CooldownWindow())), // encounter window
		now.Unix() - s.cfg.CooldownSeconds(),
		now.Unix() - s.cfg.ShortCooldownSeconds(),
		float64(s.cfg.EncounterLimit) * 0.8,
		clock.Format(now.Add(-time.Hour)),
		s.cfg.AccountMaxLoginsHour,
	}

	if p.Region != "" {
		conditions = append(conditions, "(a.region IS NULL OR a.region = '' OR a.region = ?)")
		args = append(args, p.Region)
	}
	if len(p.Exclude) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(p.Exclude)), ",")
		conditions = append(conditions, fmt.Sprintf("a.username NOT IN (%s)", placeholders))
		for _, u := range p.Exclude {
			args = append(args, u)
		}
	}

	orderBy := "a.last_use ASC"
	if p.Purpose == "level" {
		orderBy = "a.level DESC, a.last_use ASC"
	}
	lock := ""
	if p.Reserve {
		lock = s.db.LockOf("a")
	}

	query := s.db.Rebind(fmt.Sprintf(`
		SELECT %s
		  FROM accounts a %s
		 WHERE %s
		 ORDER BY %s
		 LIMIT 1%s`,
		candidateColumns, encounterJoin, strings.Join(conditions, "\n		   AND "), orderBy, lock))

	err = s.inTx(func(tx *sqlx.Tx) error {
		var c models.Candidate
		err := tx.Get(&c, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if accept != nil && !accept(&c) {
			cand, rejected = &c, true
			return nil
		}
		if p.Reserve {
			if err := s.markUsed(tx, c.Username, p.Device, p.Purpose, now); err != nil {
				return err
			}
		}
		cand = &c
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return cand, rejected, nil
}

func (s *Store) markUsed(tx *sqlx.Tx, username, device, purpose string, now time.Time) error {
	_, err := tx.Exec(s.db.Rebind(`
		UPDATE accounts
		   SET in_use_by = ?, last_use = ?, last_updated = ?, last_reason = NULL, purpose = ?
		 WHERE username = ?`),
		device, now.Unix(), now.Unix(), purpose, username)
	return err
}

// ReleaseParams describes a binding release.
type ReleaseParams struct {
	Device string
	// Reason becomes last_reason; nil stores NULL (plain logout).
	Reason *string
	// MarkBurned additionally stamps last_burned (maintenance burns).
	MarkBurned bool
	// ClearPurpose wipes the purpose tag (burns do, logouts keep it).
	ClearPurpose bool
}

// Release frees whatever the device holds.
func (s *Store) Release(p ReleaseParams) error {
	now := clock.Now()
	set := "in_use_by = NULL, last_returned = ?, last_updated = ?, last_reason = ?"
	args := []interface{}{now.Unix(), now.Unix(), p.Reason}
	if p.MarkBurned {
		set += ", last_burned = ?"
		args = append(args, clock.Format(now))
	}
	if p.ClearPurpose {
		set += ", purpose = NULL"
	}
	args = append(args, p.Device)
	_, err := s.db.DB.Exec(s.db.Rebind("UPDATE accounts SET "+set+" WHERE in_use_by = ?"), args...)
	return err
}

// ResetDevice clears any lingering binding for the device.
func (s *Store) ResetDevice(device string) error {
	_, err := s.db.DB.Exec(s.db.Rebind(
		"UPDATE accounts SET in_use_by = NULL, last_updated = ? WHERE in_use_by = ?"),
		clock.NowUnix(), device)
	return err
}

// CurrentBinding returns the account the device holds, or nil.
func (s *Store) CurrentBinding(device string) (*models.Binding, error) {
	var b models.Binding
	err := s.db.DB.Get(&b, s.db.Rebind(
		"SELECT username, last_use, level, purpose FROM accounts WHERE in_use_by = ? LIMIT 1"), device)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// RaiseLevel lifts the bound account's level, never lowering it.
func (s *Store) RaiseLevel(device string, level int) (bool, error) {
	res, err := s.db.DB.Exec(s.db.Rebind(
		"UPDATE accounts SET level = ?, last_updated = ? WHERE in_use_by = ? AND level < ?"),
		level, clock.NowUnix(), device, level)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetSoftban records the softban timestamp and location on the bound account.
func (s *Store) SetSoftban(device, softbanTime, location string) error {
	_, err := s.db.DB.Exec(s.db.Rebind(
		"UPDATE accounts SET softban_time = ?, softban_location = ?, last_updated = ? WHERE in_use_by = ?"),
		softbanTime, location, clock.NowUnix(), device)
	return err
}

// DeviceLoginsLastHour counts hand-outs to the device over the last hour.
func (s *Store) DeviceLoginsLastHour(device string) (int, error) {
	var n int
	err := s.db.DB.Get(&n, s.db.Rebind(
		"SELECT COUNT(*) FROM accounts_history WHERE device = ? AND acquired > ?"),
		device, clock.Format(clock.Now().Add(-time.Hour)))
	return n, err
}

// AccountInfo loads the bound account with its windowed encounter total.
func (s *Store) AccountInfo(device string) (*models.AccountInfo, error) {
	query := s.db.Rebind(fmt.Sprintf(`
		SELECT a.username, a.level, a.last_returned,
		       COALESCE(ah.total, 0) AS encounters, a.softban_time, a.softban_location
		  FROM accounts a %s
		 WHERE a.in_use_by = ?
		 LIMIT 1`, encounterJoin))

	var info models.AccountInfo
	err := s.db.DB.Get(&info, query, clock.Format(clock.Now().Add(-s.cfg.CooldownWindow())), device)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// LastHistoryReason returns the reason of the newest history row for the
// binding, or empty.
func (s *Store) LastHistoryReason(device, username string) (string, error) {
	var reason sql.NullString
	err := s.db.DB.Get(&reason, s.db.Rebind(`
		SELECT reason FROM accounts_history
		 WHERE device = ? AND username = ?
		 ORDER BY id DESC LIMIT 1`), device, username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return reason.String, nil
}

// BulkUpsertAccounts inserts credentials, refreshing the password of
// already-known usernames.
func (s *Store) BulkUpsertAccounts(credentials [][2]string) error {
	var query string
	if s.db.Dialect == database.MySQL {
		query = `INSERT INTO accounts (username, password) VALUES (?, ?)
		         ON DUPLICATE KEY UPDATE password = VALUES(password)`
	} else {
		query = `INSERT INTO accounts (username, password) VALUES (?, ?)
		         ON CONFLICT (username) DO UPDATE SET password = EXCLUDED.password`
	}
	query = s.db.Rebind(query)

	return s.inTx(func(tx *sqlx.Tx) error {
		for _, cred := range credentials {
			if _, err := tx.Exec(query, cred[0], cred[1]); err != nil {
				return err
			}
		}
		return nil
	})
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.DB.Beginx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
