package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pogo-tools/account-broker/internal/clock"
)

// HistoryWrite is the open-or-update contract: if an open row exists for
// the (device, username) pair within the last 24 hours it is updated in
// place, otherwise a new row is inserted. The rewrite rules here feed the
// login-rate counts, so they all stay in this one function.
type HistoryWrite struct {
	Username string
	Device   string
	// Acquired is only used when inserting; nil means now.
	Acquired *time.Time
	Returned *time.Time
	// Reason overwrites the stored reason (with the prelogin rewrite).
	Reason *string
	// OpenReason seeds the reason of a newly inserted row when Reason is
	// absent ("prelogin" on hand-out).
	OpenReason string
	Encounters *int64
	Purpose    *string
}

// WriteHistory applies a history write under a row lock.
func (s *Store) WriteHistory(w HistoryWrite) error {
	now := clock.Now()
	openCutoff := clock.Format(now.Add(-24 * time.Hour))

	return s.inTx(func(tx *sqlx.Tx) error {
		var existing struct {
			ID         int64          `db:"id"`
			Reason     sql.NullString `db:"reason"`
			Encounters int64          `db:"encounters"`
		}
		err := tx.Get(&existing, s.db.Rebind(`
			SELECT id, reason, encounters FROM accounts_history
			 WHERE device = ? AND username = ? AND returned IS NULL AND acquired > ?
			 ORDER BY id DESC LIMIT 1`+s.db.Lock()),
			w.Device, w.Username, openCutoff)

		if errors.Is(err, sql.ErrNoRows) {
			return s.insertHistory(tx, w, now)
		}
		if err != nil {
			return err
		}

		var sets []string
		var args []interface{}
		if w.Returned != nil {
			sets = append(sets, "returned = ?")
			args = append(args, clock.Format(*w.Returned))
		}
		if w.Reason != nil {
			reason := *w.Reason
			// A prelogin row closed by a zero-encounter logout means the
			// client never actually logged in.
			if existing.Reason.String == "prelogin" && reason == "logout" &&
				(w.Encounters == nil || *w.Encounters == 0) {
				reason = "nologin"
			}
			sets = append(sets, "reason = ?")
			args = append(args, reason)
		}
		if w.Encounters != nil {
			enc := *w.Encounters
			// A smaller positive count after a larger stored one means the
			// client reset its counter, so treat it as an increment.
			if existing.Encounters > enc && existing.Encounters > 0 && enc > 0 {
				enc = existing.Encounters + enc
			} else if existing.Encounters > enc {
				enc = existing.Encounters
			}
			sets = append(sets, "encounters = ?")
			args = append(args, enc)
		}
		if w.Purpose != nil {
			sets = append(sets, "purpose = ?")
			args = append(args, *w.Purpose)
		}
		if len(sets) == 0 {
			return nil
		}
		args = append(args, existing.ID)
		_, err = tx.Exec(s.db.Rebind(
			"UPDATE accounts_history SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
		return err
	})
}

func (s *Store) insertHistory(tx *sqlx.Tx, w HistoryWrite, now time.Time) error {
	acquired := now
	if w.Acquired != nil {
		acquired = *w.Acquired
	}
	reason := w.OpenReason
	if w.Reason != nil {
		reason = *w.Reason
	}
	var reasonArg interface{}
	if reason != "" {
		reasonArg = reason
	}
	var returnedArg interface{}
	if w.Returned != nil {
		returnedArg = clock.Format(*w.Returned)
	}
	var encounters int64
	if w.Encounters != nil {
		encounters = *w.Encounters
	}
	var purposeArg interface{}
	if w.Purpose != nil {
		purposeArg = *w.Purpose
	}

	_, err := tx.Exec(s.db.Rebind(`
		INSERT INTO accounts_history (username, device, acquired, returned, reason, encounters, purpose)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		w.Username, w.Device, clock.Format(acquired), returnedArg, reasonArg, encounters, purposeArg)
	return err
}

// CloseDangling closes the newest open history row the device left behind
// within the last five days, marking it as reset.
func (s *Store) CloseDangling(device string) error {
	now := clock.Now()
	cutoff := clock.Format(now.Add(-5 * 24 * time.Hour))

	return s.inTx(func(tx *sqlx.Tx) error {
		var id int64
		err := tx.Get(&id, s.db.Rebind(`
			SELECT id FROM accounts_history
			 WHERE device = ? AND returned IS NULL AND acquired > ?
			 ORDER BY acquired DESC LIMIT 1`+s.db.Lock()),
			device, cutoff)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(s.db.Rebind(
			"UPDATE accounts_history SET returned = ?, reason = 'reset' WHERE id = ?"),
			clock.Format(now), id)
		return err
	})
}
