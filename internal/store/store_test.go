package store

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pogo-tools/account-broker/internal/clock"
	"github.com/pogo-tools/account-broker/internal/config"
	"github.com/pogo-tools/account-broker/internal/database"
	"github.com/pogo-tools/account-broker/internal/models"

	_ "modernc.org/sqlite"
)

const testSchema = `
CREATE TABLE accounts (
	username TEXT PRIMARY KEY,
	password TEXT NOT NULL DEFAULT '',
	level INTEGER NOT NULL DEFAULT 0,
	region TEXT,
	in_use_by TEXT,
	last_use INTEGER NOT NULL DEFAULT 0,
	last_returned INTEGER,
	last_reason TEXT,
	last_burned TEXT,
	last_updated INTEGER NOT NULL DEFAULT 0,
	purpose TEXT,
	softban_time TEXT,
	softban_location TEXT
);
CREATE TABLE accounts_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	device TEXT NOT NULL,
	acquired TEXT NOT NULL,
	returned TEXT,
	reason TEXT,
	encounters INTEGER NOT NULL DEFAULT 0,
	purpose TEXT
);`

var testNow = time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)

func setupTest(t *testing.T) *Store {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	// a single connection keeps the in-memory database alive
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	database.SetTest(db, database.SQLite)
	config.Set(&config.Config{
		CooldownHours:        24,
		ShortCooldownHours:   3,
		EncounterLimit:       6500,
		DeviceMaxLoginsHour:  4,
		AccountMaxLoginsHour: 4,
	})
	clock.SetTest(testNow)

	t.Cleanup(func() {
		clock.Reset()
		database.ClearTest()
		db.Close()
	})
	return New()
}

type seedAccount struct {
	username     string
	level        int
	region       string
	inUseBy      string
	lastUse      int64
	lastReturned int64
	lastReason   string
	softbanTime  string
	softbanLoc   string
}

func seed(t *testing.T, s *Store, accounts ...seedAccount) {
	t.Helper()
	for _, a := range accounts {
		var region, inUseBy, reason, sbTime, sbLoc interface{}
		if a.region != "" {
			region = a.region
		}
		if a.inUseBy != "" {
			inUseBy = a.inUseBy
		}
		if a.lastReason != "" {
			reason = a.lastReason
		}
		if a.softbanTime != "" {
			sbTime = a.softbanTime
		}
		if a.softbanLoc != "" {
			sbLoc = a.softbanLoc
		}
		var lastReturned interface{}
		if a.lastReturned != 0 {
			lastReturned = a.lastReturned
		}
		_, err := s.db.DB.Exec(`
			INSERT INTO accounts (username, password, level, region, in_use_by, last_use, last_returned, last_reason, softban_time, softban_location)
			VALUES (?, 'pw', ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.username, a.level, region, inUseBy, a.lastUse, lastReturned, reason, sbTime, sbLoc)
		if err != nil {
			t.Fatalf("seed %s: %v", a.username, err)
		}
	}
}

func pick(t *testing.T, s *Store, p PickParams) *models.Candidate {
	t.Helper()
	cand, rejected, err := s.ReserveCandidate(p, nil)
	if err != nil {
		t.Fatalf("ReserveCandidate: %v", err)
	}
	if rejected {
		t.Fatalf("unexpected rejection of %s", cand.Username)
	}
	return cand
}

func TestCandidateLevelPurposeOrdering(t *testing.T) {
	s := setupTest(t)
	seed(t, s,
		seedAccount{username: "low", level: 20, region: "EU"},
		seedAccount{username: "high", level: 35, region: "EU"},
	)

	cand := pick(t, s, PickParams{Device: "dev1", Region: "EU", Purpose: "level", Reserve: true})
	if cand == nil || cand.Username != "low" {
		t.Fatalf("purpose level should pick the unleveled account, got %+v", cand)
	}

	var inUseBy string
	if err := s.db.DB.Get(&inUseBy, "SELECT in_use_by FROM accounts WHERE username = 'low'"); err != nil {
		t.Fatalf("check reservation: %v", err)
	}
	if inUseBy != "dev1" {
		t.Errorf("in_use_by = %q, want dev1", inUseBy)
	}

	var free int
	if err := s.db.DB.Get(&free, "SELECT COUNT(*) FROM accounts WHERE in_use_by IS NULL"); err != nil {
		t.Fatal(err)
	}
	if free != 1 {
		t.Errorf("expected the leveled account to stay free, %d free", free)
	}
}

func TestCandidateShortCooldownSkipsRecentlyUsed(t *testing.T) {
	s := setupTest(t)
	seed(t, s,
		seedAccount{username: "fresh", level: 35, lastUse: testNow.Unix()},
		seedAccount{username: "rested", level: 35, lastUse: testNow.Add(-4 * time.Hour).Unix()},
	)

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "quest", Reserve: true})
	if cand == nil || cand.Username != "rested" {
		t.Fatalf("short cooldown should skip the fresh account, got %+v", cand)
	}
}

func TestCandidateShortCooldownBypassedUnleveled(t *testing.T) {
	s := setupTest(t)
	seed(t, s, seedAccount{username: "leveling", level: 10, lastUse: testNow.Unix()})

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "level", Reserve: true})
	if cand == nil || cand.Username != "leveling" {
		t.Fatalf("unleveled account should ignore the short cooldown, got %+v", cand)
	}
}

func TestCandidateReuseCooldown(t *testing.T) {
	s := setupTest(t)
	seed(t, s,
		// released with a reason inside the cooldown window
		seedAccount{username: "cooling", level: 35, lastReturned: testNow.Add(-time.Hour).Unix(), lastReason: "teleport"},
		// released with a reason but long ago
		seedAccount{username: "aged", level: 35, lastReturned: testNow.Add(-25 * time.Hour).Unix(), lastReason: "teleport",
			lastUse: testNow.Add(-25 * time.Hour).Unix()},
	)

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "quest", Reserve: true})
	if cand == nil || cand.Username != "aged" {
		t.Fatalf("cooldown should exclude the recent burn, got %+v", cand)
	}
}

func TestCandidateReuseCooldownIgnoredWithoutReason(t *testing.T) {
	s := setupTest(t)
	// recently returned but with no reason recorded: usable
	seed(t, s, seedAccount{username: "clean", level: 35,
		lastReturned: testNow.Add(-time.Hour).Unix(),
		lastUse:      testNow.Add(-4 * time.Hour).Unix()})

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "quest", Reserve: true})
	if cand == nil || cand.Username != "clean" {
		t.Fatalf("release without reason must not cool down, got %+v", cand)
	}
}

func TestCandidateRegionFilter(t *testing.T) {
	s := setupTest(t)
	seed(t, s,
		seedAccount{username: "us", level: 35, region: "US"},
		seedAccount{username: "shared", level: 35},
	)

	cand := pick(t, s, PickParams{Device: "dev1", Region: "EU", Purpose: "quest", Reserve: true})
	if cand == nil || cand.Username != "shared" {
		t.Fatalf("EU request must not get a US account, got %+v", cand)
	}
}

func TestCandidateEncounterBudget(t *testing.T) {
	s := setupTest(t)
	seed(t, s,
		seedAccount{username: "spent", level: 35},
		seedAccount{username: "thrifty", level: 35},
	)
	// "spent" racked up 0.8*6500 encounters inside the window
	mustExec(t, s, `INSERT INTO accounts_history (username, device, acquired, returned, reason, encounters)
		VALUES ('spent', 'old', ?, ?, 'logout', 5200)`,
		clock.Format(testNow.Add(-3*time.Hour)), clock.Format(testNow.Add(-2*time.Hour)))

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "quest", Reserve: true})
	if cand == nil || cand.Username != "thrifty" {
		t.Fatalf("encounter budget should exclude the exhausted account, got %+v", cand)
	}
}

func TestCandidateEncounterBudgetOldHistoryIgnored(t *testing.T) {
	s := setupTest(t)
	seed(t, s, seedAccount{username: "spent", level: 35})
	mustExec(t, s, `INSERT INTO accounts_history (username, device, acquired, returned, reason, encounters)
		VALUES ('spent', 'old', ?, ?, 'logout', 6000)`,
		clock.Format(testNow.Add(-50*time.Hour)), clock.Format(testNow.Add(-49*time.Hour)))

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "quest", Reserve: true})
	if cand == nil || cand.Username != "spent" {
		t.Fatalf("history outside the window must not count, got %+v", cand)
	}
}

func TestCandidateAccountLoginCap(t *testing.T) {
	s := setupTest(t)
	seed(t, s,
		seedAccount{username: "busy", level: 35, lastUse: testNow.Add(-4 * time.Hour).Unix()},
		seedAccount{username: "calm", level: 35, lastUse: testNow.Add(-3 * time.Hour).Unix()},
	)
	// five hand-outs of "busy" within the last hour
	for i := 0; i < 5; i++ {
		mustExec(t, s, `INSERT INTO accounts_history (username, device, acquired, returned, reason)
			VALUES ('busy', 'other', ?, ?, 'logout')`,
			clock.Format(testNow.Add(-30*time.Minute)), clock.Format(testNow.Add(-20*time.Minute)))
	}

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "quest", Reserve: true})
	if cand == nil || cand.Username != "calm" {
		t.Fatalf("account login cap should exclude the busy account, got %+v", cand)
	}
}

func TestCandidateExclusionList(t *testing.T) {
	s := setupTest(t)
	seed(t, s,
		seedAccount{username: "first", level: 35, lastUse: 100},
		seedAccount{username: "second", level: 35, lastUse: 200},
	)

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "quest", Exclude: []string{"first"}, Reserve: true})
	if cand == nil || cand.Username != "second" {
		t.Fatalf("excluded username must be skipped, got %+v", cand)
	}
}

func TestCandidateAcceptCallbackRejects(t *testing.T) {
	s := setupTest(t)
	seed(t, s, seedAccount{username: "only", level: 35})

	cand, rejected, err := s.ReserveCandidate(
		PickParams{Device: "dev1", Purpose: "quest", Reserve: true},
		func(*models.Candidate) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if !rejected || cand == nil || cand.Username != "only" {
		t.Fatalf("expected rejection of 'only', got cand=%+v rejected=%v", cand, rejected)
	}

	// rejection must not reserve
	var n int
	if err := s.db.DB.Get(&n, "SELECT COUNT(*) FROM accounts WHERE in_use_by IS NOT NULL"); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rejected candidate was reserved")
	}
}

func TestDryRunDoesNotReserve(t *testing.T) {
	s := setupTest(t)
	seed(t, s, seedAccount{username: "acc", level: 35})

	cand := pick(t, s, PickParams{Device: "dev1", Purpose: "quest", Reserve: false})
	if cand == nil {
		t.Fatal("dry run should find the account")
	}
	var n int
	if err := s.db.DB.Get(&n, "SELECT COUNT(*) FROM accounts WHERE in_use_by IS NOT NULL"); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("dry run reserved an account")
	}
}

func TestReserveReusable(t *testing.T) {
	s := setupTest(t)
	seed(t, s, seedAccount{username: "mine", level: 35, inUseBy: "dev1", lastUse: testNow.Add(-time.Hour).Unix()})

	cand, err := s.ReserveReusable("dev1", "quest", true)
	if err != nil {
		t.Fatal(err)
	}
	if cand == nil || cand.Username != "mine" {
		t.Fatalf("expected sticky account, got %+v", cand)
	}

	// the budget for reuse is 90%: push the account over it
	mustExec(t, s, `INSERT INTO accounts_history (username, device, acquired, returned, reason, encounters)
		VALUES ('mine', 'dev1', ?, ?, 'logout', 5850)`,
		clock.Format(testNow.Add(-2*time.Hour)), clock.Format(testNow.Add(-time.Hour)))

	cand, err = s.ReserveReusable("dev1", "quest", true)
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Fatalf("exhausted sticky account must not be reusable, got %+v", cand)
	}
}

func TestReserveReusableWrongPurposeLevel(t *testing.T) {
	s := setupTest(t)
	seed(t, s, seedAccount{username: "lowbie", level: 12, inUseBy: "dev1"})

	cand, err := s.ReserveReusable("dev1", "quest", true)
	if err != nil {
		t.Fatal(err)
	}
	if cand != nil {
		t.Fatalf("level 12 account must not be reused for quest, got %+v", cand)
	}
}

func TestRelease(t *testing.T) {
	s := setupTest(t)
	seed(t, s, seedAccount{username: "acc", level: 35, inUseBy: "dev1"})

	reason := "maintenance"
	if err := s.Release(ReleaseParams{Device: "dev1", Reason: &reason, MarkBurned: true, ClearPurpose: true}); err != nil {
		t.Fatal(err)
	}

	var a models.Account
	if err := s.db.DB.Get(&a, "SELECT * FROM accounts WHERE username = 'acc'"); err != nil {
		t.Fatal(err)
	}
	if a.InUseBy.Valid {
		t.Error("account still bound after release")
	}
	if a.LastReason.String != "maintenance" {
		t.Errorf("last_reason = %q", a.LastReason.String)
	}
	if !a.LastBurned.Valid {
		t.Error("last_burned not stamped on maintenance burn")
	}
	if !a.LastReturned.Valid || a.LastReturned.Int64 != testNow.Unix() {
		t.Errorf("last_returned = %+v, want %d", a.LastReturned, testNow.Unix())
	}
}

func TestResetDevice(t *testing.T) {
	s := setupTest(t)
	seed(t, s,
		seedAccount{username: "held", level: 35, inUseBy: "dev1"},
		seedAccount{username: "other", level: 35, inUseBy: "dev2"},
	)

	if err := s.ResetDevice("dev1"); err != nil {
		t.Fatal(err)
	}

	var a models.Account
	if err := s.db.DB.Get(&a, "SELECT * FROM accounts WHERE username = 'held'"); err != nil {
		t.Fatal(err)
	}
	if a.InUseBy.Valid {
		t.Error("binding not cleared")
	}
	if a.LastReturned.Valid {
		t.Error("reset must not stamp last_returned")
	}

	var other string
	if err := s.db.DB.Get(&other, "SELECT in_use_by FROM accounts WHERE username = 'other'"); err != nil {
		t.Fatal(err)
	}
	if other != "dev2" {
		t.Errorf("other device's binding touched: %q", other)
	}
}

func TestRaiseLevelNeverLowers(t *testing.T) {
	s := setupTest(t)
	seed(t, s, seedAccount{username: "acc", level: 31, inUseBy: "dev1"})

	if changed, err := s.RaiseLevel("dev1", 33); err != nil || !changed {
		t.Fatalf("raise to 33: changed=%v err=%v", changed, err)
	}
	if changed, err := s.RaiseLevel("dev1", 20); err != nil || changed {
		t.Fatalf("lowering must be ignored: changed=%v err=%v", changed, err)
	}

	var level int
	if err := s.db.DB.Get(&level, "SELECT level FROM accounts WHERE username = 'acc'"); err != nil {
		t.Fatal(err)
	}
	if level != 33 {
		t.Errorf("level = %d, want 33", level)
	}
}

func TestDeviceLoginsLastHour(t *testing.T) {
	s := setupTest(t)
	mustExec(t, s, `INSERT INTO accounts_history (username, device, acquired) VALUES ('a', 'dev1', ?)`,
		clock.Format(testNow.Add(-30*time.Minute)))
	mustExec(t, s, `INSERT INTO accounts_history (username, device, acquired) VALUES ('b', 'dev1', ?)`,
		clock.Format(testNow.Add(-2*time.Hour)))

	n, err := s.DeviceLoginsLastHour("dev1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("logins = %d, want 1", n)
	}
}

func mustExec(t *testing.T, s *Store, query string, args ...interface{}) {
	t.Helper()
	if _, err := s.db.DB.Exec(query, args...); err != nil {
		t.Fatalf("exec %s: %v", query, err)
	}
}
