package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/pogo-tools/account-broker/internal/clock"
	"github.com/pogo-tools/account-broker/internal/config"
	"github.com/pogo-tools/account-broker/internal/geo"
	"github.com/pogo-tools/account-broker/internal/logger"
	"github.com/pogo-tools/account-broker/internal/models"
	"github.com/pogo-tools/account-broker/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrNoCandidate means no account satisfies the predicates (or a login
// rate gate fired). Handlers map it to 204.
var ErrNoCandidate = errors.New("no accounts available")

// maxPickAttempts bounds the skip-and-retry loop over spatially unfit
// candidates.
const maxPickAttempts = 20

// Broker is the assignment engine: it binds devices to accounts and
// tracks the lifecycle through reuse, logout and burn transitions. All
// coordination happens in the database; the broker itself is stateless.
type Broker struct {
	store *store.Store
	cfg   *config.Config
}

// NewBroker creates a Broker over the global database connection.
func NewBroker() *Broker {
	return &Broker{store: store.New(), cfg: config.Get()}
}

// AccountRequest is the body of a hand-out request.
type AccountRequest struct {
	Purpose  string        `json:"purpose"`
	Region   string        `json:"region"`
	Reason   string        `json:"reason"`
	Location *geo.Location `json:"location"`
	Logging  int           `json:"logging"`
}

// GetAccount hands an account to the device: the sticky one when it is
// still fit for re-use, otherwise the best candidate from the free pool.
func (b *Broker) GetAccount(device string, req AccountRequest) (map[string]interface{}, error) {
	dlog := logger.Device(device)

	if req.Purpose == "iv" && !b.cfg.PurposeIVEnabled {
		dlog.Debug().Msg("purpose iv is disabled")
		return nil, ErrNoCandidate
	}

	dlog.Debug().
		Str("purpose", req.Purpose).Str("region", req.Region).Str("reason", req.Reason).
		Msg("get_account")

	// Sticky re-use, unless the client reports a burn reason.
	if req.Reason == "" {
		cand, err := b.store.ReserveReusable(device, req.Purpose, true)
		if err != nil {
			return nil, fmt.Errorf("reuse lookup: %w", err)
		}
		if cand != nil {
			if err := b.openHistory(device, cand.Username, req.Purpose); err != nil {
				return nil, err
			}
			dlog.Debug().Str("username", cand.Username).Msg("reusing sticky account")
			return models.AccountResponse(cand, b.cfg.EncounterLimit, nil, "", 0), nil
		}
	}

	// Drop any previous binding of this device and close a history row it
	// may have left open.
	if err := b.store.ResetDevice(device); err != nil {
		return nil, fmt.Errorf("reset device: %w", err)
	}
	if err := b.store.CloseDangling(device); err != nil {
		return nil, fmt.Errorf("close dangling history: %w", err)
	}

	logins, err := b.store.DeviceLoginsLastHour(device)
	if err != nil {
		return nil, fmt.Errorf("device login count: %w", err)
	}
	if logins >= b.cfg.DeviceMaxLoginsHour {
		dlog.Info().Int("logins", logins).Msg("device login cap reached")
		return nil, ErrNoCandidate
	}

	cand, err := b.pickFromPool(device, req.Region, req.Purpose, req.Location, true)
	if err != nil {
		return nil, err
	}
	if cand == nil {
		dlog.Debug().Msg("found no suitable account")
		return nil, ErrNoCandidate
	}
	if err := b.openHistory(device, cand.Username, req.Purpose); err != nil {
		return nil, err
	}

	dlog.Info().Str("username", cand.Username).Str("purpose", req.Purpose).Msg("account assigned")
	return models.AccountResponse(cand, b.cfg.EncounterLimit, nil, "", 0), nil
}

// pickFromPool runs the bounded candidate loop, skipping accounts that
// fail the softban spatial check. Every attempt opens its own
// transaction so no lock is held between attempts.
func (b *Broker) pickFromPool(device, region, purpose string, loc *geo.Location, reserve bool) (*models.Candidate, error) {
	dlog := logger.Device(device)
	var exclude []string

	for len(exclude) < maxPickAttempts {
		cand, rejected, err := b.store.ReserveCandidate(store.PickParams{
			Device:  device,
			Region:  region,
			Purpose: purpose,
			Exclude: exclude,
			Reserve: reserve,
		}, func(c *models.Candidate) bool {
			return b.suitableForLocation(c, loc)
		})
		if err != nil {
			return nil, fmt.Errorf("candidate pick: %w", err)
		}
		if cand == nil {
			return nil, nil
		}
		if rejected {
			dlog.Info().Str("username", cand.Username).Msg("account not suitable, skipping")
			exclude = append(exclude, cand.Username)
			continue
		}
		return cand, nil
	}
	return nil, nil
}

// suitableForLocation applies the softban spatial cooldown: an account
// that softbanned far from the requested scan location must wait out the
// travel delay first. No softban means no restriction; a softban with an
// unknown scan location is refused.
func (b *Broker) suitableForLocation(c *models.Candidate, loc *geo.Location) bool {
	if !c.SoftbanTime.Valid || c.SoftbanTime.String == "" {
		return true
	}
	if loc == nil {
		return false
	}
	banLoc, err := geo.ParseLocation(c.SoftbanLocation.String)
	if err != nil {
		log.Warn().Str("username", c.Username).Err(err).Msg("unparseable softban location")
		return false
	}
	banTime, err := clock.Parse(c.SoftbanTime.String)
	if err != nil {
		log.Warn().Str("username", c.Username).Err(err).Msg("unparseable softban time")
		return false
	}
	distance := geo.DistanceMeters(banLoc, *loc)
	delay := geo.CooldownSeconds(distance, geo.DefaultWalkSpeed)
	return clock.Now().After(banTime.Add(time.Duration(delay * float64(time.Second))))
}

// openHistory opens (or refreshes) the history row for a hand-out.
func (b *Broker) openHistory(device, username, purpose string) error {
	if err := b.store.WriteHistory(store.HistoryWrite{
		Username:   username,
		Device:     device,
		OpenReason: "prelogin",
		Purpose:    &purpose,
	}); err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	return nil
}

// GetAvailability reports whether a hand-out would succeed, without
// reserving anything.
func (b *Broker) GetAvailability(device, purpose, region string) (map[string]interface{}, error) {
	cand, err := b.store.ReserveReusable(device, purpose, false)
	if err != nil {
		return nil, fmt.Errorf("reuse dry-run: %w", err)
	}
	if cand != nil {
		return map[string]interface{}{"available": 1, "type": "reuse"}, nil
	}

	cand, err = b.pickFromPool(device, region, purpose, nil, false)
	if err != nil {
		return nil, err
	}
	available := 0
	if cand != nil {
		available = 1
	}
	return map[string]interface{}{"available": available, "type": "pool"}, nil
}

// GetAccountInfo returns the bound account with its windowed encounter
// total, or nil when the device holds nothing.
func (b *Broker) GetAccountInfo(device string) (map[string]interface{}, error) {
	info, err := b.store.AccountInfo(device)
	if err != nil {
		return nil, fmt.Errorf("account info: %w", err)
	}
	if info == nil {
		return nil, nil
	}
	lastReason, err := b.store.LastHistoryReason(device, info.Username)
	if err != nil {
		return nil, fmt.Errorf("history reason: %w", err)
	}

	// Compares the cooldown horizon against the level column; kept for
	// client compatibility.
	isBurnt := 0
	if clock.NowUnix()-b.cfg.CooldownSeconds() < int64(info.Level) {
		isBurnt = 1
	}

	cand := &models.Candidate{
		Username:        info.Username,
		Level:           info.Level,
		Encounters:      info.Encounters,
		SoftbanTime:     info.SoftbanTime,
		SoftbanLocation: info.SoftbanLocation,
	}
	var lastReturned *int64
	if info.LastReturned.Valid {
		lastReturned = &info.LastReturned.Int64
	}
	return models.AccountResponse(cand, b.cfg.EncounterLimit, lastReturned, lastReason, isBurnt), nil
}

// SetLevel lifts the bound account's level; a hint at or below the
// stored level is a silent no-op.
func (b *Broker) SetLevel(device string, level int) error {
	changed, err := b.store.RaiseLevel(device, level)
	if err != nil {
		return fmt.Errorf("set level: %w", err)
	}
	if changed {
		logger.Device(device).Info().Int("level", level).Msg("level raised")
	}
	return nil
}

// SetSoftban records a softban event on the bound account.
func (b *Broker) SetSoftban(device, banTime string, loc geo.Location) error {
	if err := b.store.SetSoftban(device, banTime, loc.String()); err != nil {
		return fmt.Errorf("set softban: %w", err)
	}
	logger.Device(device).Debug().Str("time", banTime).Str("location", loc.String()).Msg("softban recorded")
	return nil
}

// SetLogin records that the device completed a login on its account.
// Returns nil when the device holds nothing.
func (b *Broker) SetLogin(device string) (map[string]interface{}, error) {
	binding, err := b.store.CurrentBinding(device)
	if err != nil {
		return nil, fmt.Errorf("current binding: %w", err)
	}
	if binding == nil {
		logger.Device(device).Debug().Msg("login without assignment")
		return nil, nil
	}

	reason := "login"
	acquired := time.Unix(binding.LastUse, 0)
	if err := b.store.WriteHistory(store.HistoryWrite{
		Username: binding.Username,
		Device:   device,
		Acquired: &acquired,
		Reason:   &reason,
	}); err != nil {
		return nil, fmt.Errorf("login history: %w", err)
	}
	return map[string]interface{}{"username": binding.Username, "status": "logged in"}, nil
}

// SetLogout releases the account without a cooldown reason and closes
// the history row. Returns nil when the device holds nothing.
func (b *Broker) SetLogout(device string, encounters *int64, level *int) (map[string]interface{}, error) {
	binding, err := b.store.CurrentBinding(device)
	if err != nil {
		return nil, fmt.Errorf("current binding: %w", err)
	}
	if binding == nil {
		logger.Device(device).Debug().Msg("unable to logout due to missing assignment")
		return nil, nil
	}

	if level != nil {
		if _, err := b.store.RaiseLevel(device, *level); err != nil {
			return nil, fmt.Errorf("raise level: %w", err)
		}
	}

	usage := time.Duration(clock.NowUnix()-binding.LastUse) * time.Second
	var enc int64
	if encounters != nil {
		enc = *encounters
	}
	logger.Device(device).Info().
		Str("username", binding.Username).
		Str("usage", usage.String()).
		Int64("encounters", enc).
		Msg("logout")

	if err := b.store.Release(store.ReleaseParams{Device: device}); err != nil {
		return nil, fmt.Errorf("release: %w", err)
	}

	if err := b.closeHistory(device, binding, "logout", enc); err != nil {
		return nil, err
	}
	return map[string]interface{}{"username": binding.Username, "status": "logged out"}, nil
}

// SetBurned releases the account with a cooldown reason, stamping
// last_burned for maintenance burns. Returns nil when the device holds
// nothing.
func (b *Broker) SetBurned(device, reason string, encounters *int64, level *int) (map[string]interface{}, error) {
	binding, err := b.store.CurrentBinding(device)
	if err != nil {
		return nil, fmt.Errorf("current binding: %w", err)
	}
	if binding == nil {
		logger.Device(device).Info().Msg("unable to burn, device has not claimed any account")
		return nil, nil
	}

	heldFor := time.Duration(clock.NowUnix()-binding.LastUse) * time.Second
	logger.Device(device).Info().
		Str("username", binding.Username).
		Str("reason", reason).
		Str("held", heldFor.String()).
		Msg("burning account")

	if level != nil {
		if _, err := b.store.RaiseLevel(device, *level); err != nil {
			return nil, fmt.Errorf("raise level: %w", err)
		}
	}

	var reasonArg *string
	if reason != "" {
		reasonArg = &reason
	}
	if err := b.store.Release(store.ReleaseParams{
		Device:       device,
		Reason:       reasonArg,
		MarkBurned:   reason == "maintenance",
		ClearPurpose: true,
	}); err != nil {
		return nil, fmt.Errorf("release: %w", err)
	}

	var enc int64
	if encounters != nil {
		enc = *encounters
	}
	if err := b.closeHistory(device, binding, reason, enc); err != nil {
		return nil, err
	}
	return map[string]interface{}{"username": binding.Username, "status": "burned"}, nil
}

// closeHistory closes the open history row of a released binding.
func (b *Broker) closeHistory(device string, binding *models.Binding, reason string, encounters int64) error {
	now := clock.Now()
	acquired := time.Unix(binding.LastUse, 0)
	w := store.HistoryWrite{
		Username:   binding.Username,
		Device:     device,
		Acquired:   &acquired,
		Returned:   &now,
		Reason:     &reason,
		Encounters: &encounters,
	}
	if binding.Purpose.Valid {
		w.Purpose = &binding.Purpose.String
	}
	if err := b.store.WriteHistory(w); err != nil {
		return fmt.Errorf("close history: %w", err)
	}
	return nil
}

// TestPick is the /test diagnostic: a dry-run selection with an explicit
// scan location, never reserving.
func (b *Broker) TestPick(device, region, purpose string, loc geo.Location) (map[string]interface{}, error) {
	cand, err := b.pickFromPool(device, region, purpose, &loc, false)
	if err != nil {
		return nil, err
	}
	if cand == nil {
		return nil, nil
	}
	return models.AccountResponse(cand, b.cfg.EncounterLimit, nil, "", 0), nil
}
