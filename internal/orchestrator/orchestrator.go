package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"str-manager/config"
	"str-manager/internal/clock"
	"str-manager/internal/model"
	"str-manager/internal/parse"
	"str-manager/internal/reservation"
	"str-manager/internal/store"
)

// Guarded daily actions.
const (
	ActionResetCheckin = "reset_checkin"
	ActionHVACOff      = "hvac_off"
	ActionCleanerCheck = "cleaner_check"
	ActionHVACOn       = "hvac_on"
)

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	States     StateReader
	Actuators  ActuatorClient
	History    HistorySource
	Guard      store.Guard
	Clock      clock.Clock
	Recipients []Recipient
}

// UnitStatus is the outcome of a unit's most recent poll.
type UnitStatus struct {
	Code     string                 `json:"code"`
	Name     string                 `json:"name"`
	PolledAt time.Time              `json:"polled_at"`
	Calendar []reservation.Interval `json:"calendar,omitempty"`
	Events   reservation.Events     `json:"events"`
	Fired    []string               `json:"fired"`
	Error    string                 `json:"error,omitempty"`
}

// Orchestrator runs the fixed per-unit control sequence.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	mu     sync.RWMutex
	status map[string]UnitStatus
}

// New creates an orchestrator for the units and thresholds in cfg.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.Real(cfg.Location)
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		status: make(map[string]UnitStatus),
	}
}

// Units returns the configured units.
func (o *Orchestrator) Units() []config.UnitConfig {
	return o.cfg.Units
}

// Status returns the latest poll outcome of every unit polled so far,
// ordered by unit code.
func (o *Orchestrator) Status() []UnitStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]UnitStatus, 0, len(o.status))
	for _, st := range o.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ProcessUnit classifies today's reservations for unit and applies the
// guarded actions in order: check-in time reset, checkout actions, then
// check-in actions. The first failure aborts the rest of the sequence.
func (o *Orchestrator) ProcessUnit(ctx context.Context, unit config.UnitConfig) (err error) {
	now := o.deps.Clock.Now()
	status := UnitStatus{Code: unit.Code, Name: unit.Name, PolledAt: now}
	defer func() {
		if err != nil {
			status.Error = err.Error()
		}
		o.mu.Lock()
		o.status[unit.Code] = status
		o.mu.Unlock()
	}()

	current, err := o.readInterval(ctx, unit.CalendarCode, 0)
	if err != nil {
		return err
	}
	next, err := o.readInterval(ctx, unit.CalendarCode, 1)
	if err != nil {
		return err
	}
	status.Calendar = []reservation.Interval{current, next}
	status.Events = reservation.Classify(current, next, parse.DateOf(now))

	run := func(action string, step stepFunc) error {
		fired, err := step(ctx, unit, now)
		if fired {
			status.Fired = append(status.Fired, action)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
		return nil
	}

	if err := run(ActionResetCheckin, o.resetCheckinTime); err != nil {
		return err
	}

	if status.Events.CheckoutToday != "" {
		if err := run(ActionHVACOff, o.hvacOff); err != nil {
			return err
		}
	}

	if status.Events.CheckinToday != "" {
		if err := run(ActionCleanerCheck, o.cleanerAlert); err != nil {
			return err
		}
		if err := run(ActionHVACOn, o.hvacOn); err != nil {
			return err
		}
	}

	return nil
}

// stepFunc is one guarded action. It reports whether it acted this poll.
type stepFunc func(ctx context.Context, unit config.UnitConfig, now time.Time) (bool, error)

// once runs fn unless action already ran today for unit, and marks the
// action done when fn reports that it acted. An action that acted and
// still returned an error is marked done too; the error is passed on.
func (o *Orchestrator) once(ctx context.Context, unit config.UnitConfig, action string, fn func() (bool, error)) (bool, error) {
	key := store.ActionKey(unit.Code, action)
	done, err := o.deps.Guard.IsDoneToday(ctx, key)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	acted, err := fn()
	if !acted {
		return false, err
	}
	if markErr := o.deps.Guard.MarkDoneToday(ctx, key); markErr != nil {
		return true, errors.Join(err, markErr)
	}
	return true, err
}

// resetCheckinTime puts the unit's check-in time back to the default once
// a day, so an intraday override does not carry over to tomorrow.
func (o *Orchestrator) resetCheckinTime(ctx context.Context, unit config.UnitConfig, _ time.Time) (bool, error) {
	return o.once(ctx, unit, ActionResetCheckin, func() (bool, error) {
		value := o.cfg.Thresholds.DefaultCheckin.String()
		log.Printf("[%s] Resetting checkin time to %s", unit.Name, value)
		if err := o.deps.Actuators.SetCheckinTime(ctx, CheckinTimeEntity(unit.Code), value); err != nil {
			return false, err
		}
		return true, nil
	})
}

// hvacOff turns the climate actuator off after checkout time.
func (o *Orchestrator) hvacOff(ctx context.Context, unit config.UnitConfig, now time.Time) (bool, error) {
	if !parse.TimeOfDayOf(now).After(o.cfg.Thresholds.Checkout) {
		return false, nil
	}
	return o.once(ctx, unit, ActionHVACOff, func() (bool, error) {
		log.Printf("[%s] Turning off thermostat", unit.Name)
		if err := o.deps.Actuators.TurnOff(ctx, unit.ActuatorKey); err != nil {
			return false, err
		}
		return true, nil
	})
}

// hvacOn pre-cools the unit when check-in is less than the configured
// number of minutes away, or has already passed.
func (o *Orchestrator) hvacOn(ctx context.Context, unit config.UnitConfig, now time.Time) (bool, error) {
	return o.once(ctx, unit, ActionHVACOn, func() (bool, error) {
		checkin, err := o.readCheckinTime(ctx, unit.Code)
		if err != nil {
			return false, err
		}
		if parse.TimeOfDayOf(now).MinutesUntil(checkin) >= o.cfg.HVAC.PrecoolMinutes {
			return false, nil
		}

		log.Printf("[%s] Turning on thermostat (%s, %.1f)", unit.Name, o.cfg.HVAC.Mode, o.cfg.HVAC.TargetTemperature)
		if err := o.deps.Actuators.SetTemperature(ctx, unit.ActuatorKey, o.cfg.HVAC.Mode, o.cfg.HVAC.TargetTemperature); err != nil {
			return false, err
		}
		return true, nil
	})
}

// cleanerAlert checks, after the cleaner-check time, that the cleaner has
// unlocked the door since the last guest did. The check runs once a day
// whether it alerts, finds nothing, or fails to reach a recipient.
func (o *Orchestrator) cleanerAlert(ctx context.Context, unit config.UnitConfig, now time.Time) (bool, error) {
	if !parse.TimeOfDayOf(now).After(o.cfg.Thresholds.CleanerCheck) {
		return false, nil
	}
	return o.once(ctx, unit, ActionCleanerCheck, func() (bool, error) {
		guestUnlock, cleanerUnlock, err := o.lastUnlocks(ctx, unit, now)
		if err != nil {
			return false, err
		}

		if !guestUnlock.After(cleanerUnlock) {
			log.Printf("[%s] - OK - Checked for recent cleaning: guest_unlock=%s cleaner_unlock=%s",
				unit.Name, formatUnlock(guestUnlock), formatUnlock(cleanerUnlock))
			return true, nil
		}

		log.Printf("[%s] - ALERT - Checked for recent cleaning: guest_unlock=%s cleaner_unlock=%s",
			unit.Name, formatUnlock(guestUnlock), formatUnlock(cleanerUnlock))
		message := fmt.Sprintf("%s: the guest unlocked the door at %s but the cleaner was last there at %s.",
			unit.Name, formatUnlock(guestUnlock), formatUnlock(cleanerUnlock))

		title := fmt.Sprintf("[%s] %s", unit.Name, o.cfg.Alerts.Title)
		if len(o.deps.Recipients) == 0 {
			log.Printf("[%s] - ALERT - no recipients configured, nobody is notified", unit.Name)
		}

		// Every recipient is tried once; a failed delivery is reported but
		// not retried, so the others are not alerted twice.
		var errs []error
		for _, r := range o.deps.Recipients {
			if err := r.Notifier.Send(ctx, r.Target, title, message); err != nil {
				errs = append(errs, fmt.Errorf("alert to %s failed: %w", r.Name, err))
			}
		}
		return true, errors.Join(errs...)
	})
}

// lastUnlocks returns the most recent guest and cleaner unlock times from
// the door sensor history. A missing entry is logged and reported as the
// zero time.
func (o *Orchestrator) lastUnlocks(ctx context.Context, unit config.UnitConfig, now time.Time) (guest, cleaner time.Time, err error) {
	changes, err := o.deps.History.History(ctx, unit.DoorSensor, now.Add(-o.cfg.CleanerCheck.Lookback))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	guest = latestMatch(changes, o.cfg.CleanerCheck.Guest.MatchString)
	cleaner = latestMatch(changes, o.cfg.CleanerCheck.Cleaner.MatchString)

	if guest.IsZero() {
		log.Printf("[%s] ERROR - no guest unlock found in %s history", unit.Name, unit.DoorSensor)
	}
	if cleaner.IsZero() {
		log.Printf("[%s] ERROR - no cleaner unlock found in %s history", unit.Name, unit.DoorSensor)
	}
	return guest, cleaner, nil
}

func latestMatch(changes []model.StateChange, match func(string) bool) time.Time {
	var latest time.Time
	for _, c := range changes {
		if match(c.State) && c.ChangedAt.After(latest) {
			latest = c.ChangedAt
		}
	}
	return latest
}

func formatUnlock(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func (o *Orchestrator) readInterval(ctx context.Context, calendarCode string, idx int) (reservation.Interval, error) {
	entity := CalendarEntity(calendarCode, idx)
	start, err := o.readDateTime(ctx, entity, "start")
	if err != nil {
		return reservation.Interval{}, err
	}
	end, err := o.readDateTime(ctx, entity, "end")
	if err != nil {
		return reservation.Interval{}, err
	}
	return reservation.Interval{
		Name:  entity,
		Start: parse.DateOf(start),
		End:   parse.DateOf(end),
	}, nil
}

func (o *Orchestrator) readDateTime(ctx context.Context, entity, attribute string) (time.Time, error) {
	raw, err := o.deps.States.Attribute(ctx, entity, attribute)
	if err != nil {
		return time.Time{}, &StateParseError{EntityID: entity, Attribute: attribute, Err: err}
	}
	t, err := parse.ParseDateTime(raw, o.cfg.Location)
	if err != nil {
		return time.Time{}, &StateParseError{EntityID: entity, Attribute: attribute, Value: raw, Err: err}
	}
	return t, nil
}

// readCheckinTime reads the unit's check-in time input, which holds either
// a bare time or a full datetime.
func (o *Orchestrator) readCheckinTime(ctx context.Context, unitCode string) (parse.TimeOfDay, error) {
	entity := CheckinTimeEntity(unitCode)
	raw, err := o.deps.States.State(ctx, entity)
	if err != nil {
		return 0, &StateParseError{EntityID: entity, Err: err}
	}
	if t, err := parse.ParseTimeOfDay(raw); err == nil {
		return t, nil
	}
	t, err := parse.ParseDateTime(raw, o.cfg.Location)
	if err != nil {
		return 0, &StateParseError{EntityID: entity, Value: raw, Err: err}
	}
	return parse.TimeOfDayOf(t), nil
}
