package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"str-manager/config"
	"str-manager/internal/clock"
	"str-manager/internal/model"
	"str-manager/internal/parse"
	"str-manager/internal/store"
)

// fakePlatform stands in for Home Assistant: states, actuators and history.
type fakePlatform struct {
	mu sync.Mutex

	states  map[string]string
	attrs   map[string]map[string]string
	history []model.StateChange

	turnOffErr error
	calls      []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		states: make(map[string]string),
		attrs:  make(map[string]map[string]string),
	}
}

func (p *fakePlatform) setInterval(entity, start, end string) {
	p.attrs[entity] = map[string]string{"start": start, "end": end}
}

func (p *fakePlatform) State(ctx context.Context, entityID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.states[entityID]
	if !ok {
		return "", fmt.Errorf("entity %s not found", entityID)
	}
	return v, nil
}

func (p *fakePlatform) Attribute(ctx context.Context, entityID, attribute string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	attrs, ok := p.attrs[entityID]
	if !ok {
		return "", fmt.Errorf("entity %s not found", entityID)
	}
	return attrs[attribute], nil
}

func (p *fakePlatform) SetCheckinTime(ctx context.Context, entityID, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "set_checkin:"+entityID+"="+value)
	p.states[entityID] = value
	return nil
}

func (p *fakePlatform) TurnOff(ctx context.Context, entityID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.turnOffErr != nil {
		return p.turnOffErr
	}
	p.calls = append(p.calls, "turn_off:"+entityID)
	return nil
}

func (p *fakePlatform) SetTemperature(ctx context.Context, entityID, mode string, target float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("set_temperature:%s=%s/%.0f", entityID, mode, target))
	return nil
}

func (p *fakePlatform) History(ctx context.Context, entityID string, since time.Time) ([]model.StateChange, error) {
	return p.history, nil
}

func (p *fakePlatform) count(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type memGuard struct {
	clk     clock.Clock
	mu      sync.Mutex
	records map[string]parse.Date
}

func newMemGuard(clk clock.Clock) *memGuard {
	return &memGuard{clk: clk, records: make(map[string]parse.Date)}
}

func (g *memGuard) IsDoneToday(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.records[key]
	return ok && d == parse.DateOf(g.clk.Now()), nil
}

func (g *memGuard) MarkDoneToday(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[key] = parse.DateOf(g.clk.Now())
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	err    error
	sent   []string
	titles []string
}

func (n *recordingNotifier) Send(ctx context.Context, target, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, target)
	n.titles = append(n.titles, title)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// Door lock operator labels as the lock integration reports them.
const (
	guestLabel   = "09/14 Smith"
	cleanerLabel = "Maria Reno cleaning fairies"
)

var testUnit = config.UnitConfig{
	Name:         "Cottage",
	Code:         "cottage",
	CalendarCode: "cottage_cal",
	ActuatorKey:  "climate.cottage",
	DoorSensor:   "sensor.cottage_front_door_last_unlock",
}

func at(hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", "2025-09-14 "+hhmm, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

type harness struct {
	platform *fakePlatform
	clock    *clock.FakeClock
	guard    *memGuard
	email    *recordingNotifier
	sms      *recordingNotifier
	orch     *Orchestrator
}

// newHarness sets up a turnover day: the current stay checks out today and
// the next one checks in today, with the guest having unlocked the door
// after the cleaner.
func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()

	cfg := &config.Config{Timezone: "UTC", Units: []config.UnitConfig{testUnit}}
	require.NoError(t, cfg.Normalize())

	h := &harness{
		platform: newFakePlatform(),
		clock:    clock.Fake(now),
		email:    &recordingNotifier{},
		sms:      &recordingNotifier{},
	}
	h.guard = newMemGuard(h.clock)

	h.platform.setInterval(CalendarEntity("cottage_cal", 0), "2025-09-12 16:00:00", "2025-09-14 11:00:00")
	h.platform.setInterval(CalendarEntity("cottage_cal", 1), "2025-09-14 16:00:00", "2025-09-16 11:00:00")
	h.platform.states[CheckinTimeEntity("cottage")] = "16:00:00"
	h.platform.history = []model.StateChange{
		{State: cleanerLabel, ChangedAt: at("09:00")},
		{State: guestLabel, ChangedAt: at("10:30")},
	}

	h.orch = New(cfg, Deps{
		States:    h.platform,
		Actuators: h.platform,
		History:   h.platform,
		Guard:     h.guard,
		Clock:     h.clock,
		Recipients: []Recipient{
			{Name: "email", Target: "owner@example.com", Notifier: h.email},
			{Name: "sms", Target: "+15550100", Notifier: h.sms},
		},
	})
	return h
}

func (h *harness) done(action string) bool {
	ok, _ := h.guard.IsDoneToday(context.Background(), store.ActionKey(testUnit.Code, action))
	return ok
}

func TestProcessUnit_AtMostOncePerDay(t *testing.T) {
	h := newHarness(t, at("00:05"))
	ctx := context.Background()

	for h.clock.Now().Day() == 14 {
		require.NoError(t, h.orch.ProcessUnit(ctx, testUnit), "poll at %s", h.clock.Now())
		h.clock.Advance(15 * time.Minute)
	}

	assert.Equal(t, 1, h.platform.count("set_checkin:"))
	assert.Equal(t, 1, h.platform.count("turn_off:climate.cottage"))
	assert.Equal(t, 1, h.platform.count("set_temperature:climate.cottage=cool/23"))
	assert.Equal(t, 1, h.email.count())
	assert.Equal(t, 1, h.sms.count())

	// The next day only the reset is due again.
	h.clock.Set(at("12:00").AddDate(0, 0, 1))
	require.NoError(t, h.orch.ProcessUnit(ctx, testUnit))
	assert.Equal(t, 2, h.platform.count("set_checkin:"))
	assert.Equal(t, 1, h.platform.count("turn_off:"))
	assert.Equal(t, 1, h.platform.count("set_temperature:"))
}

func TestProcessUnit_ResetsCheckinTime(t *testing.T) {
	h := newHarness(t, at("08:00"))
	h.platform.states[CheckinTimeEntity("cottage")] = "18:30:00"

	require.NoError(t, h.orch.ProcessUnit(context.Background(), testUnit))

	assert.Equal(t, []string{"set_checkin:input_datetime.str_cottage_checkin_time=16:00:00"}, h.platform.calls)
	assert.True(t, h.done(ActionResetCheckin))
	assert.False(t, h.done(ActionHVACOff), "checkout threshold not reached")
}

func TestProcessUnit_CheckoutThresholdIsStrict(t *testing.T) {
	h := newHarness(t, at("11:00"))
	ctx := context.Background()

	require.NoError(t, h.orch.ProcessUnit(ctx, testUnit))
	assert.Zero(t, h.platform.count("turn_off:"))

	h.clock.Advance(time.Second)
	require.NoError(t, h.orch.ProcessUnit(ctx, testUnit))
	assert.Equal(t, 1, h.platform.count("turn_off:"))
	assert.True(t, h.done(ActionHVACOff))
}

func TestProcessUnit_CleanerAlert(t *testing.T) {
	tests := []struct {
		name      string
		history   []model.StateChange
		wantAlert bool
	}{
		{
			name: "guest after cleaner",
			history: []model.StateChange{
				{State: cleanerLabel, ChangedAt: at("09:00")},
				{State: guestLabel, ChangedAt: at("10:30")},
			},
			wantAlert: true,
		},
		{
			name: "same instant",
			history: []model.StateChange{
				{State: guestLabel, ChangedAt: at("10:30")},
				{State: cleanerLabel, ChangedAt: at("10:30")},
			},
		},
		{
			name: "cleaner after guest",
			history: []model.StateChange{
				{State: guestLabel, ChangedAt: at("08:00")},
				{State: cleanerLabel, ChangedAt: at("12:15")},
			},
		},
		{
			name: "latest of each is used",
			history: []model.StateChange{
				{State: guestLabel, ChangedAt: at("08:00").AddDate(0, 0, -3)},
				{State: cleanerLabel, ChangedAt: at("09:00").AddDate(0, 0, -2)},
				{State: guestLabel, ChangedAt: at("07:00")},
				{State: cleanerLabel, ChangedAt: at("10:00")},
			},
		},
		{
			name:      "no cleaner found",
			history:   []model.StateChange{{State: guestLabel, ChangedAt: at("10:30")}},
			wantAlert: true,
		},
		{
			name: "no history at all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, at("14:05"))
			h.platform.history = tt.history
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				require.NoError(t, h.orch.ProcessUnit(ctx, testUnit))
				h.clock.Advance(15 * time.Minute)
			}

			want := 0
			if tt.wantAlert {
				want = 1
			}
			assert.Equal(t, want, h.email.count())
			assert.Equal(t, want, h.sms.count())
			assert.True(t, h.done(ActionCleanerCheck))
		})
	}
}

func TestProcessUnit_CleanerCheckWaitsForThreshold(t *testing.T) {
	h := newHarness(t, at("14:00"))

	require.NoError(t, h.orch.ProcessUnit(context.Background(), testUnit))

	assert.Zero(t, h.email.count())
	assert.False(t, h.done(ActionCleanerCheck))
}

func TestProcessUnit_AlertFailureIsNotResent(t *testing.T) {
	h := newHarness(t, at("14:30"))
	h.sms.err = errors.New("gateway down")
	ctx := context.Background()

	err := h.orch.ProcessUnit(ctx, testUnit)
	require.Error(t, err)
	assert.ErrorContains(t, err, "alert to sms failed: gateway down")
	assert.Equal(t, 1, h.email.count(), "every recipient is attempted")
	assert.Equal(t, 1, h.sms.count())
	assert.True(t, h.done(ActionCleanerCheck))
	assert.Equal(t, []string{ActionResetCheckin, ActionHVACOff, ActionCleanerCheck}, h.orch.Status()[0].Fired)

	h.sms.err = nil
	for i := 0; i < 4; i++ {
		h.clock.Advance(15 * time.Minute)
		require.NoError(t, h.orch.ProcessUnit(ctx, testUnit))
	}
	assert.Equal(t, 1, h.email.count())
	assert.Equal(t, 1, h.sms.count())
}

func TestProcessUnit_AlertTitleNamesUnit(t *testing.T) {
	h := newHarness(t, at("14:30"))

	require.NoError(t, h.orch.ProcessUnit(context.Background(), testUnit))

	assert.Equal(t, []string{"[Cottage] Check Cleaners"}, h.email.titles)
	assert.Equal(t, []string{"[Cottage] Check Cleaners"}, h.sms.titles)
}

func TestProcessUnit_AlertWithoutRecipients(t *testing.T) {
	h := newHarness(t, at("14:30"))
	h.orch.deps.Recipients = nil

	require.NoError(t, h.orch.ProcessUnit(context.Background(), testUnit))

	assert.True(t, h.done(ActionCleanerCheck))
}

func TestProcessUnit_PrecoolBoundary(t *testing.T) {
	tests := []struct {
		now     string
		checkin string
		want    bool
	}{
		{now: "15:30", checkin: "16:00:00", want: false},
		{now: "15:31", checkin: "16:00:00", want: true},
		{now: "16:10", checkin: "16:00:00", want: true},
		{now: "14:45", checkin: "15:15", want: false},
		{now: "14:46", checkin: "15:15", want: true},
		{now: "15:00", checkin: "2025-09-14T15:20:00", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.now+"_"+tt.checkin, func(t *testing.T) {
			h := newHarness(t, at(tt.now))
			// Skip today's reset so the operator override is kept.
			require.NoError(t, h.guard.MarkDoneToday(context.Background(), store.ActionKey("cottage", ActionResetCheckin)))
			h.platform.states[CheckinTimeEntity("cottage")] = tt.checkin

			require.NoError(t, h.orch.ProcessUnit(context.Background(), testUnit))

			want := 0
			if tt.want {
				want = 1
			}
			assert.Equal(t, want, h.platform.count("set_temperature:climate.cottage=cool/23"))
			assert.Equal(t, tt.want, h.done(ActionHVACOn))
		})
	}
}

func TestProcessUnit_StateParseErrorAborts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *fakePlatform)
	}{
		{
			name:  "missing entity",
			setup: func(p *fakePlatform) { delete(p.attrs, CalendarEntity("cottage_cal", 1)) },
		},
		{
			name:  "unparsable start",
			setup: func(p *fakePlatform) { p.setInterval(CalendarEntity("cottage_cal", 0), "soon", "2025-09-14") },
		},
		{
			name:  "empty end",
			setup: func(p *fakePlatform) { p.setInterval(CalendarEntity("cottage_cal", 1), "2025-09-14", "") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, at("15:45"))
			tt.setup(h.platform)

			err := h.orch.ProcessUnit(context.Background(), testUnit)

			var parseErr *StateParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Contains(t, parseErr.EntityID, "sensor.rental_control_cottage_cal_event_")
			assert.Empty(t, h.platform.calls)
			assert.Empty(t, h.guard.records)
			assert.Zero(t, h.email.count())
		})
	}
}

func TestProcessUnit_UnreadableCheckinTime(t *testing.T) {
	h := newHarness(t, at("15:45"))
	require.NoError(t, h.guard.MarkDoneToday(context.Background(), store.ActionKey("cottage", ActionResetCheckin)))
	h.platform.states[CheckinTimeEntity("cottage")] = "unknown"

	err := h.orch.ProcessUnit(context.Background(), testUnit)

	var parseErr *StateParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "input_datetime.str_cottage_checkin_time", parseErr.EntityID)
	assert.Equal(t, "unknown", parseErr.Value)
	assert.False(t, h.done(ActionHVACOn))
}

func TestProcessUnit_ActuatorErrorPropagates(t *testing.T) {
	h := newHarness(t, at("11:30"))
	h.platform.turnOffErr = errors.New("thermostat offline")
	ctx := context.Background()

	err := h.orch.ProcessUnit(ctx, testUnit)
	require.Error(t, err)
	assert.ErrorContains(t, err, "hvac_off: thermostat offline")
	assert.True(t, h.done(ActionResetCheckin))
	assert.False(t, h.done(ActionHVACOff))

	h.platform.turnOffErr = nil
	h.clock.Advance(15 * time.Minute)
	require.NoError(t, h.orch.ProcessUnit(ctx, testUnit))
	assert.Equal(t, 1, h.platform.count("turn_off:"))
	assert.True(t, h.done(ActionHVACOff))
}

func TestProcessUnit_MidStay(t *testing.T) {
	h := newHarness(t, at("15:50"))
	h.platform.setInterval(CalendarEntity("cottage_cal", 0), "2025-09-11T16:00:00-07:00", "2025-09-15T11:00:00-07:00")
	h.platform.setInterval(CalendarEntity("cottage_cal", 1), "2025-09-19T16:00:00-07:00", "2025-09-21T11:00:00-07:00")

	require.NoError(t, h.orch.ProcessUnit(context.Background(), testUnit))

	status := h.orch.Status()
	require.Len(t, status, 1)
	assert.Equal(t, CalendarEntity("cottage_cal", 0), status[0].Events.CheckinActive)
	assert.Empty(t, status[0].Events.CheckinToday)
	assert.Empty(t, status[0].Events.CheckoutToday)
	assert.Equal(t, []string{ActionResetCheckin}, status[0].Fired)
	assert.Zero(t, h.platform.count("turn_off:"))
	assert.Zero(t, h.platform.count("set_temperature:"))
}

func TestStatus_RecordsErrors(t *testing.T) {
	h := newHarness(t, at("11:30"))
	h.platform.turnOffErr = errors.New("thermostat offline")

	require.Error(t, h.orch.ProcessUnit(context.Background(), testUnit))

	status := h.orch.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "cottage", status[0].Code)
	assert.Equal(t, at("11:30"), status[0].PolledAt)
	assert.Equal(t, []string{ActionResetCheckin}, status[0].Fired)
	assert.Contains(t, status[0].Error, "thermostat offline")
}
