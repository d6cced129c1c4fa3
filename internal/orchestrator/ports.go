package orchestrator

import (
	"context"
	"fmt"
	"time"

	"str-manager/internal/model"
)

// StateReader reads entity states and attributes from the smart-home platform.
type StateReader interface {
	State(ctx context.Context, entityID string) (string, error)
	Attribute(ctx context.Context, entityID, attribute string) (string, error)
}

// ActuatorClient issues commands to input and climate entities.
type ActuatorClient interface {
	SetCheckinTime(ctx context.Context, entityID, value string) error
	TurnOff(ctx context.Context, entityID string) error
	SetTemperature(ctx context.Context, entityID, mode string, target float64) error
}

// HistorySource returns an entity's state changes since a point in time,
// oldest first.
type HistorySource interface {
	History(ctx context.Context, entityID string, since time.Time) ([]model.StateChange, error)
}

// Notifier sends one message to one target address.
type Notifier interface {
	Send(ctx context.Context, target, title, message string) error
}

// Recipient is one alert destination bound to the notifier that reaches it.
type Recipient struct {
	Name     string
	Target   string
	Notifier Notifier
}

// CalendarEntity is the Rental Control sensor for slot idx (0 or 1) of a calendar.
func CalendarEntity(calendarCode string, idx int) string {
	return fmt.Sprintf("sensor.rental_control_%s_event_%d", calendarCode, idx)
}

// CheckinTimeEntity is the input_datetime holding a unit's check-in time.
func CheckinTimeEntity(unitCode string) string {
	return fmt.Sprintf("input_datetime.str_%s_checkin_time", unitCode)
}
