package reservation

import "str-manager/internal/parse"

// Interval is one Rental Control calendar entry. Start and End are
// inclusive calendar dates.
type Interval struct {
	Name  string     `json:"name"`
	Start parse.Date `json:"start"`
	End   parse.Date `json:"end"`
}

// Events names the calendar entries that matter today. An empty string
// means no entry qualifies.
type Events struct {
	CheckinToday  string `json:"checkin_today"`
	CheckinActive string `json:"checkin_active"`
	CheckoutToday string `json:"checkout_today"`
}

// Classify derives today's events from the two "relevant" calendar
// entries, in feed order: current (or most recent) first, next second.
//
// The feed rolls over once the earlier reservation has ended, so when both
// slots qualify for a check-in the later slot wins. Only the earlier slot
// can check out today.
func Classify(current, next Interval, today parse.Date) Events {
	var ev Events

	switch {
	case next.Start.Compare(today) == 0:
		ev.CheckinToday = next.Name
	case current.Start.Compare(today) == 0:
		ev.CheckinToday = current.Name
	}

	switch {
	case next.Start.Compare(today) <= 0:
		ev.CheckinActive = next.Name
	case current.Start.Compare(today) <= 0:
		ev.CheckinActive = current.Name
	}

	if current.End.Compare(today) == 0 {
		ev.CheckoutToday = current.Name
	}

	return ev
}
