package orchestrator

import "fmt"

// StateParseError reports a platform state that was missing or could not
// be parsed. The poll of the affected unit is abandoned.
type StateParseError struct {
	EntityID  string
	Attribute string
	Value     string
	Err       error
}

func (e *StateParseError) Error() string {
	target := e.EntityID
	if e.Attribute != "" {
		target += "." + e.Attribute
	}
	return fmt.Sprintf("state %s (%q): %v", target, e.Value, e.Err)
}

func (e *StateParseError) Unwrap() error { return e.Err }
