package domain

import (
	"encoding/json"
)

// EventRecord is the immutable outcome of executing one event.
type EventRecord struct {
	Id         string          `json:"id"`
	DriverId   string          `json:"driverId"`
	Success    bool            `json:"success"`
	StartTime  int64           `json:"startTime"`
	StartDelay int64           `json:"startDelay"`
	Duration   int64           `json:"duration"`
	Data       json.RawMessage `json:"data,omitempty"`
	Warning    string          `json:"warning,omitempty"`
	Chart      bool            `json:"chart"`
	Event      *Event          `json:"event"`
}

// EventName returns the name of the executed event.
func (r *EventRecord) EventName() string {
	if r.Event == nil {
		return ""
	}
	return r.Event.Name
}
