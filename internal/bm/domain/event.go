// Package domain contains the data types shared by the benchmark driver components.
package domain

import (
	"encoding/json"
)

// Event is one scheduled unit of benchmark work.
//
// Data is transportable between drivers and is stored in the shared store. LocalData is an
// in-process payload that can only be handled by the driver that created the event; events
// carrying it are pinned to that driver through DriverAffinity.
type Event struct {
	Id             string          `json:"id"`
	Name           string          `json:"name"`
	ScheduledTime  int64           `json:"scheduledTime"`
	Data           json.RawMessage `json:"data,omitempty"`
	LocalData      interface{}     `json:"-"`
	DriverAffinity string          `json:"driverAffinity,omitempty"`
	LockOwner      string          `json:"lockOwner,omitempty"`
	LockTime       int64           `json:"lockTime,omitempty"`
	SessionId      string          `json:"sessionId,omitempty"`
}

// NewEvent creates an unsaved event with JSON encoded data.
func NewEvent(name string, scheduledTime int64, data interface{}) (*Event, error) {
	event := &Event{
		Name:          name,
		ScheduledTime: scheduledTime,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		event.Data = raw
	}
	return event, nil
}

// NewLocalEvent creates an unsaved event carrying a payload that must never leave this process.
func NewLocalEvent(name string, scheduledTime int64, localData interface{}) *Event {
	return &Event{
		Name:          name,
		ScheduledTime: scheduledTime,
		LocalData:     localData,
	}
}

// IsLocal returns true if the event holds non-transportable data.
func (e *Event) IsLocal() bool {
	return e.LocalData != nil
}

// IsClaimed returns true once a driver has claimed the event.
func (e *Event) IsClaimed() bool {
	return e.LockOwner != "" || e.LockTime != 0
}

// DecodeData unmarshals the transportable payload into v.
func (e *Event) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Payload returns the local payload if present, otherwise the transportable one.
func (e *Event) Payload() interface{} {
	if e.LocalData != nil {
		return e.LocalData
	}
	if len(e.Data) == 0 {
		return nil
	}
	return e.Data
}

// Copy returns a shallow copy of the event without its local payload, suitable for persisting.
func (e *Event) Copy() *Event {
	c := *e
	c.LocalData = nil
	return &c
}
