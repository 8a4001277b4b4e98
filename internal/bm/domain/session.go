package domain

// SessionActive is the end time of a session that has not ended yet.
const SessionActive int64 = -1

// SessionData tracks a chain of related events.
type SessionData struct {
	Id        string `json:"id"`
	Data      string `json:"data,omitempty"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

func (s *SessionData) IsActive() bool {
	return s.EndTime == SessionActive
}

// Elapsed returns the session duration in milliseconds, measured up to now while it is active.
func (s *SessionData) Elapsed(now int64) int64 {
	if s.IsActive() {
		return now - s.StartTime
	}
	return s.EndTime - s.StartTime
}
