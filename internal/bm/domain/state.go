package domain

import (
	"strings"
)

// TestRunState is the lifecycle state of one test run.
type TestRunState string

const (
	NotScheduled TestRunState = "NOT_SCHEDULED"
	Scheduled    TestRunState = "SCHEDULED"
	Started      TestRunState = "STARTED"
	Stopped      TestRunState = "STOPPED"
	Completed    TestRunState = "COMPLETED"
)

var AllTestRunStates = []TestRunState{NotScheduled, Scheduled, Started, Stopped, Completed}

// ParseTestRunState accepts state names in any case.
func ParseTestRunState(s string) (TestRunState, bool) {
	for _, state := range AllTestRunStates {
		if strings.EqualFold(string(state), s) {
			return state, true
		}
	}
	return "", false
}

func (s TestRunState) String() string {
	return string(s)
}

// IsTerminal returns true for states that can't be left.
func (s TestRunState) IsTerminal() bool {
	return s == Stopped || s == Completed
}
