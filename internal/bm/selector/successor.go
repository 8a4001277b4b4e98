package selector

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/common/bmerrors"
)

const successorForm = "<eventname>,<weighting>[,<delay>]"

// EventSuccessor is one possible next event of a chain together with its relative weight.
type EventSuccessor struct {
	EventName string
	Weight    float64
	Delay     time.Duration
}

func (s EventSuccessor) String() string {
	return fmt.Sprintf("%s,%g,%s", s.EventName, s.Weight, s.Delay)
}

// ParseSuccessor parses "<eventname>,<weighting>[,<delay>]". The delay is either a number of
// milliseconds or a duration such as "1.5s".
func ParseSuccessor(s string) (EventSuccessor, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return EventSuccessor{}, invalidSuccessor(s, "")
	}
	successor := EventSuccessor{EventName: strings.TrimSpace(parts[0])}
	if successor.EventName == "" {
		return EventSuccessor{}, invalidSuccessor(s, "event name is empty")
	}
	weight, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return EventSuccessor{}, invalidSuccessor(s, err.Error())
	}
	if !isFinite(weight) {
		return EventSuccessor{}, invalidSuccessor(s, "weighting must be a finite number")
	}
	successor.Weight = weight
	if len(parts) == 3 {
		successor.Delay, err = ParseDelay(parts[2])
		if err != nil {
			return EventSuccessor{}, invalidSuccessor(s, err.Error())
		}
	}
	return successor, nil
}

// ParseWeightings multiplies comma separated weightings, so "2,3" gives 6.
// This lets a weighting be expressed relative to the weighting of an enclosing group.
func ParseWeightings(s string) (float64, error) {
	weight := 1.0
	for _, part := range strings.Split(s, ",") {
		w, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0, errors.WithStack(&bmerrors.ErrInvalidArgument{Name: "weightings", Value: s, Message: err.Error()})
		}
		weight *= w
	}
	if !isFinite(weight) {
		return 0, errors.WithStack(&bmerrors.ErrInvalidArgument{Name: "weightings", Value: s, Message: "weighting must be a finite number"})
	}
	return weight, nil
}

func isFinite(w float64) bool {
	return !math.IsNaN(w) && !math.IsInf(w, 0)
}

func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return d, nil
}

func invalidSuccessor(s string, reason string) error {
	message := "event successor must be of form: " + successorForm
	if reason != "" {
		message += "; " + reason
	}
	return errors.WithStack(&bmerrors.ErrInvalidArgument{Name: "successor", Value: s, Message: message})
}
