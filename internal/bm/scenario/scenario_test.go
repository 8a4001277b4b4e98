package scenario

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchforge/bmdriver/internal/bm/configuration"
	"github.com/benchforge/bmdriver/internal/bm/processor"
	"github.com/benchforge/bmdriver/internal/bm/selector"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

type sessionCounter struct{ started int }

func (s *sessionCounter) StartSession(string) (string, error) {
	s.started++
	return util.NewULID(), nil
}

var clock = util.NewDummyClock(time.UnixMilli(1_600_000_000_000))

func TestBuild(t *testing.T) {
	noChart := processor.DefaultOptions()
	noChart.Chart = false
	events := []configuration.EventConfig{
		{Name: "start", Processor: "sessions", OutputEvent: "login", Count: 3},
		{Name: "login", Processor: "nothing", Options: &noChart, Successors: []selector.EventSuccessor{{EventName: "search", Weight: 1}}},
		{Name: "search", Processor: "sleep", Duration: time.Millisecond, Successors: []selector.EventSuccessor{{EventName: "noop", Weight: 1}}},
	}
	s, err := Build(events, &sessionCounter{}, clock, 42)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"start", "login", "search"}, s.Registry.EventNames())
	login, ok := s.Registry.GetProcessor("login")
	require.True(t, ok)
	assert.False(t, login.Options().Chart)
	start, _ := s.Registry.GetProcessor("start")
	assert.IsType(t, &processor.CreateSessions{}, start)
	assert.True(t, start.Options().AutoPropagateSessionId)

	assert.Nil(t, s.Selector("start"))
	next, err := s.Selector("login").NextEvent(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "search", next.Name)
	next, err = s.Selector("search").NextEvent(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestBuild_Routes(t *testing.T) {
	events := []configuration.EventConfig{
		{
			Name:       "search",
			Processor:  "nothing",
			RouteField: "kind",
			Routes: map[string][]selector.EventSuccessor{
				"slow": {{EventName: "report", Weight: 1}},
				"fast": {{EventName: "search", Weight: 1}},
			},
		},
		{Name: "report", Processor: "terminate"},
	}
	s, err := Build(events, &sessionCounter{}, clock, 1)
	require.NoError(t, err)

	next, err := s.Selector("search").NextEvent(nil, map[string]interface{}{"kind": "SLOW"})
	require.NoError(t, err)
	assert.Equal(t, "report", next.Name)

	next, err = s.Selector("search").NextEvent(nil, struct {
		Kind string `json:"kind"`
	}{Kind: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "search", next.Name)

	_, err = s.Selector("search").NextEvent(nil, map[string]interface{}{"kind": "medium"})
	var notFound *bmerrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound))

	_, err = s.Selector("search").NextEvent(nil, nil)
	assert.Error(t, err)
}

func TestBuild_Errors(t *testing.T) {
	tests := map[string][]configuration.EventConfig{
		"unknown successor": {
			{Name: "start", Processor: "nothing", Successors: []selector.EventSuccessor{{EventName: "missing", Weight: 1}}},
		},
		"unknown processor": {
			{Name: "start", Processor: "shell"},
		},
		"missing output event": {
			{Name: "start", Processor: "raise", Count: 2},
		},
		"duplicate event": {
			{Name: "start", Processor: "nothing"},
			{Name: "start", Processor: "terminate"},
		},
		"no positive weight": {
			{Name: "start", Processor: "nothing", Successors: []selector.EventSuccessor{{EventName: "start", Weight: 0}}},
		},
		"routes without field": {
			{Name: "start", Processor: "nothing", Routes: map[string][]selector.EventSuccessor{"a": {{EventName: "start", Weight: 1}}}},
		},
	}
	for name, events := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Build(events, &sessionCounter{}, clock, 1)
			assert.Error(t, err)
		})
	}
}
