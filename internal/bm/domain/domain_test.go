package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_EncodesData(t *testing.T) {
	event, err := NewEvent("query", 10, map[string]string{"folder": "a"})
	require.NoError(t, err)
	assert.False(t, event.IsLocal())

	var decoded map[string]string
	require.NoError(t, event.DecodeData(&decoded))
	assert.Equal(t, map[string]string{"folder": "a"}, decoded)
}

func TestEvent_CopyDropsLocalData(t *testing.T) {
	event := NewLocalEvent("upload", 10, make(chan int))
	assert.True(t, event.IsLocal())
	assert.NotNil(t, event.Payload())

	c := event.Copy()
	assert.Nil(t, c.LocalData)
	assert.Equal(t, "upload", c.Name)
	assert.NotNil(t, event.LocalData)
}

func TestSessionData_Elapsed(t *testing.T) {
	s := &SessionData{StartTime: 1000, EndTime: SessionActive}
	assert.True(t, s.IsActive())
	assert.Equal(t, int64(500), s.Elapsed(1500))

	s.EndTime = 1200
	assert.False(t, s.IsActive())
	assert.Equal(t, int64(200), s.Elapsed(1500))
}

func TestParseTestRunState(t *testing.T) {
	state, ok := ParseTestRunState("started")
	assert.True(t, ok)
	assert.Equal(t, Started, state)

	_, ok = ParseTestRunState("running")
	assert.False(t, ok)

	assert.True(t, Completed.IsTerminal())
	assert.False(t, Scheduled.IsTerminal())
}
