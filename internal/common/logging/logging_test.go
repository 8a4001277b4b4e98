package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_SetsLevel(t *testing.T) {
	logger := log.New()
	err := configure(logger, &bytes.Buffer{}, Config{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
}

func TestConfigure_DefaultsToInfo(t *testing.T) {
	logger := log.New()
	require.NoError(t, configure(logger, &bytes.Buffer{}, Config{}))
	assert.Equal(t, log.InfoLevel, logger.GetLevel())
}

func TestConfigure_RejectsUnknownLevel(t *testing.T) {
	logger := log.New()
	assert.Error(t, configure(logger, &bytes.Buffer{}, Config{Level: "loud"}))
}

func TestConfigure_Json(t *testing.T) {
	logger := log.New()
	out := &bytes.Buffer{}
	require.NoError(t, configure(logger, out, Config{Json: true}))
	logger.WithField("driver", "d1").Info("hello")
	assert.Contains(t, out.String(), `"driver":"d1"`)
}

func TestExtractStack(t *testing.T) {
	assert.Nil(t, ExtractStack(fmt.Errorf("plain")))
	assert.NotNil(t, ExtractStack(errors.New("with stack")))
	assert.NotNil(t, ExtractStack(errors.WithMessage(errors.New("inner"), "outer")))
}

func TestWithStacktrace(t *testing.T) {
	logger := log.New()
	entry := WithStacktrace(logger, errors.New("boom"))
	assert.Contains(t, entry.Data, Stacktrace)
	assert.Contains(t, entry.Data, log.ErrorKey)
}
