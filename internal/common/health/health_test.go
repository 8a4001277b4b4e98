package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMultiChecker(t *testing.T) {
	checker := NewMultiChecker(CheckerFunc(func() error { return nil }))
	assert.NoError(t, checker.Check())

	checker.Add(CheckerFunc(func() error { return errors.New("redis down") }))
	checker.Add(CheckerFunc(func() error { return errors.New("postgres down") }))
	err := checker.Check()
	assert.EqualError(t, err, "redis down\npostgres down")
}

func TestStartupCompleteChecker(t *testing.T) {
	checker := NewStartupCompleteChecker()
	assert.Error(t, checker.Check())
	checker.MarkComplete()
	assert.NoError(t, checker.Check())
}

func TestHealthCheckHttpHandler(t *testing.T) {
	mux := http.NewServeMux()
	startup := NewStartupCompleteChecker()
	SetupHttpMux(mux, startup)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "startup is not complete", rec.Body.String())

	startup.MarkComplete()
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
