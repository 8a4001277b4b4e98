package configuration

import (
	"time"

	"github.com/go-redis/redis"

	"github.com/benchforge/bmdriver/internal/bm/driver"
	"github.com/benchforge/bmdriver/internal/bm/estimation"
	"github.com/benchforge/bmdriver/internal/bm/processor"
	"github.com/benchforge/bmdriver/internal/bm/selector"
	"github.com/benchforge/bmdriver/internal/bm/testrun"
	"github.com/benchforge/bmdriver/internal/common/database"
	"github.com/benchforge/bmdriver/internal/common/logging"
)

type StoreType string

const (
	RedisStore    StoreType = "redis"
	PostgresStore StoreType = "postgres"
)

type BmDriverConfig struct {
	// Test and Run name the test run this driver works on.
	Test string `validate:"required"`
	Run  string `validate:"required"`
	// DriverId is generated when empty.
	DriverId string

	MetricsPort uint16
	Logging     logging.Config

	Redis    redis.UniversalOptions
	Postgres database.PostgresConfig
	// EventStore and ResultStore select where events and results are kept. Sessions, run state and
	// the run log always live in Redis.
	EventStore  StoreType `validate:"oneof=redis postgres"`
	ResultStore StoreType `validate:"oneof=redis postgres"`

	// RunLogLevel is the lowest level written to the run log.
	RunLogLevel      string `validate:"oneof=TRACE DEBUG INFO WARN ERROR FATAL trace debug info warn error fatal"`
	RunLogMaxEntries int64  `validate:"gt=0"`

	// MaxSessionTime truncates event chains of sessions older than this. Zero disables the limit.
	MaxSessionTime   time.Duration
	SessionCacheSize int `validate:"gt=0"`
	// LocalDataTTL bounds how long payloads that can't leave this driver are kept.
	LocalDataTTL time.Duration `validate:"gt=0"`

	Driver  driver.Config
	Monitor testrun.MonitorConfig

	Completion            []estimation.Config `validate:"dive"`
	CompletionCheckPeriod time.Duration

	Events []EventConfig `validate:"dive"`
}

// EventConfig binds an event name to a built in processor and the events that may follow it.
type EventConfig struct {
	Name      string `validate:"required"`
	Processor string `validate:"oneof=nothing sleep terminate redirect raise sessions"`
	// Options default to processor.DefaultOptions when omitted.
	Options *processor.Options

	// OutputEvent is the event published by redirect, raise and sessions.
	OutputEvent string
	// Count of events or sessions started by raise and sessions.
	Count       int
	TimeBetween time.Duration
	// Duration of sleep.
	Duration time.Duration

	// Successors choose the next event by weight. Without successors or routes the processor
	// chooses its own successors.
	Successors []selector.EventSuccessor
	// RouteField names the field of the response data whose value selects one of Routes.
	RouteField string
	Routes     map[string][]selector.EventSuccessor
}
