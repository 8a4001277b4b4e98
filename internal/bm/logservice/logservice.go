// Package logservice records log lines tagged with the driver, test and run that produced them.
package logservice

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

// Level is ordered by severity, so levels can be compared to a minimum.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Fatal
)

var levelNames = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < Trace || l > Fatal {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(name, s) {
			return Level(i), nil
		}
	}
	return 0, errors.WithStack(&bmerrors.ErrInvalidArgument{Name: "level", Value: s, Message: "expected one of " + strings.Join(levelNames, ", ")})
}

func (l Level) logrusLevel() log.Level {
	switch l {
	case Trace:
		return log.TraceLevel
	case Debug:
		return log.DebugLevel
	case Info:
		return log.InfoLevel
	case Warn:
		return log.WarnLevel
	case Error:
		return log.ErrorLevel
	}
	// Fatal run log lines must not exit the process.
	return log.ErrorLevel
}

// Sink stores log entries for later inspection.
type Sink interface {
	Append(entry *domain.LogEntry) error
}

// LogService writes every line at or above MinLevel to the process log and to the sink.
// Failing to write to the sink is logged but never returned.
type LogService struct {
	sink     Sink
	minLevel Level
	clock    util.Clock
}

// NewLogService creates a service. sink may be nil, in which case lines only go to the process log.
func NewLogService(sink Sink, minLevel Level, clock util.Clock) *LogService {
	return &LogService{sink: sink, minLevel: minLevel, clock: clock}
}

func (s *LogService) Log(driverId string, test string, run string, level Level, message string) {
	if level < s.minLevel {
		return
	}
	log.WithFields(log.Fields{
		"driver": driverId,
		"test":   test,
		"run":    run,
	}).Log(level.logrusLevel(), message)

	if s.sink == nil {
		return
	}
	err := s.sink.Append(&domain.LogEntry{
		Time:     util.Millis(s.clock.Now()),
		DriverId: driverId,
		Test:     test,
		Run:      run,
		Level:    level.String(),
		Message:  message,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to store run log line")
	}
}

// For returns a logger that tags every line with the given driver, test and run.
func (s *LogService) For(driverId string, test string, run string) *RunLog {
	return &RunLog{service: s, driverId: driverId, test: test, run: run}
}

type RunLog struct {
	service  *LogService
	driverId string
	test     string
	run      string
}

func (l *RunLog) Log(level Level, message string) {
	l.service.Log(l.driverId, l.test, l.run, level, message)
}

func (l *RunLog) Logf(level Level, format string, args ...interface{}) {
	if level < l.service.minLevel {
		return
	}
	l.Log(level, fmt.Sprintf(format, args...))
}

func (l *RunLog) Debugf(format string, args ...interface{}) { l.Logf(Debug, format, args...) }
func (l *RunLog) Infof(format string, args ...interface{})  { l.Logf(Info, format, args...) }
func (l *RunLog) Warnf(format string, args ...interface{})  { l.Logf(Warn, format, args...) }
func (l *RunLog) Errorf(format string, args ...interface{}) { l.Logf(Error, format, args...) }
