package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

const Stacktrace = "stacktrace"

type Config struct {
	// One of trace, debug, info, warn, error, fatal. Defaults to info.
	Level string
	// Emit JSON lines instead of coloured text.
	Json bool
	// Count log lines per level as the Prometheus metric log_messages.
	ExportMetrics bool
}

// ConfigureLogging sets up the process-wide logrus logger.
func ConfigureLogging(config Config) error {
	return configure(log.StandardLogger(), os.Stdout, config)
}

func configure(logger *log.Logger, out io.Writer, config Config) error {
	if config.Json {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	}
	logger.SetOutput(out)

	level := log.InfoLevel
	if strings.TrimSpace(config.Level) != "" {
		parsed, err := log.ParseLevel(config.Level)
		if err != nil {
			return errors.WithStack(err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	if config.ExportMetrics {
		hook, err := promrus.NewPrometheusHook()
		if err != nil {
			return errors.WithStack(err)
		}
		logger.AddHook(hook)
	}
	return nil
}

// Unexported but considered part of the stable interface of pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Unexported but considered part of the stable interface of pkg/errors.
type causer interface {
	Cause() error
}

// WithStacktrace adds err and, if one is available anywhere in its cause chain, its stack trace to logger.
func WithStacktrace(logger log.FieldLogger, err error) *log.Entry {
	entry := logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		entry = entry.WithField(Stacktrace, stack)
	}
	return entry
}

// ExtractStack returns the first errors.StackTrace found walking down the causes of err, or nil.
func ExtractStack(err error) errors.StackTrace {
	for err != nil {
		if stackErr, ok := err.(stackTracer); ok {
			return stackErr.StackTrace()
		}
		causeErr, ok := err.(causer)
		if !ok {
			return nil
		}
		err = causeErr.Cause()
	}
	return nil
}
