package repository

import (
	"io"
	"net"
	"strings"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/common/bmerrors"
)

// storeError converts a Redis client error into the error returned to callers.
// Failures to reach Redis become *bmerrors.ErrStoreUnavailable so that callers can retry them.
func storeError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		return errors.WithStack(&bmerrors.ErrStoreUnavailable{Operation: operation, Cause: err})
	}
	return errors.Wrapf(err, "error during %s", operation)
}

func isConnectionError(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection pool timeout") ||
		strings.Contains(msg, "client is closed") ||
		strings.HasPrefix(msg, "LOADING") ||
		strings.HasPrefix(msg, "CLUSTERDOWN")
}

func isNil(err error) bool {
	return err == redis.Nil
}

// int64Result reads the integer returned by a Lua script.
func int64Result(cmd *redis.Cmd) (int64, error) {
	result, err := cmd.Result()
	if err != nil {
		return 0, err
	}
	value, ok := result.(int64)
	if !ok {
		return 0, errors.Errorf("unexpected script result %v of type %T", result, result)
	}
	return value, nil
}
