package settlement

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// RetryPolicy controls exponential backoff for transient store errors.
// Attempts counts the first call.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts:  4,
	BaseDelay: 100 * time.Millisecond,
	MaxDelay:  2 * time.Second,
}

// IsTransient reports whether err is a store error worth retrying:
// deadlocks, lock wait timeouts, dropped connections and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvoiceNotFound) || errors.Is(err, context.Canceled) {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "connection refused")
}

// Retry runs op until it succeeds, fails with a non-transient error, the
// attempts are exhausted or ctx is done. Delays grow exponentially from
// BaseDelay, the interval is capped at MaxDelay before jitter.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}

	attempts := 0
	var lastErr error
	err := backoff.Retry(func() error {
		attempts++
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, backoff.WithContext(backoff.WithMaxRetries(newBackOff(policy), uint64(policy.Attempts-1)), ctx))

	switch {
	case err == nil:
		return nil
	case !IsTransient(lastErr):
		return lastErr
	case ctx.Err() != nil:
		return fmt.Errorf("retry aborted after %d attempt(s): %w", attempts, lastErr)
	default:
		return fmt.Errorf("giving up after %d attempt(s): %w", attempts, lastErr)
	}
}

func newBackOff(policy RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = backoff.DefaultMaxInterval
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	// Bounded by attempts, not by wall time.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
