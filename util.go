package ipmigo

import (
	"encoding/json"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func toJSON(s interface{}) string {
	r, _ := json.Marshal(s)
	return string(r)
}

// isTimeout reports whether err represents a deadline expiry, the only
// failure class worth retrying: anything else (connection refused, a
// malformed response) will fail again identically.
func isTimeout(err error) bool {
	switch e := err.(type) {
	case net.Error:
		return e.Timeout()
	case interface{ Timeout() bool }:
		return e.Timeout()
	}
	return false
}

// retry runs f, retrying on timeout up to `retries` additional times with an
// exponential backoff between attempts. It replaces a fixed immediate-retry
// loop with jittered backoff so a momentarily saturated BMC isn't hammered
// with back-to-back retransmits.
func retry(retries int, f func() error) error {
	if retries <= 0 {
		return f()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	bounded := backoff.WithMaxRetries(b, uint64(retries))

	var lastErr error
	op := func() error {
		err := f()
		lastErr = err
		if err != nil && isTimeout(err) {
			return err // eligible for another attempt
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(op, bounded); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
