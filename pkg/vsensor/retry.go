// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Retry defaults
const (
	DefaultAttempts          = 3
	DefaultRetryDelay        = 50 * time.Millisecond
	DefaultMaxRetryDelay     = 500 * time.Millisecond
	DefaultFloatReadAttempts = 3
)

// Retrier runs a transport operation up to Attempts times and turns the last
// failure into a typed *Error.
type Retrier struct {
	Attempts int
	Delay    time.Duration // first backoff, doubled per retry
	MaxDelay time.Duration
	Logger   zerolog.Logger

	sleep func(time.Duration)
}

// DefaultRetrier returns the three-attempt retrier used by NewClient.
func DefaultRetrier() Retrier {
	return Retrier{
		Attempts: DefaultAttempts,
		Delay:    DefaultRetryDelay,
		MaxDelay: DefaultMaxRetryDelay,
		Logger:   zerolog.Nop(),
	}
}

// Do executes fn. Errors that are not communication failures (closed client,
// rejected arguments, data errors) return immediately and are never retried.
func (r Retrier) Do(op string, address uint16, fn func() error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var kind Kind
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		lastErr = err
		kind = classify(err)
		if attempt == attempts {
			break
		}

		delay := r.backoff(attempt)
		r.Logger.Debug().
			Str("op", op).
			Uint16("register", address).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Str("kind", kind.String()).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying register operation")
		r.wait(delay)
	}

	r.Logger.Debug().
		Str("op", op).
		Uint16("register", address).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Register operation failed")

	return &Error{Kind: kind, Op: op, Address: address, Attempts: attempts, Err: lastErr}
}

func (r Retrier) backoff(attempt int) time.Duration {
	if r.Delay <= 0 {
		return 0
	}
	delay := r.Delay << (attempt - 1)
	if r.MaxDelay > 0 && (delay > r.MaxDelay || delay <= 0) {
		delay = r.MaxDelay
	}
	return delay
}

func (r Retrier) wait(d time.Duration) {
	if d <= 0 {
		return
	}
	if r.sleep != nil {
		r.sleep(d)
		return
	}
	time.Sleep(d)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrClosed),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrProtocol):
		return false
	}
	return true
}

// classify decides whether a transport failure counts as a timeout (no usable
// answer) or a transport error (the device or link answered with a fault).
func classify(err error) Kind {
	if isTimeout(err) {
		return KindTimeout
	}
	return KindTransport
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrNoResponse) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// readAtLeast re-issues read until it yields at least want registers. A read
// error ends the loop at once; the transport layer has already retried it.
func readAtLeast(attempts, want int, read func() ([]uint16, error), onShort func(attempt, got int)) ([]uint16, int, error) {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		regs, err := read()
		if err != nil {
			return nil, attempt, err
		}
		if len(regs) >= want {
			return regs[:want], attempt, nil
		}
		if onShort != nil {
			onShort(attempt, len(regs))
		}
	}
	return nil, attempts, ErrShortResponse
}
