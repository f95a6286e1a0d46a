// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail delivers challenge messages to account owners.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Deliveries counts delivery attempts by template and result.
var Deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keyhold_mail_deliveries_total",
		Help: "Challenge emails by template and result.",
	},
	[]string{"template", "result"},
)

// RegisterMetrics registers the mail metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(Deliveries); err != nil {
		return oops.Code("METRICS_REGISTER_FAILED").With("metric", "mail_deliveries").Wrap(err)
	}
	return nil
}

// Retry defaults.
const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = 200 * time.Millisecond
)

// RetryingSender retries transient failures of an inner Sender with
// exponential backoff.
type RetryingSender struct {
	inner      Sender
	maxRetries uint64
	base       time.Duration
}

// NewRetryingSender wraps inner with DefaultMaxRetries and DefaultRetryBase.
func NewRetryingSender(inner Sender) *RetryingSender {
	return &RetryingSender{inner: inner, maxRetries: DefaultMaxRetries, base: DefaultRetryBase}
}

// WithBackoff returns a copy using the given retry count and base delay.
func (s *RetryingSender) WithBackoff(maxRetries uint64, base time.Duration) *RetryingSender {
	cp := *s
	cp.maxRetries = maxRetries
	cp.base = base
	return &cp
}

// Send delivers msg, retrying errors marked transient.
func (s *RetryingSender) Send(ctx context.Context, msg Message) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.base))
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := s.inner.Send(ctx, msg)
		if err != nil && IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("attempts", attempts).Wrap(err)
	}
	return nil
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// LogSender logs recipients and subjects instead of sending. Bodies carry
// secrets and are not logged.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "mail delivery skipped, no provider configured",
		"to", msg.To,
		"subject", msg.Subject)
	return nil
}

// Outbox keeps sent messages in memory.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

// Send implements Sender.
func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Last returns the most recent message sent to addr.
func (o *Outbox) Last(addr string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To == addr {
			return o.messages[i], true
		}
	}
	return Message{}, false
}
