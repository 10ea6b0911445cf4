// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package execution provides unified session execution patterns for the
// ModelGym application. It handles common invocation concerns such as retry
// logic, rate limiting, and error handling shared between the step executors
// and the story evaluation collaborator.
package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/pkg/logging"
	"github.com/modelgym/modelgym/providers"
)

// BackoffWithCallback wraps a retry.Backoff with a callback function that is called
// before each retry attempt. The callback receives the next retry attempt number
// and the delay duration.
func BackoffWithCallback(onBackoff func(nextRetryAttempt uint64, nextDelay time.Duration), next retry.Backoff) retry.Backoff {
	var retryCounter uint64 = 0
	return retry.BackoffFunc(func() (nextDelay time.Duration, stop bool) {
		nextDelay, stop = next.Next()
		if stop {
			return
		}

		nextRetry := atomic.AddUint64(&retryCounter, 1)
		onBackoff(nextRetry, nextDelay)

		return
	})
}

// Executor invokes a model session with retry logic and rate limiting applied.
type Executor struct {
	session     providers.Session
	retryPolicy *config.RetryPolicy
	limiter     *rate.Limiter
}

// NewExecutor creates a new session executor. A nil retry policy disables
// retries; a zero maxRequestsPerMinute disables rate limiting.
func NewExecutor(session providers.Session, retryPolicy *config.RetryPolicy, maxRequestsPerMinute int) *Executor {
	var limiter *rate.Limiter
	if maxRequestsPerMinute > 0 {
		ratePerSecond := rate.Limit(maxRequestsPerMinute) / 60
		limiter = rate.NewLimiter(ratePerSecond, maxRequestsPerMinute) // allow a burst up to the per-minute limit
	}

	return &Executor{
		session:     session,
		retryPolicy: retryPolicy,
		limiter:     limiter,
	}
}

// Respond invokes the session, applying retry logic and rate limiting as configured.
func (e *Executor) Respond(ctx context.Context, logger logging.Logger, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
	if e.retryPolicy != nil && e.retryPolicy.MaxRetryAttempts > 0 {
		return e.respondWithRetry(ctx, logger, conversation, settings)
	}
	return e.respondOnce(ctx, logger, conversation, settings)
}

func (e *Executor) respondWithRetry(ctx context.Context, logger logging.Logger, conversation providers.Conversation, settings providers.ExecutionSettings) (providers.Response, error) {
	backoff := retry.NewExponential(time.Duration(e.retryPolicy.InitialDelaySeconds) * time.Second)
	backoff = retry.WithMaxRetries(uint64(e.retryPolicy.MaxRetryAttempts), backoff)
	backoff = BackoffWithCallback(func(nextRetryAttempt uint64, nextDelay time.Duration) {
		logger.Message(ctx, logging.LevelInfo, "retrying invocation %d/%d in %v",
			nextRetryAttempt, e.retryPolicy.MaxRetryAttempts, nextDelay)
	}, backoff)

	return retry.DoValue(ctx, backoff, func(ctx context.Context) (providers.Response, error) {
		return e.respondOnce(ctx, logger, conversation, settings)
	})
}

func (e *Executor) respondOnce(ctx context.Context, logger logging.Logger, conversation providers.Conversation, settings providers.ExecutionSettings) (response providers.Response, err error) {
	if err = ctx.Err(); err != nil {
		logger.Error(ctx, logging.LevelWarn, err, "aborting invocation")
		return
	}

	if e.limiter != nil {
		if err = e.limiter.Wait(ctx); err != nil {
			logger.Error(ctx, logging.LevelWarn, err, "aborting invocation")
			return
		}
	}

	response, err = e.session.Respond(ctx, conversation, settings)
	if errors.Is(err, providers.ErrRetryable) {
		logger.Error(ctx, logging.LevelWarn, err, "invocation encountered a transient error")
		err = retry.RetryableError(err)
	}
	return
}
