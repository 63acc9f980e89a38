package transfer

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// boundedAttempts caps retries for errors that are only "recoverable, bounded"
// independent of the overall MaxAttempts.
func boundedAttempts(code ErrorCode) (limit int, bounded bool) {
	switch code {
	case CodeConnectionRefused:
		return 2, true
	case CodeCorruptedData:
		return 1, true
	case CodeChecksumMismatch:
		return 1, true
	case CodePeerChunkError:
		return 0, true // peer reported a chunk error: no retry, fail after the one attempt
	default:
		return 0, false
	}
}

// isExponential reports whether an error kind uses the exponential-backoff
// class rather than a fixed/bounded delay.
func isExponential(code ErrorCode) bool {
	switch code {
	case CodeNetworkError, CodeTimeout:
		return true
	default:
		return false
	}
}

// delayFor computes the backoff for the given error/attempt pair: a
// peer-provided retry-after (5 s when absent) for rate-limit errors,
// exponential backoff with jitter for network and timeout errors, and a
// fixed BaseDelay for every other kind.
func delayFor(err *TransferError, attempt int, cfg RetryConfig) time.Duration {
	if err.Code == CodeRateLimitExceeded {
		if err.RetryAfter > 0 {
			return time.Duration(err.RetryAfter * float64(time.Second))
		}
		return 5 * time.Second
	}

	if !isExponential(err.Code) {
		return cfg.BaseDelay
	}

	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
		d += jitter
	}
	return d
}

// Run executes fn under the retry policy: an engine's top-level execution is
// re-entrant, so each attempt is a fresh call to fn. Non-recoverable
// errors and exhausted bounded-retry classes surface the last error immediately.
func Run(ctx context.Context, cfg RetryConfig, collector *MetricsCollector, sessionID string, fn func(ctx context.Context) *TransferError) *TransferError {
	var last *TransferError

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if collector != nil {
				collector.RecordRetry(sessionID)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err

		if !err.Recoverable {
			return err
		}
		if limit, bounded := boundedAttempts(err.Code); bounded && attempt >= limit {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		d := delayFor(err, attempt, cfg)
		select {
		case <-ctx.Done():
			return New(CodeCancelled, false, "retry loop cancelled", ctx.Err())
		case <-time.After(d):
		}
	}

	return last
}
