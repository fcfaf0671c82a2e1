package engine

import (
	"time"

	"workhub/internal/errs"
)

var (
	ErrDisabled    = errs.New("task engine disabled")
	ErrStopped     = errs.New("task engine stopped")
	ErrStopping    = errs.New("task engine stopping")
	ErrQueueFull   = errs.New("task engine queue full")
	ErrOverlapSkip = errs.New("task skipped due to overlap policy")
	ErrCircuitOpen = errs.New("task skipped: circuit breaker open")

	errNoRetry = errs.New("no retry")
)

// NoRetry marks err as permanent; the engine gives up after this attempt.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return errs.Mark(err, errNoRetry)
}

func IsNoRetry(err error) bool { return errs.Is(err, errNoRetry) }

// RetryAfter asks for at least after before the next attempt, as Telegram
// does on 429. The delay is still capped by RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryHint{cause: err, after: max(after, 0)}
}

type retryHint struct {
	cause error
	after time.Duration
}

func (e *retryHint) Error() string { return e.cause.Error() + " (retry after " + e.after.String() + ")" }
func (e *retryHint) Unwrap() error { return e.cause }

func hintedDelay(err error) (time.Duration, bool) {
	var h *retryHint
	if err == nil || !errs.As(err, &h) {
		return 0, false
	}
	return h.after, true
}
