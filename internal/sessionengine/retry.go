package sessionengine

import "time"

// canRetry enforces spec.md S4.6's retry gating: a minimum idle interval
// since the last ConversationEntry, and a cooldown between consecutive
// retries. now is passed in rather than read from time.Now() at every call
// site so tests can exercise both edges deterministically.
func (e *Engine) canRetry(now time.Time) error {
	if !e.lastConversationAt.IsZero() && now.Sub(e.lastConversationAt) < e.deps.Config.RetryMinIdle {
		return ErrRetryTooSoon
	}
	if !e.lastRetryAt.IsZero() && now.Sub(e.lastRetryAt) < e.deps.Config.RetryCooldown {
		return ErrRetryTooSoon
	}
	return nil
}
