package sessionengine

import "errors"

// ErrNotAwaitingInput is returned when a command method (AnswerQuestions,
// ApprovePlan, FinalApproval, ...) is called against an Engine that is not
// currently blocked waiting for input -- the Gateway maps this to HTTP 409
// (spec.md S6). Only whether the run loop is waiting is checked, not which
// command it is waiting for: a command of another kind is delivered and
// StageMachine applies its default for the current stage.
var ErrNotAwaitingInput = errors.New("sessionengine: session is not awaiting this input")

// ErrRetryTooSoon is returned by Retry when either the minimum-idle
// interval or the retry cooldown has not yet elapsed (spec.md S4.6); the
// Gateway maps this to HTTP 409.
var ErrRetryTooSoon = errors.New("sessionengine: retry is not yet permitted")

// ErrNotRunning is returned by command methods when no Engine is registered
// for the given (projectId, featureId) -- the Gateway maps this to 404.
var ErrNotRunning = errors.New("sessionengine: no running session found")

// LimitError is the typed error spec.md S7 calls LimitError: a bounded
// counter (replanning rounds, PR creation attempts) was exceeded and the
// session has been moved to failed.
type LimitError struct {
	Limit string
	Max   int
}

func (e *LimitError) Error() string {
	return "sessionengine: limit exceeded: " + e.Limit
}

// StateError is spec.md S7's StateError: a command was issued against a
// session in a stage/status that cannot accept it.
type StateError struct {
	Op      string
	Message string
}

func (e *StateError) Error() string {
	return "sessionengine: " + e.Op + ": " + e.Message
}
