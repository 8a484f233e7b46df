// Package session derives the authentication state of a conversational
// user and manages transient PIN re-authentication challenges.
//
// Evaluation is a pure function of the account record and a clock reading;
// every mutation (activity refresh, challenge creation) belongs to the
// calling workflow. A store failure must never read as an active session.
package session

import (
	"time"

	"github.com/chat-wallet/chat-wallet/pkg/types"
)

// DefaultWindow is how long a session stays active after the last
// authenticated action.
const DefaultWindow = 5 * time.Minute

// Evaluator computes session states against a fixed activity window.
type Evaluator struct {
	window time.Duration
}

// NewEvaluator creates an evaluator. A non-positive window falls back to
// DefaultWindow.
func NewEvaluator(window time.Duration) *Evaluator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Evaluator{window: window}
}

// Window returns the configured activity window.
func (e *Evaluator) Window() time.Duration {
	return e.window
}

// Evaluate derives the session state for an account at the given instant.
// account may be nil (unregistered). pendingChallenge is whether a live
// PIN challenge exists for the handle.
//
// The window is closed on the expired side: a gap exactly equal to the
// window is Expired.
func (e *Evaluator) Evaluate(account *types.UserAccount, pendingChallenge bool, now time.Time) types.SessionState {
	if account == nil {
		return types.SessionUnregistered
	}
	if now.Sub(account.LastActivity) < e.window {
		return types.SessionActive
	}
	if pendingChallenge {
		return types.SessionAwaitingPin
	}
	return types.SessionExpired
}
